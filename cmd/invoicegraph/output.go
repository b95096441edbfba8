package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/fatih/color"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

func success(format string, args ...interface{}) {
	color.Green(format, args...)
}

func printResult(res graph.Result[invoice.State]) {
	color.Cyan("Instance: %s", res.InstanceID)
	if len(res.Visited) > 0 {
		fmt.Printf("Visited:  %s\n", strings.Join(res.Visited, " -> "))
	}

	switch res.Status {
	case graph.StatusCompleted:
		color.Green("Status:   %s (%s)", res.Status, res.State.Status())
	case graph.StatusPaused:
		color.Yellow("Status:   %s at %s", res.Status, res.PausedAt)
		if res.State.PausedReason != nil {
			color.Yellow("Reason:   %s", *res.State.PausedReason)
		}
	default:
		color.Red("Status:   %s before %s", res.Status, res.Next)
	}

	if fp := res.State.FinalPayload; fp != nil {
		fmt.Printf("Result:   %s %s %.2f %s\n", fp.InvoiceID, fp.Vendor, fp.Amount, fp.Status)
	}
}

func printPending(cps []store.Checkpoint[invoice.State]) {
	if len(cps) == 0 {
		color.Green("No invoices waiting for review")
		return
	}
	for _, cp := range cps {
		s := cp.State
		vendor, invoiceID, amount := "", "", 0.0
		if s.VendorProfile != nil {
			vendor = s.VendorProfile.NormalizedName
		}
		if s.InvoicePayload != nil {
			invoiceID, amount = s.InvoicePayload.InvoiceID, s.InvoicePayload.Amount
		}
		reason := ""
		if s.PausedReason != nil {
			reason = *s.PausedReason
		}
		fmt.Printf("%s  %s  %s  %.2f  %s\n", bold(cp.InstanceID), invoiceID, vendor, amount, faint(reason))
	}
}

func printAudit(cp store.Checkpoint[invoice.State]) {
	fmt.Printf("%s %s\n", bold(cp.InstanceID), faint(string(cp.State.Status())))
	for _, line := range cp.State.AuditLog {
		fmt.Printf("  %s\n", line)
	}
}

func printStages(g *graph.Graph[invoice.State]) {
	for _, id := range g.Stages() {
		marker := "  "
		if g.IsInterrupt(id) {
			marker = color.YellowString("||")
		}
		edge, _ := g.Edge(id)
		if edge.Kind == graph.EdgeConditional {
			fmt.Printf("%s %s  %s ? %s : %s\n", marker, id, faint(string(edge.Rule)), edge.Then, edge.Else)
			continue
		}
		fmt.Printf("%s %s -> %s\n", marker, id, edge.To)
	}
}

// redactURL hides credentials in store URLs before they are logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
