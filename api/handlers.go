package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/gofiber/fiber/v3"
)

// StartWorkflow handles POST /workflow/start.
func (a *API) StartWorkflow(c fiber.Ctx) error {
	var payload invoice.Payload
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := a.validate.Struct(payload); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := a.engine.Start(c.Context(), invoice.State{InvoicePayload: &payload})
	if err != nil {
		a.logger.Error("workflow start failed", "instance_id", res.InstanceID, "error", err)
		return handleEngineError(c, err)
	}

	resp := StartResponse{CheckpointID: res.InstanceID}
	if res.Status == graph.StatusPaused {
		resp.Status = string(invoice.StatusPaused)
		resp.PausedAt = res.PausedAt
		resp.ReviewURL = a.reviewURL(res.InstanceID)
	} else {
		resp.Status = string(res.State.Status())
		resp.FinalPayload = res.State.FinalPayload
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetPending handles GET /human-review/pending.
func (a *API) GetPending(c fiber.Ctx) error {
	cps, err := a.engine.Pending(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	items := make([]PendingItem, 0, len(cps))
	for _, cp := range cps {
		item := PendingItem{
			CheckpointID:  cp.InstanceID,
			InvoiceID:     invoiceID(cp.State),
			CreatedAt:     deref(cp.State.CreatedAt),
			ReasonForHold: deref(cp.State.PausedReason),
			ReviewURL:     a.reviewURL(cp.InstanceID),
			PausedAt:      cp.PausedAt,
		}
		if cp.State.VendorProfile != nil {
			item.VendorName = cp.State.VendorProfile.NormalizedName
		}
		if cp.State.InvoicePayload != nil {
			item.Amount = cp.State.InvoicePayload.Amount
		}
		items = append(items, item)
	}

	return c.JSON(fiber.Map{"items": items})
}

// SubmitDecision handles POST /human-review/decision.
func (a *API) SubmitDecision(c fiber.Ctx) error {
	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := a.engine.Resume(c.Context(), req.CheckpointID, graph.Decision{
		Verdict:    graph.Verdict(req.Decision),
		ReviewerID: req.ReviewerID,
		Notes:      req.Notes,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	next := "END"
	if graph.Verdict(req.Decision) == graph.Accept {
		next = invoice.StageReconcile
	}

	return c.JSON(DecisionResponse{
		ResumeToken: "token-" + res.InstanceID,
		NextStage:   next,
		Status:      string(res.State.Status()),
	})
}

// GetLogs handles GET /workflow/logs.
func (a *API) GetLogs(c fiber.Ctx) error {
	cps, err := a.engine.Instances(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	logs := make([]LogEntry, 0, len(cps))
	for _, cp := range cps {
		audit := cp.State.AuditLog
		if audit == nil {
			audit = []string{}
		}
		logs = append(logs, LogEntry{
			CheckpointID: cp.InstanceID,
			InvoiceID:    invoiceID(cp.State),
			Status:       string(cp.State.Status()),
			Audit:        audit,
		})
	}

	return c.JSON(fiber.Map{"logs": logs})
}

// GetConfig handles GET /workflow/config.
func (a *API) GetConfig(c fiber.Ctx) error {
	g := a.engine.Graph()

	return c.JSON(fiber.Map{
		"name":             g.Name(),
		"version":          g.Version(),
		"stages":           g.Stages(),
		"interrupt_before": g.Interrupts(),
	})
}

const visualizeTemplate = `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<img src="https://mermaid.ink/img/%s" alt="workflow graph">
<pre>%s</pre>
</body>
</html>
`

// Visualize handles GET /workflow/visualize with a rendered Mermaid diagram.
func (a *API) Visualize(c fiber.Ctx) error {
	g := a.engine.Graph()
	mermaid := g.Mermaid()
	encoded := base64.StdEncoding.EncodeToString([]byte(mermaid))
	name := html.EscapeString(g.Name())

	c.Type("html")
	return c.SendString(fmt.Sprintf(visualizeTemplate, name, name, encoded, html.EscapeString(mermaid)))
}

// GetInstance handles GET /workflow/instances/:id.
func (a *API) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	cp, err := a.engine.Get(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newInstanceResponse(cp))
}

// DeleteInstance handles DELETE /workflow/instances/:id by evicting the instance.
func (a *API) DeleteInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	if err := a.engine.Evict(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteAbility handles POST /abilities/:name for remote ability clients.
func (a *API) ExecuteAbility(c fiber.Ctx) error {
	name := c.Params("name")

	server := ""
	for s, names := range invoice.Abilities {
		for _, n := range names {
			if n == name {
				server = s
			}
		}
	}
	if server == "" {
		return notFound(c, "unknown ability "+name)
	}

	var req AbilityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	out, err := a.opts.Abilities.Execute(c.Context(), server, name, req.Params)
	if err != nil {
		if errors.Is(err, tool.ErrUnknownAbility) || errors.Is(err, tool.ErrUnknownServer) {
			return notFound(c, err.Error())
		}
		return internalError(c, err)
	}

	return c.JSON(out)
}
