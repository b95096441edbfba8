package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@db:5432/invoices", redactURL("postgres://app:secret@db:5432/invoices"))
	assert.Equal(t, "sqlite://invoicegraph.db", redactURL("sqlite://invoicegraph.db"))
}

func TestCompileDefinition(t *testing.T) {
	g, err := compileDefinition("")
	require.NoError(t, err)
	assert.Equal(t, "invoice_processing", g.Name())

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: broken\nstages:\n  - id: INTAKE\n  - id: NOPE\n"), 0o600))
	_, err = compileDefinition(bad)
	var cfgErr *graph.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "NOPE", cfgErr.Stage)
}

func TestReadPayload(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "invoice.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"invoice_id": "INV-1", "vendor_name": "Acme", "vendor_tax_id": "TX-1",
		"invoice_date": "2024-01-01", "due_date": "2024-02-01",
		"amount": 10, "currency": "EUR", "line_items": [], "mock_score": 0.5
	}`), 0o600))

	p, err := readPayload(good)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", p.InvoiceID)
	require.NotNil(t, p.MockScore)
	assert.InDelta(t, 0.5, *p.MockScore, 1e-9)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"invoice_id": "INV-2"}`), 0o600))
	_, err = readPayload(bad)
	assert.ErrorContains(t, err, "invalid payload")

	_, err = readPayload(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPrintStagesDoesNotPanic(t *testing.T) {
	g, err := compileDefinition("")
	require.NoError(t, err)
	assert.NotPanics(t, func() { printStages(g) })
	assert.NotPanics(t, func() { printResult(graph.Result[invoice.State]{InstanceID: "x", Status: graph.StatusFailed, Next: "INTAKE"}) })
}
