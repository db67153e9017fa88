package agent

import (
	"context"
	"testing"
	"time"

	"github.com/vela-systems/agentrt/internal/sandbox"
	"github.com/vela-systems/agentrt/pkg/models"
)

func TestLoadWasmToolsSkipsNonActiveStatus(t *testing.T) {
	ctx := context.Background()
	sbx := sandbox.NewCapabilitySandbox(ctx)
	defer sbx.Close(ctx)

	stored := []models.StoredWasmTool{
		{Name: "disabled_tool", Status: models.WasmToolDisabled, Binary: []byte("x")},
		{Name: "quarantined_tool", Status: models.WasmToolQuarantined, Binary: []byte("x")},
	}
	regs, err := LoadWasmTools(ctx, sbx, stored, func(name string) (sandbox.Capabilities, error) {
		return sandbox.Capabilities{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(regs) != 0 {
		t.Fatalf("expected disabled/quarantined tools to be skipped, got %d registrations", len(regs))
	}
}

func TestLoadWasmToolsPropagatesCapabilitiesResolutionError(t *testing.T) {
	ctx := context.Background()
	sbx := sandbox.NewCapabilitySandbox(ctx)
	defer sbx.Close(ctx)

	stored := []models.StoredWasmTool{
		{Name: "active_tool", Status: models.WasmToolActive, Binary: []byte{0x00, 0x61, 0x73, 0x6d, 1, 0, 0, 0}},
	}
	_, err := LoadWasmTools(ctx, sbx, stored, func(name string) (sandbox.Capabilities, error) {
		return sandbox.Capabilities{}, context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected an error when capability resolution fails")
	}
}

func TestWasmToolExposesStoredMetadata(t *testing.T) {
	ctx := context.Background()
	sbx := sandbox.NewCapabilitySandbox(ctx, sandbox.WithTimeout(time.Second))
	defer sbx.Close(ctx)

	stored := models.StoredWasmTool{
		Name:        "summarize",
		Description: "Summarizes text",
		Schema:      []byte(`{"type":"object"}`),
	}
	tool := NewWasmTool(sbx, stored, nil, sandbox.Capabilities{})
	if tool.Name() != "summarize" {
		t.Errorf("expected Name() == summarize, got %q", tool.Name())
	}
	if tool.Description() != "Summarizes text" {
		t.Errorf("unexpected Description(): %q", tool.Description())
	}
	if string(tool.Schema()) != `{"type":"object"}` {
		t.Errorf("unexpected Schema(): %s", tool.Schema())
	}
}
