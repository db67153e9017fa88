package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vela-systems/agentrt/internal/sandbox"
	"github.com/vela-systems/agentrt/pkg/models"
)

// WasmTool adapts a prepared WASM binary to the Tool interface, routing
// Execute through a CapabilitySandbox.Invoke call under a fixed
// Capabilities grant. One WasmTool per StoredWasmTool record.
type WasmTool struct {
	stored   models.StoredWasmTool
	prepared *sandbox.PreparedModule
	sbx      *sandbox.CapabilitySandbox
	caps     sandbox.Capabilities
}

// NewWasmTool wraps an already-Prepared module. Callers are expected to
// have verified stored.Status is WasmToolActive before constructing one
// (LoadWasmTools does this for the whole-catalog case).
func NewWasmTool(sbx *sandbox.CapabilitySandbox, stored models.StoredWasmTool, prepared *sandbox.PreparedModule, caps sandbox.Capabilities) *WasmTool {
	return &WasmTool{stored: stored, prepared: prepared, sbx: sbx, caps: caps}
}

func (t *WasmTool) Name() string { return t.stored.Name }

func (t *WasmTool) Description() string { return t.stored.Description }

func (t *WasmTool) Schema() json.RawMessage { return t.stored.Schema }

func (t *WasmTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	result, err := t.sbx.Invoke(ctx, t.prepared, t.caps, params)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: string(result.Output)}, nil
}

// CapabilitiesFor resolves the Capabilities grant for one stored WASM
// tool by name. Supplied by whatever owns the sidecar capability JSON
// for that tool (Storage, in the eventual wiring).
type CapabilitiesFor func(name string) (sandbox.Capabilities, error)

// LoadWasmTools prepares every active StoredWasmTool against sbx and
// returns one Registration per tool, ready for ToolRegistry.Register.
// Disabled and quarantined tools are skipped rather than erroring, since
// a quarantined tool being present in the catalog is an expected state,
// not a load failure.
func LoadWasmTools(ctx context.Context, sbx *sandbox.CapabilitySandbox, stored []models.StoredWasmTool, capsFor CapabilitiesFor) ([]Registration, error) {
	var out []Registration
	for _, tool := range stored {
		if tool.Status != models.WasmToolActive {
			continue
		}
		prepared, err := sbx.Prepare(ctx, tool.Name, tool.Binary, tool.Hash)
		if err != nil {
			return nil, fmt.Errorf("agent: prepare wasm tool %q: %w", tool.Name, err)
		}
		caps, err := capsFor(tool.Name)
		if err != nil {
			return nil, fmt.Errorf("agent: resolve capabilities for wasm tool %q: %w", tool.Name, err)
		}
		out = append(out, Registration{
			Tool:     NewWasmTool(sbx, tool, prepared, caps),
			Approval: ApprovalAlways,
			MinTrust: tool.Trust,
			Domain:   "wasm",
		})
	}
	return out, nil
}
