package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// hostErrorEnvelope is what every host_* function writes back on denial,
// so the guest can distinguish "capability said no" from "call succeeded
// with an empty result" without a second return channel.
type hostErrorEnvelope struct {
	Error string `json:"error"`
}

type workspaceReadRequest struct {
	Path string `json:"path"`
}

type workspaceWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type toolInvokeRequest struct {
	Alias string          `json:"alias"`
	Args  json.RawMessage `json:"args"`
}

type secretExistsRequest struct {
	Name string `json:"name"`
}

type wsConnectRequest struct {
	URL string `json:"url"`
}

type wsSendRequest struct {
	Key     string `json:"key"`
	Message []byte `json:"message"`
}

type wsRecvRequest struct {
	Key string `json:"key"`
}

// buildHostModule registers the fixed env-module import surface a guest
// links against — host_workspace_read, host_workspace_write,
// host_http_request, host_tool_invoke, host_secret_exists, host_ws_connect,
// host_ws_send, host_ws_recv — per
// SPEC_FULL.md's host-function-surface supplement. Every function
// re-validates its own capability and charges fuel before doing any
// host-side work; denial and exhaustion both round-trip as a JSON
// {"error": "..."} envelope rather than trapping the guest outright, so a
// well-behaved tool can degrade gracefully instead of crashing.
func (s *CapabilitySandbox) buildHostModule(ctx context.Context, caps Capabilities, meter *FuelMeter) (api.Module, error) {
	builder := s.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostWorkspaceRead(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_workspace_read")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostWorkspaceWrite(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_workspace_write")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostToolInvoke(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_tool_invoke")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostSecretExists(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_secret_exists")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostHTTPRequest(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_http_request")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostWsConnect(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_ws_connect")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostWsSend(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_ws_send")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			s.hostWsRecv(ctx, mod, stack, caps, meter)
		}), lenPrefixedArgs(), []api.ValueType{api.ValueTypeI64}).
		Export("host_ws_recv")

	return builder.Instantiate(ctx)
}

// chargeFuel spends one crossing and, if exhausted, writes an
// ErrResourceExhausted error envelope into stack[0] and returns false so
// the caller returns early without a Go-level panic — wazero aborts the
// call when a host function traps, so this reports exhaustion through the
// normal JSON envelope instead and
// lets Invoke's own ctx/fuel checks catch the repeat offender on the next
// crossing.
func (s *CapabilitySandbox) chargeFuel(meter *FuelMeter, mod api.Module, ctx context.Context, stack []uint64) bool {
	if meter.Spend(1) {
		packed, err := writeGuestResponse(ctx, mod, mustJSON(hostErrorEnvelope{Error: ErrResourceExhausted.Error()}))
		if err == nil {
			stack[0] = packed
		}
		return false
	}
	return true
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"internal: marshal failure"}`)
	}
	return b
}

func (s *CapabilitySandbox) denyHost(ctx context.Context, mod api.Module, stack []uint64, reason error) {
	packed, err := writeGuestResponse(ctx, mod, mustJSON(hostErrorEnvelope{Error: reason.Error()}))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostWorkspaceRead(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.WorkspaceRead == nil || caps.WorkspaceRead.Reader == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req workspaceReadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	if !caps.WorkspaceRead.Allows(req.Path) {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	content, ok := caps.WorkspaceRead.Reader.Read(req.Path)
	resp := struct {
		Content string `json:"content"`
		Found   bool   `json:"found"`
	}{Content: content, Found: ok}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostWorkspaceWrite(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.WorkspaceWrite == nil || caps.WorkspaceWrite.Writer == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req workspaceWriteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	if !caps.WorkspaceWrite.Allows(req.Path) {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	writeErr := caps.WorkspaceWrite.Writer.Write(req.Path, req.Content)
	resp := struct {
		Error string `json:"error,omitempty"`
	}{}
	if writeErr != nil {
		resp.Error = writeErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostToolInvoke(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.ToolInvoke == nil || s.hooks.ToolInvoke == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req toolInvokeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	realName, ok := caps.ToolInvoke.Resolve(req.Alias)
	if !ok {
		s.denyHost(ctx, mod, stack, fmt.Errorf("%w: unknown alias %q", ErrCapabilityDenied, req.Alias))
		return
	}
	result, invokeErr := s.hooks.ToolInvoke(ctx, realName, req.Args)
	resp := struct {
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}{Result: result}
	if invokeErr != nil {
		resp.Error = invokeErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostSecretExists(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.Secrets == nil || s.hooks.SecretExists == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req secretExistsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	exists := caps.Secrets.IsAllowed(req.Name) && s.hooks.SecretExists(ctx, req.Name)
	resp := struct {
		Exists bool `json:"exists"`
	}{Exists: exists}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostHTTPRequest(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.HTTP == nil || s.hooks.HTTPFetch == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req HTTPRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	resp, fetchErr := guardedHTTPFetch(ctx, caps.HTTP, s.hooks.HTTPFetch, s.hooks.SecretValue, req)
	env := struct {
		Response *HTTPResponse `json:"response,omitempty"`
		Error    string        `json:"error,omitempty"`
	}{Response: resp}
	if fetchErr != nil {
		env.Error = fetchErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(env))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostWsConnect(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.WebSocket == nil || s.hooks.WsDial == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req wsConnectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	key, connectErr := guardedWsConnect(ctx, caps.WebSocket, s.hooks.WsDial, req.URL)
	resp := struct {
		Key   string `json:"key,omitempty"`
		Error string `json:"error,omitempty"`
	}{Key: key}
	if connectErr != nil {
		resp.Error = connectErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostWsSend(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.WebSocket == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req wsSendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	sendErr := guardedWsSend(ctx, caps.WebSocket, req.Key, req.Message)
	resp := struct {
		Error string `json:"error,omitempty"`
	}{}
	if sendErr != nil {
		resp.Error = sendErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}

func (s *CapabilitySandbox) hostWsRecv(ctx context.Context, mod api.Module, stack []uint64, caps Capabilities, meter *FuelMeter) {
	if !s.chargeFuel(meter, mod, ctx, stack) {
		return
	}
	if caps.WebSocket == nil {
		s.denyHost(ctx, mod, stack, ErrCapabilityDenied)
		return
	}
	raw, err := readGuestJSON(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		s.denyHost(ctx, mod, stack, err)
		return
	}
	var req wsRecvRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyHost(ctx, mod, stack, fmt.Errorf("sandbox: malformed request: %w", err))
		return
	}
	message, recvErr := guardedWsRecv(ctx, caps.WebSocket, req.Key)
	resp := struct {
		Message []byte `json:"message,omitempty"`
		Error   string `json:"error,omitempty"`
	}{Message: message}
	if recvErr != nil {
		resp.Error = recvErr.Error()
	}
	packed, err := writeGuestResponse(ctx, mod, mustJSON(resp))
	if err == nil {
		stack[0] = packed
	}
}
