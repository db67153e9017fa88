package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
)

const (
	wasmPageSize = 65536

	// defaultMemoryLimitBytes is spec §4.3's 10 MiB default per-invocation
	// linear-memory ceiling.
	defaultMemoryLimitBytes = 10 * 1024 * 1024
	// defaultTimeout is spec §4.3's 30s wall-clock default.
	defaultTimeout = 30 * time.Second
	// defaultFuelCeiling bounds host-function crossings per invocation
	// (see FuelMeter's doc comment for why this stands in for true fuel
	// metering).
	defaultFuelCeiling = 100_000
)

// PreparedModule is a WASM binary that has passed integrity verification
// and module-level compilation, ready to be instantiated repeatedly —
// once per invocation, each with its own fuel meter and memory limit.
type PreparedModule struct {
	name     string
	compiled wazero.CompiledModule
	hash     string
}

// HostHooks are the capability-backed operations a guest's host_* imports
// ultimately call into. Grounded on original_source's worker/runtime.rs:
// every hook re-validates its own capability before touching a host
// resource — the guest never holds a capability object, only the
// yes/no outcome (and payload) of each call.
type HostHooks struct {
	ToolInvoke   func(ctx context.Context, realName string, args json.RawMessage) (json.RawMessage, error)
	HTTPFetch    func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
	SecretExists func(ctx context.Context, name string) bool
	// SecretValue resolves a secret's actual value for host-side credential
	// injection only (guardedHTTPFetch) — it is never exposed to the guest,
	// which only ever sees SecretExists's yes/no outcome.
	SecretValue func(ctx context.Context, name string) (string, bool)
	// WsDial opens a new WebSocket connection for host_ws_connect. Each
	// Capabilities.WebSocket grant supplies its own Pool for reuse across
	// invocations.
	WsDial WsDialFunc
}

// CapabilitySandbox prepares and invokes WASM tools under the
// default-deny capability model of spec §4.3, hosted on
// wazero.Runtime/wazero.CompiledModule in place of the original's
// Firecracker VMs (see internal/tools/sandbox for that pooling shape,
// kept for the Docker-backed code-execution tool it still serves).
type CapabilitySandbox struct {
	mu               sync.Mutex
	runtime          wazero.Runtime
	memoryLimitPages uint32
	timeout          time.Duration
	fuelCeiling      uint64
	hooks            HostHooks
}

// Option configures a CapabilitySandbox.
type Option func(*CapabilitySandbox)

func WithTimeout(d time.Duration) Option {
	return func(s *CapabilitySandbox) { s.timeout = d }
}

// WithMemoryLimitBytes sets the per-instance linear-memory ceiling. It
// must be applied before the runtime compiles any module, since wazero
// enforces this limit at the RuntimeConfig level, not per-instance — so
// NewCapabilitySandbox parses options before constructing the runtime.
func WithMemoryLimitBytes(n uint32) Option {
	return func(s *CapabilitySandbox) { s.memoryLimitPages = (n + wasmPageSize - 1) / wasmPageSize }
}

func WithFuelCeiling(n uint64) Option {
	return func(s *CapabilitySandbox) { s.fuelCeiling = n }
}

func WithHostHooks(h HostHooks) Option {
	return func(s *CapabilitySandbox) { s.hooks = h }
}

// NewCapabilitySandbox constructs a sandbox with a fresh wazero runtime.
// Callers should keep one CapabilitySandbox per process (or per isolation
// scope) and call Prepare once per distinct WASM binary.
func NewCapabilitySandbox(ctx context.Context, opts ...Option) *CapabilitySandbox {
	s := &CapabilitySandbox{
		memoryLimitPages: defaultMemoryLimitBytes / wasmPageSize,
		timeout:          defaultTimeout,
		fuelCeiling:      defaultFuelCeiling,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runtime = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(s.memoryLimitPages))
	return s
}

// Close releases the underlying wazero runtime and every compiled module.
func (s *CapabilitySandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// Prepare verifies binary's BLAKE3-32 hash against expectedHash, then
// compiles it once (parse + module-level validation). The resulting
// PreparedModule is safe to Invoke concurrently from multiple goroutines;
// each Invoke gets its own fresh instance.
func (s *CapabilitySandbox) Prepare(ctx context.Context, name string, binary []byte, expectedHash string) (*PreparedModule, error) {
	sum := blake3.Sum256(binary)
	actual := fmt.Sprintf("%x", sum[:])
	if expectedHash != "" && actual != expectedHash {
		return nil, fmt.Errorf("%w: tool %q: expected %s, got %s", ErrIntegrityCheckFailed, name, expectedHash, actual)
	}

	compiled, err := s.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %q: %w", name, err)
	}
	return &PreparedModule{name: name, compiled: compiled, hash: actual}, nil
}

// Hash returns the BLAKE3-32 hash Prepare verified or computed.
func (p *PreparedModule) Hash() string { return p.hash }

// InvokeResult is the output of one guest invocation.
type InvokeResult struct {
	Output    []byte
	FuelSpent uint64
}

// Invoke runs one fresh instance of prepared against input, enforcing the
// memory limit, fuel ceiling, and wall-clock timeout configured on s.
// Fuel exhaustion and timeout both surface as ErrResourceExhausted;
// attempted memory growth past the limit surfaces as ErrMemoryLimit (both
// per spec §4.3's Execution model).
func (s *CapabilitySandbox) Invoke(ctx context.Context, prepared *PreparedModule, caps Capabilities, input []byte) (*InvokeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	meter := NewFuelMeter(s.fuelCeiling)

	hostMod, err := s.buildHostModule(ctx, caps, meter)
	if err != nil {
		return nil, err
	}
	defer hostMod.Close(ctx)

	modConfig := wazero.NewModuleConfig().
		WithName(prepared.name).
		WithStartFunctions() // guest start (if any) runs explicitly via "invoke" below, not _start

	mod, err := s.runtime.InstantiateModule(ctx, prepared.compiled, modConfig)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrResourceExhausted
		}
		return nil, fmt.Errorf("sandbox: instantiate %q: %w", prepared.name, err)
	}
	defer mod.Close(ctx)

	result, err := s.callInvoke(ctx, mod, input)
	if s.fuelCeiling > 0 && meter.Spent() >= s.fuelCeiling {
		return nil, ErrResourceExhausted
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrResourceExhausted
		}
		return nil, err
	}
	return &InvokeResult{Output: result, FuelSpent: meter.Spent()}, nil
}

// callInvoke marshals input into guest memory via the guest's exported
// alloc function and calls its exported "invoke" function, which returns
// a packed (ptr<<32 | len) result pointing at a region of its own memory.
func (s *CapabilitySandbox) callInvoke(ctx context.Context, mod api.Module, input []byte) ([]byte, error) {
	alloc := mod.ExportedFunction("alloc")
	invoke := mod.ExportedFunction("invoke")
	if alloc == nil || invoke == nil {
		return nil, fmt.Errorf("sandbox: module does not export alloc/invoke")
	}

	allocated, err := alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("sandbox: guest alloc: %w", err)
	}
	inPtr := uint32(allocated[0])

	mem := mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("sandbox: module does not export memory")
	}
	if !mem.Write(inPtr, input) {
		return nil, ErrMemoryLimit
	}

	packed, err := invoke.Call(ctx, uint64(inPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("sandbox: guest invoke: %w", err)
	}

	outPtr := uint32(packed[0] >> 32)
	outLen := uint32(packed[0])
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, ErrMemoryLimit
	}
	// Copy out of guest-owned memory before the instance is closed.
	copied := make([]byte, len(out))
	copy(copied, out)
	return copied, nil
}

// readGuestJSON copies the JSON request envelope a host_* function reads
// from guest memory at (ptr, len), per SPEC_FULL.md's
// host-function-surface supplement.
func readGuestJSON(mem api.Memory, ptr, length uint32) (json.RawMessage, error) {
	buf, ok := mem.Read(ptr, length)
	if !ok {
		return nil, ErrMemoryLimit
	}
	out := make(json.RawMessage, len(buf))
	copy(out, buf)
	return out, nil
}

// writeGuestResponse asks the guest's own "alloc" export for a buffer
// large enough for payload, writes payload into it, and returns the
// packed (ptr<<32|len) a host_* function hands back to the guest — the
// simpler alternative SPEC_FULL.md calls out to a pre-negotiated scratch
// region: the guest already exposes alloc for its own request/response
// marshaling, so host functions reuse it rather than requiring a second
// ABI.
func writeGuestResponse(ctx context.Context, mod api.Module, payload []byte) (uint64, error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, fmt.Errorf("sandbox: module does not export alloc")
	}
	allocated, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return 0, fmt.Errorf("sandbox: guest alloc: %w", err)
	}
	ptr := uint32(allocated[0])
	if !mod.Memory().Write(ptr, payload) {
		return 0, ErrMemoryLimit
	}
	return uint64(ptr)<<32 | uint64(len(payload)), nil
}

// lenPrefixedArgs is a small helper so host functions declared with a
// uint32 pair (ptr, len) can be written tersely below.
func lenPrefixedArgs() []api.ValueType {
	return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
}
