package agent

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vela-systems/agentrt/internal/agent/providers"
	"github.com/vela-systems/agentrt/pkg/models"
)

// Registration is one entry in the ToolRegistry: the Tool implementation
// plus the metadata the Dispatcher's preflight/trust-attenuation steps
// need without reaching into the tool itself.
type Registration struct {
	Tool     Tool
	Approval ApprovalRequirement
	Timeout  time.Duration
	MinTrust models.TrustLevel
	Domain   string // "builtin", "wasm", "mcp:<server>"
}

// ToolSnapshot is a point-in-time, trust-filtered view of the registry
// handed to one Dispatcher LLM call (spec §4.1 step 4). It is immutable
// once taken; concurrent Register/Unregister calls do not affect an
// already-taken snapshot.
type ToolSnapshot struct {
	entries map[string]Registration
}

// Defs returns the provider-facing ToolDef list for this snapshot.
func (s *ToolSnapshot) Defs() []providers.ToolDef {
	out := make([]providers.ToolDef, 0, len(s.entries))
	for name, reg := range s.entries {
		out = append(out, providers.ToolDef{
			Name:        name,
			Description: reg.Tool.Description(),
			Schema:      reg.Tool.Schema(),
		})
	}
	return out
}

// Lookup returns the registration for name, if present in this snapshot.
func (s *ToolSnapshot) Lookup(name string) (Registration, bool) {
	r, ok := s.entries[name]
	return r, ok
}

const defaultToolTimeout = 30 * time.Second

// ToolRegistry is the ToolRegistry: a name-keyed set of tools with their
// approval requirement, execution timeout, and minimum trust. Safe for
// concurrent use; Register/Unregister take a write lock, Snapshot takes
// a read lock and copies, so a Dispatcher iteration's tool list never
// changes under it mid-call.
type ToolRegistry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewToolRegistry returns an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{entries: make(map[string]Registration)}
}

// Register adds or replaces a tool. Timeout defaults to 30s if zero.
func (r *ToolRegistry) Register(reg Registration) error {
	if reg.Tool == nil {
		return fmt.Errorf("tools: registration missing Tool implementation")
	}
	name := reg.Tool.Name()
	if name == "" {
		return fmt.Errorf("tools: tool returned empty Name()")
	}
	if !json.Valid(reg.Tool.Schema()) {
		return fmt.Errorf("tools: %s: schema is not valid JSON", name)
	}
	if reg.Timeout <= 0 {
		reg.Timeout = defaultToolTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = reg
	return nil
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a single registration by name, bypassing trust attenuation.
func (r *ToolRegistry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Snapshot takes a trust-attenuated copy of the current registry: a tool
// is included only if its MinTrust does not exceed the lowest trust level
// across the Thread's currently active Skills. When skills is empty, no
// attenuation is applied (every tool is visible) — matching spec §4.1
// step 4's "if a set of active Skills is in scope".
func (r *ToolRegistry) Snapshot(skills []models.SkillRef) *ToolSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Registration, len(r.entries))
	if len(skills) == 0 {
		for name, reg := range r.entries {
			out[name] = reg
		}
		return &ToolSnapshot{entries: out}
	}

	lowest := skills[0].Trust
	for _, s := range skills[1:] {
		if s.Trust > lowest {
			lowest = s.Trust
		}
	}
	for name, reg := range r.entries {
		if reg.MinTrust <= lowest {
			out[name] = reg
		}
	}
	return &ToolSnapshot{entries: out}
}
