// Package providers adapts third-party LLM SDKs to the single Provider
// interface the Dispatcher drives its agentic loop against.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vela-systems/agentrt/pkg/models"
)

// ToolDef is a tool definition shaped for a completion request: the
// subset of a ToolRegistry entry an LLM call needs to see.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// TokenUsage reports the token accounting for one completion call, fed to
// CostGuard.Record by the Dispatcher.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the result of one LLM call. Exactly one of Text or
// ToolCalls is meaningful: a text-only response carries Text and no
// ToolCalls; a tool-calling response carries ToolCalls and may carry
// accompanying Text (the LLM's stated rationale before acting).
type Completion struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     TokenUsage
	Model     string
}

// HasToolCalls reports whether this completion requests tool execution
// rather than returning a final answer.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// ContextLengthExceededError is returned by a Provider when a request no
// longer fits the model's context window. The Dispatcher compacts the
// message history (internal/agent's compactMessages) and retries exactly
// once with the same force-text mode.
type ContextLengthExceededError struct {
	Used  int
	Limit int
}

func (e *ContextLengthExceededError) Error() string {
	return fmt.Sprintf("context length exceeded: used=%d limit=%d", e.Used, e.Limit)
}

// Provider is the interface every LLM backend implements. A single call
// to Complete corresponds to one Dispatcher iteration's LLM call (step 5
// of spec §4.1's per-iteration procedure): it is not token-streaming —
// the Dispatcher emits its own thinking/response status events around
// the call boundary.
type Provider interface {
	// Name is the provider identifier used for routing, logging and
	// CostGuard accounting.
	Name() string

	// Complete requests one completion. If tools is empty the request is
	// made with no tool definitions (the Dispatcher's force_text mode).
	Complete(ctx context.Context, model string, system string, messages []models.ChatMessage, tools []ToolDef) (*Completion, error)
}

// Registry resolves a provider name to an implementation, letting the
// Dispatcher (or RoutineEngine/JobScheduler) select per-Thread or
// per-deployment without hard-coding a single backend.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name(). The first provider
// registered becomes the default.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.def == "" {
		r.def = p.Name()
	}
}

// SetDefault overrides which registered provider Get("") returns.
func (r *Registry) SetDefault(name string) {
	r.def = name
}

// Get returns the named provider, or the default if name is empty.
func (r *Registry) Get(name string) (Provider, bool) {
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	return p, ok
}
