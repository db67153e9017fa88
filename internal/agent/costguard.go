package agent

import (
	"context"
	"sync"

	"github.com/vela-systems/agentrt/internal/agent/providers"
)

// Budget is a CostGuard's view of a Thread's remaining allowance.
type Budget struct {
	SpentTokens     int64
	RemainingTokens int64
	Exceeded        bool
}

// CostGuard tracks per-Thread LLM spend against a configured ceiling.
// Grounded on the teacher's usage-tracking package's accounting shape
// (internal/usage, out of scope here as a billing UI, but its
// running-total-vs-ceiling model is kept): the Dispatcher consults
// Remaining before every LLM call (step 2) and records actual usage
// after every call (step 6).
type CostGuard interface {
	Remaining(ctx context.Context, threadID string) (Budget, error)
	Record(ctx context.Context, threadID, provider, model string, tokens providers.TokenUsage) error
}

// TokenCostGuard is an in-memory CostGuard keyed by thread id, comparing
// cumulative input+output tokens against a fixed per-thread ceiling.
type TokenCostGuard struct {
	mu      sync.Mutex
	ceiling int64
	spent   map[string]int64
}

// NewTokenCostGuard returns a CostGuard with the given per-thread token
// ceiling. A non-positive ceiling disables the guard (Remaining never
// reports Exceeded).
func NewTokenCostGuard(ceiling int64) *TokenCostGuard {
	return &TokenCostGuard{ceiling: ceiling, spent: make(map[string]int64)}
}

func (g *TokenCostGuard) Remaining(ctx context.Context, threadID string) (Budget, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	spent := g.spent[threadID]
	if g.ceiling <= 0 {
		return Budget{SpentTokens: spent, RemainingTokens: -1}, nil
	}
	remaining := g.ceiling - spent
	return Budget{
		SpentTokens:     spent,
		RemainingTokens: remaining,
		Exceeded:        remaining <= 0,
	}, nil
}

func (g *TokenCostGuard) Record(ctx context.Context, threadID, provider, model string, tokens providers.TokenUsage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent[threadID] += int64(tokens.InputTokens + tokens.OutputTokens)
	return nil
}
