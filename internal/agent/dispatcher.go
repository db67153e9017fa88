package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/agentrt/internal/agent/providers"
	"github.com/vela-systems/agentrt/internal/hooks"
	"github.com/vela-systems/agentrt/internal/safety"
	"github.com/vela-systems/agentrt/pkg/models"
)

// nudgeMessage is appended as a system message one iteration before
// force_text_at, warning the LLM it must produce a final answer.
const nudgeMessage = "You are nearing the tool-call limit for this turn. Wrap up and provide your final answer in plain text; no further tool calls will be honored after this."

// EmitFunc receives status events as the Dispatcher drives a Turn. A nil
// EmitFunc is valid; events are simply dropped.
type EmitFunc func(*models.StreamEvent)

func (f EmitFunc) emit(ev *models.StreamEvent) {
	if f == nil || ev == nil {
		return
	}
	ev.Time = time.Now()
	f(ev)
}

// Response is returned by a completed Dispatcher turn.
type Response struct {
	Text string
}

// Outcome is the result of a Dispatcher.Run or Dispatcher.Resume call:
// exactly one of Response/Approval is non-nil.
type Outcome struct {
	Response *Response
	Approval *models.PendingApproval
}

// Config bundles the per-call tunables of spec §4.1's iteration budget.
type Config struct {
	// MaxToolIterations is M. Defaults to 50.
	MaxToolIterations int
	// AutoApproveTools mirrors the ApprovalGate's global override.
	AutoApproveTools bool
}

func (c Config) maxIterations() int {
	if c.MaxToolIterations <= 0 {
		return 50
	}
	return c.MaxToolIterations
}

// Dispatcher drives one user input to completion (or suspension on
// approval) under the iteration-budget, cost, and safety guarantees of
// spec §4.1.
type Dispatcher struct {
	Providers     *providers.Registry
	Tools         *ToolRegistry
	Cost          CostGuard
	Approval      *ApprovalGate
	ApprovalStore ApprovalStore
	Hooks         *hooks.Registry
	Safety        *safety.Filter
	Config        Config
	Log           *slog.Logger
}

// NewDispatcher wires a Dispatcher from its collaborators, filling in
// sensible in-memory defaults for anything left nil so a caller can build
// one incrementally (e.g. in tests).
func NewDispatcher(providerRegistry *providers.Registry, toolRegistry *ToolRegistry) *Dispatcher {
	return &Dispatcher{
		Providers:     providerRegistry,
		Tools:         toolRegistry,
		Cost:          NewTokenCostGuard(0),
		Approval:      NewApprovalGate(),
		ApprovalStore: NewMemoryApprovalStore(),
		Hooks:         hooks.NewRegistry(nil),
		Safety:        safety.New(),
		Log:           slog.Default(),
	}
}

// Request is the input to one Dispatcher turn.
type Request struct {
	Session     *models.Session
	Thread      *models.Thread
	Turn        *models.Turn
	Messages    []models.ChatMessage
	Provider    string
	Model       string
	System      string
	Skills      []models.SkillRef
}

// Run drives req's Thread through the agentic loop until it produces a
// final text response, suspends for approval, or fails.
func (d *Dispatcher) Run(ctx context.Context, req *Request, emit EmitFunc) (*Outcome, error) {
	messages := req.Messages
	M := d.Config.maxIterations()
	nudgeAt := M - 1
	forceTextAt := M
	hardCeiling := M + 1

	for iteration := 0; ; iteration++ {
		if iteration > hardCeiling {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: ErrMaxIterations}
		}

		// 1. Interrupt check.
		if req.Thread.State == models.ThreadInterrupted {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: ErrInterrupted}
		}

		// 2. Cost guard.
		budget, err := d.Cost.Remaining(ctx, req.Thread.ID)
		if err != nil {
			return nil, fmt.Errorf("cost guard: %w", err)
		}
		if budget.Exceeded {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: ErrBudgetExceeded}
		}

		// 3. Nudge.
		if iteration == nudgeAt {
			messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: nudgeMessage, CreatedAt: time.Now()})
		}

		// 4. Refresh tools.
		snapshot := d.Tools.Snapshot(req.Skills)

		// 5. LLM call.
		forceText := iteration >= forceTextAt
		completion, err := d.complete(ctx, req, messages, snapshot, forceText)
		if err != nil {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		// 6. Record cost.
		if err := d.Cost.Record(ctx, req.Thread.ID, provider(req.Provider, d.Providers), req.Model, completion.Usage); err != nil {
			d.Log.Warn("cost guard record failed", "error", err)
		}

		// 7. Branch on response.
		if !completion.HasToolCalls() {
			return &Outcome{Response: &Response{Text: completion.Text}}, nil
		}

		result, err := d.runToolBatch(ctx, req, messages, completion.Text, completion.ToolCalls, snapshot, emit)
		if err != nil {
			return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
		}
		if result.authResponse != "" {
			return &Outcome{Response: &Response{Text: result.authResponse}}, nil
		}
		if result.pending != nil {
			return &Outcome{Approval: result.pending}, nil
		}
		messages = result.messages
	}
}

// provider resolves a provider name, falling back to the registry's
// default so CostGuard.Record always has a non-empty label.
func provider(name string, reg *providers.Registry) string {
	if name != "" {
		return name
	}
	if p, ok := reg.Get(""); ok {
		return p.Name()
	}
	return "unknown"
}

// complete issues one LLM call, compacting and retrying exactly once on
// ContextLengthExceeded per spec §4.1's compaction law.
func (d *Dispatcher) complete(ctx context.Context, req *Request, messages []models.ChatMessage, snapshot *ToolSnapshot, forceText bool) (*providers.Completion, error) {
	p, ok := d.Providers.Get(req.Provider)
	if !ok {
		return nil, ErrNoProvider
	}

	tools := snapshot.Defs()
	if forceText {
		tools = nil
	}

	completion, err := p.Complete(ctx, req.Model, req.System, messages, tools)
	if err == nil {
		return completion, nil
	}

	var cle *providers.ContextLengthExceededError
	if !errors.As(err, &cle) {
		return nil, err
	}

	compacted := compactMessages(messages)
	req.Messages = compacted
	completion, retryErr := p.Complete(ctx, req.Model, req.System, compacted, tools)
	if retryErr != nil {
		return nil, fmt.Errorf("context length exceeded, compaction retry failed: %w", retryErr)
	}
	return completion, nil
}

// toolBatchResult is the outcome of running one LLM-emitted tool-call
// batch (or a resumed deferred batch) through the three-phase procedure.
type toolBatchResult struct {
	messages     []models.ChatMessage
	pending      *models.PendingApproval
	authResponse string
}

// preflightCall is the per-call bookkeeping produced by Phase 1.
type preflightCall struct {
	index     int
	call      models.ToolCall
	rejected  bool
	reason    string
	runnable  bool
	reg       Registration
}

// runToolBatch implements spec §4.1's three-phase tool-batch execution.
func (d *Dispatcher) runToolBatch(ctx context.Context, req *Request, messages []models.ChatMessage, narrative string, calls []models.ToolCall, snapshot *ToolSnapshot, emit EmitFunc) (*toolBatchResult, error) {
	thread := req.Thread
	turn := req.Turn

	sanitizedNarrative := d.Safety.SanitizeRationale(narrative)

	// Phase 1 — Preflight (sequential).
	var processed []preflightCall
	gatedIndex := -1

	for idx, call := range calls {
		reg, ok := snapshot.Lookup(call.Name)
		if !ok {
			processed = append(processed, preflightCall{index: idx, call: call, rejected: true, reason: "tool not registered: " + call.Name})
			continue
		}

		event := hooks.NewEvent(hooks.EventToolBeforeCall, "").WithThread(thread.SessionID, thread.ID).WithTool(call.Name, call.ID)
		var hookErr error
		if d.Hooks != nil {
			hookErr = d.Hooks.Trigger(ctx, event)
		}
		if hookErr != nil || event.Rejected() {
			reason := event.Reason
			if reason == "" {
				reason = "rejected by hook"
			}
			if hookErr != nil {
				reason = hookErr.Error()
			}
			processed = append(processed, preflightCall{index: idx, call: call, rejected: true, reason: reason})
			continue
		}

		var autoApproved map[string]bool
		if req.Session != nil {
			autoApproved = req.Session.AutoApprovedTool
		}
		if d.Config.AutoApproveTools {
			d.Approval.SetGlobalAutoApprove(true)
		}
		if !d.Approval.Allow(reg.Approval, call.Name, autoApproved) {
			gatedIndex = idx
			break
		}

		processed = append(processed, preflightCall{index: idx, call: call, runnable: true, reg: reg})
	}

	// Compute the parallel group for this batch's runnable set.
	runnableCount := 0
	for _, p := range processed {
		if p.runnable {
			runnableCount++
		}
	}
	var group *int
	if runnableCount > 1 {
		g := nextParallelGroup(turn)
		group = &g
	}

	// Record every processed call (including rejected ones) on the Turn.
	for _, p := range processed {
		recordTurnCall(turn, p, group)
	}

	decisions := make([]models.ToolDecision, 0, len(processed))
	for _, p := range processed {
		dec := models.ToolDecision{ToolCallID: p.call.ID, ToolName: p.call.Name, Outcome: "pending"}
		if p.rejected {
			dec.Outcome = "error"
			dec.Error = p.reason
		}
		decisions = append(decisions, dec)
	}
	emit.emit(&models.StreamEvent{Type: models.StreamReasoningUpdate, ThreadID: thread.ID, Narrative: sanitizedNarrative, ToolDecisions: decisions})

	// Phase 2 — Execution (parallel).
	results := make([]*ToolResult, len(processed))
	runnableIdxs := make([]int, 0, runnableCount)
	for i, p := range processed {
		if p.runnable {
			runnableIdxs = append(runnableIdxs, i)
		}
	}

	exec := func(i int) {
		p := processed[i]
		emit.emit(&models.StreamEvent{Type: models.StreamToolStarted, ThreadID: thread.ID, ToolCallID: p.call.ID, ToolName: p.call.Name})
		res := d.executeOne(ctx, p)
		results[i] = res
		emit.emit(&models.StreamEvent{Type: models.StreamToolCompleted, ThreadID: thread.ID, ToolCallID: p.call.ID, ToolName: p.call.Name, Success: !res.IsError})
	}

	if len(runnableIdxs) <= 1 {
		for _, i := range runnableIdxs {
			exec(i)
		}
	} else {
		var wg sync.WaitGroup
		for _, i := range runnableIdxs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				exec(i)
			}(i)
		}
		wg.Wait()
	}

	// Phase 3 — Post-flight (sequential, in emitted order).
	var authExtension, authInstructions string
	authTriggered := false

	for i, p := range processed {
		if p.rejected {
			messages = append(messages, models.ChatMessage{
				Role:        models.RoleTool,
				ToolResults: []models.ToolResult{{ToolCallID: p.call.ID, Content: p.reason, IsError: true}},
				CreatedAt:   time.Now(),
			})
			continue
		}

		res := results[i]
		sanitized := d.Safety.Sanitize(p.call.Name, res.Content)
		emit.emit(&models.StreamEvent{Type: models.StreamToolResult, ThreadID: thread.ID, ToolCallID: p.call.ID, ToolName: p.call.Name, Preview: preview(sanitized.Content)})

		updateTurnResult(turn, p.call.ID, sanitized.Content, res.IsError)

		messages = append(messages, models.ChatMessage{
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{{ToolCallID: p.call.ID, Content: sanitized.Content, IsError: res.IsError}},
			CreatedAt:   time.Now(),
		})

		if !res.IsError && (p.call.Name == "tool_auth" || p.call.Name == "tool_activate") {
			if ext, instr, ok := parseAwaitingToken(res.Content); ok {
				authExtension, authInstructions = ext, instr
				authTriggered = true
			}
		}
	}

	if authTriggered {
		thread.State = models.ThreadAuthMode
		thread.PendingAuthExtension = authExtension
		emit.emit(&models.StreamEvent{Type: models.StreamAuthRequired, ThreadID: thread.ID, Extension: authExtension, Instructions: authInstructions})
		return &toolBatchResult{messages: messages, authResponse: authInstructions}, nil
	}

	decisions2 := make([]models.ToolDecision, 0, len(processed))
	for i, p := range processed {
		dec := models.ToolDecision{ToolCallID: p.call.ID, ToolName: p.call.Name, Outcome: "error"}
		if p.rejected {
			dec.Error = p.reason
		} else if res := results[i]; res != nil {
			if res.IsError {
				dec.Error = res.Content
			} else {
				dec.Outcome = "success"
			}
		}
		decisions2 = append(decisions2, dec)
	}
	emit.emit(&models.StreamEvent{Type: models.StreamReasoningUpdate, ThreadID: thread.ID, Narrative: sanitizedNarrative, ToolDecisions: decisions2})

	if gatedIndex < 0 {
		return &toolBatchResult{messages: messages}, nil
	}

	// Suspend: materialize the gated call and defer everything after it.
	gatedCall := calls[gatedIndex]
	reg, _ := snapshot.Lookup(gatedCall.Name)

	var deferred []models.DeferredToolCall
	for _, c := range calls[gatedIndex+1:] {
		deferred = append(deferred, models.DeferredToolCall{ID: c.ID, Name: c.Name, Input: string(c.Input)})
	}

	approval := &models.PendingApproval{
		RequestID:         uuid.NewString(),
		ToolName:          gatedCall.Name,
		Parameters:        string(gatedCall.Input),
		Description:       reg.Tool.Description(),
		ToolCallID:        gatedCall.ID,
		Rationale:         sanitizedNarrative,
		ParallelGroup:     group,
		MessagesSnapshot:  append([]models.ChatMessage{}, messages...),
		DeferredToolCalls: deferred,
	}

	thread.State = models.ThreadAwaitingApproval
	thread.PendingApproval = approval
	if d.ApprovalStore != nil {
		_ = d.ApprovalStore.Create(ctx, thread.ID, &PendingApprovalRecord{})
	}
	emit.emit(&models.StreamEvent{Type: models.StreamApprovalNeeded, ThreadID: thread.ID, ToolCallID: gatedCall.ID, ToolName: gatedCall.Name})

	return &toolBatchResult{messages: messages, pending: approval}, nil
}

// Resume continues a Thread suspended on a PendingApproval: the gated
// call runs (or is recorded as rejected) if approved, the deferred calls
// that followed it in the original batch are replayed through the same
// preflight/execute/postflight procedure, and the agentic loop resumes
// from there.
func (d *Dispatcher) Resume(ctx context.Context, req *Request, approved bool) (*Outcome, error) {
	thread := req.Thread
	approval := thread.PendingApproval
	if approval == nil {
		return nil, fmt.Errorf("dispatcher: thread %s has no pending approval", thread.ID)
	}

	messages := append([]models.ChatMessage{}, approval.MessagesSnapshot...)
	snapshot := d.Tools.Snapshot(req.Skills)

	gatedCall := models.ToolCall{ID: approval.ToolCallID, Name: approval.ToolName, Input: json.RawMessage(approval.Parameters)}

	remaining := make([]models.ToolCall, 0, len(approval.DeferredToolCalls))
	if approved {
		// The user's decision is the approval: run the gated call directly
		// instead of sending it back through the approval gate.
		content, isErr := "tool not registered: "+gatedCall.Name, true
		if reg, ok := snapshot.Lookup(gatedCall.Name); ok {
			res := d.executeOne(ctx, preflightCall{call: gatedCall, runnable: true, reg: reg})
			content, isErr = d.Safety.Sanitize(gatedCall.Name, res.Content).Content, res.IsError
		}
		updateTurnResult(req.Turn, gatedCall.ID, content, isErr)
		messages = append(messages, models.ChatMessage{
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{{ToolCallID: gatedCall.ID, Content: content, IsError: isErr}},
			CreatedAt:   time.Now(),
		})
	} else {
		messages = append(messages, models.ChatMessage{
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{{ToolCallID: gatedCall.ID, Content: "tool call rejected by user", IsError: true}},
			CreatedAt:   time.Now(),
		})
		updateTurnResult(req.Turn, gatedCall.ID, "", true)
	}
	for _, dc := range approval.DeferredToolCalls {
		remaining = append(remaining, models.ToolCall{ID: dc.ID, Name: dc.Name, Input: json.RawMessage(dc.Input)})
	}

	thread.State = models.ThreadRunning
	thread.PendingApproval = nil

	if len(remaining) == 0 {
		req.Messages = messages
		return d.Run(ctx, req, nil)
	}

	result, err := d.runToolBatch(ctx, req, messages, approval.Rationale, remaining, snapshot, nil)
	if err != nil {
		return nil, err
	}
	if result.authResponse != "" {
		return &Outcome{Response: &Response{Text: result.authResponse}}, nil
	}
	if result.pending != nil {
		return &Outcome{Approval: result.pending}, nil
	}

	req.Messages = result.messages
	return d.Run(ctx, req, nil)
}

func (d *Dispatcher) executeOne(ctx context.Context, p preflightCall) *ToolResult {
	timeout := p.reg.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan *ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- &ToolResult{Content: fmt.Sprintf("tool panicked: %v", r), IsError: true}
			}
		}()
		res, err := p.reg.Tool.Execute(callCtx, p.call.Input)
		if err != nil {
			resultCh <- &ToolResult{Content: err.Error(), IsError: true}
			return
		}
		resultCh <- res
	}()

	select {
	case res := <-resultCh:
		return res
	case <-callCtx.Done():
		return &ToolResult{Content: "tool execution timed out or was cancelled", IsError: true}
	}
}

// nextParallelGroup returns max(existing parallel groups)+1, or 0 if none
// exist yet, per spec §4.1 Phase 1.
func nextParallelGroup(turn *models.Turn) int {
	if turn == nil {
		return 0
	}
	max := -1
	for _, tc := range turn.ToolCalls {
		if tc.ParallelGroup != nil && *tc.ParallelGroup > max {
			max = *tc.ParallelGroup
		}
	}
	return max + 1
}

func recordTurnCall(turn *models.Turn, p preflightCall, group *int) {
	if turn == nil {
		return
	}
	g := group
	if !p.runnable {
		g = nil
	}
	tc := models.TurnToolCall{
		ToolCallID:    p.call.ID,
		ToolName:      p.call.Name,
		Parameters:    string(p.call.Input),
		ParallelGroup: g,
	}
	if p.rejected {
		tc.Error = p.reason
	}
	turn.ToolCalls = append(turn.ToolCalls, tc)
}

func updateTurnResult(turn *models.Turn, toolCallID, result string, isError bool) {
	if turn == nil {
		return
	}
	for i := range turn.ToolCalls {
		if turn.ToolCalls[i].ToolCallID == toolCallID {
			if isError {
				turn.ToolCalls[i].Error = result
				if result == "" {
					turn.ToolCalls[i].Error = "error"
				}
			} else {
				turn.ToolCalls[i].Result = result
			}
			return
		}
	}
}

func preview(content string) string {
	const maxPreview = 500
	if len(content) <= maxPreview {
		return content
	}
	return content[:maxPreview] + "…"
}

// parseAwaitingToken recognizes a tool_auth/tool_activate result of the
// shape {"awaiting_token": true, "name": "...", "instructions": "..."}.
func parseAwaitingToken(content string) (extension, instructions string, ok bool) {
	var payload struct {
		AwaitingToken bool   `json:"awaiting_token"`
		Name          string `json:"name"`
		Instructions  string `json:"instructions"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return "", "", false
	}
	if !payload.AwaitingToken {
		return "", "", false
	}
	return payload.Name, payload.Instructions, true
}
