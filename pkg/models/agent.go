package models

import "time"

// ThreadState is the lifecycle state of a Thread.
type ThreadState string

const (
	ThreadIdle             ThreadState = "idle"
	ThreadRunning          ThreadState = "running"
	ThreadAwaitingApproval ThreadState = "awaiting_approval"
	ThreadInterrupted      ThreadState = "interrupted"
	ThreadAuthMode         ThreadState = "auth_mode"
)

// Session is one per user: it owns zero or more Threads and tracks which
// tool names the user has auto-approved. Sessions are destroyed by the
// pruner once idle longer than the configured timeout.
type Session struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	CreatedAt        time.Time          `json:"created_at"`
	LastActivity     time.Time          `json:"last_activity"`
	Threads          map[string]*Thread `json:"threads"`
	ActiveThreadID   string             `json:"active_thread_id,omitempty"`
	AutoApprovedTool map[string]bool    `json:"auto_approved_tools,omitempty"`
}

// Thread is a single conversation within a Session. The Dispatcher
// enforces at most one in-flight Turn per Thread via a per-thread lock.
type Thread struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	Turns             []*Turn          `json:"turns"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	State             ThreadState      `json:"state"`
	PendingApproval   *PendingApproval `json:"pending_approval,omitempty"`
	PendingAuthExtension string        `json:"pending_auth_extension,omitempty"`
}

// Turn is a single user-input to assistant-response cycle.
type Turn struct {
	Number        int              `json:"number"`
	UserInput     string           `json:"user_input"`
	Narrative     string           `json:"narrative,omitempty"`
	ToolCalls     []TurnToolCall   `json:"tool_calls,omitempty"`
	FinalResponse string           `json:"final_response,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at,omitempty"`
}

// TurnToolCall is a single tool invocation recorded within a Turn.
// Exactly one of Result/Error is set once the call reaches a terminal
// state; until then both are empty and the call is "pending".
type TurnToolCall struct {
	ToolCallID      string          `json:"tool_call_id"`
	ToolName        string          `json:"tool_name"`
	Rationale       string          `json:"rationale,omitempty"`
	Parameters      string          `json:"parameters,omitempty"`
	ParallelGroup   *int            `json:"parallel_group,omitempty"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Outcome reports the terminal status of a TurnToolCall: "pending" until
// exactly one of Result/Error is populated.
func (c TurnToolCall) Outcome() string {
	switch {
	case c.Error != "":
		return "error"
	case c.Result != "":
		return "success"
	default:
		return "pending"
	}
}

// PendingApproval is materialized when a tool call requires explicit user
// approval before it runs. DeferredToolCalls holds the tool calls the LLM
// emitted in the same batch after the gated one; they are replayed once the
// user decides. The json tag on DeferredToolCalls defaults to an empty
// slice on unmarshal so rows persisted before this field existed still load.
type PendingApproval struct {
	RequestID         string             `json:"request_id"`
	ToolName          string             `json:"tool_name"`
	Parameters        string             `json:"parameters"`
	Description       string             `json:"description"`
	ToolCallID        string             `json:"tool_call_id"`
	Rationale         string             `json:"rationale,omitempty"`
	ParallelGroup     *int               `json:"parallel_group,omitempty"`
	MessagesSnapshot  []ChatMessage      `json:"messages_snapshot"`
	DeferredToolCalls []DeferredToolCall `json:"deferred_tool_calls,omitempty"`
}

// DeferredToolCall is a tool call that was parsed from the LLM's response
// but not yet run because an earlier call in the same batch required
// approval first.
type DeferredToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}
