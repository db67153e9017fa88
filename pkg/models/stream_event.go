package models

import "time"

// StreamEventType identifies a member of the Dispatcher's forward-only
// per-message event stream. A channel transport (out of scope here) wraps
// each as {type:"event", event_type, data} for its wire format.
type StreamEventType string

const (
	StreamResponse        StreamEventType = "response"
	StreamThinking        StreamEventType = "thinking"
	StreamToolStarted     StreamEventType = "tool_started"
	StreamToolCompleted   StreamEventType = "tool_completed"
	StreamToolResult      StreamEventType = "tool_result"
	StreamReasoningUpdate StreamEventType = "reasoning_update"
	StreamApprovalNeeded  StreamEventType = "approval_needed"
	StreamAuthRequired    StreamEventType = "auth_required"
	StreamAuthCompleted   StreamEventType = "auth_completed"
	StreamStatus          StreamEventType = "status"
	StreamError           StreamEventType = "error"
	StreamHeartbeat       StreamEventType = "heartbeat"

	// Job-owned threads emit the same family prefixed with job_.
	StreamJobStatus StreamEventType = "job_status"
	StreamJobError  StreamEventType = "job_error"
)

// ToolDecision is one entry in a ReasoningUpdate's per-call outcome list.
type ToolDecision struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Outcome    string `json:"outcome"` // pending, success, error, rejected
	Error      string `json:"error,omitempty"`
}

// StreamEvent is one item in a Thread's forward-only event sequence.
// Exactly the fields relevant to Type are populated.
type StreamEvent struct {
	Type      StreamEventType `json:"event_type"`
	ThreadID  string          `json:"thread_id"`
	Time      time.Time       `json:"time"`

	Text string `json:"text,omitempty"` // response, thinking, error

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Preview    string `json:"preview,omitempty"` // tool_result
	Success    bool   `json:"success,omitempty"` // tool_completed

	Narrative     string         `json:"narrative,omitempty"`
	ToolDecisions []ToolDecision `json:"tool_decisions,omitempty"`

	Extension    string `json:"extension,omitempty"`     // auth_required/auth_completed
	Instructions string `json:"instructions,omitempty"`  // auth_required
	AuthURL      string `json:"auth_url,omitempty"`
	SetupURL     string `json:"setup_url,omitempty"`
	AuthSuccess  bool   `json:"auth_success,omitempty"`

	Status string `json:"status,omitempty"`

	JobID string `json:"job_id,omitempty"`
}
