// Package hooks provides an event-driven hook system the Dispatcher
// consults at defined points in the agentic loop (before a tool call
// runs, around session lifecycle, around gateway lifecycle).
package hooks

import (
	"context"
	"time"
)

// EventType identifies the category of hook event.
type EventType string

const (
	// Session events
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionEnded   EventType = "session.ended"

	// Tool events. EventToolBeforeCall is consulted in Dispatcher Phase 1
	// (Preflight): a handler may return a Rejected decision to veto a call
	// before the approval gate is evaluated.
	EventToolBeforeCall EventType = "tool.before_call"
	EventToolCalled     EventType = "tool.called"
	EventToolCompleted  EventType = "tool.completed"

	// Turn events
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnError     EventType = "turn.error"

	// Job events
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobStuck     EventType = "job.stuck"

	// Routine events
	EventRoutineFired EventType = "routine.fired"

	// Gateway events
	EventGatewayStartup  EventType = "gateway.startup"
	EventGatewayShutdown EventType = "gateway.shutdown"
)

// Decision is the outcome a handler returns for a veto-capable event
// (currently only EventToolBeforeCall).
type Decision string

const (
	DecisionAllowed  Decision = "allowed"
	DecisionRejected Decision = "rejected"
)

// Event represents a hook event with context and payload.
type Event struct {
	Type EventType `json:"type"`

	// Action is a specific sub-event within Type (optional), e.g. a tool
	// hook event keyed "tool.pre_execution:shell" for tool-specific handlers.
	Action string `json:"action,omitempty"`

	// ThreadID identifies the Thread this event relates to.
	ThreadID string `json:"thread_id,omitempty"`

	// SessionID identifies the owning Session.
	SessionID string `json:"session_id,omitempty"`

	// ToolName and ToolCallID are populated for tool.* events.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Decision carries a handler's veto verdict for EventToolBeforeCall;
	// the zero value (empty) and DecisionAllowed both mean no handler
	// objected.
	Decision Decision `json:"decision,omitempty"`
	Reason   string   `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Context map[string]any `json:"context,omitempty"`

	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Handler is a function that processes hook events. Handlers should be
// fast and non-blocking; long-running work belongs in a goroutine.
// For EventToolBeforeCall, a handler rejects a call by setting
// event.Decision = DecisionRejected before returning.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered hook handler.
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// Filter allows selective event handling.
type Filter struct {
	EventTypes []EventType
	ThreadIDs  []string
}

// Matches checks if an event matches the filter.
func (f *Filter) Matches(event *Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.ThreadIDs) > 0 {
		found := false
		for _, id := range f.ThreadIDs {
			if id == event.ThreadID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NewEvent creates a new event with timestamp set. action may be empty.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithThread sets the thread and session identifiers on the event.
func (e *Event) WithThread(sessionID, threadID string) *Event {
	e.SessionID = sessionID
	e.ThreadID = threadID
	return e
}

// WithTool sets the tool name and call id on the event.
func (e *Event) WithTool(toolName, toolCallID string) *Event {
	e.ToolName = toolName
	e.ToolCallID = toolCallID
	return e
}

// WithContext adds context data to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError sets the error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}

// Rejected reports whether the event carries a veto decision.
func (e *Event) Rejected() bool {
	return e.Decision == DecisionRejected
}
