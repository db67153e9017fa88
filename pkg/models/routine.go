package models

import "time"

// TriggerKind enumerates the ways a Routine can fire (spec §3).
type TriggerKind string

const (
	TriggerCron    TriggerKind = "cron"
	TriggerEvent   TriggerKind = "event"
	TriggerWebhook TriggerKind = "webhook"
	TriggerManual  TriggerKind = "manual"
)

// Trigger is the tagged union describing what causes a Routine to fire.
// Exactly the fields relevant to Kind are populated.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// CronExpr is a robfig/cron/v3 expression, set when Kind == TriggerCron.
	// A one-shot reminder is modeled as a Cron trigger with an empty
	// CronExpr and a NextFireAt pinned directly on the Routine; the engine
	// fires it once and disables the routine instead of recomputing.
	CronExpr string `json:"cron_expr,omitempty"`

	// EventChannel and EventPattern are set when Kind == TriggerEvent:
	// the routine fires when a conversation event on EventChannel matches
	// EventPattern (a regexp).
	EventChannel string `json:"event_channel,omitempty"`
	EventPattern string `json:"event_pattern,omitempty"`
}

// RoutineActionKind distinguishes a cheap prompt injection from a full job.
type RoutineActionKind string

const (
	ActionLightweight RoutineActionKind = "lightweight"
	ActionFullJob     RoutineActionKind = "full_job"
)

// RoutineAction is the tagged union of what a Routine does when it fires.
type RoutineAction struct {
	Kind RoutineActionKind `json:"kind"`

	// Prompt is injected into the owning conversation directly, set when
	// Kind == ActionLightweight.
	Prompt string `json:"prompt,omitempty"`

	// JobTitle and JobDescription seed a new Job, set when Kind == ActionFullJob.
	JobTitle       string `json:"job_title,omitempty"`
	JobDescription string `json:"job_description,omitempty"`
}

// RoutineGuardrails bound how often and how many times a routine may run
// concurrently (spec §4.6).
type RoutineGuardrails struct {
	Cooldown     time.Duration `json:"cooldown,omitempty"`
	MaxConcurrent int          `json:"max_concurrent,omitempty"`

	// DedupWindow, if nonzero, suppresses a fire identical (by its dedup
	// key) to one already fired within the window.
	DedupWindow time.Duration `json:"dedup_window,omitempty"`
}

// RoutineNotify configures where a routine's outcome is reported.
type RoutineNotify struct {
	Channel string `json:"channel,omitempty"`
	OnlyOnFailure bool `json:"only_on_failure,omitempty"`
}

// Routine is a user-owned recurring or event-driven action (spec §3/§4.6).
type Routine struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Name           string            `json:"name"`
	Enabled        bool              `json:"enabled"`
	Trigger        Trigger           `json:"trigger"`
	Action         RoutineAction     `json:"action"`
	Guardrails     RoutineGuardrails `json:"guardrails"`
	Notify         RoutineNotify     `json:"notify"`

	// EngineState is opaque state the engine persists between evaluations
	// (e.g. a dedup fingerprint set); callers should not interpret it.
	EngineState string `json:"engine_state,omitempty"`

	RunCount            int        `json:"run_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	NextFireAt          *time.Time `json:"next_fire_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoutineRunStatus is the outcome of one routine fire.
type RoutineRunStatus string

const (
	RunStatusRunning   RoutineRunStatus = "running"
	RunStatusSucceeded RoutineRunStatus = "succeeded"
	RunStatusFailed    RoutineRunStatus = "failed"
	RunStatusSkipped   RoutineRunStatus = "skipped"
)

// RoutineRun records one fire of a Routine, including guardrail skips.
type RoutineRun struct {
	ID        string           `json:"id"`
	RoutineID string           `json:"routine_id"`
	Status    RoutineRunStatus `json:"status"`
	JobID     string           `json:"job_id,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}
