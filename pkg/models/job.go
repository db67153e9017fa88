package models

import "time"

// JobState is a Job's position in the JobScheduler state machine (spec §4.6):
// Pending -> InProgress -> {Completed | Failed | Stuck | Cancelled}.
type JobState string

const (
	JobPending    JobState = "pending"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobStuck      JobState = "stuck"
	JobCancelled  JobState = "cancelled"
	JobSubmitted  JobState = "submitted"
	JobAccepted   JobState = "accepted"
)

// JobSource distinguishes a job the Dispatcher ran directly from one that
// executed inside the CapabilitySandbox, per the agent_jobs table's
// "source" discriminator (spec §6).
type JobSource string

const (
	JobSourceDirect  JobSource = "direct"
	JobSourceSandbox JobSource = "sandbox"
)

// Job is a long-running task tracked by JobScheduler.
type Job struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Source         JobSource  `json:"source"`
	State          JobState   `json:"state"`
	CostBudget     float64    `json:"cost_budget,omitempty"`
	CostSpent      float64    `json:"cost_spent,omitempty"`
	RepairAttempts int        `json:"repair_attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastActivity   time.Time  `json:"last_activity"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobActionKind enumerates the append-only actions a job records.
type JobActionKind string

const (
	ActionToolCall JobActionKind = "tool_call"
	ActionNote     JobActionKind = "note"
	ActionRepair   JobActionKind = "repair"
)

// JobAction is one entry in a job's append-only action log.
type JobAction struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Kind      JobActionKind `json:"kind"`
	Detail    string        `json:"detail"`
	CreatedAt time.Time     `json:"created_at"`
}

// JobEventKind enumerates the append-only state-transition log entries.
type JobEventKind string

const (
	EventStateChange JobEventKind = "state_change"
	EventStuckSweep  JobEventKind = "stuck_sweep"
	EventHelpJob     JobEventKind = "help_job"
)

// JobEvent is one entry in a job's append-only event log, recording state
// transitions and scheduler-initiated interventions.
type JobEvent struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	Kind      JobEventKind `json:"kind"`
	FromState JobState     `json:"from_state,omitempty"`
	ToState   JobState     `json:"to_state,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// JobErrorKind is the taxonomy used by JobError (spec §7).
type JobErrorKind string

const (
	JobErrNotFound    JobErrorKind = "not_found"
	JobErrContext     JobErrorKind = "context_error"
	JobErrStuckRepair JobErrorKind = "stuck"
)

// JobError is the typed error JobScheduler operations return.
type JobError struct {
	Kind  JobErrorKind
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.JobID + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.JobID
}

func (e *JobError) Unwrap() error { return e.Err }
