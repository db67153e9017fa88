package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vela-systems/agentrt/pkg/models"
)

// JobStore implements jobs.Store against the agent_jobs/job_actions/job_events
// tables.
type JobStore struct {
	db *DB
}

// NewJobStore wraps db as a jobs.Store.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_jobs (id, user_id, conversation_id, title, description, source, state,
			cost_budget, cost_spent, repair_attempts, created_at, updated_at, last_activity,
			started_at, finished_at, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		job.ID, job.UserID, nullString(job.ConversationID), job.Title, nullString(job.Description),
		string(job.Source), string(job.State), job.CostBudget, job.CostSpent, job.RepairAttempts,
		formatRFC3339(job.CreatedAt), formatRFC3339(job.UpdatedAt), formatRFC3339(job.LastActivity),
		formatTimestampPtr(job.StartedAt), formatTimestampPtr(job.FinishedAt), nullString(job.Error),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *JobStore) Update(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_jobs SET
			title = ?, description = ?, source = ?, state = ?, cost_budget = ?, cost_spent = ?,
			repair_attempts = ?, updated_at = ?, last_activity = ?, started_at = ?, finished_at = ?, error = ?
		WHERE id = ?
	`,
		job.Title, nullString(job.Description), string(job.Source), string(job.State),
		job.CostBudget, job.CostSpent, job.RepairAttempts, formatRFC3339(job.UpdatedAt),
		formatRFC3339(job.LastActivity), formatTimestampPtr(job.StartedAt), formatTimestampPtr(job.FinishedAt),
		nullString(job.Error), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, conversation_id, title, description, source, state,
			cost_budget, cost_spent, repair_attempts, created_at, updated_at, last_activity,
			started_at, finished_at, error
		FROM agent_jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, title, description, source, state,
			cost_budget, cost_spent, repair_attempts, created_at, updated_at, last_activity,
			started_at, finished_at, error
		FROM agent_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs by user: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) ListActive(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, title, description, source, state,
			cost_budget, cost_spent, repair_attempts, created_at, updated_at, last_activity,
			started_at, finished_at, error
		FROM agent_jobs WHERE state IN (?, ?)
	`, string(models.JobPending), string(models.JobInProgress))
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) AppendAction(ctx context.Context, action *models.JobAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_actions (id, job_id, kind, detail, created_at) VALUES (?,?,?,?,?)
	`, action.ID, action.JobID, string(action.Kind), action.Detail, formatRFC3339(action.CreatedAt))
	if err != nil {
		return fmt.Errorf("append job action: %w", err)
	}
	return nil
}

func (s *JobStore) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (id, job_id, kind, from_state, to_state, detail, created_at)
		VALUES (?,?,?,?,?,?,?)
	`, event.ID, event.JobID, string(event.Kind), nullString(string(event.FromState)),
		nullString(string(event.ToState)), nullString(event.Detail), formatRFC3339(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

func (s *JobStore) ListActions(ctx context.Context, jobID string) ([]*models.JobAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, kind, detail, created_at FROM job_actions WHERE job_id = ? ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job actions: %w", err)
	}
	defer rows.Close()
	var out []*models.JobAction
	for rows.Next() {
		var a models.JobAction
		var createdAt string
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Detail, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTimestamp(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *JobStore) ListEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, kind, from_state, to_state, detail, created_at
		FROM job_events WHERE job_id = ? ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()
	var out []*models.JobEvent
	for rows.Next() {
		var e models.JobEvent
		var from, to sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &from, &to, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.FromState = models.JobState(from.String)
		e.ToState = models.JobState(to.String)
		e.CreatedAt = parseTimestamp(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var conversationID, description, errMsg sql.NullString
	var createdAt, updatedAt, lastActivity string
	var startedAt, finishedAt sql.NullString
	if err := row.Scan(
		&j.ID, &j.UserID, &conversationID, &j.Title, &description, &j.Source, &j.State,
		&j.CostBudget, &j.CostSpent, &j.RepairAttempts, &createdAt, &updatedAt, &lastActivity,
		&startedAt, &finishedAt, &errMsg,
	); err != nil {
		return nil, err
	}
	j.ConversationID = conversationID.String
	j.Description = description.String
	j.Error = errMsg.String
	j.CreatedAt = parseTimestamp(createdAt)
	j.UpdatedAt = parseTimestamp(updatedAt)
	j.LastActivity = parseTimestamp(lastActivity)
	if startedAt.Valid {
		j.StartedAt = parseTimestampPtr(&startedAt.String)
	}
	if finishedAt.Valid {
		j.FinishedAt = parseTimestampPtr(&finishedAt.String)
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
