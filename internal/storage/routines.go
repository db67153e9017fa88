package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vela-systems/agentrt/pkg/models"
)

// RoutineStore implements routines.Store against the routines/routine_runs
// tables.
type RoutineStore struct {
	db *DB
}

// NewRoutineStore wraps db as a routines.Store.
func NewRoutineStore(db *DB) *RoutineStore {
	return &RoutineStore{db: db}
}

func (s *RoutineStore) Create(ctx context.Context, r *models.Routine) error {
	_, err := s.db.ExecContext(ctx, insertRoutineSQL,
		r.ID, r.UserID, nullString(r.ConversationID), r.Name, boolToInt(r.Enabled),
		string(r.Trigger.Kind), nullString(r.Trigger.CronExpr), nullString(r.Trigger.EventChannel),
		nullString(r.Trigger.EventPattern), string(r.Action.Kind), nullString(r.Action.Prompt),
		nullString(r.Action.JobTitle), nullString(r.Action.JobDescription),
		r.Guardrails.Cooldown, r.Guardrails.MaxConcurrent, r.Guardrails.DedupWindow,
		nullString(r.Notify.Channel), boolToInt(r.Notify.OnlyOnFailure), nullString(r.EngineState),
		r.RunCount, r.ConsecutiveFailures, formatTimestampPtr(r.LastRunAt), formatTimestampPtr(r.NextFireAt),
		formatRFC3339(r.CreatedAt), formatRFC3339(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create routine: %w", err)
	}
	return nil
}

const insertRoutineSQL = `
	INSERT INTO routines (id, user_id, conversation_id, name, enabled, trigger_kind, trigger_cron_expr,
		trigger_event_channel, trigger_event_pattern, action_kind, action_prompt, action_job_title,
		action_job_description, cooldown_ns, max_concurrent, dedup_window_ns, notify_channel,
		notify_only_on_failure, engine_state, run_count, consecutive_failures, last_run_at, next_fire_at,
		created_at, updated_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`

func (s *RoutineStore) Update(ctx context.Context, r *models.Routine) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE routines SET
			name = ?, enabled = ?, trigger_kind = ?, trigger_cron_expr = ?, trigger_event_channel = ?,
			trigger_event_pattern = ?, action_kind = ?, action_prompt = ?, action_job_title = ?,
			action_job_description = ?, cooldown_ns = ?, max_concurrent = ?, dedup_window_ns = ?,
			notify_channel = ?, notify_only_on_failure = ?, engine_state = ?, run_count = ?,
			consecutive_failures = ?, last_run_at = ?, next_fire_at = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Name, boolToInt(r.Enabled), string(r.Trigger.Kind), nullString(r.Trigger.CronExpr),
		nullString(r.Trigger.EventChannel), nullString(r.Trigger.EventPattern), string(r.Action.Kind),
		nullString(r.Action.Prompt), nullString(r.Action.JobTitle), nullString(r.Action.JobDescription),
		r.Guardrails.Cooldown, r.Guardrails.MaxConcurrent, r.Guardrails.DedupWindow,
		nullString(r.Notify.Channel), boolToInt(r.Notify.OnlyOnFailure), nullString(r.EngineState),
		r.RunCount, r.ConsecutiveFailures, formatTimestampPtr(r.LastRunAt), formatTimestampPtr(r.NextFireAt),
		formatRFC3339(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update routine: %w", err)
	}
	return nil
}

const selectRoutineColumns = `
	id, user_id, conversation_id, name, enabled, trigger_kind, trigger_cron_expr,
	trigger_event_channel, trigger_event_pattern, action_kind, action_prompt, action_job_title,
	action_job_description, cooldown_ns, max_concurrent, dedup_window_ns, notify_channel,
	notify_only_on_failure, engine_state, run_count, consecutive_failures, last_run_at, next_fire_at,
	created_at, updated_at
`

func (s *RoutineStore) Get(ctx context.Context, id string) (*models.Routine, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectRoutineColumns+" FROM routines WHERE id = ?", id)
	r, err := scanRoutine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *RoutineStore) ListByUser(ctx context.Context, userID string) ([]*models.Routine, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectRoutineColumns+" FROM routines WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("list routines by user: %w", err)
	}
	defer rows.Close()
	return scanRoutines(rows)
}

func (s *RoutineStore) ListDue(ctx context.Context, asOf time.Time) ([]*models.Routine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectRoutineColumns+" FROM routines WHERE enabled = 1 AND next_fire_at IS NOT NULL AND next_fire_at <= ?",
		formatRFC3339(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("list due routines: %w", err)
	}
	defer rows.Close()
	return scanRoutines(rows)
}

func (s *RoutineStore) ListEventTriggered(ctx context.Context, channel string) ([]*models.Routine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectRoutineColumns+" FROM routines WHERE enabled = 1 AND trigger_kind = ? AND trigger_event_channel = ?",
		string(models.TriggerEvent), channel,
	)
	if err != nil {
		return nil, fmt.Errorf("list event-triggered routines: %w", err)
	}
	defer rows.Close()
	return scanRoutines(rows)
}

func (s *RoutineStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM routine_runs WHERE routine_id = ?", id); err != nil {
		return fmt.Errorf("delete routine runs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM routines WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	return nil
}

func (s *RoutineStore) RecordRun(ctx context.Context, run *models.RoutineRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_runs (id, routine_id, status, job_id, detail, started_at, ended_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, detail = excluded.detail, ended_at = excluded.ended_at
	`, run.ID, run.RoutineID, string(run.Status), nullString(run.JobID), nullString(run.Detail),
		formatRFC3339(run.StartedAt), formatTimestampPtr(run.EndedAt))
	if err != nil {
		return fmt.Errorf("record routine run: %w", err)
	}
	return nil
}

func (s *RoutineStore) ListRuns(ctx context.Context, routineID string, limit int) ([]*models.RoutineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, routine_id, status, job_id, detail, started_at, ended_at
		FROM routine_runs WHERE routine_id = ? ORDER BY started_at DESC LIMIT ?
	`, routineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list routine runs: %w", err)
	}
	defer rows.Close()
	var out []*models.RoutineRun
	for rows.Next() {
		run, err := scanRoutineRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *RoutineStore) RunningCount(ctx context.Context, routineID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM routine_runs WHERE routine_id = ? AND status = ?",
		routineID, string(models.RunStatusRunning),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running routine runs: %w", err)
	}
	return n, nil
}

func scanRoutine(row rowScanner) (*models.Routine, error) {
	var r models.Routine
	var conversationID, cronExpr, eventChannel, eventPattern sql.NullString
	var prompt, jobTitle, jobDescription, notifyChannel, engineState sql.NullString
	var lastRunAt, nextFireAt sql.NullString
	var createdAt, updatedAt string
	var enabled, notifyOnlyOnFailure int
	var cooldown, dedupWindow int64

	if err := row.Scan(
		&r.ID, &r.UserID, &conversationID, &r.Name, &enabled, &r.Trigger.Kind, &cronExpr,
		&eventChannel, &eventPattern, &r.Action.Kind, &prompt, &jobTitle, &jobDescription,
		&cooldown, &r.Guardrails.MaxConcurrent, &dedupWindow, &notifyChannel, &notifyOnlyOnFailure,
		&engineState, &r.RunCount, &r.ConsecutiveFailures, &lastRunAt, &nextFireAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.ConversationID = conversationID.String
	r.Enabled = enabled != 0
	r.Trigger.CronExpr = cronExpr.String
	r.Trigger.EventChannel = eventChannel.String
	r.Trigger.EventPattern = eventPattern.String
	r.Action.Prompt = prompt.String
	r.Action.JobTitle = jobTitle.String
	r.Action.JobDescription = jobDescription.String
	r.Guardrails.Cooldown = time.Duration(cooldown)
	r.Guardrails.DedupWindow = time.Duration(dedupWindow)
	r.Notify.Channel = notifyChannel.String
	r.Notify.OnlyOnFailure = notifyOnlyOnFailure != 0
	r.EngineState = engineState.String
	r.CreatedAt = parseTimestamp(createdAt)
	r.UpdatedAt = parseTimestamp(updatedAt)
	if lastRunAt.Valid {
		r.LastRunAt = parseTimestampPtr(&lastRunAt.String)
	}
	if nextFireAt.Valid {
		r.NextFireAt = parseTimestampPtr(&nextFireAt.String)
	}
	return &r, nil
}

func scanRoutines(rows *sql.Rows) ([]*models.Routine, error) {
	var out []*models.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRoutineRun(rows *sql.Rows) (*models.RoutineRun, error) {
	var run models.RoutineRun
	var jobID, detail, endedAt sql.NullString
	var startedAt string
	if err := rows.Scan(&run.ID, &run.RoutineID, &run.Status, &jobID, &detail, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	run.JobID = jobID.String
	run.Detail = detail.String
	run.StartedAt = parseTimestamp(startedAt)
	if endedAt.Valid {
		run.EndedAt = parseTimestampPtr(&endedAt.String)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
