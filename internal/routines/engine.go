package routines

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/agentrt/pkg/models"
)

// JobSubmitter is the subset of jobs.Scheduler a FullJob RoutineAction needs.
type JobSubmitter interface {
	Submit(ctx context.Context, userID, conversationID, title, description string, source models.JobSource) (*models.Job, error)
}

// Notifier delivers a Lightweight action's prompt, or a run's outcome, to a
// channel (typically the owning conversation).
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Config bounds the evaluator's poll cadence.
type Config struct {
	PollInterval time.Duration
}

// Engine is RoutineEngine: a cron evaluator polling Store for due routines,
// plus an event subscriber matching conversation events against Event
// triggers (spec §4.6).
type Engine struct {
	store  Store
	jobs   JobSubmitter
	notify Notifier
	cfg    Config
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	patternCache map[string]*regexp.Regexp
	patternMu    sync.Mutex
}

// New builds a RoutineEngine. jobs or notify may be nil if the
// corresponding action kind is unused.
func New(store Store, jobs JobSubmitter, notify Notifier, cfg Config, log *slog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:        store,
		jobs:         jobs,
		notify:       notify,
		cfg:          cfg,
		log:          log.With("component", "routine-engine"),
		patternCache: make(map[string]*regexp.Regexp),
	}
}

// Start launches the cron evaluator loop. Call Stop to terminate it.
func (e *Engine) Start(ctx context.Context) {
	evalCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-evalCtx.Done():
				return
			case <-ticker.C:
				e.evaluate(evalCtx)
			}
		}
	}()
}

// Stop cancels the evaluator loop and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Register persists a new routine, computing its initial NextFireAt from
// a Cron trigger (a one-shot reminder sets NextFireAt directly before
// calling Register and leaves CronExpr empty).
func (e *Engine) Register(ctx context.Context, r *models.Routine) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Trigger.Kind == models.TriggerCron && r.Trigger.CronExpr != "" {
		next, ok, err := nextFire(r.Trigger.CronExpr, now)
		if err != nil {
			return err
		}
		if ok {
			r.NextFireAt = &next
		}
	}
	return e.store.Create(ctx, r)
}

// Get returns a routine by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.Routine, error) {
	return e.store.Get(ctx, id)
}

// ListByUser returns all routines owned by userID.
func (e *Engine) ListByUser(ctx context.Context, userID string) ([]*models.Routine, error) {
	return e.store.ListByUser(ctx, userID)
}

// Delete removes a routine permanently.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// Enable turns a routine back on, recomputing NextFireAt for a recurring
// Cron trigger.
func (e *Engine) Enable(ctx context.Context, id string) error {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("routine %s not found", id)
	}
	r.Enabled = true
	r.UpdatedAt = time.Now()
	if r.Trigger.Kind == models.TriggerCron && r.Trigger.CronExpr != "" {
		next, ok, err := nextFire(r.Trigger.CronExpr, time.Now())
		if err != nil {
			return err
		}
		if ok {
			r.NextFireAt = &next
		}
	}
	return e.store.Update(ctx, r)
}

// Disable turns off a routine so it no longer fires.
func (e *Engine) Disable(ctx context.Context, id string) error {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("routine %s not found", id)
	}
	r.Enabled = false
	r.UpdatedAt = time.Now()
	return e.store.Update(ctx, r)
}

func (e *Engine) evaluate(ctx context.Context) {
	now := time.Now()
	due, err := e.store.ListDue(ctx, now)
	if err != nil {
		e.log.Error("list due routines failed", "error", err)
		return
	}
	for _, r := range due {
		e.fire(ctx, r, "cron due", "")
	}
}

// HandleEvent matches an incoming conversation event on channel against
// enabled Event triggers and fires any whose pattern matches payload.
func (e *Engine) HandleEvent(ctx context.Context, channel, payload string) {
	candidates, err := e.store.ListEventTriggered(ctx, channel)
	if err != nil {
		e.log.Error("list event-triggered routines failed", "channel", channel, "error", err)
		return
	}
	for _, r := range candidates {
		re, err := e.pattern(r.Trigger.EventPattern)
		if err != nil {
			e.log.Warn("invalid event pattern", "routine_id", r.ID, "pattern", r.Trigger.EventPattern, "error", err)
			continue
		}
		if !re.MatchString(payload) {
			continue
		}
		e.fire(ctx, r, "event matched", payload)
	}
}

func (e *Engine) pattern(expr string) (*regexp.Regexp, error) {
	e.patternMu.Lock()
	defer e.patternMu.Unlock()
	if re, ok := e.patternCache[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.patternCache[expr] = re
	return re, nil
}

// fire applies guardrails, then runs the routine's action if permitted.
func (e *Engine) fire(ctx context.Context, r *models.Routine, reason, dedupSeed string) {
	now := time.Now()

	if r.Guardrails.Cooldown > 0 && r.LastRunAt != nil {
		if now.Before(r.LastRunAt.Add(r.Guardrails.Cooldown)) {
			e.recordSkip(ctx, r, "cooldown active")
			return
		}
	}
	if r.Guardrails.MaxConcurrent > 0 {
		running, err := e.store.RunningCount(ctx, r.ID)
		if err != nil {
			e.log.Error("running count failed", "routine_id", r.ID, "error", err)
			return
		}
		if running >= r.Guardrails.MaxConcurrent {
			e.recordSkip(ctx, r, "max_concurrent reached")
			return
		}
	}
	if r.Guardrails.DedupWindow > 0 && dedupSeed != "" {
		key := dedupKey(dedupSeed)
		lastKey, lastAt, ok := parseEngineState(r.EngineState)
		if ok && lastKey == key && now.Before(lastAt.Add(r.Guardrails.DedupWindow)) {
			e.recordSkip(ctx, r, "deduplicated")
			return
		}
		r.EngineState = formatEngineState(key, now)
	}

	run := &models.RoutineRun{
		ID:        uuid.NewString(),
		RoutineID: r.ID,
		Status:    models.RunStatusRunning,
		Detail:    reason,
		StartedAt: now,
	}
	if err := e.store.RecordRun(ctx, run); err != nil {
		e.log.Error("record run start failed", "routine_id", r.ID, "error", err)
	}

	r.RunCount++
	r.LastRunAt = &now
	e.advanceNextFire(r, now)
	if err := e.store.Update(ctx, r); err != nil {
		e.log.Error("persist routine fire failed", "routine_id", r.ID, "error", err)
	}

	err := e.runAction(ctx, r)
	ended := time.Now()
	run.EndedAt = &ended
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Detail = err.Error()
		r.ConsecutiveFailures++
	} else {
		run.Status = models.RunStatusSucceeded
		r.ConsecutiveFailures = 0
	}
	if rerr := e.store.RecordRun(ctx, run); rerr != nil {
		e.log.Error("record run outcome failed", "routine_id", r.ID, "error", rerr)
	}
	if uerr := e.store.Update(ctx, r); uerr != nil {
		e.log.Error("persist routine outcome failed", "routine_id", r.ID, "error", uerr)
	}
	if err != nil && e.notify != nil && r.Notify.Channel != "" {
		_ = e.notify.Notify(ctx, r.Notify.Channel, fmt.Sprintf("routine %q failed: %v", r.Name, err))
	} else if e.notify != nil && r.Notify.Channel != "" && !r.Notify.OnlyOnFailure {
		_ = e.notify.Notify(ctx, r.Notify.Channel, fmt.Sprintf("routine %q ran successfully", r.Name))
	}
}

func (e *Engine) recordSkip(ctx context.Context, r *models.Routine, reason string) {
	run := &models.RoutineRun{
		ID:        uuid.NewString(),
		RoutineID: r.ID,
		Status:    models.RunStatusSkipped,
		Detail:    reason,
		StartedAt: time.Now(),
	}
	if err := e.store.RecordRun(ctx, run); err != nil {
		e.log.Warn("record skip failed", "routine_id", r.ID, "error", err)
	}
}

// advanceNextFire recomputes NextFireAt for recurring triggers, or clears
// it (and disables the routine) for one-shot cron triggers with no expr.
func (e *Engine) advanceNextFire(r *models.Routine, after time.Time) {
	if r.Trigger.Kind != models.TriggerCron {
		return
	}
	if r.Trigger.CronExpr == "" {
		r.NextFireAt = nil
		r.Enabled = false
		return
	}
	next, ok, err := nextFire(r.Trigger.CronExpr, after)
	if err != nil || !ok {
		r.NextFireAt = nil
		return
	}
	r.NextFireAt = &next
}

func (e *Engine) runAction(ctx context.Context, r *models.Routine) error {
	switch r.Action.Kind {
	case models.ActionLightweight:
		if e.notify == nil {
			return fmt.Errorf("no notifier configured for lightweight action")
		}
		channel := r.ConversationID
		if channel == "" {
			channel = r.Notify.Channel
		}
		return e.notify.Notify(ctx, channel, r.Action.Prompt)
	case models.ActionFullJob:
		if e.jobs == nil {
			return fmt.Errorf("no job submitter configured for full_job action")
		}
		_, err := e.jobs.Submit(ctx, r.UserID, r.ConversationID, r.Action.JobTitle, r.Action.JobDescription, models.JobSourceDirect)
		return err
	default:
		return fmt.Errorf("unknown routine action kind %q", r.Action.Kind)
	}
}

func dedupKey(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}

func formatEngineState(key string, at time.Time) string {
	return key + "|" + strconv.FormatInt(at.UnixNano(), 10)
}

func parseEngineState(state string) (key string, at time.Time, ok bool) {
	parts := strings.SplitN(state, "|", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], time.Unix(0, nanos), true
}
