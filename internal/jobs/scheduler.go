package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/agentrt/internal/backoff"
	"github.com/vela-systems/agentrt/pkg/models"
)

// Runner executes a job's work. It should honor ctx cancellation and
// return a non-nil error on failure; a panic is recovered by the
// Scheduler and treated as a failure.
type Runner func(ctx context.Context, job *models.Job) error

// SchedulerConfig bounds the worker pool and stuck-sweep behavior.
type SchedulerConfig struct {
	WorkersPerUser    int
	StuckThreshold    time.Duration
	SweepInterval     time.Duration
	MaxRepairAttempts int
}

// Scheduler is JobScheduler: a per-user bounded worker pool that drives
// Job through Pending -> InProgress -> {Completed | Failed | Stuck |
// Cancelled}, with a periodic sweep that reclassifies stalled jobs as
// Stuck and a bounded repair path back to InProgress (spec §4.6).
type Scheduler struct {
	store  Store
	run    Runner
	cfg    SchedulerConfig
	log    *slog.Logger
	backoff backoff.BackoffPolicy

	mu       sync.Mutex
	perUser  map[string]chan struct{} // semaphore per user, buffered to WorkersPerUser
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
	sweepCancel context.CancelFunc
}

// NewScheduler builds a Scheduler backed by store, dispatching work through
// run. cfg zero-values fall back to sensible defaults.
func NewScheduler(store Store, run Runner, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.WorkersPerUser <= 0 {
		cfg.WorkersPerUser = 2
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:   store,
		run:     run,
		cfg:     cfg,
		log:     log.With("component", "job-scheduler"),
		backoff: backoff.DefaultPolicy(),
		perUser: make(map[string]chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (s *Scheduler) userSlot(userID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.perUser[userID]
	if !ok {
		ch = make(chan struct{}, s.cfg.WorkersPerUser)
		s.perUser[userID] = ch
	}
	return ch
}

// Submit creates a job in the Pending state and schedules it for
// execution, blocking only long enough to persist the record.
func (s *Scheduler) Submit(ctx context.Context, userID, conversationID, title, description string, source models.JobSource) (*models.Job, error) {
	now := time.Now()
	job := &models.Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Title:          title,
		Description:    description,
		Source:         source,
		State:          models.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivity:   now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.recordEvent(ctx, job.ID, "", models.JobPending, "submitted"); err != nil {
		s.log.Warn("record submit event failed", "job_id", job.ID, "error", err)
	}
	s.wg.Add(1)
	go s.dispatch(job.ID, userID)
	return job, nil
}

// dispatch blocks on the user's worker semaphore, then runs the job.
func (s *Scheduler) dispatch(jobID, userID string) {
	defer s.wg.Done()
	slot := s.userSlot(userID)
	slot <- struct{}{}
	defer func() { <-slot }()
	s.execute(jobID)
}

func (s *Scheduler) execute(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
	}()

	job, err := s.store.Get(ctx, jobID)
	if err != nil || job == nil {
		s.log.Error("job vanished before execution", "job_id", jobID, "error", err)
		return
	}
	if job.State == models.JobCancelled {
		return
	}

	s.transition(ctx, job, models.JobInProgress, "execution started")

	runErr := s.runGuarded(ctx, job)

	job, _ = s.store.Get(ctx, jobID)
	if job == nil {
		return
	}
	if job.State == models.JobCancelled {
		return
	}
	now := time.Now()
	job.LastActivity = now
	if runErr != nil {
		job.Error = runErr.Error()
		s.transition(ctx, job, models.JobFailed, runErr.Error())
		return
	}
	s.transition(ctx, job, models.JobCompleted, "execution finished")
}

func (s *Scheduler) runGuarded(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if s.run == nil {
		return fmt.Errorf("no runner configured")
	}
	return s.run(ctx, job)
}

func (s *Scheduler) transition(ctx context.Context, job *models.Job, to models.JobState, detail string) {
	from := job.State
	job.State = to
	job.UpdatedAt = time.Now()
	switch to {
	case models.JobInProgress:
		if job.StartedAt == nil {
			t := time.Now()
			job.StartedAt = &t
		}
	case models.JobCompleted, models.JobFailed, models.JobCancelled:
		t := time.Now()
		job.FinishedAt = &t
	}
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("persist job transition failed", "job_id", job.ID, "error", err)
	}
	if err := s.recordEvent(ctx, job.ID, from, to, detail); err != nil {
		s.log.Warn("record event failed", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) recordEvent(ctx context.Context, jobID string, from, to models.JobState, detail string) error {
	return s.store.AppendEvent(ctx, &models.JobEvent{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Kind:      models.EventStateChange,
		FromState: from,
		ToState:   to,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

// Cancel marks a Pending, InProgress or Stuck job Cancelled and cancels
// its execution context if running. Jobs in any other state are left
// unchanged.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return &models.JobError{Kind: models.JobErrNotFound, JobID: jobID}
	}
	if job.State != models.JobPending && job.State != models.JobInProgress && job.State != models.JobStuck {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancels[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.transition(ctx, job, models.JobCancelled, "cancelled by request")
	return nil
}

// StartSweep launches the periodic stuck-detection loop. Call Stop to
// terminate it.
func (s *Scheduler) StartSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sweepCancel = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				s.sweep(sweepCtx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for in-flight work to observe
// cancellation. It does not forcibly cancel running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.sweepCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) sweep(ctx context.Context) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Error("sweep: list active failed", "error", err)
		return
	}
	now := time.Now()
	for _, job := range active {
		if job.State != models.JobInProgress {
			continue
		}
		if now.Sub(job.LastActivity) < s.cfg.StuckThreshold {
			continue
		}
		s.transition(ctx, job, models.JobStuck, "no activity within stuck threshold")
		if err := s.store.AppendEvent(ctx, &models.JobEvent{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Kind:      models.EventStuckSweep,
			Detail:    fmt.Sprintf("idle for %s", now.Sub(job.LastActivity)),
			CreatedAt: now,
		}); err != nil {
			s.log.Warn("record stuck-sweep event failed", "job_id", job.ID, "error", err)
		}
	}
}

// Repair attempts a bounded retry of a Stuck job, transitioning it back to
// InProgress and rescheduling execution. It refuses once RepairAttempts
// reaches MaxRepairAttempts, returning JobErrStuckRepair.
func (s *Scheduler) Repair(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return &models.JobError{Kind: models.JobErrNotFound, JobID: jobID}
	}
	if job.State != models.JobStuck {
		return &models.JobError{Kind: models.JobErrContext, JobID: jobID, Err: fmt.Errorf("job is not stuck (state=%s)", job.State)}
	}
	if job.RepairAttempts >= s.cfg.MaxRepairAttempts {
		return &models.JobError{Kind: models.JobErrStuckRepair, JobID: jobID, Err: fmt.Errorf("max repair attempts (%d) exhausted", s.cfg.MaxRepairAttempts)}
	}
	job.RepairAttempts++
	job.LastActivity = time.Now()
	delay := backoff.ComputeBackoff(s.backoff, job.RepairAttempts)
	if err := s.store.AppendEvent(ctx, &models.JobEvent{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Kind:      models.EventHelpJob,
		FromState: models.JobStuck,
		ToState:   models.JobInProgress,
		Detail:    fmt.Sprintf("repair attempt %d, backoff %s", job.RepairAttempts, delay),
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Warn("record help_job event failed", "job_id", job.ID, "error", err)
	}
	s.transition(ctx, job, models.JobInProgress, "repair attempt started")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(delay)
		slot := s.userSlot(job.UserID)
		slot <- struct{}{}
		defer func() { <-slot }()
		s.execute(job.ID)
	}()
	return nil
}

// Get returns a job by id.
func (s *Scheduler) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.Get(ctx, jobID)
}

// ListByUser returns a user's jobs, newest first.
func (s *Scheduler) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}
