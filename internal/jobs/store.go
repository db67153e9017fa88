// Package jobs implements JobScheduler: a per-user bounded worker pool that
// drives models.Job through the state machine Pending -> InProgress ->
// {Completed | Failed | Stuck | Cancelled}, with a periodic stuck sweep and
// bounded repair attempts.
package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/vela-systems/agentrt/pkg/models"
)

// Store persists Job records and their append-only action/event logs.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// ListByUser returns jobs owned by userID, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
	// ListActive returns jobs in Pending or InProgress, across all users,
	// for the stuck-sweep to inspect.
	ListActive(ctx context.Context) ([]*models.Job, error)

	AppendAction(ctx context.Context, action *models.JobAction) error
	AppendEvent(ctx context.Context, event *models.JobEvent) error
	ListActions(ctx context.Context, jobID string) ([]*models.JobAction, error)
	ListEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error)
}

// MemoryStore is an in-memory Store, used in tests and as a fallback when
// no durable Storage is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	order   []string
	actions map[string][]*models.JobAction
	events  map[string][]*models.JobEvent
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*models.Job),
		actions: make(map[string][]*models.JobAction),
		events:  make(map[string][]*models.JobEvent),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Job, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		job, ok := s.jobs[s.order[i]]
		if !ok || job.UserID != userID {
			continue
		}
		matched = append(matched, job)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Job, 0, end-offset)
	for _, job := range matched[offset:end] {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Job, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if job.State == models.JobPending || job.State == models.JobInProgress {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, action *models.JobAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.JobID] = append(s.actions[action.JobID], action)
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.JobID] = append(s.events[event.JobID], event)
	return nil
}

func (s *MemoryStore) ListActions(ctx context.Context, jobID string) ([]*models.JobAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.JobAction(nil), s.actions[jobID]...), nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.JobEvent(nil), s.events[jobID]...), nil
}

func cloneJob(job *models.Job) *models.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	return &clone
}
