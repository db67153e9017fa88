package sessionmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/agentrt/pkg/models"
)

func strp(s string) *string { return &s }

func turnWithNumber(n int) *models.Turn { return &models.Turn{Number: n} }

func TestGetOrCreateSessionReturnsSameSession(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	s1 := m.GetOrCreateSession(ctx, "user-1")
	s2 := m.GetOrCreateSession(ctx, "user-1")
	if s1 != s2 {
		t.Fatalf("expected same session pointer for repeated calls")
	}

	s3 := m.GetOrCreateSession(ctx, "user-2")
	if s3 == s1 {
		t.Fatalf("expected distinct sessions for distinct users")
	}
}

func TestResolveThreadSameChannelReturnsSameThread(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	_, t1 := m.ResolveThread(ctx, "user-1", "cli", nil)
	_, t2 := m.ResolveThread(ctx, "user-1", "cli", nil)
	if t1 != t2 {
		t.Fatalf("nil external id resolved to different threads on repeat: %s vs %s", t1, t2)
	}

	_, t3 := m.ResolveThread(ctx, "user-1", "http", nil)
	if t3 == t1 {
		t.Fatalf("different channel should produce a different thread")
	}
}

func TestResolveThreadNoneVsSomeExternalID(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	_, tNone := m.ResolveThread(ctx, "user-1", "cli", nil)
	_, tSome := m.ResolveThread(ctx, "user-1", "cli", strp("ext-1"))
	if tNone == tSome {
		t.Fatalf("nil external id must be a distinct key from Some(\"ext-1\")")
	}
}

func TestResolveThreadDifferentUsersIsolated(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	_, t1 := m.ResolveThread(ctx, "user-a", "gateway", strp("same-ext"))
	_, t2 := m.ResolveThread(ctx, "user-b", "gateway", strp("same-ext"))
	if t1 == t2 {
		t.Fatalf("same external id across different users must not collide")
	}
}

func TestResolveThreadUUIDAdoption(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	session := m.GetOrCreateSession(ctx, "user-hydrate")
	tid := m.createThread(session)

	gotSession, resolved := m.ResolveThread(ctx, "user-hydrate", "gateway", strp(tid))
	if resolved != tid {
		t.Fatalf("expected adoption of hydrated thread uuid %s, got %s", tid, resolved)
	}
	if gotSession != session {
		t.Fatalf("expected the same session object back")
	}

	// Resolving the same UUID on a different channel must NOT adopt it —
	// channel is part of the key.
	_, resolvedOtherChannel := m.ResolveThread(ctx, "user-hydrate", "telegram", strp(tid))
	if resolvedOtherChannel == tid {
		t.Fatalf("adoption must be channel-scoped")
	}
}

func TestResolveThreadStaleMappingCreatesNewThread(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	session, original := m.ResolveThread(ctx, "user-1", "gateway", strp("ext-1"))
	delete(session.Threads, original)

	_, fresh := m.ResolveThread(ctx, "user-1", "gateway", strp("ext-1"))
	if fresh == original {
		t.Fatalf("expected a fresh thread once the mapped one no longer exists")
	}
	if _, ok := session.Threads[fresh]; !ok {
		t.Fatalf("fresh thread must actually exist in the session")
	}
}

func TestConcurrentGetOrCreateSameUserReturnsSameSession(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	results := make([]*struct{ id string }, n)
	var mu sync.Mutex
	ids := make(map[string]bool)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s := m.GetOrCreateSession(ctx, "shared-user")
			mu.Lock()
			ids[s.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	_ = results

	if len(ids) != 1 {
		t.Fatalf("expected all 30 concurrent creates to share one session id, got %d distinct", len(ids))
	}
}

func TestConcurrentResolveThreadDistinctUsersNoCrossTalk(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	tids := make([]string, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, tid := m.ResolveThread(ctx, uuid.NewString(), "gateway", nil)
			tids[i] = tid
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, tid := range tids {
		if seen[tid] {
			t.Fatalf("duplicate thread id %s across distinct users", tid)
		}
		seen[tid] = true
	}
}

func TestPruneStaleSessions(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	m.ResolveThread(ctx, "user-active", "cli", nil)
	staleSession, _ := m.ResolveThread(ctx, "user-stale", "cli", nil)
	staleSession.LastActivity = time.Now().Add(-10 * 24 * time.Hour)

	pruned := m.PruneStaleSessions(ctx, 7*24*time.Hour)
	if pruned != 1 {
		t.Fatalf("expected exactly 1 pruned session, got %d", pruned)
	}

	m.mu.RLock()
	_, activeOK := m.sessions["user-active"]
	_, staleOK := m.sessions["user-stale"]
	m.mu.RUnlock()
	if !activeOK {
		t.Fatalf("active session must survive pruning")
	}
	if staleOK {
		t.Fatalf("stale session must be removed")
	}
}

func TestPruneIntervalBounds(t *testing.T) {
	if got := PruneInterval(60 * time.Second); got != 30*time.Second {
		t.Fatalf("expected floor of 30s, got %s", got)
	}
	if got := PruneInterval(1 * time.Hour); got != 5*time.Minute {
		t.Fatalf("expected cap of 5m, got %s", got)
	}
	if got := PruneInterval(10 * time.Minute); got != 1*time.Minute {
		t.Fatalf("expected one tenth of idle timeout, got %s", got)
	}
}

func TestUndoManagerPushPopBounded(t *testing.T) {
	u := NewUndoManagerWithCapacity(2)
	u.Push(turnWithNumber(1))
	u.Push(turnWithNumber(2))
	u.Push(turnWithNumber(3))

	if u.Len() != 2 {
		t.Fatalf("expected capacity to bound the stack at 2, got %d", u.Len())
	}

	top, ok := u.Pop()
	if !ok || top.TurnSnapshot.Number != 3 {
		t.Fatalf("expected most recently pushed turn on top")
	}
}
