// Package sessionmgr implements SessionManager: resolution of an external
// (user, channel, external_thread_id) key to an internal Session and
// Thread, per-thread undo-state bookkeeping, and idle-session pruning.
package sessionmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/agentrt/internal/hooks"
	"github.com/vela-systems/agentrt/pkg/models"
)

// sessionCountWarningThreshold triggers a log warning once the manager is
// tracking this many concurrent sessions, a signal to shorten the idle
// timeout or widen the pruner.
const sessionCountWarningThreshold = 1000

// threadKey identifies one (user, channel, external thread) triple. A nil
// externalThreadID is a distinct key from any concrete string — None and
// Some("x") never collide.
type threadKey struct {
	userID             string
	channel            string
	externalThreadID   string
	hasExternalThreadID bool
}

// lockedSession pairs a Session with the mutex that serializes access to
// its Threads map; the Dispatcher holds this lock for the duration of a
// single Turn to enforce "at most one in-flight Turn per Thread."
type lockedSession struct {
	mu      sync.Mutex
	session *models.Session
}

// Manager is the SessionManager. Three independent RWMutexes guard the
// sessions map, the thread-key map, and the undo-manager map so that, per
// spec, suspension points never hold a write lock across I/O.
type Manager struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*lockedSession // user_id -> session

	threadMapMu sync.RWMutex
	threadMap   map[threadKey]string // -> thread id

	undoMu  sync.RWMutex
	undoMgr map[string]*UndoManager // thread id -> undo manager

	hooks *hooks.Registry
}

// New constructs an empty Manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:       log,
		sessions:  make(map[string]*lockedSession),
		threadMap: make(map[threadKey]string),
		undoMgr:   make(map[string]*UndoManager),
	}
}

// WithHooks attaches a hook registry for session lifecycle events.
func (m *Manager) WithHooks(h *hooks.Registry) *Manager {
	m.hooks = h
	return m
}

// GetOrCreateSession returns the Session for userID, creating it under
// double-checked locking if it does not yet exist.
func (m *Manager) GetOrCreateSession(ctx context.Context, userID string) *models.Session {
	m.mu.RLock()
	if ls, ok := m.sessions[userID]; ok {
		m.mu.RUnlock()
		return ls.session
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if ls, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return ls.session
	}

	now := time.Now()
	session := &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		CreatedAt:        now,
		LastActivity:     now,
		Threads:          make(map[string]*models.Thread),
		AutoApprovedTool: make(map[string]bool),
	}
	m.sessions[userID] = &lockedSession{session: session}
	count := len(m.sessions)
	m.mu.Unlock()

	if count >= sessionCountWarningThreshold && count%100 == 0 {
		m.log.Warn("high session count, consider reducing idle timeout",
			"active_sessions", count)
	}

	if m.hooks != nil {
		go func() {
			evt := hooks.NewEvent(hooks.EventSessionCreated, "").WithThread(session.ID, "")
			if err := m.hooks.Trigger(context.Background(), evt); err != nil {
				m.log.Warn("session.created hook error", "error", err)
			}
		}()
	}

	return session
}

// ResolveThread maps (userID, channel, externalThreadID) to a Session and
// thread id, following the three paths from spec §4.2: cached mapping,
// UUID adoption, fresh creation.
func (m *Manager) ResolveThread(ctx context.Context, userID, channel string, externalThreadID *string) (*models.Session, string) {
	session := m.GetOrCreateSession(ctx, userID)

	key := threadKey{userID: userID, channel: channel}
	if externalThreadID != nil {
		key.externalThreadID = *externalThreadID
		key.hasExternalThreadID = true
	}

	if tid, ok := m.lookupThreadMap(key); ok {
		if m.threadExists(session, tid) {
			m.setActiveThread(session, tid)
			return session, tid
		}
	}

	if externalThreadID != nil {
		if extUUID, err := uuid.Parse(*externalThreadID); err == nil {
			if tid, ok := m.adoptUUID(session, key, extUUID.String()); ok {
				m.setActiveThread(session, tid)
				return session, tid
			}
		}
	}

	tid := m.createThread(session)
	m.threadMapMu.Lock()
	m.threadMap[key] = tid
	m.threadMapMu.Unlock()
	m.ensureUndoManager(tid)
	m.setActiveThread(session, tid)
	return session, tid
}

func (m *Manager) lookupThreadMap(key threadKey) (string, bool) {
	m.threadMapMu.RLock()
	defer m.threadMapMu.RUnlock()
	tid, ok := m.threadMap[key]
	return tid, ok
}

func (m *Manager) threadExists(session *models.Session, tid string) bool {
	ls := m.lockedSessionFor(session)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, ok := session.Threads[tid]
	return ok
}

// adoptUUID implements UUID adoption: if extUUID is present in the session
// and not already mapped under a different key, bind key to it. The "not
// mapped elsewhere" check is re-validated after acquiring the write lock
// to close the race between the read probe and the write.
func (m *Manager) adoptUUID(session *models.Session, key threadKey, extUUID string) (string, bool) {
	if m.mappedElsewhere(extUUID) {
		return "", false
	}

	ls := m.lockedSessionFor(session)
	ls.mu.Lock()
	_, exists := session.Threads[extUUID]
	ls.mu.Unlock()
	if !exists {
		return "", false
	}

	m.threadMapMu.Lock()
	defer m.threadMapMu.Unlock()
	for _, v := range m.threadMap {
		if v == extUUID {
			return "", false
		}
	}
	m.threadMap[key] = extUUID
	m.ensureUndoManagerLocked(extUUID)
	return extUUID, true
}

func (m *Manager) mappedElsewhere(uid string) bool {
	m.threadMapMu.RLock()
	defer m.threadMapMu.RUnlock()
	for _, v := range m.threadMap {
		if v == uid {
			return true
		}
	}
	return false
}

func (m *Manager) createThread(session *models.Session) string {
	ls := m.lockedSessionFor(session)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	now := time.Now()
	thread := &models.Thread{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
		State:     models.ThreadIdle,
	}
	session.Threads[thread.ID] = thread
	return thread.ID
}

func (m *Manager) setActiveThread(session *models.Session, tid string) {
	ls := m.lockedSessionFor(session)
	ls.mu.Lock()
	session.ActiveThreadID = tid
	session.LastActivity = time.Now()
	ls.mu.Unlock()
}

func (m *Manager) lockedSessionFor(session *models.Session) *lockedSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ls, ok := m.sessions[session.UserID]; ok {
		return ls
	}
	// Session was not registered under its own manager (e.g. RegisterThread
	// callers constructing a session outside GetOrCreateSession); fall back
	// to a private lock scoped to this call so callers never nil-deref.
	return &lockedSession{session: session}
}

// RegisterThread records a thread hydrated from storage so a later
// ResolveThread call with the same UUID finds it instead of minting a
// fresh one.
func (m *Manager) RegisterThread(ctx context.Context, userID, channel, threadID string, session *models.Session) {
	key := threadKey{userID: userID, channel: channel, externalThreadID: threadID, hasExternalThreadID: true}

	m.threadMapMu.Lock()
	m.threadMap[key] = threadID
	m.threadMapMu.Unlock()

	m.ensureUndoManager(threadID)

	m.mu.Lock()
	if _, ok := m.sessions[userID]; !ok {
		m.sessions[userID] = &lockedSession{session: session}
	}
	m.mu.Unlock()
}

// GetUndoManager returns the UndoManager for threadID, creating one under
// double-checked locking if it does not yet exist.
func (m *Manager) GetUndoManager(threadID string) *UndoManager {
	m.undoMu.RLock()
	if mgr, ok := m.undoMgr[threadID]; ok {
		m.undoMu.RUnlock()
		return mgr
	}
	m.undoMu.RUnlock()
	return m.ensureUndoManager(threadID)
}

func (m *Manager) ensureUndoManager(threadID string) *UndoManager {
	m.undoMu.Lock()
	defer m.undoMu.Unlock()
	return m.ensureUndoManagerLocked(threadID)
}

// ensureUndoManagerLocked requires the caller to hold undoMu for writing.
func (m *Manager) ensureUndoManagerLocked(threadID string) *UndoManager {
	if mgr, ok := m.undoMgr[threadID]; ok {
		return mgr
	}
	mgr := NewUndoManager()
	m.undoMgr[threadID] = mgr
	return mgr
}

// PruneStaleSessions removes sessions whose LastActivity exceeds maxIdle,
// skipping any session currently under active lock, and returns the count
// of sessions removed.
func (m *Manager) PruneStaleSessions(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	type staleEntry struct {
		userID    string
		sessionID string
		threadIDs []string
	}
	var stale []staleEntry

	m.mu.RLock()
	for userID, ls := range m.sessions {
		if !ls.mu.TryLock() {
			continue
		}
		if ls.session.LastActivity.Before(cutoff) {
			ids := make([]string, 0, len(ls.session.Threads))
			for tid := range ls.session.Threads {
				ids = append(ids, tid)
			}
			stale = append(stale, staleEntry{userID: userID, sessionID: ls.session.ID, threadIDs: ids})
		}
		ls.mu.Unlock()
	}
	m.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	staleUsers := make(map[string]bool, len(stale))
	for _, s := range stale {
		staleUsers[s.userID] = true
	}

	if m.hooks != nil {
		for _, s := range stale {
			userID, sessionID := s.userID, s.sessionID
			go func() {
				evt := hooks.NewEvent(hooks.EventSessionEnded, "").WithThread(sessionID, "")
				evt.WithContext("user_id", userID)
				if err := m.hooks.Trigger(context.Background(), evt); err != nil {
					m.log.Warn("session.ended hook error", "error", err)
				}
			}()
		}
	}

	m.mu.Lock()
	before := len(m.sessions)
	for userID := range staleUsers {
		delete(m.sessions, userID)
	}
	removed := before - len(m.sessions)
	m.mu.Unlock()

	m.threadMapMu.Lock()
	for key := range m.threadMap {
		if staleUsers[key.userID] {
			delete(m.threadMap, key)
		}
	}
	m.threadMapMu.Unlock()

	m.undoMu.Lock()
	for _, s := range stale {
		for _, tid := range s.threadIDs {
			delete(m.undoMgr, tid)
		}
	}
	m.undoMu.Unlock()

	if removed > 0 {
		m.log.Info("pruned stale sessions", "count", removed, "max_idle", maxIdle)
	}
	return removed
}

// PruneInterval derives the periodic pruner's sweep interval from the idle
// timeout: one tenth of idleTimeout, floored at 30s and capped at 5m.
func PruneInterval(idleTimeout time.Duration) time.Duration {
	d := idleTimeout / 10
	if d < 30*time.Second {
		return 30 * time.Second
	}
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// RunPruner starts a ticker-driven goroutine that prunes stale sessions
// every PruneInterval(idleTimeout) until ctx is cancelled.
func (m *Manager) RunPruner(ctx context.Context, idleTimeout time.Duration) {
	interval := PruneInterval(idleTimeout)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PruneStaleSessions(ctx, idleTimeout)
			}
		}
	}()
}
