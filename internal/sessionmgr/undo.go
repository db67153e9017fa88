package sessionmgr

import (
	"sync"
	"time"

	"github.com/vela-systems/agentrt/pkg/models"
)

// DefaultUndoCapacity bounds the number of snapshots an UndoManager keeps
// per Thread.
const DefaultUndoCapacity = 10

// UndoEntry is one snapshot pushed onto an UndoManager's stack.
type UndoEntry struct {
	TurnSnapshot *models.Turn
	TakenAt      time.Time
}

// UndoManager is a small bounded stack of prior-turn snapshots for a
// single Thread, letting a "/undo"-style caller roll back the last Turn.
// Not exercised by any channel transport in this repo, but available to
// an embedding caller and exercised by tests.
type UndoManager struct {
	mu       sync.Mutex
	capacity int
	entries  []UndoEntry
}

// NewUndoManager returns an UndoManager with the default capacity.
func NewUndoManager() *UndoManager {
	return &UndoManager{capacity: DefaultUndoCapacity}
}

// NewUndoManagerWithCapacity returns an UndoManager bounded to capacity
// entries; capacity <= 0 falls back to DefaultUndoCapacity.
func NewUndoManagerWithCapacity(capacity int) *UndoManager {
	if capacity <= 0 {
		capacity = DefaultUndoCapacity
	}
	return &UndoManager{capacity: capacity}
}

// Push records a Turn snapshot, evicting the oldest entry if the stack is
// at capacity.
func (u *UndoManager) Push(turn *models.Turn) {
	u.mu.Lock()
	defer u.mu.Unlock()
	entry := UndoEntry{TurnSnapshot: turn, TakenAt: time.Now()}
	u.entries = append(u.entries, entry)
	if len(u.entries) > u.capacity {
		u.entries = u.entries[len(u.entries)-u.capacity:]
	}
}

// Pop removes and returns the most recent snapshot, or false if empty.
func (u *UndoManager) Pop() (UndoEntry, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.entries) == 0 {
		return UndoEntry{}, false
	}
	last := u.entries[len(u.entries)-1]
	u.entries = u.entries[:len(u.entries)-1]
	return last, true
}

// Peek returns the most recent snapshot without removing it.
func (u *UndoManager) Peek() (UndoEntry, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.entries) == 0 {
		return UndoEntry{}, false
	}
	return u.entries[len(u.entries)-1], true
}

// Len reports the number of snapshots currently held.
func (u *UndoManager) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries)
}
