package session

import (
	"sync"
	"time"
)

// LockOwnership says who, if anyone, holds the artifact's edit lock.
type LockOwnership int

const (
	LockNone LockOwnership = iota
	LockCurrentUser
	LockOtherUser
)

func (l LockOwnership) String() string {
	switch l {
	case LockCurrentUser:
		return "current_user"
	case LockOtherUser:
		return "other_user"
	default:
		return "none"
	}
}

// StateSnapshot is an immutable copy of an artifact's lifecycle state.
type StateSnapshot struct {
	LockedBy     LockOwnership
	LockOwner    string
	LockDateTime time.Time
	Dirty        bool
	Deleted      bool
	Misplaced    bool
	ReadOnly     bool
}

// StatePatch is a partial state update. Nil fields are left untouched.
type StatePatch struct {
	LockedBy     *LockOwnership
	LockOwner    *string
	LockDateTime *time.Time
	Dirty        *bool
	Deleted      *bool
	Misplaced    *bool
	ReadOnly     *bool
}

// State tracks one artifact's lifecycle flags and notifies its owner on
// every change. After Dispose the state stops notifying but stays readable.
type State struct {
	mu       sync.Mutex
	snap     StateSnapshot
	onChange func(StateSnapshot)
	disposed bool
}

func NewState(onChange func(StateSnapshot)) *State {
	return &State{onChange: onChange}
}

func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// SetState merges patch into the state. notify=false applies silently, for
// internal bookkeeping that should not wake subscribers.
func (s *State) SetState(patch StatePatch, notify bool) {
	s.mu.Lock()
	if patch.LockedBy != nil {
		s.snap.LockedBy = *patch.LockedBy
	}
	if patch.LockOwner != nil {
		s.snap.LockOwner = *patch.LockOwner
	}
	if patch.LockDateTime != nil {
		s.snap.LockDateTime = *patch.LockDateTime
	}
	if patch.Dirty != nil {
		s.snap.Dirty = *patch.Dirty
	}
	if patch.Deleted != nil {
		s.snap.Deleted = *patch.Deleted
	}
	if patch.Misplaced != nil {
		s.snap.Misplaced = *patch.Misplaced
	}
	if patch.ReadOnly != nil {
		s.snap.ReadOnly = *patch.ReadOnly
	}
	snap := s.snap
	fire := notify && !s.disposed && s.onChange != nil
	onChange := s.onChange
	s.mu.Unlock()
	if fire {
		onChange(snap)
	}
}

// Dispose severs the notification callback.
func (s *State) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.onChange = nil
}

// CanBeSaved reports whether local edits can be sent to the server: there
// must be edits, the current user must hold the lock, and the artifact must
// still exist.
func (s *State) CanBeSaved() bool {
	snap := s.Snapshot()
	return snap.Dirty && snap.LockedBy == LockCurrentUser && !snap.Deleted && !snap.ReadOnly
}

// CanBePublished reports whether publish may be attempted. A never-published
// artifact (version < 1) is publishable without a lock.
func (s *State) CanBePublished(version int64) bool {
	snap := s.Snapshot()
	if snap.Deleted {
		return false
	}
	return snap.LockedBy == LockCurrentUser || version < 1
}

// CanBeLoaded guards reloads: an artifact with unsent edits held under the
// current user's lock must not be clobbered by a fetch.
func (s *State) CanBeLoaded() bool {
	snap := s.Snapshot()
	return !(snap.Dirty && snap.LockedBy == LockCurrentUser)
}

func ptrLock(l LockOwnership) *LockOwnership { return &l }
func ptrBool(b bool) *bool                   { return &b }
func ptrString(v string) *string             { return &v }
func ptrTime(t time.Time) *time.Time         { return &t }
