package service

import (
	"fmt"
	"sync"

	"github.com/parley-ai/parley/internal/domain"
	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/thread"
	"github.com/parley-ai/parley/internal/domain/toolcall"
)

// SuspendedTurn checkpoints a turn paused at the approval gate: everything
// the batch computed before the pause, plus the requests not yet attempted.
type SuspendedTurn struct {
	Suspension *approval.Suspension
	CallID     string // model-assigned id of the suspended tool call
	Mode       toolcall.Mode
	Results    []toolcall.Result
	Remaining  []toolcall.Request
}

// Threads is the in-memory thread store. Checkpoints live only here: a
// process restart loses suspended turns, by contract.
type Threads struct {
	mu     sync.Mutex
	states map[string]*threadState
}

type threadState struct {
	thread    *thread.Thread
	inFlight  bool
	suspended *SuspendedTurn
}

// NewThreads creates an empty store.
func NewThreads() *Threads {
	return &Threads{states: make(map[string]*threadState)}
}

// Create starts a new empty thread for the user.
func (s *Threads) Create(userID string) *thread.Thread {
	th := thread.New(userID)
	s.mu.Lock()
	s.states[th.ID] = &threadState{thread: th}
	s.mu.Unlock()
	return th
}

// Get returns the live thread. Callers must not mutate it outside a turn.
func (s *Threads) Get(id string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	return st.thread, nil
}

// BeginTurn claims exclusive turn ownership of the thread. Exactly one turn
// runs per thread at a time; a second concurrent caller gets
// domain.ErrTurnInFlight. The returned release func must be called when the
// turn ends, however it ends.
func (s *Threads) BeginTurn(id string) (*thread.Thread, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return nil, nil, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	if st.inFlight {
		return nil, nil, fmt.Errorf("thread %s: %w", id, domain.ErrTurnInFlight)
	}
	st.inFlight = true

	release := func() {
		s.mu.Lock()
		st.inFlight = false
		s.mu.Unlock()
	}
	return st.thread, release, nil
}

// Suspend checkpoints a paused turn on its thread.
func (s *Threads) Suspend(id string, turn *SuspendedTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.suspended = turn
	}
}

// TakeSuspended consumes the thread's checkpoint if it matches interruptID.
func (s *Threads) TakeSuspended(id, interruptID string) (*SuspendedTurn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok || st.suspended == nil || st.suspended.Suspension.ID != interruptID {
		return nil, false
	}
	turn := st.suspended
	st.suspended = nil
	return turn, true
}

// Suspended returns the thread's pending suspension, if any.
func (s *Threads) Suspended(id string) (*approval.Suspension, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok || st.suspended == nil {
		return nil, false
	}
	return st.suspended.Suspension, true
}
