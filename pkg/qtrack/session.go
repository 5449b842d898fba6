package qtrack

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quatton/qwatch/pkg/qrun"
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionPolling
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionPolling:
		return "polling"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// Session ties one run id to its polling loop. Sessions are created by
// Controller.Submit and closed by a terminal status, a fetch error, a newer
// submission or Controller.Close.
type Session struct {
	RunID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	polls  atomic.Int64

	mu      sync.Mutex
	state   SessionState
	last    *qrun.Run
	outcome error
}

func newSession(runID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		RunID:  runID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the last payload accepted for this session.
func (s *Session) Last() *qrun.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Clone()
}

// Polls returns how many status fetches the session has issued.
func (s *Session) Polls() int {
	return int(s.polls.Load())
}

// Done is closed once the polling loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the polling loop exits or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err describes how the session ended: nil while open or after COMPLETED,
// otherwise a qerr-coded error (service_failed, data_missing,
// poll_transport or superseded).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionClosed {
		s.state = st
	}
}

func (s *Session) setLast(run *qrun.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = run
}

// close cancels the timer context and records the outcome; only the first
// call has an effect.
func (s *Session) close(outcome error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return false
	}
	s.state = SessionClosed
	s.outcome = outcome
	s.cancel()
	return true
}
