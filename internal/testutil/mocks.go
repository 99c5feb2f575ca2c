package testutil

import (
	"context"
	"sync"
	"time"
)

// SignalCall records one signal delivery.
type SignalCall struct {
	Signal    string
	PID       int
	Timestamp time.Time
}

// RecordingSignaler records Terminate/Kill calls and optionally forwards
// them to a real signaler.
type RecordingSignaler struct {
	Next interface {
		Terminate(pid int) error
		Kill(pid int) error
	}
	TerminateErr error
	KillErr      error

	mu    sync.Mutex
	calls []SignalCall
}

// Terminate records a graceful signal.
func (s *RecordingSignaler) Terminate(pid int) error {
	s.record("SIGTERM", pid)
	if s.TerminateErr != nil {
		return s.TerminateErr
	}
	if s.Next != nil {
		return s.Next.Terminate(pid)
	}
	return nil
}

// Kill records a forceful signal.
func (s *RecordingSignaler) Kill(pid int) error {
	s.record("SIGKILL", pid)
	if s.KillErr != nil {
		return s.KillErr
	}
	if s.Next != nil {
		return s.Next.Kill(pid)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (s *RecordingSignaler) Calls() []SignalCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SignalCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *RecordingSignaler) record(sig string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, SignalCall{Signal: sig, PID: pid, Timestamp: time.Now()})
}

// MockEngine is a container engine probe with a scripted answer.
type MockEngine struct {
	mu       sync.Mutex
	err      error
	endpoint string
	calls    int
}

// NewMockEngine creates a probe answering with err (nil means reachable).
func NewMockEngine(endpoint string, err error) *MockEngine {
	return &MockEngine{endpoint: endpoint, err: err}
}

// EngineReachable returns the scripted error.
func (m *MockEngine) EngineReachable(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

// Endpoint returns the configured endpoint.
func (m *MockEngine) Endpoint() string {
	return m.endpoint
}

// SetError changes the scripted answer.
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times the engine was probed.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
