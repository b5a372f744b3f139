// Package testingharness provides test utilities for rorchestrator-based
// applications: a configurable mock Module implementation, a static
// ConfigProvider, and assertion helpers, mirroring the teacher's own
// testing package (MockProcessor, AssertProcessed) adapted from a single
// Chainable[T] to the engine's ModuleContext[Req]/Outcome[Out] shape.
//
// Example usage:
//
//	mock := testingharness.NewMockModule[Request, Response](t, "scoring.mock")
//	mock.WithOutcome(rorchestrator.Ok(Response{Score: 1}))
//	catalog := rorchestrator.NewModuleCatalog()
//	rorchestrator.Register(catalog, "scoring.mock", mock)
//	...
//	testingharness.AssertInvoked(t, mock, 1)
package testingharness

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rorchestrator/rorchestrator"
)

// MockCall records one invocation of a MockModule.
type MockCall[Req any] struct {
	ModuleID string
	Request  Req
	With     json.RawMessage
	At       time.Time
}

// MockModule is a configurable rorchestrator.Module[Req, Out] that tracks
// every call it receives and returns a preconfigured outcome, optionally
// after a delay or a panic, mirroring the teacher's MockProcessor.
type MockModule[Req, Out any] struct {
	t    *testing.T
	name string

	mu         sync.RWMutex
	outcome    rorchestrator.Outcome[Out]
	delay      time.Duration
	panicMsg   string
	maxHistory int
	history    []MockCall[Req]

	callCount int64
}

// NewMockModule constructs a mock module identified by name (used only in
// assertion failure messages, not the catalog module-type string).
func NewMockModule[Req, Out any](t *testing.T, name string) *MockModule[Req, Out] {
	return &MockModule[Req, Out]{
		t:          t,
		name:       name,
		outcome:    rorchestrator.Ok[Out](*new(Out)),
		maxHistory: 100,
	}
}

// WithOutcome configures the outcome returned by every subsequent call.
func (m *MockModule[Req, Out]) WithOutcome(o rorchestrator.Outcome[Out]) *MockModule[Req, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = o
	return m
}

// WithDelay configures an artificial delay before returning, honoring
// context cancellation, useful for exercising deadline/cancel paths.
func (m *MockModule[Req, Out]) WithDelay(d time.Duration) *MockModule[Req, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with msg on every call, used to
// exercise the engine's MODULE_EXCEPTION trapping.
func (m *MockModule[Req, Out]) WithPanic(msg string) *MockModule[Req, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize bounds how many calls are retained; 0 disables history.
func (m *MockModule[Req, Out]) WithHistorySize(size int) *MockModule[Req, Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.history = nil
	} else if len(m.history) > size {
		m.history = m.history[len(m.history)-size:]
	}
	return m
}

// Execute implements rorchestrator.Module[Req, Out].
func (m *MockModule[Req, Out]) Execute(ctx context.Context, mc rorchestrator.ModuleContext[Req]) rorchestrator.Outcome[Out] {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	if m.maxHistory > 0 {
		m.history = append(m.history, MockCall[Req]{ModuleID: mc.ID, Request: mc.Request, With: mc.With, At: time.Now()})
		if len(m.history) > m.maxHistory {
			m.history = m.history[1:]
		}
	}
	delay := m.delay
	panicMsg := m.panicMsg
	outcome := m.outcome
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return rorchestrator.Canceled[Out]("FLOW_CANCELED")
		}
	}

	return outcome
}

// CallCount returns how many times Execute has been called.
func (m *MockModule[Req, Out]) CallCount() int { return int(atomic.LoadInt64(&m.callCount)) }

// History returns a copy of recorded calls.
func (m *MockModule[Req, Out]) History() []MockCall[Req] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockCall[Req], len(m.history))
	copy(out, m.history)
	return out
}

// Reset clears call tracking.
func (m *MockModule[Req, Out]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.history = nil
}

// AssertInvoked verifies a mock module was called exactly n times.
func AssertInvoked[Req, Out any](t *testing.T, mock *MockModule[Req, Out], n int) {
	t.Helper()
	if got := mock.CallCount(); got != n {
		t.Errorf("expected mock module %s to be invoked %d times, got %d", mock.name, n, got)
	}
}

// AssertNotInvoked verifies a mock module was never called.
func AssertNotInvoked[Req, Out any](t *testing.T, mock *MockModule[Req, Out]) {
	t.Helper()
	AssertInvoked(t, mock, 0)
}
