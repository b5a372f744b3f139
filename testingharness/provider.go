package testingharness

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rorchestrator/rorchestrator"
)

// StaticConfigProvider is a rorchestrator.ConfigProvider that always
// returns the same preconfigured snapshot (or error), and counts how many
// times Snapshot was called — used to assert the engine's "one config
// read per execution" guarantee (spec.md §4.5) even under concurrent
// fan-out.
type StaticConfigProvider struct {
	mu       sync.RWMutex
	snapshot *rorchestrator.ConfigSnapshot
	err      error

	callCount int64
}

// NewStaticConfigProvider constructs a provider that returns snapshot for
// every flow name.
func NewStaticConfigProvider(snapshot *rorchestrator.ConfigSnapshot) *StaticConfigProvider {
	return &StaticConfigProvider{snapshot: snapshot}
}

// WithError reconfigures the provider to return err instead of a snapshot.
func (p *StaticConfigProvider) WithError(err error) *StaticConfigProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// Snapshot implements rorchestrator.ConfigProvider.
func (p *StaticConfigProvider) Snapshot(_ context.Context, _ string) (*rorchestrator.ConfigSnapshot, error) {
	atomic.AddInt64(&p.callCount, 1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.snapshot, nil
}

// CallCount returns how many times Snapshot has been called.
func (p *StaticConfigProvider) CallCount() int { return int(atomic.LoadInt64(&p.callCount)) }
