package rorchestrator

import (
	"context"
	"sync"
)

// ConfigProvider supplies the dynamic config snapshot a flow execution
// reads gate/module "with" data from. Implementations must be safe for
// concurrent use. Snapshot is called at most once per FlowContext, on
// the first FlowContext.ConfigSnapshot call; Execute makes that call at
// the start of every execution, before any stage runs.
type ConfigProvider interface {
	Snapshot(ctx context.Context, flowName string) (*ConfigSnapshot, error)
}

// FlowContext is the ambient, read-only execution context threaded
// through every module, join, and gate evaluation within one flow
// invocation. Its ambient fields are frozen at construction; the lazy
// config snapshot mutates exactly once, guarded by sync.Once, mirroring
// the teacher's closeOnce idiom (sequence.go) adapted from
// idempotent-close to fetch-then-freeze. The per-node results map is the
// other mutable state, guarded by mu.
type FlowContext struct {
	ctx      context.Context
	flowName string
	userID   string
	attrs    map[string]string
	variants map[string]string
	provider ConfigProvider

	snapshotOnce sync.Once
	snapshot     *ConfigSnapshot
	snapshotErr  error

	mu      sync.RWMutex
	results map[string]anyOutcome

	explain *ExecExplain
}

// NewFlowContext constructs a FlowContext for one flow execution.
func NewFlowContext(ctx context.Context, flowName string, provider ConfigProvider) *FlowContext {
	return &FlowContext{
		ctx:      ctx,
		flowName: flowName,
		attrs:    map[string]string{},
		variants: map[string]string{},
		provider: provider,
		results:  map[string]anyOutcome{},
	}
}

// Context returns the execution's context.Context.
func (fc *FlowContext) Context() context.Context { return fc.ctx }

// FlowName returns the name of the flow being executed.
func (fc *FlowContext) FlowName() string { return fc.flowName }

// clone builds a fresh FlowContext carrying fc's ambient fields, with
// its own mutex and its own empty results map — never copy fc by value,
// since FlowContext embeds a sync.Once and a sync.RWMutex (a go vet
// copylocks violation) and a value-copy would leave the derived context
// pointing at the same results map as fc while guarding it with a
// different, independently-zeroed mutex, racing any concurrent access
// through either context.
func (fc *FlowContext) clone() *FlowContext {
	return &FlowContext{
		ctx:      fc.ctx,
		flowName: fc.flowName,
		userID:   fc.userID,
		attrs:    fc.attrs,
		variants: fc.variants,
		provider: fc.provider,
		results:  map[string]anyOutcome{},
		explain:  fc.explain,
	}
}

// WithUserID returns a derived FlowContext carrying userID, used for
// Rollout gate bucketing.
func (fc *FlowContext) WithUserID(userID string) *FlowContext {
	cp := fc.clone()
	cp.userID = userID
	return cp
}

// UserID returns the rollout-bucketing identity, if any.
func (fc *FlowContext) UserID() string { return fc.userID }

// WithRequestAttrs returns a derived FlowContext carrying the given
// request attribute map (region/device/appVersion — spec.md §3).
func (fc *FlowContext) WithRequestAttrs(attrs map[string]string) *FlowContext {
	cp := fc.clone()
	cp.attrs = attrs
	return cp
}

// RequestAttrs returns the request attribute map.
func (fc *FlowContext) RequestAttrs() map[string]string { return fc.attrs }

// WithVariants returns a derived FlowContext carrying the caller's
// experiment-layer variant assignments.
func (fc *FlowContext) WithVariants(variants map[string]string) *FlowContext {
	cp := fc.clone()
	cp.variants = variants
	return cp
}

// Variants returns the caller's experiment-layer variant assignments.
func (fc *FlowContext) Variants() map[string]string { return fc.variants }

// GateContext assembles a GateContext for evaluating gates against this
// flow's ambient data, using the given selector registry.
func (fc *FlowContext) GateContext(selectors SelectorRegistry) GateContext {
	return GateContext{
		Variants:     fc.variants,
		UserID:       fc.userID,
		RequestAttrs: fc.attrs,
		Selectors:    selectors,
		Flow:         fc,
	}
}

// WithExplain enables ExecExplain recording for this execution and
// returns the updated context. The explain sink is populated by the
// engine during Execute and retrieved afterward via Explain.
func (fc *FlowContext) WithExplain() *FlowContext {
	cp := fc.clone()
	cp.explain = &ExecExplain{}
	return cp
}

// Explain returns the recorded execution trace, or nil if
// WithExplain was never called.
func (fc *FlowContext) Explain() *ExecExplain { return fc.explain }

// ConfigSnapshot returns the lazily-fetched, frozen config snapshot for
// this execution. The first caller triggers the fetch; all callers
// (including concurrent fan-out steps) observe the same snapshot or the
// same error, consistent with spec.md §4.5 "one config read per
// execution, regardless of fan-out width."
func (fc *FlowContext) ConfigSnapshot() (*ConfigSnapshot, error) {
	fc.snapshotOnce.Do(func() {
		if fc.provider == nil {
			fc.snapshotErr = &ExecError{Code: "CFG_UNAVAILABLE", Path: []string{fc.flowName}}
			return
		}
		fc.snapshot, fc.snapshotErr = fc.provider.Snapshot(fc.ctx, fc.flowName)
	})
	return fc.snapshot, fc.snapshotErr
}

// recordResult stores a completed node's erased outcome for later
// stages to consult via StageOutcome. Safe for concurrent fan-out.
func (fc *FlowContext) recordResult(nodeName string, o anyOutcome) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.results[nodeName] = o
}

// StageOutcome returns the recorded outcome of a previously executed
// node by name (module, stage join, or flow join), and whether it was
// found. Modules always operate on the flow's frozen original request
// (spec.md §4.5); this accessor is the Go-native mechanism by which a
// later stage can still consult an earlier stage's result without the
// request value itself being threaded stage-to-stage.
func (fc *FlowContext) StageOutcome(nodeName string) (Outcome[any], bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	o, ok := fc.results[nodeName]
	if !ok {
		return Outcome[any]{}, false
	}
	return o.typed(), true
}
