package rorchestrator

import (
	"fmt"
	"sync"
)

// FlowHost resolves a flow name to its compiled plan template; Run wraps
// lookup plus Execute in one call, mirroring the teacher's
// routes-map registry idiom (switch.go) one level up: name → compiled
// artifact rather than name → processor.
//
// FlowHost is itself not generic (a host serves many flows with
// different Req/Resp pairs); plan templates are stored type-erased and
// recovered by the typed Lookup helper below.
type FlowHost struct {
	mu    sync.RWMutex
	plans map[string]any
}

// NewFlowHost constructs an empty host.
func NewFlowHost() *FlowHost {
	return &FlowHost{plans: map[string]any{}}
}

// RegisterPlan adds a compiled plan to the host under its own name.
// Registering the same flow name twice is an error.
func RegisterPlan[Req, Resp any](host *FlowHost, plan *PlanTemplate[Req, Resp]) error {
	host.mu.Lock()
	defer host.mu.Unlock()
	if _, exists := host.plans[plan.Name]; exists {
		return fmt.Errorf("rorchestrator: flow %q already registered", plan.Name)
	}
	host.plans[plan.Name] = plan
	return nil
}

// Lookup recovers a typed plan template by flow name. ok is false if no
// plan is registered under that name, or if it was registered with a
// different (Req, Resp) pair.
func Lookup[Req, Resp any](host *FlowHost, flowName string) (*PlanTemplate[Req, Resp], bool) {
	host.mu.RLock()
	defer host.mu.RUnlock()
	v, ok := host.plans[flowName]
	if !ok {
		return nil, false
	}
	plan, ok := v.(*PlanTemplate[Req, Resp])
	return plan, ok
}

// Run resolves flowName and executes it against request within flowCtx,
// combining FlowHost lookup and Execute into one call for the common
// case.
func Run[Req, Resp any](host *FlowHost, eng *Engine, flowName string, request Req, flowCtx *FlowContext) (Outcome[Resp], error) {
	plan, ok := Lookup[Req, Resp](host, flowName)
	if !ok {
		return Outcome[Resp]{}, fmt.Errorf("rorchestrator: flow %q not found or type mismatch", flowName)
	}
	return Execute(eng, plan, request, flowCtx), nil
}
