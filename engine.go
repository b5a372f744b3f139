package rorchestrator

import (
	"context"
	"errors"

	"github.com/zoobzio/clockz"
)

// Engine executes compiled plans against a dynamic config snapshot. It
// holds no reference to any particular FlowContext or invocation beyond
// the duration of one Execute call (spec.md §9: "the engine holds no
// reference to context beyond the invocation"). The catalog, plan
// templates, and Engine itself are read-only after construction and
// safely shared across concurrent invocations (spec.md §5).
type Engine struct {
	catalog   *ModuleCatalog
	obs       *Observability
	selectors SelectorRegistry
	clock     clockz.Clock
}

// NewEngine constructs an Engine backed by catalog for module resolution
// and obs for observability emission.
func NewEngine(catalog *ModuleCatalog, obs *Observability) *Engine {
	return &Engine{catalog: catalog, obs: obs, clock: clockz.RealClock}
}

// WithSelectors attaches the selector registry used to evaluate
// Selector gates, mirroring the teacher's fluent With* option setters
// (backoff.go WithClock, circuitbreaker.go WithClock).
func (e *Engine) WithSelectors(selectors SelectorRegistry) *Engine {
	e.selectors = selectors
	return e
}

// WithClock overrides the engine's clock, used by tests to control
// timing deterministically (clockz.NewFakeClock(), as in the teacher's
// own *_test.go files).
func (e *Engine) WithClock(clock clockz.Clock) *Engine {
	e.clock = clock
	return e
}

// Execute runs plan against request within flowCtx, honoring flowCtx's
// context deadline/cancellation, and returns the flow's terminal
// outcome (spec.md §4.4). Execute is a package-level generic function,
// not a method, because Go methods cannot carry additional type
// parameters beyond their receiver's.
func Execute[Req, Resp any](eng *Engine, plan *PlanTemplate[Req, Resp], request Req, flowCtx *FlowContext) Outcome[Resp] {
	ctx := flowCtx.Context()
	start := eng.clock.Now()

	snapshot, err := flowCtx.ConfigSnapshot()
	if err != nil {
		return unavailableOutcome[Resp](err)
	}

	parsedPatch, finding := ParsePatch(snapshot.PatchJSON, eng.catalog, eng.selectors)
	if finding != nil {
		return Error[Resp](finding.Code)
	}

	configVersion := snapshot.ConfigVersion
	ctx, flowSpan := eng.obs.startFlowSpan(ctx, plan.Name, plan.PlanHash, configVersion)
	eng.obs.emitFlowStarted(ctx, plan.Name, configVersion)

	parsedFlow := parsedPatch.Flows[plan.Name]

	var flowOut anyOutcome
	for i, stageName := range plan.StageOrder {
		if done, outcome := checkDeadline[Resp](ctx); done {
			flowOut = outcome.erase()
			break
		}

		_, joinNode, _ := plan.StageNodes(stageName)
		contract := plan.Stages[stageName]
		stageCfg := parsedFlow.Stages[stageName]

		failurePolicy := contract.FailurePolicy
		if stageCfg.HasFailurePolicy {
			failurePolicy = stageCfg.FailurePolicy
		}
		fanoutMax := contract.FanoutMax
		if stageCfg.HasFanoutMax {
			fanoutMax = stageCfg.FanoutMax
		}

		stageOut := runStage(ctx, eng, flowCtx, plan.Name, plan.PlanHash, stageName, joinNode, failurePolicy, fanoutMax, stageCfg.Modules, request)

		isLast := i == len(plan.StageOrder)-1
		if stageOut.Kind != KindOk || isLast {
			flowOut = stageOut
			break
		}
	}

	elapsed := eng.clock.Now().Sub(start)
	final := typedOutcome[Resp](flowOut)
	eng.obs.emitFlowCompleted(ctx, plan.Name, flowOut, elapsed)
	flowSpan.SetTag(TagOutcomeKind, flowOut.Kind.String())
	flowSpan.SetTag(TagOutcomeCode, flowOut.Code)
	flowSpan.Finish()
	return final
}

// checkDeadline reports whether ctx has already been canceled or its
// deadline exceeded, and if so the flow-level outcome to return
// immediately without dispatching the next stage (spec.md §4.4
// guarantee 1).
func checkDeadline[Resp any](ctx context.Context) (bool, Outcome[Resp]) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return true, Timeout[Resp]("FLOW_DEADLINE")
		}
		return true, Canceled[Resp]("FLOW_CANCELED")
	default:
		return false, Outcome[Resp]{}
	}
}

func unavailableOutcome[Resp any](err error) Outcome[Resp] {
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.Code != "" {
		return Error[Resp](execErr.Code)
	}
	return Error[Resp]("CFG_UNAVAILABLE")
}

