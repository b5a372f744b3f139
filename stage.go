package rorchestrator

import (
	"context"
	"sync"
)

// runStage dispatches one stage's config-supplied modules with bounded
// fan-out, applies failurePolicy, and reduces the results through
// joinNode exactly once (spec.md §4.4 "Stage scheduling algorithm").
func runStage[Req any](
	ctx context.Context,
	eng *Engine,
	flowCtx *FlowContext,
	flowName string,
	planHash uint64,
	stageName string,
	joinNode PlanNode,
	failurePolicy FailurePolicy,
	fanoutMax int,
	moduleEntries []ParsedModule,
	request Req,
) anyOutcome {
	stageCtx, cancelStage := context.WithCancel(ctx)
	defer cancelStage()

	var mu sync.Mutex
	results := make([]StepResult, 0, len(moduleEntries))
	recordResult := func(r StepResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	gc := flowCtx.GateContext(eng.selectors)

	jobs := make([]ParsedModule, 0, len(moduleEntries))
	for _, entry := range moduleEntries {
		if entry.Gate == nil {
			jobs = append(jobs, entry)
			continue
		}
		decision, err := Evaluate(*entry.Gate, gc)
		if err != nil {
			recordResult(StepResult{ID: entry.ID, Type: entry.Use, Outcome: Outcome[any]{Kind: KindError, Code: "GATE_EVALUATION_FAILED"}})
			continue
		}
		if !decision.Allowed {
			recordResult(StepResult{ID: entry.ID, Type: entry.Use, Outcome: Outcome[any]{Kind: KindSkipped, Code: decision.ReasonCode}})
			flowCtx.recordResult(entry.ID, Outcome[any]{Kind: KindSkipped, Code: decision.ReasonCode}.erase())
			eng.obs.emitStepSkipped(ctx, flowName, stageName, entry.ID, entry.ID, entry.Use, decision.ReasonCode)
			flowCtx.Explain().append(ExecExplainRecord{
				NodeName: entry.ID, StageName: stageName, Kind: NodeStep,
				OutcomeKind: KindSkipped, OutcomeCode: decision.ReasonCode,
				ModuleID: entry.ID, ModuleType: entry.Use, GateDecision: &decision,
			})
			continue
		}
		jobs = append(jobs, entry)
	}

	concurrency := fanoutMax
	if concurrency <= 0 || concurrency > len(jobs) {
		concurrency = len(jobs)
	}
	if concurrency == 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for _, entry := range jobs {
		select {
		case <-stageCtx.Done():
			recordResult(StepResult{ID: entry.ID, Type: entry.Use, Outcome: Outcome[any]{Kind: cancelKind(stageCtx), Code: cancelCode(stageCtx)}})
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(entry ParsedModule) {
			defer wg.Done()
			defer func() { <-sem }()
			runStep(stageCtx, eng, flowCtx, flowName, planHash, stageName, failurePolicy, entry, request, recordResult, cancelStage)
		}(entry)
	}
	wg.Wait()

	resultsByID := make(map[string]StepResult, len(results))
	for _, r := range results {
		resultsByID[r.ID] = r
	}

	joinStart := eng.clock.Now()
	joinCtx, joinSpan := eng.obs.startNodeSpan(ctx, SpanJoin, joinNode, flowName, planHash)
	joinOut := joinNode.join.invoke(resultsByID, flowCtx)
	joinElapsed := eng.clock.Now().Sub(joinStart)
	_ = joinCtx
	eng.obs.finishNodeSpan(joinSpan, "", "", joinOut, joinElapsed, MetricJoinLatencyMs, MetricJoinOutcomes)
	eng.obs.emitJoinCompleted(ctx, flowName, stageName, joinNode.Name, joinOut, joinElapsed)
	flowCtx.recordResult(joinNode.Name, joinOut)
	flowCtx.Explain().append(ExecExplainRecord{
		NodeName: joinNode.Name, StageName: stageName, Kind: NodeJoin,
		OutcomeKind: joinOut.Kind, OutcomeCode: joinOut.Code, Duration: joinElapsed,
	})
	return joinOut
}

// runStep invokes one module, trapping panics into MODULE_EXCEPTION
// (spec.md §4.4 item 5), and fires the stage cancel signal under
// ShortCircuit when the outcome is non-ok (excluding Skipped).
func runStep[Req any](
	ctx context.Context,
	eng *Engine,
	flowCtx *FlowContext,
	flowName string,
	planHash uint64,
	stageName string,
	failurePolicy FailurePolicy,
	entry ParsedModule,
	request Req,
	recordResult func(StepResult),
	cancelStage context.CancelFunc,
) {
	stepNode := PlanNode{Name: entry.ID, StageName: stageName, Kind: NodeStep, ModuleType: entry.Use}
	start := eng.clock.Now()
	stepCtx, span := eng.obs.startNodeSpan(ctx, SpanStep, stepNode, flowName, planHash)

	reg, ok := eng.catalog.lookup(entry.Use)
	var erased anyOutcome
	switch {
	case !ok:
		erased = Error[any]("MODULE_EXCEPTION").erase()
	default:
		if duration, hasTimeout := moduleTimeout(entry.With); hasTimeout {
			erased = invokeWithTimeout(stepCtx, eng, reg, entry.ID, any(request), entry.With, flowCtx, duration)
		} else {
			erased = safeInvoke(stepCtx, reg, entry.ID, any(request), entry.With, flowCtx)
		}
	}

	elapsed := eng.clock.Now().Sub(start)
	eng.obs.finishNodeSpan(span, entry.ID, entry.Use, erased, elapsed, MetricStepLatencyMs, MetricStepOutcomes)
	eng.obs.emitStepCompleted(ctx, flowName, stageName, entry.ID, entry.ID, entry.Use, erased, elapsed)
	flowCtx.recordResult(entry.ID, erased)
	recordResult(StepResult{ID: entry.ID, Type: entry.Use, Outcome: erased.typed()})
	flowCtx.Explain().append(ExecExplainRecord{
		NodeName: entry.ID, StageName: stageName, Kind: NodeStep,
		OutcomeKind: erased.Kind, OutcomeCode: erased.Code,
		ModuleID: entry.ID, ModuleType: entry.Use, Duration: elapsed,
	})

	if failurePolicy == ShortCircuit && erased.Kind != KindOk && erased.Kind != KindSkipped {
		cancelStage()
		eng.obs.emitStageShortCircuit(ctx, flowName, stageName)
	}
}

// safeInvoke traps a module panic and converts it into a MODULE_EXCEPTION
// error outcome (spec.md §4.4 item 5): "fatal host conditions
// (out-of-memory / stack overflow / access violation) propagate
// unchanged" — runtime.Error panics other than these are still
// ordinary recoverable panics in Go and are trapped here like any other.
func safeInvoke(ctx context.Context, reg registration, id string, req any, with []byte, flow *FlowContext) (out anyOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Error[any]("MODULE_EXCEPTION").erase()
		}
	}()
	return reg.invoke(ctx, id, req, with, flow)
}

func cancelKind(ctx context.Context) OutcomeKind {
	if errDeadline(ctx) {
		return KindTimeout
	}
	return KindCanceled
}

func cancelCode(ctx context.Context) string {
	if errDeadline(ctx) {
		return "FLOW_DEADLINE"
	}
	return "FLOW_CANCELED"
}

func errDeadline(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
