package rorchestrator

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability bundles the four signal-emitting libraries the engine
// uses, mirroring the teacher's per-connector observability block
// (metrics *metricz.Registry, tracer *tracez.Tracer, hooks
// *hookz.Hooks[T], plus capitan.* calls — see fallback.go/handle.go)
// generalized from one connector to the whole engine. It is process-wide
// and concurrency-safe by construction (spec.md §5: "Metric meters and
// activity sources are process-wide and must be concurrency-safe by
// construction").
type Observability struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ExecEvent]
}

// NewObservability constructs and registers every metric the engine
// emits.
func NewObservability() *Observability {
	metrics := metricz.New()
	metrics.Counter(MetricFlowOutcomes)
	metrics.Counter(MetricStepOutcomes)
	metrics.Counter(MetricJoinOutcomes)
	metrics.Counter(MetricStepSkippedReason)
	metrics.Gauge(MetricFlowLatencyMs)
	metrics.Gauge(MetricStepLatencyMs)
	metrics.Gauge(MetricJoinLatencyMs)

	return &Observability{
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ExecEvent](),
	}
}

// Metrics exposes the underlying registry for external scraping.
func (o *Observability) Metrics() *metricz.Registry { return o.metrics }

// Tracer exposes the underlying tracer for external export.
func (o *Observability) Tracer() *tracez.Tracer { return o.tracer }

// OnStepCompleted registers an external observer for step completions.
func (o *Observability) OnStepCompleted(fn func(context.Context, ExecEvent) error) error {
	_, err := o.hooks.Hook(EventStepCompleted, fn)
	return err
}

// OnJoinCompleted registers an external observer for join completions.
func (o *Observability) OnJoinCompleted(fn func(context.Context, ExecEvent) error) error {
	_, err := o.hooks.Hook(EventJoinCompleted, fn)
	return err
}

// OnFlowCompleted registers an external observer for flow completions.
func (o *Observability) OnFlowCompleted(fn func(context.Context, ExecEvent) error) error {
	_, err := o.hooks.Hook(EventFlowCompleted, fn)
	return err
}

// emitFlowStarted logs the flow-started signal.
func (o *Observability) emitFlowStarted(ctx context.Context, flowName string, configVersion uint64) {
	capitan.Info(ctx, SignalFlowStarted,
		FieldFlowName.Field(flowName),
		FieldConfigVersion.Field(int(configVersion)),
	)
}

// startFlowSpan starts the one span covering an entire flow invocation.
func (o *Observability) startFlowSpan(ctx context.Context, flowName string, planHash uint64, configVersion uint64) (context.Context, *tracez.ActiveSpan) {
	ctx, span := o.tracer.StartSpan(ctx, SpanFlow)
	span.SetTag(TagFlowName, flowName)
	span.SetTag(TagPlanHash, planHashHex(planHash))
	span.SetTag(TagConfigVersion, uintString(configVersion))
	return ctx, span
}

// startNodeSpan starts a step or join span, tagged per spec.md §4.4.
func (o *Observability) startNodeSpan(ctx context.Context, key tracez.Key, node PlanNode, flowName string, planHash uint64) (context.Context, *tracez.ActiveSpan) {
	ctx, span := o.tracer.StartSpan(ctx, key)
	span.SetTag(TagFlowName, flowName)
	span.SetTag(TagPlanHash, planHashHex(planHash))
	span.SetTag(TagNodeName, node.Name)
	span.SetTag(TagNodeKind, node.Kind.String())
	span.SetTag(TagStageName, node.StageName)
	return ctx, span
}

// finishNodeSpan tags and closes a node span with its outcome, records
// the latency gauge, and bumps the outcome/skip counters.
func (o *Observability) finishNodeSpan(span *tracez.ActiveSpan, moduleID, moduleType string, out anyOutcome, elapsed time.Duration, latencyMetric, outcomeMetric metricz.Key) {
	span.SetTag(TagModuleID, moduleID)
	span.SetTag(TagModuleType, moduleType)
	span.SetTag(TagOutcomeKind, out.Kind.String())
	span.SetTag(TagOutcomeCode, out.Code)
	if out.Kind == KindSkipped {
		span.SetTag(TagSkipCode, SanitizeSkipCode(out.Code))
	}
	span.Finish()

	o.metrics.Gauge(latencyMetric).Set(float64(elapsed.Milliseconds()))
	o.metrics.Counter(outcomeMetric).Inc()
	if out.Kind == KindSkipped {
		o.metrics.Counter(MetricStepSkippedReason).Inc()
	}
}

// emitStepSkipped logs a step-skipped signal via capitan.
func (o *Observability) emitStepSkipped(ctx context.Context, flowName, stageName, nodeName, moduleID, moduleType, code string) {
	capitan.Info(ctx, SignalStepSkipped,
		FieldFlowName.Field(flowName),
		FieldStageName.Field(stageName),
		FieldNodeName.Field(nodeName),
		FieldModuleID.Field(moduleID),
		FieldModuleType.Field(moduleType),
		FieldSkipCode.Field(SanitizeSkipCode(code)),
	)
}

// emitStepCompleted logs a step-completed signal and fires the
// corresponding hookz event for external observers.
func (o *Observability) emitStepCompleted(ctx context.Context, flowName, stageName, nodeName, moduleID, moduleType string, out anyOutcome, elapsed time.Duration) {
	capitan.Info(ctx, SignalStepCompleted,
		FieldFlowName.Field(flowName),
		FieldStageName.Field(stageName),
		FieldNodeName.Field(nodeName),
		FieldModuleID.Field(moduleID),
		FieldModuleType.Field(moduleType),
		FieldOutcomeKind.Field(out.Kind.String()),
		FieldOutcomeCode.Field(out.Code),
		FieldDurationMs.Field(float64(elapsed.Milliseconds())),
	)
	if o.hooks.ListenerCount(EventStepCompleted) > 0 {
		_ = o.hooks.Emit(ctx, EventStepCompleted, ExecEvent{ //nolint:errcheck
			FlowName: flowName, NodeName: nodeName, NodeKind: "step", StageName: stageName,
			ModuleID: moduleID, Type: moduleType, Outcome: out.typed(), DurationMs: float64(elapsed.Milliseconds()),
		})
	}
}

// emitJoinCompleted logs a join-completed signal and fires the
// corresponding hookz event.
func (o *Observability) emitJoinCompleted(ctx context.Context, flowName, stageName, nodeName string, out anyOutcome, elapsed time.Duration) {
	capitan.Info(ctx, SignalJoinCompleted,
		FieldFlowName.Field(flowName),
		FieldStageName.Field(stageName),
		FieldNodeName.Field(nodeName),
		FieldOutcomeKind.Field(out.Kind.String()),
		FieldOutcomeCode.Field(out.Code),
		FieldDurationMs.Field(float64(elapsed.Milliseconds())),
	)
	if o.hooks.ListenerCount(EventJoinCompleted) > 0 {
		_ = o.hooks.Emit(ctx, EventJoinCompleted, ExecEvent{ //nolint:errcheck
			FlowName: flowName, NodeName: nodeName, NodeKind: "join", StageName: stageName,
			Outcome: out.typed(), DurationMs: float64(elapsed.Milliseconds()),
		})
	}
}

// emitStageShortCircuit logs that a stage canceled its remaining steps.
func (o *Observability) emitStageShortCircuit(ctx context.Context, flowName, stageName string) {
	capitan.Warn(ctx, SignalStageShortCircuit,
		FieldFlowName.Field(flowName),
		FieldStageName.Field(stageName),
	)
}

// emitFlowCompleted logs the terminal flow outcome and fires the
// corresponding hookz event.
func (o *Observability) emitFlowCompleted(ctx context.Context, flowName string, out anyOutcome, elapsed time.Duration) {
	level := capitan.Info
	if out.Kind != KindOk {
		level = capitan.Warn
	}
	level(ctx, SignalFlowCompleted,
		FieldFlowName.Field(flowName),
		FieldOutcomeKind.Field(out.Kind.String()),
		FieldOutcomeCode.Field(out.Code),
		FieldDurationMs.Field(float64(elapsed.Milliseconds())),
	)
	o.metrics.Gauge(MetricFlowLatencyMs).Set(float64(elapsed.Milliseconds()))
	o.metrics.Counter(MetricFlowOutcomes).Inc()
	if o.hooks.ListenerCount(EventFlowCompleted) > 0 {
		_ = o.hooks.Emit(ctx, EventFlowCompleted, ExecEvent{ //nolint:errcheck
			FlowName: flowName, NodeKind: "flow", Outcome: out.typed(), DurationMs: float64(elapsed.Milliseconds()),
		})
	}
}

func planHashHex(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}

func uintString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
