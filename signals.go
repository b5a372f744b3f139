package rorchestrator

import (
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Fixed observability names (spec.md §6). These are load-bearing for
// external dashboards and must not be renamed.
const (
	SpanFlow   tracez.Key = "rorchestrator.flow"
	SpanStep   tracez.Key = "rorchestrator.node.step"
	SpanJoin   tracez.Key = "rorchestrator.node.join"
	SpanFanout tracez.Key = "rorchestrator.stage.fanout.module"
)

// Metric keys. metricz has no histogram primitive, so latency
// measurements use Gauge (milliseconds) exactly as the teacher's own
// connectors do for their *DurationMs fields (fallback.go, switch.go,
// timeout.go) — the teacher never reaches for a histogram either.
const (
	MetricFlowLatencyMs     = metricz.Key("rorchestrator.flow.latency.ms")
	MetricStepLatencyMs     = metricz.Key("rorchestrator.step.latency.ms")
	MetricJoinLatencyMs     = metricz.Key("rorchestrator.join.latency.ms")
	MetricFlowOutcomes      = metricz.Key("rorchestrator.flow.outcomes")
	MetricStepOutcomes      = metricz.Key("rorchestrator.step.outcomes")
	MetricJoinOutcomes      = metricz.Key("rorchestrator.join.outcomes")
	MetricStepSkippedReason = metricz.Key("rorchestrator.step.skipped.reasons")
)

// Span tag keys.
var (
	TagFlowName      = tracez.Tag("flow.name")
	TagPlanHash      = tracez.Tag("plan.hash")
	TagConfigVersion = tracez.Tag("config.version")
	TagNodeName      = tracez.Tag("node.name")
	TagNodeKind      = tracez.Tag("node.kind")
	TagStageName     = tracez.Tag("stage.name")
	TagModuleID      = tracez.Tag("module.id")
	TagModuleType    = tracez.Tag("module.type")
	TagOutcomeKind   = tracez.Tag("outcome.kind")
	TagOutcomeCode   = tracez.Tag("outcome.code")
	TagSkipCode      = tracez.Tag("skip.code")
)

// Structured-log signals, emitted via capitan at the engine's key
// decision points, following the teacher's Signal naming convention
// "<area>.<event>" (original signals.go).
const (
	SignalFlowStarted       capitan.Signal = "rorchestrator.flow.started"
	SignalFlowCompleted     capitan.Signal = "rorchestrator.flow.completed"
	SignalStepSkipped       capitan.Signal = "rorchestrator.step.skipped"
	SignalStepCompleted     capitan.Signal = "rorchestrator.step.completed"
	SignalJoinCompleted     capitan.Signal = "rorchestrator.join.completed"
	SignalStageShortCircuit capitan.Signal = "rorchestrator.stage.short_circuited"
)

// capitan field keys, mirroring the teacher's shared Field* convention
// so every signal emission uses the same primitive-typed extractors.
var (
	FieldFlowName      = capitan.NewStringKey("flow_name")
	FieldPlanHash      = capitan.NewStringKey("plan_hash")
	FieldConfigVersion = capitan.NewIntKey("config_version")
	FieldNodeName      = capitan.NewStringKey("node_name")
	FieldStageName     = capitan.NewStringKey("stage_name")
	FieldModuleID      = capitan.NewStringKey("module_id")
	FieldModuleType    = capitan.NewStringKey("module_type")
	FieldOutcomeKind   = capitan.NewStringKey("outcome_kind")
	FieldOutcomeCode   = capitan.NewStringKey("outcome_code")
	FieldSkipCode      = capitan.NewStringKey("skip_code")
	FieldDurationMs    = capitan.NewFloat64Key("duration_ms")
)

// ExecEvent is the payload delivered to external hookz observers for
// every node completion, giving callers a push-based alternative to
// polling ExecExplain.
type ExecEvent struct {
	FlowName   string
	NodeName   string
	NodeKind   string
	StageName  string
	ModuleID   string
	Type       string
	Outcome    Outcome[any]
	DurationMs float64
}

// Hook event keys.
const (
	EventStepCompleted hookz.Key = "rorchestrator.step.completed"
	EventJoinCompleted hookz.Key = "rorchestrator.join.completed"
	EventFlowCompleted hookz.Key = "rorchestrator.flow.completed"
)
