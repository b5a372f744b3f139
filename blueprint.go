package rorchestrator

import (
	"fmt"
	"sort"
)

// NodeKind discriminates a BlueprintNode: either a fan-out Step or a
// stage-terminal Join.
type NodeKind int8

const (
	NodeStep NodeKind = iota
	NodeJoin
)

func (k NodeKind) String() string {
	if k == NodeJoin {
		return "join"
	}
	return "step"
}

// FailurePolicy governs how a stage reacts to a non-ok (excluding
// Skipped) step outcome (spec.md §4.4 item 6).
type FailurePolicy int8

const (
	// ShortCircuit cancels remaining in-flight steps in the stage as
	// soon as one reports non-ok, then calls the join immediately.
	ShortCircuit FailurePolicy = iota
	// Continue waits for every step to terminate before calling the join.
	Continue
)

func (p FailurePolicy) String() string {
	if p == Continue {
		return "continue"
	}
	return "short_circuit"
}

// StageContract is a stage's declarative policy: how it reacts to
// failures, and the default concurrency bound for its step fan-out
// absent a config override (spec.md §3).
type StageContract struct {
	FailurePolicy FailurePolicy
	FanoutMax     int // 0 means unbounded up to the module count
}

// BlueprintNode is one node of a flow's static topology: a Step
// declares a module type that Compile checks against the catalog (the
// modules a stage actually dispatches, with their id/args/gate, come from
// the config snapshot at run time and are not limited to the declared
// types); a Join closes a stage with a pure reducer over its step outcomes.
type BlueprintNode struct {
	Index      int
	Name       Name
	StageName  string
	Kind       NodeKind
	ModuleType string // Step only
	join       anyJoin
	outType    string // Join only: the join's declared output type token
}

// StepResult is what a Join observes for one completed (or skipped)
// step: its config-assigned id, the module type it invoked, and its
// outcome, type-erased since a stage's steps may have heterogeneous
// output types (spec.md §4.4: "the join sees outcomes keyed by module
// id so reducers are order-independent").
type StepResult struct {
	ID     string
	Type   string
	Outcome Outcome[any]
}

// anyJoin is the type-erased form of a stage's Join reducer, used so a
// FlowBlueprint's flat node list can hold joins of different TOut
// without the blueprint itself being generic over every stage's
// intermediate type.
type anyJoin interface {
	outType() string
	invoke(results map[string]StepResult, flowCtx *FlowContext) anyOutcome
}

type typedJoin[TOut any] struct {
	fn func(results map[string]StepResult, flowCtx *FlowContext) Outcome[TOut]
}

func (j typedJoin[TOut]) outType() string { return typeToken[TOut]() }

func (j typedJoin[TOut]) invoke(results map[string]StepResult, flowCtx *FlowContext) anyOutcome {
	return j.fn(results, flowCtx).erase()
}

// Join wraps a typed reducer function as a stage's terminal node. fn
// receives every step's StepResult (keyed by id) plus the ambient
// FlowContext and returns the stage's outcome.
func Join[TOut any](fn func(results map[string]StepResult, flowCtx *FlowContext) Outcome[TOut]) anyJoin {
	return typedJoin[TOut]{fn: fn}
}

// FlowBlueprint is the fluent, immutable-once-built description of one
// flow's static stage topology, parametrized by its single shared
// request type Req and its final response type Resp. Grounded on the
// teacher's NewSequence/Register/Push fluent-builder idiom
// (sequence.go), generalized from "ordered processors" to "ordered
// stages of step declarations plus a join."
type FlowBlueprint[Req, Resp any] struct {
	name        string
	catalog     *ModuleCatalog
	nodes       []BlueprintNode
	nameToIndex map[Name]int
	stageOrder  []string
	stages      map[string]StageContract
	built       bool
	buildErr    error
}

// NewFlowBlueprint starts a new blueprint named name, type-checking its
// modules against catalog at Compile time.
func NewFlowBlueprint[Req, Resp any](name string, catalog *ModuleCatalog) *FlowBlueprint[Req, Resp] {
	return &FlowBlueprint[Req, Resp]{
		name:        name,
		catalog:     catalog,
		nameToIndex: map[Name]int{},
		stages:      map[string]StageContract{},
	}
}

// Stage appends a new stage named stageName with contract, declaring
// one step node per entry of steps and closing the stage with join.
// steps maps each declared step's blueprint node name to its module
// type; Compile checks those types against the catalog. The engine does
// not restrict the stage's config-supplied modules to these types.
func (b *FlowBlueprint[Req, Resp]) Stage(stageName string, contract StageContract, steps map[Name]string, join anyJoin) *FlowBlueprint[Req, Resp] {
	if b.buildErr != nil {
		return b
	}
	if stageName == "" {
		b.buildErr = fmt.Errorf("rorchestrator: blueprint %q: stage name must not be empty", b.name)
		return b
	}
	if len(steps) == 0 {
		b.buildErr = fmt.Errorf("rorchestrator: blueprint %q: stage %q must declare at least one step", b.name, stageName)
		return b
	}
	if join == nil {
		b.buildErr = fmt.Errorf("rorchestrator: blueprint %q: stage %q requires a join", b.name, stageName)
		return b
	}
	stepNames := make([]Name, 0, len(steps))
	for name := range steps {
		stepNames = append(stepNames, name)
	}
	sort.Slice(stepNames, func(i, j int) bool { return stepNames[i] < stepNames[j] })
	for _, name := range stepNames {
		if err := b.addNode(BlueprintNode{Name: name, StageName: stageName, Kind: NodeStep, ModuleType: steps[name]}); err != nil {
			b.buildErr = err
			return b
		}
	}
	joinName := Name(stageName + ".join")
	if err := b.addNode(BlueprintNode{Name: joinName, StageName: stageName, Kind: NodeJoin, join: join, outType: join.outType()}); err != nil {
		b.buildErr = err
		return b
	}
	b.stageOrder = append(b.stageOrder, stageName)
	b.stages[stageName] = contract
	return b
}

func (b *FlowBlueprint[Req, Resp]) addNode(n BlueprintNode) error {
	if n.Name == "" {
		return fmt.Errorf("rorchestrator: blueprint %q: node name must not be empty", b.name)
	}
	if _, dup := b.nameToIndex[n.Name]; dup {
		return fmt.Errorf("rorchestrator: blueprint %q: duplicate node name %q", b.name, n.Name)
	}
	n.Index = len(b.nodes)
	b.nameToIndex[n.Name] = n.Index
	b.nodes = append(b.nodes, n)
	return nil
}

// lastNode returns the final node of the blueprint, if any.
func (b *FlowBlueprint[Req, Resp]) lastNode() (BlueprintNode, bool) {
	if len(b.nodes) == 0 {
		return BlueprintNode{}, false
	}
	return b.nodes[len(b.nodes)-1], true
}
