package rorchestrator

// PlanNode is a compiled, read-only BlueprintNode: Step nodes additionally
// carry the module's registered (argsType, outType) resolved from the
// catalog at compile time, so the engine never needs catalog access to
// answer type questions once a plan exists.
type PlanNode struct {
	Index      int
	Name       Name
	StageName  string
	Kind       NodeKind
	ModuleType string
	ArgsType   string // Step only
	OutType    string // Step: module's outType; Join: reducer's outType
	join       anyJoin
}

// PlanTemplate is the compiled, immutable, hashed form of a
// FlowBlueprint (spec.md §3). It is safe for concurrent reuse across
// flow invocations: nothing in it is ever mutated after Compile returns.
// Grounded on the teacher's read-only Schema()/Node introspection
// (schema.go) — "compiled, immutable, walkable description" — adapted
// from a pipeline-inspection artifact into the artifact the engine
// actually executes against.
type PlanTemplate[Req, Resp any] struct {
	Name        string
	PlanHash    uint64
	Nodes       []PlanNode
	NameToIndex map[Name]int
	StageOrder  []string
	Stages      map[string]StageContract
}

// StageNodes returns the Step nodes and the terminal Join node for
// stageName, in declaration order.
func (p *PlanTemplate[Req, Resp]) StageNodes(stageName string) (steps []PlanNode, join PlanNode, ok bool) {
	for _, n := range p.Nodes {
		if n.StageName != stageName {
			continue
		}
		if n.Kind == NodeJoin {
			join = n
			ok = true
			continue
		}
		steps = append(steps, n)
	}
	return steps, join, ok
}

// PlanExplain is a human/tool-facing description of every node in a
// compiled plan, produced on explicit request (spec.md §4.3).
type PlanExplain struct {
	FlowName string
	PlanHash uint64
	Nodes    []PlanExplainNode
}

// PlanExplainNode describes one compiled node.
type PlanExplainNode struct {
	Index      int
	Name       Name
	StageName  string
	Kind       string
	ModuleType string
	ArgsType   string
	OutType    string
}

// Explain renders p as a PlanExplain.
func (p *PlanTemplate[Req, Resp]) Explain() PlanExplain {
	out := PlanExplain{FlowName: p.Name, PlanHash: p.PlanHash}
	for _, n := range p.Nodes {
		out.Nodes = append(out.Nodes, PlanExplainNode{
			Index:      n.Index,
			Name:       n.Name,
			StageName:  n.StageName,
			Kind:       n.Kind.String(),
			ModuleType: n.ModuleType,
			ArgsType:   n.ArgsType,
			OutType:    n.OutType,
		})
	}
	return out
}
