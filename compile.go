package rorchestrator

import "fmt"

// Compile validates a FlowBlueprint against its catalog and produces an
// immutable PlanTemplate plus its deterministic hash (spec.md §4.3).
// Compilation is deterministic and side-effect free: calling Compile
// twice on equivalent blueprints yields byte-for-byte equal plans.
func Compile[Req, Resp any](b *FlowBlueprint[Req, Resp]) (*PlanTemplate[Req, Resp], error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	if b.name == "" {
		return nil, fmt.Errorf("rorchestrator: compile: flow name must not be empty")
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("rorchestrator: compile %q: flow has no nodes", b.name)
	}

	reqType := typeToken[Req]()
	respType := typeToken[Resp]()

	nodes := make([]PlanNode, 0, len(b.nodes))
	for _, n := range b.nodes {
		pn := PlanNode{
			Index:      n.Index,
			Name:       n.Name,
			StageName:  n.StageName,
			Kind:       n.Kind,
			ModuleType: n.ModuleType,
			join:       n.join,
		}
		switch n.Kind {
		case NodeStep:
			if n.ModuleType == "" {
				return nil, fmt.Errorf("rorchestrator: compile %q: step %q has empty module type", b.name, n.Name)
			}
			if b.catalog == nil || !b.catalog.Has(n.ModuleType) {
				return nil, fmt.Errorf("rorchestrator: compile %q: step %q module type %q is unregistered", b.name, n.Name, n.ModuleType)
			}
			argsType, _ := b.catalog.ArgsType(n.ModuleType)
			outType, _ := b.catalog.OutType(n.ModuleType)
			if argsType != reqType {
				return nil, fmt.Errorf("rorchestrator: compile %q: step %q module type %q registered argsType %q does not match flow request type %q", b.name, n.Name, n.ModuleType, argsType, reqType)
			}
			pn.ArgsType = argsType
			pn.OutType = outType
		case NodeJoin:
			pn.OutType = n.outType
		}
		nodes = append(nodes, pn)
	}

	last, ok := b.lastNode()
	if !ok || last.Kind != NodeJoin {
		return nil, fmt.Errorf("rorchestrator: compile %q: terminal node must be a join", b.name)
	}
	if last.outType != respType {
		return nil, fmt.Errorf("rorchestrator: compile %q: terminal join outputType %q does not match flow response type %q", b.name, last.outType, respType)
	}

	nameToIndex := make(map[Name]int, len(b.nameToIndex))
	for k, v := range b.nameToIndex {
		nameToIndex[k] = v
	}
	stages := make(map[string]StageContract, len(b.stages))
	for k, v := range b.stages {
		stages[k] = v
	}
	stageOrder := append([]string(nil), b.stageOrder...)

	// Step nodes hash their module's registered outType, which the
	// blueprint node itself does not carry.
	hashNodes := append([]BlueprintNode(nil), b.nodes...)
	for i, pn := range nodes {
		if pn.Kind == NodeStep {
			hashNodes[i].outType = pn.OutType
		}
	}

	return &PlanTemplate[Req, Resp]{
		Name:        b.name,
		PlanHash:    computePlanHash(b.name, reqType, respType, hashNodes),
		Nodes:       nodes,
		NameToIndex: nameToIndex,
		StageOrder:  stageOrder,
		Stages:      stages,
	}, nil
}
