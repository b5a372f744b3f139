package rorchestrator

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
)

// The CLI's diff-patch and explain-patch commands (spec.md §6) are out
// of scope for this module, but both need the same structural
// comparison/description logic a future CLI would call into — so that
// logic lives here, in-core, rather than inside a command implementation
// this repository doesn't build.

// DiffOp discriminates one structural change between two patch
// documents.
type DiffOp int8

const (
	DiffAdd DiffOp = iota
	DiffRemove
	DiffChange
)

func (op DiffOp) String() string {
	switch op {
	case DiffAdd:
		return "add"
	case DiffRemove:
		return "remove"
	default:
		return "change"
	}
}

// DiffEntry is one structural change found by DiffPatch.
type DiffEntry struct {
	Op   DiffOp
	Path string
	Old  string
	New  string
}

// DiffPatch structurally compares two v1 config patch documents and
// reports added/removed/changed flows, stages, and modules (keyed by
// module id, not array position — spec.md §8 scenario "Diff patch").
// Both documents are parsed without catalog/selector validation so a
// diff can be computed even against a catalog this process hasn't
// registered.
func DiffPatch(oldJSON, newJSON string) ([]DiffEntry, error) {
	oldPatch, finding := ParsePatch(oldJSON, nil, nil)
	if finding != nil {
		return nil, fmt.Errorf("rorchestrator: old patch invalid: %s: %s", finding.Code, finding.Message)
	}
	newPatch, finding := ParsePatch(newJSON, nil, nil)
	if finding != nil {
		return nil, fmt.Errorf("rorchestrator: new patch invalid: %s: %s", finding.Code, finding.Message)
	}

	var entries []DiffEntry
	for _, flowName := range unionKeys(oldPatch.Flows, newPatch.Flows) {
		oldFlow, oldHas := oldPatch.Flows[flowName]
		newFlow, newHas := newPatch.Flows[flowName]
		switch {
		case !oldHas:
			entries = append(entries, DiffEntry{Op: DiffAdd, Path: flowName})
		case !newHas:
			entries = append(entries, DiffEntry{Op: DiffRemove, Path: flowName})
		}
		entries = append(entries, diffStages(flowName, oldFlow.Stages, newFlow.Stages)...)
	}
	return entries, nil
}

func diffStages(flowName string, oldStages, newStages map[string]ParsedStage) []DiffEntry {
	var entries []DiffEntry
	for _, stageName := range unionKeys(oldStages, newStages) {
		oldStage, oldHas := oldStages[stageName]
		newStage, newHas := newStages[stageName]
		stagePath := fmt.Sprintf("%s.%s", flowName, stageName)

		switch {
		case !oldHas:
			entries = append(entries, DiffEntry{Op: DiffAdd, Path: stagePath})
		case !newHas:
			entries = append(entries, DiffEntry{Op: DiffRemove, Path: stagePath})
		}

		if oldStage.HasFanoutMax != newStage.HasFanoutMax || oldStage.FanoutMax != newStage.FanoutMax {
			entries = append(entries, DiffEntry{
				Op: DiffChange, Path: stagePath + ".fanoutMax",
				Old: fanoutString(oldStage), New: fanoutString(newStage),
			})
		}
		if oldStage.HasFailurePolicy != newStage.HasFailurePolicy || oldStage.FailurePolicy != newStage.FailurePolicy {
			entries = append(entries, DiffEntry{
				Op: DiffChange, Path: stagePath + ".failurePolicy",
				Old: failurePolicyString(oldStage), New: failurePolicyString(newStage),
			})
		}

		entries = append(entries, diffModules(stagePath+".modules", oldStage.Modules, newStage.Modules)...)
	}
	return entries
}

func diffModules(path string, oldModules, newModules []ParsedModule) []DiffEntry {
	oldByID := modulesByID(oldModules)
	newByID := modulesByID(newModules)

	var entries []DiffEntry
	for _, id := range unionKeys(oldByID, newByID) {
		om, oldHas := oldByID[id]
		nm, newHas := newByID[id]
		switch {
		case !oldHas:
			entries = append(entries, DiffEntry{Op: DiffAdd, Path: path, New: nm.Use})
		case !newHas:
			entries = append(entries, DiffEntry{Op: DiffRemove, Path: path, Old: om.Use})
		case om.Use != nm.Use || !bytes.Equal(om.With, nm.With) || !reflect.DeepEqual(om.Gate, nm.Gate):
			entries = append(entries, DiffEntry{Op: DiffChange, Path: fmt.Sprintf("%s[%s]", path, id), Old: om.Use, New: nm.Use})
		}
	}
	return entries
}

func modulesByID(modules []ParsedModule) map[string]ParsedModule {
	out := make(map[string]ParsedModule, len(modules))
	for _, m := range modules {
		out[m.ID] = m
	}
	return out
}

func fanoutString(s ParsedStage) string {
	if !s.HasFanoutMax {
		return ""
	}
	return fmt.Sprintf("%d", s.FanoutMax)
}

func failurePolicyString(s ParsedStage) string {
	if !s.HasFailurePolicy {
		return ""
	}
	return s.FailurePolicy.String()
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PatchExplainModule describes one module entry for explain-patch.
type PatchExplainModule struct {
	ID      string
	Use     string
	HasGate bool
}

// PatchExplainStage describes one stage entry for explain-patch.
type PatchExplainStage struct {
	Name             string
	FanoutMax        int
	HasFanoutMax     bool
	FailurePolicy    FailurePolicy
	HasFailurePolicy bool
	Modules          []PatchExplainModule
}

// PatchExplain is the rendering explain-patch produces for one flow.
type PatchExplain struct {
	FlowName string
	Stages   []PatchExplainStage
}

// ExplainPatch renders a human/tool-facing description of flowName's
// section of patch. ok is false if the patch has no entry for flowName.
func ExplainPatch(flowName string, patch *ParsedPatch) (out PatchExplain, ok bool) {
	flow, ok := patch.Flows[flowName]
	if !ok {
		return PatchExplain{}, false
	}
	out.FlowName = flowName
	for _, stageName := range unionKeys(flow.Stages, flow.Stages) {
		stage := flow.Stages[stageName]
		es := PatchExplainStage{
			Name: stageName, FanoutMax: stage.FanoutMax, HasFanoutMax: stage.HasFanoutMax,
			FailurePolicy: stage.FailurePolicy, HasFailurePolicy: stage.HasFailurePolicy,
		}
		for _, m := range stage.Modules {
			es.Modules = append(es.Modules, PatchExplainModule{ID: m.ID, Use: m.Use, HasGate: m.Gate != nil})
		}
		out.Stages = append(out.Stages, es)
	}
	return out, true
}
