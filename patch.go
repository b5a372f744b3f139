package rorchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FindingSeverity discriminates a patch validation finding.
type FindingSeverity int8

const (
	SeverityError FindingSeverity = iota
	SeverityWarning
)

func (s FindingSeverity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Finding is one validation result from parsing a config patch document
// (spec.md §4.2).
type Finding struct {
	Severity FindingSeverity
	Code     string
	Path     string
	Message  string
}

func errFinding(path, code, format string, args ...any) *Finding {
	return &Finding{Severity: SeverityError, Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// ParsedModule is one validated module entry within a stage's module
// list.
type ParsedModule struct {
	ID   string
	Use  string
	With json.RawMessage
	Gate *Gate
}

// ParsedStage is one validated stage entry within a flow's patch.
type ParsedStage struct {
	FanoutMax        int
	HasFanoutMax     bool
	FailurePolicy    FailurePolicy
	HasFailurePolicy bool
	Modules          []ParsedModule
}

// ParsedFlow is one validated flow entry within a patch document.
type ParsedFlow struct {
	Stages map[string]ParsedStage
}

// ParsedPatch is the structured, validated view over a v1 config patch
// document (spec.md §3/§4.2).
type ParsedPatch struct {
	SchemaVersion string
	Flows         map[string]ParsedFlow
}

// raw wire schema — unmarshaled once, then validated field-by-field so
// every unknown field can be rejected explicitly (encoding/json's
// DisallowUnknownFields operates per-struct, which is not precise enough
// to assign per-field path/code information, so fields are read via
// map[string]json.RawMessage and consumed one key at a time instead).

// ParsePatch parses and validates patchJSON against the v1 schema
// (spec.md §3/§4.2). catalog resolves "use" module types; selectors, if
// non-nil, is checked against Selector gate names. Parsing is
// all-or-nothing per call: the first error finding aborts parsing and
// is returned alone, with a nil ParsedPatch.
func ParsePatch(patchJSON string, catalog *ModuleCatalog, selectors SelectorRegistry) (*ParsedPatch, *Finding) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(patchJSON), &top); err != nil {
		return nil, errFinding("$", "CFG_INVALID_JSON", "patch is not a JSON object: %v", err)
	}

	schemaVersion, finding := requireStringField(top, "schemaVersion", "$")
	if finding != nil {
		return nil, finding
	}
	if schemaVersion != "v1" {
		return nil, errFinding("$.schemaVersion", "CFG_UNSUPPORTED_SCHEMA_VERSION", "unsupported schemaVersion %q", schemaVersion)
	}

	out := &ParsedPatch{SchemaVersion: schemaVersion, Flows: map[string]ParsedFlow{}}

	flowsRaw, ok := top["flows"]
	delete(top, "schemaVersion")
	delete(top, "flows")
	for key := range top {
		return nil, errFinding("$."+key, "CFG_UNKNOWN_FIELD", "unknown top-level field %q", key)
	}
	if !ok {
		return out, nil
	}

	var flows map[string]json.RawMessage
	if err := json.Unmarshal(flowsRaw, &flows); err != nil {
		return nil, errFinding("$.flows", "CFG_INVALID_JSON", "flows must be an object: %v", err)
	}

	flowNames := sortedKeys(flows)
	for _, flowName := range flowNames {
		pf, finding := parsePatchFlow(flowName, flows[flowName], catalog, selectors)
		if finding != nil {
			return nil, finding
		}
		out.Flows[flowName] = pf
	}
	return out, nil
}

func parsePatchFlow(flowName string, raw json.RawMessage, catalog *ModuleCatalog, selectors SelectorRegistry) (ParsedFlow, *Finding) {
	path := fmt.Sprintf("$.flows.%s", flowName)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ParsedFlow{}, errFinding(path, "CFG_INVALID_JSON", "flow %q must be an object: %v", flowName, err)
	}

	stagesRaw, ok := obj["stages"]
	delete(obj, "stages")
	for key := range obj {
		return ParsedFlow{}, errFinding(path+"."+key, "CFG_UNKNOWN_FIELD", "unknown field %q on flow %q", key, flowName)
	}
	pf := ParsedFlow{Stages: map[string]ParsedStage{}}
	if !ok {
		return pf, nil
	}

	var stages map[string]json.RawMessage
	if err := json.Unmarshal(stagesRaw, &stages); err != nil {
		return ParsedFlow{}, errFinding(path+".stages", "CFG_INVALID_JSON", "stages must be an object: %v", err)
	}
	for _, stageName := range sortedKeys(stages) {
		ps, finding := parsePatchStage(fmt.Sprintf("%s.stages.%s", path, stageName), stages[stageName], catalog, selectors)
		if finding != nil {
			return ParsedFlow{}, finding
		}
		pf.Stages[stageName] = ps
	}
	return pf, nil
}

func parsePatchStage(path string, raw json.RawMessage, catalog *ModuleCatalog, selectors SelectorRegistry) (ParsedStage, *Finding) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ParsedStage{}, errFinding(path, "CFG_INVALID_JSON", "stage must be an object: %v", err)
	}

	var ps ParsedStage

	if fanoutRaw, ok := obj["fanoutMax"]; ok {
		var n int
		if err := json.Unmarshal(fanoutRaw, &n); err != nil {
			return ParsedStage{}, errFinding(path+".fanoutMax", "CFG_INVALID_FIELD", "fanoutMax must be an integer: %v", err)
		}
		if n < 0 {
			return ParsedStage{}, errFinding(path+".fanoutMax", "CFG_INVALID_FIELD", "fanoutMax must be >= 0")
		}
		ps.FanoutMax = n
		ps.HasFanoutMax = true
	}
	delete(obj, "fanoutMax")

	if fpRaw, ok := obj["failurePolicy"]; ok {
		var s string
		if err := json.Unmarshal(fpRaw, &s); err != nil {
			return ParsedStage{}, errFinding(path+".failurePolicy", "CFG_INVALID_FIELD", "failurePolicy must be a string: %v", err)
		}
		switch s {
		case "short_circuit":
			ps.FailurePolicy = ShortCircuit
		case "continue":
			ps.FailurePolicy = Continue
		default:
			return ParsedStage{}, errFinding(path+".failurePolicy", "CFG_INVALID_FIELD", "unknown failurePolicy %q", s)
		}
		ps.HasFailurePolicy = true
	}
	delete(obj, "failurePolicy")

	modulesRaw, hasModules := obj["modules"]
	delete(obj, "modules")
	for key := range obj {
		return ParsedStage{}, errFinding(path+"."+key, "CFG_UNKNOWN_FIELD", "unknown field %q on stage", key)
	}
	if !hasModules {
		return ps, nil
	}

	var modules []json.RawMessage
	if err := json.Unmarshal(modulesRaw, &modules); err != nil {
		return ParsedStage{}, errFinding(path+".modules", "CFG_INVALID_FIELD", "modules must be an array: %v", err)
	}

	seenIDs := map[string]bool{}
	for i, mRaw := range modules {
		mPath := fmt.Sprintf("%s.modules[%d]", path, i)
		pm, finding := parsePatchModule(mPath, mRaw, catalog, selectors)
		if finding != nil {
			return ParsedStage{}, finding
		}
		if seenIDs[pm.ID] {
			return ParsedStage{}, errFinding(mPath+".id", "CFG_DUPLICATE_MODULE_ID", "duplicate module id %q in stage", pm.ID)
		}
		seenIDs[pm.ID] = true
		ps.Modules = append(ps.Modules, pm)
	}
	return ps, nil
}

func parsePatchModule(path string, raw json.RawMessage, catalog *ModuleCatalog, selectors SelectorRegistry) (ParsedModule, *Finding) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ParsedModule{}, errFinding(path, "CFG_INVALID_JSON", "module entry must be an object: %v", err)
	}

	id, finding := requireStringField(obj, "id", path)
	if finding != nil {
		return ParsedModule{}, finding
	}
	use, finding := requireStringField(obj, "use", path)
	if finding != nil {
		return ParsedModule{}, finding
	}
	if catalog != nil && !catalog.Has(use) {
		return ParsedModule{}, errFinding(path+".use", "CFG_MODULE_TYPE_UNRESOLVED", "module type %q does not resolve in the catalog", use)
	}

	pm := ParsedModule{ID: id, Use: use}
	if withRaw, ok := obj["with"]; ok {
		pm.With = withRaw
	} else {
		pm.With = json.RawMessage("{}")
	}

	if gateRaw, ok := obj["gate"]; ok {
		g, finding := parseGateJSON(gateRaw, 1, path+".gate", selectors)
		if finding != nil {
			return ParsedModule{}, finding
		}
		pm.Gate = &g
	}

	delete(obj, "id")
	delete(obj, "use")
	delete(obj, "with")
	delete(obj, "gate")
	for key := range obj {
		return ParsedModule{}, errFinding(path+"."+key, "CFG_UNKNOWN_FIELD", "unknown field %q on module entry", key)
	}
	return pm, nil
}

// gateDiscriminants are the recognized gate-type JSON keys.
var gateDiscriminants = map[string]bool{
	"experiment": true, "rollout": true, "requestAttr": true,
	"selector": true, "all": true, "any": true, "not": true,
}

// parseGateJSON parses one gate expression. A missing discriminant key
// and multiple discriminant keys both produce CFG_GATE_UNKNOWN_TYPE
// (SPEC_FULL.md Open Question resolution #2: these are not
// distinguished).
func parseGateJSON(raw json.RawMessage, depth int, path string, selectors SelectorRegistry) (Gate, *Finding) {
	if depth > MaxGateDepth {
		return Gate{}, errFinding(path, "CFG_GATE_TOO_DEEP", "gate nesting exceeds max depth %d", MaxGateDepth)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Gate{}, errFinding(path, "CFG_INVALID_JSON", "gate must be an object: %v", err)
	}

	var discriminant string
	found := 0
	for key := range obj {
		if gateDiscriminants[key] {
			discriminant = key
			found++
			continue
		}
		return Gate{}, errFinding(path+"."+key, "CFG_GATE_UNKNOWN_TYPE", "unknown gate field %q", key)
	}
	if found != 1 {
		return Gate{}, errFinding(path, "CFG_GATE_UNKNOWN_TYPE", "gate object must have exactly one type discriminant, found %d", found)
	}

	body := obj[discriminant]
	switch discriminant {
	case "experiment":
		var p struct {
			Layer string   `json:"layer"`
			In    []string `json:"in"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return Gate{}, errFinding(path+".experiment", "CFG_INVALID_FIELD", "invalid experiment gate: %v", err)
		}
		return Experiment(p.Layer, p.In...), nil

	case "rollout":
		var p struct {
			Percent int    `json:"percent"`
			Salt    string `json:"salt"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return Gate{}, errFinding(path+".rollout", "CFG_INVALID_FIELD", "invalid rollout gate: %v", err)
		}
		if p.Percent < 0 || p.Percent > 100 {
			return Gate{}, errFinding(path+".rollout.percent", "CFG_INVALID_FIELD", "percent must be in [0,100]")
		}
		return Rollout(p.Percent, p.Salt), nil

	case "requestAttr":
		var p struct {
			Field string   `json:"field"`
			In    []string `json:"in"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return Gate{}, errFinding(path+".requestAttr", "CFG_INVALID_FIELD", "invalid requestAttr gate: %v", err)
		}
		if !AllowedRequestAttrFields[p.Field] {
			return Gate{}, errFinding(path+".requestAttr.field", "CFG_GATE_REQUEST_FIELD_NOT_ALLOWED", "request attr field %q not allowed", p.Field)
		}
		return RequestAttr(p.Field, p.In...), nil

	case "selector":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return Gate{}, errFinding(path+".selector", "CFG_INVALID_FIELD", "invalid selector gate: %v", err)
		}
		if selectors != nil {
			if _, ok := selectors[p.Name]; !ok {
				return Gate{}, errFinding(path+".selector.name", "CFG_SELECTOR_NOT_REGISTERED", "selector %q is not registered", p.Name)
			}
		}
		return Selector(p.Name), nil

	case "all", "any":
		var children []json.RawMessage
		if err := json.Unmarshal(body, &children); err != nil {
			return Gate{}, errFinding(path+"."+discriminant, "CFG_INVALID_FIELD", "invalid %s gate: %v", discriminant, err)
		}
		if len(children) == 0 {
			return Gate{}, errFinding(path+"."+discriminant, "CFG_GATE_EMPTY_COMPOSITE", "%s gate must have at least one child", discriminant)
		}
		parsed := make([]Gate, 0, len(children))
		for i, c := range children {
			g, finding := parseGateJSON(c, depth+1, fmt.Sprintf("%s.%s[%d]", path, discriminant, i), selectors)
			if finding != nil {
				return Gate{}, finding
			}
			parsed = append(parsed, g)
		}
		var g Gate
		var err error
		if discriminant == "all" {
			g, err = All(parsed...)
		} else {
			g, err = Any(parsed...)
		}
		if err != nil {
			return Gate{}, errFinding(path+"."+discriminant, "CFG_GATE_TOO_DEEP", "%v", err)
		}
		return g, nil

	case "not":
		child, finding := parseGateJSON(body, depth+1, path+".not", selectors)
		if finding != nil {
			return Gate{}, finding
		}
		g, err := Not(child)
		if err != nil {
			return Gate{}, errFinding(path+".not", "CFG_GATE_TOO_DEEP", "%v", err)
		}
		return g, nil
	}

	return Gate{}, errFinding(path, "CFG_GATE_UNKNOWN_TYPE", "unknown gate discriminant %q", discriminant)
}

func requireStringField(obj map[string]json.RawMessage, field, path string) (string, *Finding) {
	raw, ok := obj[field]
	if !ok {
		return "", errFinding(path, "CFG_UNKNOWN_FIELD", "missing required field %q", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errFinding(path+"."+field, "CFG_INVALID_FIELD", "field %q must be a string: %v", field, err)
	}
	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
