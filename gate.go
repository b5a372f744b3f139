package rorchestrator

import "fmt"

// GateKind discriminates the variant carried by a Gate (spec.md §3).
type GateKind int8

const (
	GateExperiment GateKind = iota
	GateRollout
	GateRequestAttr
	GateSelector
	GateAll
	GateAny
	GateNot
)

func (k GateKind) String() string {
	switch k {
	case GateExperiment:
		return "experiment"
	case GateRollout:
		return "rollout"
	case GateRequestAttr:
		return "request_attr"
	case GateSelector:
		return "selector"
	case GateAll:
		return "all"
	case GateAny:
		return "any"
	case GateNot:
		return "not"
	default:
		return "unknown"
	}
}

// MaxGateDepth bounds composite gate nesting (spec.md §3: "Composite
// gates nest up to depth 10").
const MaxGateDepth = 10

// AllowedRequestAttrFields is the fixed set of request attributes a
// RequestAttr gate may reference (spec.md §3).
var AllowedRequestAttrFields = map[string]bool{
	"region":     true,
	"device":     true,
	"appVersion": true,
}

// Gate is an immutable, composable boolean predicate. Variants mirror
// spec.md §3 exactly: Experiment, Rollout, RequestAttr, Selector, All,
// Any, Not. Gate values are constructed via the package-level
// constructors below and never mutated after construction.
type Gate struct {
	kind GateKind

	// Experiment
	layer    string
	variants []string

	// Rollout
	percent int
	salt    string

	// RequestAttr
	field  string
	values []string

	// Selector
	selector string

	// All / Any / Not
	children []Gate
}

// Kind returns the gate's variant.
func (g Gate) Kind() GateKind { return g.kind }

// Experiment constructs a gate that allows when the caller's variant for
// the given layer is one of in.
func Experiment(layer string, in ...string) Gate {
	return Gate{kind: GateExperiment, layer: layer, variants: append([]string(nil), in...)}
}

// Rollout constructs a gate that allows a deterministic percentage of
// users, bucketed by userId and salt. percent is clamped to [0,100].
func Rollout(percent int, salt string) Gate {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Gate{kind: GateRollout, percent: percent, salt: salt}
}

// RequestAttr constructs a gate that allows when the named request
// attribute's value is one of in. field must be one of
// AllowedRequestAttrFields; this is enforced at config-patch parse time
// (CFG_GATE_REQUEST_FIELD_NOT_ALLOWED) rather than here, since
// blueprint-constructed gates are developer-authored and a panic at
// construction would be a worse failure mode than a parse-time finding.
func RequestAttr(field string, in ...string) Gate {
	return Gate{kind: GateRequestAttr, field: field, values: append([]string(nil), in...)}
}

// Selector constructs a gate that defers to a named function in a
// SelectorRegistry supplied at evaluation time.
func Selector(name string) Gate {
	return Gate{kind: GateSelector, selector: name}
}

// All constructs a gate that allows only when every child allows,
// evaluated left-to-right with first-denied short-circuit. An empty
// child list is rejected (spec.md §8: "All([]) ... rejected at
// construction").
func All(children ...Gate) (Gate, error) {
	if len(children) == 0 {
		return Gate{}, fmt.Errorf("rorchestrator: All requires at least one child gate")
	}
	return newComposite(GateAll, children)
}

// Any constructs a gate that allows when any child allows, evaluated
// left-to-right with first-allowed short-circuit. An empty child list is
// rejected (spec.md §8: "Any([]) ... rejected at construction").
func Any(children ...Gate) (Gate, error) {
	if len(children) == 0 {
		return Gate{}, fmt.Errorf("rorchestrator: Any requires at least one child gate")
	}
	return newComposite(GateAny, children)
}

// Not constructs a gate that inverts its child's allowance.
func Not(child Gate) (Gate, error) {
	return newComposite(GateNot, []Gate{child})
}

func newComposite(kind GateKind, children []Gate) (Gate, error) {
	g := Gate{kind: kind, children: append([]Gate(nil), children...)}
	if depth := g.Depth(); depth > MaxGateDepth {
		return Gate{}, fmt.Errorf("rorchestrator: gate nesting depth %d exceeds max %d", depth, MaxGateDepth)
	}
	return g, nil
}

// Depth returns the gate tree's nesting depth; a leaf gate has depth 1.
func (g Gate) Depth() int {
	if len(g.children) == 0 {
		return 1
	}
	max := 0
	for _, c := range g.children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}
