package rorchestrator

import (
	"context"
	"hash/fnv"
	"unicode/utf16"
)

// SelectorFunc is a developer-registered boolean predicate invoked by a
// Selector gate. It receives the flow's context and FlowContext so it
// can consult ambient request data.
type SelectorFunc func(ctx context.Context, flow *FlowContext) bool

// SelectorRegistry maps selector names (as referenced by Gate Selector
// nodes) to their implementations.
type SelectorRegistry map[string]SelectorFunc

// GateContext carries the caller-supplied facts a Gate tree evaluates
// against: the experiment variant assignment map, the rollout bucketing
// identity, the request's allowed attributes, and the selector registry
// (spec.md §3/§4.1).
type GateContext struct {
	Variants     map[string]string
	UserID       string
	RequestAttrs map[string]string
	Selectors    SelectorRegistry
	Flow         *FlowContext
}

// GateDecision is the result of evaluating a Gate: whether it allowed,
// the kind of the (sub)gate that produced the decision, and a
// screaming-snake-case reason code explaining it.
type GateDecision struct {
	Allowed    bool
	Kind       GateKind
	ReasonCode string
}

func allow(kind GateKind, code string) GateDecision {
	return GateDecision{Allowed: true, Kind: kind, ReasonCode: code}
}

func deny(kind GateKind, code string) GateDecision {
	return GateDecision{Allowed: false, Kind: kind, ReasonCode: code}
}

// Evaluate walks a Gate tree against gc and returns the resulting
// decision. Evaluation is pure and side-effect free other than invoking
// registered SelectorFuncs. An error is returned only for a
// misconfigured Selector gate (unknown name, or no registry/flow
// supplied) — every other leaf has a well-defined deny outcome for
// missing data, per spec.md §4.1.
func Evaluate(g Gate, gc GateContext) (GateDecision, error) {
	switch g.kind {
	case GateExperiment:
		v, ok := gc.Variants[g.layer]
		if !ok {
			return deny(GateExperiment, "MISSING_VARIANT"), nil
		}
		for _, want := range g.variants {
			if want == v {
				return allow(GateExperiment, "VARIANT_MATCH"), nil
			}
		}
		return deny(GateExperiment, "VARIANT_MISMATCH"), nil

	case GateRollout:
		if gc.UserID == "" {
			return deny(GateRollout, "MISSING_USER_ID"), nil
		}
		if rolloutBucket(gc.UserID, g.salt) < uint64(g.percent) {
			return allow(GateRollout, "ROLLOUT_TRUE"), nil
		}
		return deny(GateRollout, "ROLLOUT_FALSE"), nil

	case GateRequestAttr:
		v, ok := gc.RequestAttrs[g.field]
		if !ok {
			return deny(GateRequestAttr, "MISSING_REQUEST_ATTR"), nil
		}
		for _, want := range g.values {
			if want == v {
				return allow(GateRequestAttr, "REQUEST_ATTR_MATCH"), nil
			}
		}
		return deny(GateRequestAttr, "REQUEST_ATTR_MISMATCH"), nil

	case GateSelector:
		if gc.Selectors == nil {
			return GateDecision{}, &ExecError{Code: "GATE_SELECTOR_UNREGISTERED", Path: []string{g.selector}}
		}
		fn, ok := gc.Selectors[g.selector]
		if !ok {
			return GateDecision{}, &ExecError{Code: "GATE_SELECTOR_UNREGISTERED", Path: []string{g.selector}}
		}
		if fn(gateSelectorContext(gc), gc.Flow) {
			return allow(GateSelector, "SELECTOR_TRUE"), nil
		}
		return deny(GateSelector, "SELECTOR_FALSE"), nil

	case GateAll:
		for _, child := range g.children {
			d, err := Evaluate(child, gc)
			if err != nil {
				return d, err
			}
			if !d.Allowed {
				return d, nil
			}
		}
		return allow(GateAll, "ALL_TRUE"), nil

	case GateAny:
		for _, child := range g.children {
			d, err := Evaluate(child, gc)
			if err != nil {
				return d, err
			}
			if d.Allowed {
				return d, nil
			}
		}
		return deny(GateAny, "ANY_FALSE"), nil

	case GateNot:
		d, err := Evaluate(g.children[0], gc)
		if err != nil {
			return d, err
		}
		if d.Allowed {
			return deny(GateNot, "NOT_FALSE"), nil
		}
		return allow(GateNot, "NOT_TRUE"), nil

	default:
		return GateDecision{}, &ExecError{Code: "GATE_UNKNOWN_KIND"}
	}
}

func gateSelectorContext(gc GateContext) context.Context {
	if gc.Flow != nil {
		return gc.Flow.Context()
	}
	return context.Background()
}

// rolloutBucket computes the deterministic bucket in [0,100) for a
// userID+salt pair, per spec.md §3: FNV-1a-64 over userId + 0x00 + salt,
// where each string is hashed as its UTF-16 code units, low byte then
// high byte (little-endian), so the bucket is stable across platforms
// regardless of native string encoding.
func rolloutBucket(userID, salt string) uint64 {
	h := fnv.New64a()
	writeUTF16LE(h, userID)
	h.Write([]byte{0})
	writeUTF16LE(h, salt)
	return h.Sum64() % 100
}

func writeUTF16LE(h interface{ Write([]byte) (int, error) }, s string) {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	h.Write(buf)
}
