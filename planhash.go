package rorchestrator

import (
	"encoding/binary"
	"hash/fnv"
)

// PlanHash is the deterministic 64-bit identity of a compiled plan,
// computed over the canonical encoding described in spec.md §3: flow
// name, request/response type tokens, then per node (in order) its
// kind, name, stage name, and either moduleType+outType (Step) or
// outType (Join). Two plans are equal iff their hashes and type
// encodings are equal.
func computePlanHash(flowName, reqType, respType string, nodes []BlueprintNode) uint64 {
	h := fnv.New64a()
	w := &lengthPrefixedWriter{h: h}
	w.writeString(flowName)
	w.writeString(reqType)
	w.writeString(respType)
	for _, n := range nodes {
		w.writeByte(byte(n.Kind))
		w.writeString(n.Name)
		w.writeString(n.StageName)
		if n.Kind == NodeStep {
			w.writeString(n.ModuleType)
			w.writeString(n.outType) // the module's registered outType, filled in by Compile
		} else {
			w.writeString(n.outType)
		}
	}
	return h.Sum64()
}

// lengthPrefixedWriter feeds a running FNV-1a-64 hash with
// length-prefixed strings, length encoded as a little-endian uint32,
// per spec.md §3: "Length-prefixed strings use little-endian byte
// order."
type lengthPrefixedWriter struct {
	h interface{ Write([]byte) (int, error) }
}

func (w *lengthPrefixedWriter) writeString(s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.h.Write(lenBuf[:])
	w.h.Write([]byte(s))
}

func (w *lengthPrefixedWriter) writeByte(b byte) {
	w.h.Write([]byte{b})
}
