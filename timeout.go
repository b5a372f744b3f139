package rorchestrator

import (
	"context"
	"encoding/json"
	"time"
)

// moduleTimeout peeks at a module instance's "with" JSON for the one
// reserved "timeoutMs" field (spec.md §9 Open Question resolution 1),
// without otherwise validating or rejecting the rest of with's
// module-defined shape — patch.go's ParsePatch already accepted with as
// an opaque blob, and this is strictly an opportunistic read on top of
// that.
func moduleTimeout(with json.RawMessage) (time.Duration, bool) {
	if len(with) == 0 {
		return 0, false
	}
	var probe struct {
		TimeoutMs *int64 `json:"timeoutMs"`
	}
	if err := json.Unmarshal(with, &probe); err != nil || probe.TimeoutMs == nil || *probe.TimeoutMs <= 0 {
		return 0, false
	}
	return time.Duration(*probe.TimeoutMs) * time.Millisecond, true
}

// invokeWithTimeout runs reg.invoke under a per-module deadline derived
// from "with.timeoutMs", distinguishing the module's own timeout
// (MODULE_TIMEOUT) from a recovered panic (MODULE_EXCEPTION, still
// produced by safeInvoke) and from the stage's own cancellation.
// Mirrors the teacher's Timeout.Process goroutine+buffered-channel+
// select pattern, adapted to a clockz.Clock-derived deadline instead of
// a standalone connector wrapping a Chainable.
func invokeWithTimeout(ctx context.Context, eng *Engine, reg registration, id string, req any, with json.RawMessage, flow *FlowContext, duration time.Duration) anyOutcome {
	timeoutCtx, cancel := eng.clock.WithTimeout(ctx, duration)
	defer cancel()

	resultCh := make(chan anyOutcome, 1)
	go func() {
		out := safeInvoke(timeoutCtx, reg, id, req, with, flow)
		select {
		case resultCh <- out:
		case <-timeoutCtx.Done():
		}
	}()

	select {
	case out := <-resultCh:
		return out
	case <-timeoutCtx.Done():
		if errDeadline(timeoutCtx) {
			return anyOutcome{Kind: KindTimeout, Code: "MODULE_TIMEOUT"}
		}
		return anyOutcome{Kind: cancelKind(timeoutCtx), Code: cancelCode(timeoutCtx)}
	}
}
