package rorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ModuleContext carries everything a Module needs for one invocation:
// the flow's single shared request value, the module instance's
// "with" configuration (module-defined shape, parsed from the active
// config patch), and the ambient FlowContext.
type ModuleContext[Req any] struct {
	ID      string
	Type    string
	Request Req
	With    json.RawMessage
	Flow    *FlowContext
}

// Module is the unit of work a flow's step nodes invoke. Req is the
// flow's single shared request type (spec.md §3: "a flow's modules all
// share one request type"); Out is this module's own result payload
// type, which may differ module-to-module within the same flow — the
// catalog and engine erase Out at the registration/dispatch boundary so
// heterogeneous module outputs can flow through one execution.
type Module[Req, Out any] interface {
	Execute(ctx context.Context, mc ModuleContext[Req]) Outcome[Out]
}

// ModuleFunc adapts a plain function to the Module interface, mirroring
// the teacher's Apply/Effect/Transform function-adapter idiom
// (apply.go, effect.go) rather than requiring every module to be its own
// named type.
type ModuleFunc[Req, Out any] func(ctx context.Context, mc ModuleContext[Req]) Outcome[Out]

// Execute implements Module.
func (f ModuleFunc[Req, Out]) Execute(ctx context.Context, mc ModuleContext[Req]) Outcome[Out] {
	return f(ctx, mc)
}

// registration is the type-erased record a ModuleCatalog stores per
// module type string. argsType/outType are type tokens (typetoken.go)
// captured at Register time. During plan compilation argsType is checked
// against the flow's Req; outType is not checked, only copied onto the
// plan node and into its hash.
type registration struct {
	moduleType string
	argsType   string
	outType    string
	invoke     func(ctx context.Context, id string, req any, with json.RawMessage, flow *FlowContext) anyOutcome
}

// ModuleCatalog is the process-global registry mapping a module type
// string (as referenced by BlueprintNode.ModuleType) to its typed
// factory. It is built once at process bootstrap and treated as
// immutable thereafter (spec.md §9 "Global state": the catalog, once
// populated, is read-only for the remainder of the process), matching
// the teacher's Switch.routes map[K]Chainable[T] registry idiom
// (switch.go) generalized from per-pipeline routing to a process-wide
// catalog.
type ModuleCatalog struct {
	mu  sync.RWMutex
	reg map[string]registration
}

// NewModuleCatalog constructs an empty catalog.
func NewModuleCatalog() *ModuleCatalog {
	return &ModuleCatalog{reg: map[string]registration{}}
}

// Register adds mod to the catalog under moduleType. Registering the
// same moduleType twice is an error — the catalog is meant to be
// populated once at bootstrap, and a silent overwrite would let two
// unrelated parts of a program fight over one module type string.
func Register[Req, Out any](c *ModuleCatalog, moduleType string, mod Module[Req, Out]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.reg[moduleType]; exists {
		return fmt.Errorf("rorchestrator: module type %q already registered", moduleType)
	}
	c.reg[moduleType] = registration{
		moduleType: moduleType,
		argsType:   typeToken[Req](),
		outType:    typeToken[Out](),
		invoke: func(ctx context.Context, id string, req any, with json.RawMessage, flow *FlowContext) anyOutcome {
			typedReq, ok := req.(Req)
			if !ok {
				return Error[any]("MODULE_REQUEST_TYPE_MISMATCH").erase()
			}
			mc := ModuleContext[Req]{ID: id, Type: moduleType, Request: typedReq, With: with, Flow: flow}
			return mod.Execute(ctx, mc).erase()
		},
	}
	return nil
}

// lookup returns the registration for moduleType, if any.
func (c *ModuleCatalog) lookup(moduleType string) (registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reg[moduleType]
	return r, ok
}

// ArgsType returns the registered request type token for moduleType,
// used by the plan compiler to validate flow/module type agreement.
func (c *ModuleCatalog) ArgsType(moduleType string) (string, bool) {
	r, ok := c.lookup(moduleType)
	if !ok {
		return "", false
	}
	return r.argsType, true
}

// OutType returns the registered output type token for moduleType.
func (c *ModuleCatalog) OutType(moduleType string) (string, bool) {
	r, ok := c.lookup(moduleType)
	if !ok {
		return "", false
	}
	return r.outType, true
}

// Has reports whether moduleType is registered.
func (c *ModuleCatalog) Has(moduleType string) bool {
	_, ok := c.lookup(moduleType)
	return ok
}
