package rorchestrator

import (
	"context"
	"testing"
)

type catalogTestRequest struct{ Value string }
type catalogTestOut struct{ Score int }

func TestRegisterAndLookup(t *testing.T) {
	c := NewModuleCatalog()
	mod := ModuleFunc[catalogTestRequest, catalogTestOut](func(_ context.Context, mc ModuleContext[catalogTestRequest]) Outcome[catalogTestOut] {
		return Ok(catalogTestOut{Score: len(mc.Request.Value)})
	})

	if err := Register[catalogTestRequest, catalogTestOut](c, "scoring.length", mod); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !c.Has("scoring.length") {
		t.Error("expected catalog to report the registered module type as present")
	}
	if argsType, _ := c.ArgsType("scoring.length"); argsType != typeToken[catalogTestRequest]() {
		t.Errorf("ArgsType mismatch: got %q", argsType)
	}
	if outType, _ := c.OutType("scoring.length"); outType != typeToken[catalogTestOut]() {
		t.Errorf("OutType mismatch: got %q", outType)
	}
}

func TestRegisterDuplicateErrors(t *testing.T) {
	c := NewModuleCatalog()
	mod := ModuleFunc[catalogTestRequest, catalogTestOut](func(_ context.Context, _ ModuleContext[catalogTestRequest]) Outcome[catalogTestOut] {
		return Ok(catalogTestOut{})
	})
	if err := Register[catalogTestRequest, catalogTestOut](c, "dup", mod); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register[catalogTestRequest, catalogTestOut](c, "dup", mod); err == nil {
		t.Error("expected second Register with same module type to error")
	}
}

func TestRegistrationInvokeRejectsWrongRequestType(t *testing.T) {
	c := NewModuleCatalog()
	mod := ModuleFunc[catalogTestRequest, catalogTestOut](func(_ context.Context, _ ModuleContext[catalogTestRequest]) Outcome[catalogTestOut] {
		return Ok(catalogTestOut{Score: 1})
	})
	if err := Register[catalogTestRequest, catalogTestOut](c, "t", mod); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg, ok := c.lookup("t")
	if !ok {
		t.Fatal("expected lookup to find registered module type")
	}
	out := reg.invoke(context.Background(), "id-1", "wrong-type", nil, nil)
	if out.Kind != KindError || out.Code != "MODULE_REQUEST_TYPE_MISMATCH" {
		t.Errorf("expected MODULE_REQUEST_TYPE_MISMATCH, got %+v", out)
	}
}

func TestLookupMissing(t *testing.T) {
	c := NewModuleCatalog()
	if _, ok := c.lookup("nope"); ok {
		t.Error("expected lookup of unregistered module type to fail")
	}
	if c.Has("nope") {
		t.Error("expected Has to report false for unregistered module type")
	}
}
