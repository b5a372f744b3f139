package rorchestrator

import "testing"

func TestDiffPatchDetectsAddedModule(t *testing.T) {
	old := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[
		{"id":"m1","use":"a"}
	]}}}}}`
	next := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[
		{"id":"m1","use":"a"},
		{"id":"m2","use":"b"}
	]}}}}}`
	entries, err := DiffPatch(old, next)
	if err != nil {
		t.Fatalf("DiffPatch: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Op == DiffAdd && e.New == "b" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an add entry for module m2, got %+v", entries)
	}
}

func TestDiffPatchDetectsRemovedModule(t *testing.T) {
	old := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[
		{"id":"m1","use":"a"},
		{"id":"m2","use":"b"}
	]}}}}}`
	next := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[
		{"id":"m1","use":"a"}
	]}}}}}`
	entries, err := DiffPatch(old, next)
	if err != nil {
		t.Fatalf("DiffPatch: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Op == DiffRemove && e.Old == "b" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a remove entry for module m2, got %+v", entries)
	}
}

func TestDiffPatchDetectsChangedFanoutMax(t *testing.T) {
	old := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"fanoutMax":2,"modules":[{"id":"m1","use":"a"}]}}}}}`
	next := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"fanoutMax":4,"modules":[{"id":"m1","use":"a"}]}}}}}`
	entries, err := DiffPatch(old, next)
	if err != nil {
		t.Fatalf("DiffPatch: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Op == DiffChange && e.Path == "f.s.fanoutMax" && e.Old == "2" && e.New == "4" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a change entry for fanoutMax, got %+v", entries)
	}
}

func TestDiffPatchNoChangesYieldsNoEntries(t *testing.T) {
	doc := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[{"id":"m1","use":"a"}]}}}}}`
	entries, err := DiffPatch(doc, doc)
	if err != nil {
		t.Fatalf("DiffPatch: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no diff entries for identical documents, got %+v", entries)
	}
}

func TestDiffPatchInvalidDocumentErrors(t *testing.T) {
	if _, err := DiffPatch(`not json`, `{"schemaVersion":"v1"}`); err == nil {
		t.Error("expected DiffPatch to error on an invalid old document")
	}
}

func TestExplainPatchUnknownFlow(t *testing.T) {
	patch, finding := ParsePatch(`{"schemaVersion":"v1"}`, nil, nil)
	if finding != nil {
		t.Fatalf("ParsePatch: %+v", finding)
	}
	if _, ok := ExplainPatch("missing", patch); ok {
		t.Error("expected ExplainPatch to report ok=false for an unknown flow")
	}
}

func TestExplainPatchListsModules(t *testing.T) {
	doc := `{"schemaVersion":"v1","flows":{"f":{"stages":{"s":{"modules":[{"id":"m1","use":"a"}]}}}}}`
	patch, finding := ParsePatch(doc, nil, nil)
	if finding != nil {
		t.Fatalf("ParsePatch: %+v", finding)
	}
	explain, ok := ExplainPatch("f", patch)
	if !ok {
		t.Fatal("expected ExplainPatch to find flow 'f'")
	}
	if len(explain.Stages) != 1 || len(explain.Stages[0].Modules) != 1 {
		t.Errorf("expected 1 stage with 1 module, got %+v", explain)
	}
}
