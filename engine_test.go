package rorchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rorchestrator/rorchestrator/testingharness"
)

type scoreRequest struct {
	UserID string
	Region string
}

type scoreOut struct{ Value int }
type scoreResponse struct{ Total int }

func scoreSumJoin(results map[string]StepResult, _ *FlowContext) Outcome[scoreResponse] {
	total := 0
	for _, r := range results {
		if r.Outcome.Kind != KindOk {
			continue
		}
		if v, ok := r.Outcome.Payload.(scoreOut); ok {
			total += v.Value
		}
	}
	return Ok(scoreResponse{Total: total})
}

func newEngineFixture(t *testing.T) (*Engine, *ModuleCatalog, *testingharness.MockModule[scoreRequest, scoreOut]) {
	t.Helper()
	catalog := NewModuleCatalog()
	mock := testingharness.NewMockModule[scoreRequest, scoreOut](t, "scoring.mock")
	mock.WithOutcome(Ok(scoreOut{Value: 1}))
	if err := Register[scoreRequest, scoreOut](catalog, "scoring.mock", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}
	obs := NewObservability()
	eng := NewEngine(catalog, obs)
	return eng, catalog, mock
}

func compileScoreBlueprint(t *testing.T, catalog *ModuleCatalog, contract StageContract) *PlanTemplate[scoreRequest, scoreResponse] {
	t.Helper()
	b := NewFlowBlueprint[scoreRequest, scoreResponse]("scoring", catalog)
	b.Stage("compute", contract, map[Name]string{"primary": "scoring.mock"}, Join(scoreSumJoin))
	plan, err := Compile(b)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return plan
}

func newFlowContextWithPatch(flowName, patchJSON string) *FlowContext {
	provider := testingharness.NewStaticConfigProvider(&ConfigSnapshot{ConfigVersion: 1, PatchJSON: patchJSON})
	return NewFlowContext(context.Background(), flowName, provider)
}

func TestExecuteFanoutNoop(t *testing.T) {
	eng, catalog, mock := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(eng, plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 1 {
		t.Fatalf("expected Ok outcome with Total=1, got %+v", out)
	}
	testingharness.AssertInvoked(t, mock, 1)
}

func TestExecuteGateDenySkipsModule(t *testing.T) {
	eng, catalog, mock := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock","gate":{"requestAttr":{"field":"region","in":["eu"]}}}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch).WithRequestAttrs(map[string]string{"region": "us"})

	out := Execute(eng, plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 0 {
		t.Fatalf("expected Ok outcome with Total=0 (module skipped), got %+v", out)
	}
	testingharness.AssertNotInvoked(t, mock)
}

func TestExecuteShortCircuitStopsRemainingSteps(t *testing.T) {
	catalog := NewModuleCatalog()
	failing := testingharness.NewMockModule[scoreRequest, scoreOut](t, "failing")
	failing.WithOutcome(Error[scoreOut]("BOOM"))
	slow := testingharness.NewMockModule[scoreRequest, scoreOut](t, "slow")
	slow.WithOutcome(Ok(scoreOut{Value: 1})).WithDelay(time.Second)

	if err := Register[scoreRequest, scoreOut](catalog, "failing", failing); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register[scoreRequest, scoreOut](catalog, "slow", slow); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b := NewFlowBlueprint[scoreRequest, scoreResponse]("scoring", catalog)
	b.Stage("compute", StageContract{FailurePolicy: ShortCircuit}, map[Name]string{
		"a": "failing", "b": "slow",
	}, Join(scoreSumJoin))
	plan, err := Compile(b)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"a","use":"failing"},
		{"id":"b","use":"slow"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	start := time.Now()
	out := Execute(eng(catalog), plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 0 {
		t.Fatalf("expected the join to run with the failed step excluded and the slow step canceled (Total=0), got %+v", out)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("expected the failing step to cancel the slow step before its delay elapsed, took %v", elapsed)
	}
}

func eng(catalog *ModuleCatalog) *Engine {
	return NewEngine(catalog, NewObservability())
}

func TestExecuteContinuePolicyRunsAllSteps(t *testing.T) {
	catalog := NewModuleCatalog()
	failing := testingharness.NewMockModule[scoreRequest, scoreOut](t, "failing")
	failing.WithOutcome(Error[scoreOut]("BOOM"))
	ok := testingharness.NewMockModule[scoreRequest, scoreOut](t, "ok")
	ok.WithOutcome(Ok(scoreOut{Value: 3}))

	if err := Register[scoreRequest, scoreOut](catalog, "failing", failing); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register[scoreRequest, scoreOut](catalog, "ok", ok); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b := NewFlowBlueprint[scoreRequest, scoreResponse]("scoring", catalog)
	b.Stage("compute", StageContract{FailurePolicy: Continue}, map[Name]string{
		"a": "failing", "b": "ok",
	}, Join(scoreSumJoin))
	plan, err := Compile(b)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"a","use":"failing"},
		{"id":"b","use":"ok"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(NewEngine(catalog, NewObservability()), plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 3 {
		t.Fatalf("expected both steps to run under Continue policy, total=3, got %+v", out)
	}
	testingharness.AssertInvoked(t, ok, 1)
	testingharness.AssertInvoked(t, failing, 1)
}

func TestExecutePropagatesConfigUnavailable(t *testing.T) {
	eng, catalog, _ := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})
	fc := NewFlowContext(context.Background(), "scoring", nil)

	out := Execute(eng, plan, scoreRequest{}, fc)
	if out.Kind != KindError || out.Code != "CFG_UNAVAILABLE" {
		t.Fatalf("expected CFG_UNAVAILABLE, got %+v", out)
	}
}

func TestExecuteModulePanicBecomesModuleException(t *testing.T) {
	eng, catalog, mock := newEngineFixture(t)
	mock.WithPanic("kaboom")
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(eng, plan, scoreRequest{}, fc)
	if out.Kind != KindOk {
		// the join still runs under Continue; the panic only affects the
		// step's own outcome, which the join here simply omits from Total.
		t.Fatalf("expected the join to still complete, got %+v", out)
	}
	if out.Payload.Total != 0 {
		t.Errorf("panicked step should not contribute to the join total, got %+v", out.Payload)
	}
	if step, ok := fc.StageOutcome("primary"); !ok || step.Kind != KindError || step.Code != "MODULE_EXCEPTION" {
		t.Errorf("expected the panicked step to record Error(MODULE_EXCEPTION), got %+v ok=%v", step, ok)
	}
}

func TestExecuteHonorsConfigOverrideOfFanoutAndPolicy(t *testing.T) {
	catalog := NewModuleCatalog()
	mock := testingharness.NewMockModule[scoreRequest, scoreOut](t, "scoring.mock")
	mock.WithOutcome(Ok(scoreOut{Value: 1}))
	if err := Register[scoreRequest, scoreOut](catalog, "scoring.mock", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Blueprint declares only one step name, but the config patch may
	// list any number of runtime module instances against that stage —
	// the blueprint's Step declarations are checked against the catalog
	// at compile time and place no limit on the config's module list
	// (see blueprint.go).
	b := NewFlowBlueprint[scoreRequest, scoreResponse]("scoring", catalog)
	b.Stage("compute", StageContract{FailurePolicy: ShortCircuit, FanoutMax: 1}, map[Name]string{
		"primary": "scoring.mock",
	}, Join(scoreSumJoin))
	plan, err := Compile(b)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{
		"failurePolicy":"continue",
		"modules":[{"id":"primary","use":"scoring.mock"}]
	}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(NewEngine(catalog, NewObservability()), plan, scoreRequest{}, fc)
	if out.Kind != KindOk {
		t.Fatalf("expected Ok outcome, got %+v", out)
	}
}

func TestExecuteWithExplainRecordsSteps(t *testing.T) {
	eng, catalog, _ := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch).WithExplain()

	_ = Execute(eng, plan, scoreRequest{}, fc)
	records := fc.Explain().Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 explain records (1 step + 1 join), got %d: %+v", len(records), records)
	}
	if records[0].Kind != NodeStep || records[1].Kind != NodeJoin {
		t.Errorf("expected step record before join record, got %+v", records)
	}
}

func TestRunFindsAndExecutesRegisteredFlow(t *testing.T) {
	eng, catalog, _ := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	host := NewFlowHost()
	if err := RegisterPlan(host, plan); err != nil {
		t.Fatalf("RegisterPlan: %v", err)
	}

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out, err := Run[scoreRequest, scoreResponse](host, eng, "scoring", scoreRequest{}, fc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Kind != KindOk || out.Payload.Total != 1 {
		t.Fatalf("expected Ok outcome Total=1, got %+v", out)
	}

	if _, err := Run[scoreRequest, scoreResponse](host, eng, "missing", scoreRequest{}, fc); err == nil {
		t.Error("expected Run to error for an unregistered flow name")
	}
}

func TestRegisterPlanRejectsDuplicateFlowName(t *testing.T) {
	_, catalog, _ := newEngineFixture(t)
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})
	host := NewFlowHost()
	if err := RegisterPlan(host, plan); err != nil {
		t.Fatalf("RegisterPlan: %v", err)
	}
	if err := RegisterPlan(host, plan); err == nil {
		t.Error("expected RegisterPlan to reject a duplicate flow name")
	}
}

func TestExecuteModuleOwnTimeoutProducesModuleTimeout(t *testing.T) {
	catalog := NewModuleCatalog()
	slow := testingharness.NewMockModule[scoreRequest, scoreOut](t, "slow")
	slow.WithOutcome(Ok(scoreOut{Value: 1})).WithDelay(100 * time.Millisecond)
	if err := Register[scoreRequest, scoreOut](catalog, "slow", slow); err != nil {
		t.Fatalf("Register: %v", err)
	}

	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})
	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"slow","with":{"timeoutMs":5}}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(eng(catalog), plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 0 {
		t.Fatalf("expected the join to run with the timed-out step excluded (Total=0), got %+v", out)
	}
}

func TestExecuteModuleWithoutTimeoutConfigRunsNormally(t *testing.T) {
	eng, catalog, mock := newEngineFixture(t)
	mock.WithDelay(5 * time.Millisecond)
	_ = catalog
	plan := compileScoreBlueprint(t, catalog, StageContract{FailurePolicy: Continue})

	patch := `{"schemaVersion":"v1","flows":{"scoring":{"stages":{"compute":{"modules":[
		{"id":"primary","use":"scoring.mock"}
	]}}}}}`
	fc := newFlowContextWithPatch("scoring", patch)

	out := Execute(eng, plan, scoreRequest{UserID: "u1"}, fc)
	if out.Kind != KindOk || out.Payload.Total != 1 {
		t.Fatalf("expected the untimed step to complete normally, got %+v", out)
	}
}
