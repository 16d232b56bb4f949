package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestChainEvents(t *testing.T) {
	d := openTestDB(t)

	if err := d.LogChainEvent("run-1", EventRunCreated, "", 0, "idea: todo app"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogChainEvent("run-1", EventStageStarted, "idea_definition", 1, ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogChainEvent("run-2", EventRunCreated, "", 0, ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	events, err := d.GetChainEvents("run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Event != EventRunCreated || events[1].Stage != "idea_definition" {
		t.Errorf("events = %+v", events)
	}
}

func TestGateRuns(t *testing.T) {
	d := openTestDB(t)

	runs := []GateRun{
		{RunID: "run-1", Stage: "trd", Attempt: 1, Gate: "security_review", Status: "failed", Score: 0.80, Threshold: 0.95, Required: true, DurationMs: 120, Summary: "below threshold"},
		{RunID: "run-1", Stage: "trd", Attempt: 2, Gate: "security_review", Status: "passed", Score: 0.97, Threshold: 0.95, Required: true, Cached: false},
	}
	for _, g := range runs {
		if err := d.LogGateRun(g); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	got, err := d.GetGateRuns("run-1", "trd")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("runs = %d", len(got))
	}
	if got[0].Status != "failed" || got[0].Score != 0.80 || !got[0].Required {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Status != "passed" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestGateRunRejectsUnknownStatus(t *testing.T) {
	d := openTestDB(t)
	err := d.LogGateRun(GateRun{RunID: "r", Stage: "prd", Attempt: 1, Gate: "clarity", Status: "maybe"})
	if err == nil {
		t.Error("unknown status should violate the check constraint")
	}
}

func TestAgentRuns(t *testing.T) {
	d := openTestDB(t)

	a := AgentRun{
		RunID: "run-1", Stage: "prd", Attempt: 1,
		InstanceID: "inst-1", Agent: "security", Domain: "security",
		Decision: "auto_spawn", State: "completed", Attempts: 2, DurationMs: 900, Findings: 3,
	}
	if err := d.LogAgentRun(a); err != nil {
		t.Fatalf("log: %v", err)
	}

	got, err := d.GetAgentRuns("run-1", "prd")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("runs = %d", len(got))
	}
	if got[0].Agent != "security" || got[0].Attempts != 2 || got[0].Findings != 3 {
		t.Errorf("run = %+v", got[0])
	}
}

func TestServerSamples(t *testing.T) {
	d := openTestDB(t)

	if err := d.LogServerSample("docs-primary", 42, true); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogServerSample("docs-primary", 800, false); err != nil {
		t.Fatalf("log: %v", err)
	}

	var count int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM server_samples WHERE server_id = ?", "docs-primary").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("samples = %d", count)
	}
}

func TestReset(t *testing.T) {
	d := openTestDB(t)
	if err := d.LogChainEvent("run-1", EventRunCreated, "", 0, ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	events, err := d.GetChainEvents("run-1")
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after reset = %d", len(events))
	}
}
