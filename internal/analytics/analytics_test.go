package analytics

import (
	"path/filepath"
	"testing"

	"github.com/forgelabs/chainforge/internal/db"
)

func seededDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestQueryGatePassRates(t *testing.T) {
	d := seededDB(t)
	runs := []db.GateRun{
		{RunID: "r1", Stage: "trd", Attempt: 1, Gate: "security_review", Status: "failed", Score: 0.80, Threshold: 0.95, Required: true},
		{RunID: "r1", Stage: "trd", Attempt: 2, Gate: "security_review", Status: "passed", Score: 0.96, Threshold: 0.95, Required: true},
		{RunID: "r1", Stage: "prd", Attempt: 1, Gate: "completeness", Status: "passed", Score: 0.92, Threshold: 0.90, Required: true},
		{RunID: "r1", Stage: "prd", Attempt: 1, Gate: "consistency", Status: "blocked", Required: true},
	}
	for _, g := range runs {
		if err := d.LogGateRun(g); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	rates, err := QueryGatePassRates(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("rates = %+v, blocked gate should be excluded", rates)
	}
	// Sorted by gate name: completeness, security_review.
	if rates[0].Gate != "completeness" || rates[0].PassRate != 100 {
		t.Errorf("completeness = %+v", rates[0])
	}
	if rates[1].Gate != "security_review" || rates[1].Total != 2 || rates[1].PassRate != 50 {
		t.Errorf("security_review = %+v", rates[1])
	}
	if rates[1].AvgScore != 0.88 {
		t.Errorf("avg score = %v, want 0.88", rates[1].AvgScore)
	}
}

func TestQuerySpawnStats(t *testing.T) {
	d := seededDB(t)
	runs := []db.AgentRun{
		{RunID: "r1", Stage: "prd", Attempt: 1, InstanceID: "i1", Agent: "security", Domain: "security", Decision: "auto_spawn", State: "completed", Attempts: 1},
		{RunID: "r1", Stage: "trd", Attempt: 1, InstanceID: "i2", Agent: "security", Domain: "security", Decision: "auto_spawn", State: "failed", Attempts: 2},
		{RunID: "r2", Stage: "prd", Attempt: 1, InstanceID: "i3", Agent: "scribe", Domain: "documentation", Decision: "suggest", State: "completed", Attempts: 1},
	}
	for _, a := range runs {
		if err := d.LogAgentRun(a); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	stats, err := QuerySpawnStats(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Agent != "scribe" || stats[0].Suggested != 1 || stats[0].CompletionRate != 100 {
		t.Errorf("scribe = %+v", stats[0])
	}
	if stats[1].Agent != "security" || stats[1].AutoSpawned != 2 || stats[1].CompletionRate != 50 {
		t.Errorf("security = %+v", stats[1])
	}
}

func TestQueryRemediationRates(t *testing.T) {
	d := seededDB(t)
	events := []struct {
		event, stage string
	}{
		{db.EventStageAdvanced, "idea_definition"},
		{db.EventStageAdvanced, "prd"},
		{db.EventRemediation, "trd"},
		{db.EventStageAdvanced, "trd"},
	}
	for _, e := range events {
		if err := d.LogChainEvent("r1", e.event, e.stage, 1, ""); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	rates, err := QueryRemediationRates(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	byStage := map[string]RemediationRate{}
	for _, r := range rates {
		byStage[r.Stage] = r
	}
	if byStage["prd"].Rate != 0 {
		t.Errorf("prd = %+v", byStage["prd"])
	}
	if trd := byStage["trd"]; trd.Remediations != 1 || trd.Rate != 50 {
		t.Errorf("trd = %+v", trd)
	}
}

func TestQueryWaveSplit(t *testing.T) {
	d := seededDB(t)
	details := []string{
		"wave_score=0.82 multi_wave=true strategy=progressive",
		"wave_score=0.75 multi_wave=true strategy=progressive",
		"wave_score=0.31 multi_wave=false strategy=single-pass",
		"",
	}
	for i, detail := range details {
		if err := d.LogChainEvent(string(rune('a'+i)), db.EventRunCreated, "", 0, detail); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	split, err := QueryWaveSplit(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(split) != 3 {
		t.Fatalf("split = %+v", split)
	}
	if split[0].Strategy != "progressive" || split[0].Runs != 2 || split[0].Share != 50 {
		t.Errorf("progressive = %+v", split[0])
	}
	if split[1].Strategy != "single-pass" || split[1].Runs != 1 {
		t.Errorf("single-pass = %+v", split[1])
	}
	if split[2].Strategy != "unknown" || split[2].Runs != 1 {
		t.Errorf("unknown = %+v", split[2])
	}
}

func TestQueryServerPerformance(t *testing.T) {
	d := seededDB(t)
	samples := []struct {
		latency int
		success bool
	}{
		{10, true}, {20, true}, {30, true}, {40, false},
	}
	for _, s := range samples {
		if err := d.LogServerSample("docs-primary", s.latency, s.success); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	perf, err := QueryServerPerformance(d, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(perf) != 1 {
		t.Fatalf("perf = %+v", perf)
	}
	p := perf[0]
	if p.Samples != 4 || p.SuccessRate != 75 {
		t.Errorf("perf = %+v", p)
	}
	if p.P50LatencyMs != 25 {
		t.Errorf("p50 = %v, want 25", p.P50LatencyMs)
	}
}

func TestQueriesOnEmptyDatabase(t *testing.T) {
	d := seededDB(t)
	if rates, err := QueryGatePassRates(d, ""); err != nil || len(rates) != 0 {
		t.Errorf("gate rates = %+v, %v", rates, err)
	}
	if stats, err := QuerySpawnStats(d, ""); err != nil || len(stats) != 0 {
		t.Errorf("spawn stats = %+v, %v", stats, err)
	}
	if split, err := QueryWaveSplit(d, ""); err != nil || len(split) != 0 {
		t.Errorf("wave split = %+v, %v", split, err)
	}
	if perf, err := QueryServerPerformance(d, ""); err != nil || len(perf) != 0 {
		t.Errorf("server perf = %+v, %v", perf, err)
	}
}
