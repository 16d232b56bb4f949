package scoring

import (
	"math"
	"testing"

	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/config"
)

func defaultPolicy() config.ScoringPolicy {
	return config.ScoringPolicy{
		AutoSpawnThreshold: 0.85,
		SuggestThreshold:   0.70,
		BoundaryPolicy:     "inclusive",
	}
}

func frontendAgent() config.Agent {
	return config.Agent{
		ID:             "frontend",
		Domain:         "frontend",
		Priority:       30,
		DomainKeywords: []string{"component", "react", "css"},
		DirPatterns:    []string{"components", "pages"},
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range Weights() {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weights sum = %v, want 1.0", sum)
	}
}

func TestTotalInUnitRange(t *testing.T) {
	e := NewEngine([]config.Agent{frontendAgent()}, defaultPolicy())
	stage := &config.Stage{
		ID:          "prd",
		AgentPolicy: config.AgentPolicy{RequirementTags: []string{"frontend"}},
	}
	pctx := &analyzer.ProjectContext{Scores: map[analyzer.Domain]float64{analyzer.DomainFrontend: 1.0}}
	results := e.Score(stage, "component react css /components/", pctx, Prefs{Preferred: []string{"frontend"}})
	for _, r := range results {
		if r.Total < 0 || r.Total > 1 {
			t.Errorf("total %v out of [0,1]", r.Total)
		}
	}
}

// bucketEngine scores exactly at a chosen total by driving the sub-scores.
// total = 0.40*sr + 0.35*c + 0.15*ctx + 0.10*p
func scoreTotal(t *testing.T, e *Engine, sr, content, ctx, pref float64) Result {
	t.Helper()
	r := Result{
		StageRequirement: sr,
		ContentAnalysis:  content,
		ContextAlignment: ctx,
		Preference:       pref,
	}
	r.Total = WeightStageRequirement*sr + WeightContentAnalysis*content +
		WeightContextAlignment*ctx + WeightPreference*pref
	r.Decision, r.BoundaryTie = e.bucket(r.Total)
	return r
}

func TestBucketBoundaries(t *testing.T) {
	e := NewEngine(nil, defaultPolicy())

	// Exactly 0.85: auto-spawn under the inclusive policy.
	// 0.40*1 + 0.35*1 + 0.15*(2/3) + 0.10*0 = 0.85
	r := scoreTotal(t, e, 1, 1, 2.0/3.0, 0)
	if math.Abs(r.Total-0.85) > 1e-9 {
		t.Fatalf("constructed total = %v, want 0.85", r.Total)
	}
	if r.Decision != DecisionAutoSpawn {
		t.Errorf("total 0.85 decision = %s, want auto_spawn", r.Decision)
	}
	if !r.BoundaryTie {
		t.Error("exact boundary should be flagged as a tie")
	}

	// Exactly 0.70: suggested, not auto-spawned.
	// 0.40*1 + 0.35*0 + 0.15*2 is out of range; use 0.40*1 + 0.35*6/7 = 0.70
	r = scoreTotal(t, e, 1, 6.0/7.0, 0, 0)
	if math.Abs(r.Total-0.70) > 1e-9 {
		t.Fatalf("constructed total = %v, want 0.70", r.Total)
	}
	if r.Decision != DecisionSuggest {
		t.Errorf("total 0.70 decision = %s, want suggest", r.Decision)
	}

	// 0.6999: skipped.
	r = scoreTotal(t, e, 0.6999/0.40, 0, 0, 0)
	if r.Decision != DecisionSkip {
		t.Errorf("total %.4f decision = %s, want skip", r.Total, r.Decision)
	}
}

func TestExclusiveBoundaryPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.BoundaryPolicy = "exclusive"
	e := NewEngine(nil, policy)

	r := scoreTotal(t, e, 1, 1, 2.0/3.0, 0) // exactly 0.85
	if r.Decision != DecisionSuggest {
		t.Errorf("exclusive policy at 0.85 = %s, want suggest", r.Decision)
	}
}

// Scenario: content keywords ["component","react"] plus a /components/
// directory make the frontend agent's content and context sub-scores dominate
// and push it into auto-spawn.
func TestFrontendAutoSpawnScenario(t *testing.T) {
	backend := config.Agent{
		ID:             "backend",
		Domain:         "backend",
		Priority:       20,
		DomainKeywords: []string{"api", "database"},
	}
	e := NewEngine([]config.Agent{backend, frontendAgent()}, defaultPolicy())

	stage := &config.Stage{
		ID:          "trd",
		AgentPolicy: config.AgentPolicy{RequirementTags: []string{"frontend"}},
	}
	pctx := &analyzer.ProjectContext{Scores: map[analyzer.Domain]float64{
		analyzer.DomainFrontend: 0.82,
		analyzer.DomainBackend:  0.31,
	}}
	content := "Build a react component library under /components/ with shared state."

	results := e.Score(stage, content, pctx, Prefs{})

	if results[0].AgentID != "frontend" {
		t.Fatalf("top result = %s, want frontend", results[0].AgentID)
	}
	fe := results[0]
	if fe.ContentAnalysis < 1.0 {
		t.Errorf("content sub-score = %v, want saturated 1.0", fe.ContentAnalysis)
	}
	if fe.Total < 0.85 {
		t.Errorf("frontend total = %v, want >= 0.85", fe.Total)
	}
	if fe.Decision != DecisionAutoSpawn {
		t.Errorf("frontend decision = %s, want auto_spawn", fe.Decision)
	}

	for _, r := range results[1:] {
		if r.AgentID == "backend" && r.Decision == DecisionAutoSpawn {
			t.Errorf("backend should not auto-spawn, total = %v", r.Total)
		}
	}
}

func TestPreferenceAndAvoidance(t *testing.T) {
	a := frontendAgent()
	e := NewEngine([]config.Agent{a}, defaultPolicy())
	stage := &config.Stage{ID: "prd"}
	pctx := &analyzer.ProjectContext{Scores: map[analyzer.Domain]float64{}}

	avoided := e.Score(stage, "", pctx, Prefs{Avoided: []string{"frontend"}})
	preferred := e.Score(stage, "", pctx, Prefs{Preferred: []string{"frontend"}})
	if avoided[0].Preference != 0 {
		t.Errorf("avoided preference = %v, want 0", avoided[0].Preference)
	}
	if preferred[0].Preference != 1 {
		t.Errorf("preferred preference = %v, want 1", preferred[0].Preference)
	}
}

func TestResultsNotMutatedByStage(t *testing.T) {
	// A stage with no requirement tags yields zero stage requirement for all.
	e := NewEngine([]config.Agent{frontendAgent()}, defaultPolicy())
	pctx := &analyzer.ProjectContext{Scores: map[analyzer.Domain]float64{}}
	results := e.Score(&config.Stage{ID: "idea_definition"}, "", pctx, Prefs{})
	if results[0].StageRequirement != 0 {
		t.Errorf("stage requirement = %v, want 0", results[0].StageRequirement)
	}
	if results[0].Decision != DecisionSkip {
		t.Errorf("decision = %s, want skip", results[0].Decision)
	}
}
