// Package scoring computes spawn-worthiness scores for candidate agents at
// each stage entry. Scores are computed fresh per stage and not persisted
// beyond the spawn decision.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/config"
)

// Sub-score weights. They sum to exactly 1.0.
const (
	WeightStageRequirement = 0.40
	WeightContentAnalysis  = 0.35
	WeightContextAlignment = 0.15
	WeightPreference       = 0.10
)

// Weights returns the declared sub-score weights in order.
func Weights() []float64 {
	return []float64{
		WeightStageRequirement,
		WeightContentAnalysis,
		WeightContextAlignment,
		WeightPreference,
	}
}

// Decision is the spawn bucket for a scored agent.
type Decision string

const (
	DecisionAutoSpawn Decision = "auto_spawn"
	DecisionSuggest   Decision = "suggest"
	DecisionSkip      Decision = "skip"
)

// Result is the outcome of scoring one agent descriptor for a stage.
type Result struct {
	AgentID          string   `json:"agent_id"`
	Domain           string   `json:"domain"`
	Priority         int      `json:"priority"`
	StageRequirement float64  `json:"stage_requirement"`
	ContentAnalysis  float64  `json:"content_analysis"`
	ContextAlignment float64  `json:"context_alignment"`
	Preference       float64  `json:"preference"`
	Total            float64  `json:"total"`
	Decision         Decision `json:"decision"`
	// BoundaryTie is set when the total lands exactly on a bucket boundary.
	// Informational only; the boundary policy resolves the tie.
	BoundaryTie bool `json:"boundary_tie,omitempty"`
}

// Prefs carries the caller's explicit agent preferences.
type Prefs struct {
	Preferred []string
	Avoided   []string
}

// Engine scores registered agent descriptors against a stage.
type Engine struct {
	agents []config.Agent
	policy config.ScoringPolicy
}

// NewEngine creates an Engine over the configured agent descriptors.
func NewEngine(agents []config.Agent, policy config.ScoringPolicy) *Engine {
	return &Engine{agents: agents, policy: policy}
}

// contentSaturation is the distinct-signal count at which the content
// sub-score reaches 1.0.
const contentSaturation = 2.0

// Score computes one Result per registered descriptor for the given stage.
// total = 0.40*stageReq + 0.35*content + 0.15*context + 0.10*pref.
// Results are ordered by total descending, then descriptor priority.
func (e *Engine) Score(stage *config.Stage, content string, pctx *analyzer.ProjectContext, prefs Prefs) []Result {
	results := make([]Result, 0, len(e.agents))
	for i := range e.agents {
		a := &e.agents[i]
		r := Result{
			AgentID:          a.ID,
			Domain:           a.Domain,
			Priority:         a.Priority,
			StageRequirement: stageRequirementScore(stage, a),
			ContentAnalysis:  contentScore(content, a),
			ContextAlignment: pctx.Score(analyzer.Domain(a.Domain)),
			Preference:       preferenceScore(prefs, a),
		}
		r.Total = clamp01(WeightStageRequirement*r.StageRequirement +
			WeightContentAnalysis*r.ContentAnalysis +
			WeightContextAlignment*r.ContextAlignment +
			WeightPreference*r.Preference)
		r.Decision, r.BoundaryTie = e.bucket(r.Total)
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Total != results[j].Total {
			return results[i].Total > results[j].Total
		}
		if results[i].Priority != results[j].Priority {
			return results[i].Priority < results[j].Priority
		}
		return results[i].AgentID < results[j].AgentID
	})
	return results
}

// bucket maps a total score onto a spawn decision. The comparison at the
// bucket boundary follows the configured policy; the source requirements are
// inconsistent here, so inclusive (>=) is the default and exact boundary hits
// are flagged for logging.
func (e *Engine) bucket(total float64) (Decision, bool) {
	auto := e.policy.AutoSpawnThreshold
	suggest := e.policy.SuggestThreshold
	tie := floatEq(total, auto) || floatEq(total, suggest)

	meets := func(threshold float64) bool {
		if e.policy.BoundaryPolicy == "exclusive" {
			return total > threshold && !floatEq(total, threshold)
		}
		return total > threshold || floatEq(total, threshold)
	}

	switch {
	case meets(auto):
		return DecisionAutoSpawn, tie
	case meets(suggest):
		return DecisionSuggest, tie
	default:
		return DecisionSkip, tie
	}
}

// stageRequirementScore reflects how explicitly the stage asks for the agent:
// a requirement tag match scores 1.0, an optional-agent listing 0.5.
func stageRequirementScore(stage *config.Stage, a *config.Agent) float64 {
	if stage == nil {
		return 0
	}
	for _, tag := range stage.AgentPolicy.RequirementTags {
		if tag == a.ID || tag == a.Domain {
			return 1.0
		}
	}
	for _, opt := range stage.AgentPolicy.OptionalAgents {
		if opt == a.ID {
			return 0.5
		}
	}
	return 0
}

// contentScore is a saturating count of distinct descriptor signals (domain
// keywords and directory patterns) present in the stage content.
func contentScore(content string, a *config.Agent) float64 {
	if content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	distinct := 0.0
	for _, kw := range a.DomainKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			distinct++
		}
	}
	for _, dir := range a.DirPatterns {
		if strings.Contains(lower, "/"+strings.ToLower(dir)+"/") {
			distinct++
		}
	}
	return clamp01(distinct / contentSaturation)
}

func preferenceScore(prefs Prefs, a *config.Agent) float64 {
	for _, id := range prefs.Avoided {
		if id == a.ID {
			return 0
		}
	}
	for _, id := range prefs.Preferred {
		if id == a.ID {
			return 1.0
		}
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
