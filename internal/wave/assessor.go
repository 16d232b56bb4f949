// Package wave decides between single-pass and checkpointed multi-wave
// execution from a weighted complexity assessment.
package wave

import (
	"math"

	"github.com/forgelabs/chainforge/internal/config"
)

// Sub-score weights. They sum to exactly 1.0.
const (
	WeightChainComplexity     = 0.35
	WeightAgentCoordination   = 0.25
	WeightImplementationScale = 0.20
	WeightProjectContext      = 0.15
	WeightQualityRequirements = 0.05
)

// Weights returns the declared sub-score weights in order.
func Weights() []float64 {
	return []float64{
		WeightChainComplexity,
		WeightAgentCoordination,
		WeightImplementationScale,
		WeightProjectContext,
		WeightQualityRequirements,
	}
}

// Strategy names the chosen execution strategy.
type Strategy string

const (
	StrategySinglePass       Strategy = "single-pass"
	StrategyProgressive      Strategy = "progressive"
	StrategyContextDriven    Strategy = "context-driven"
	StrategyAgentCoordinated Strategy = "agent-coordinated"
	StrategyValidation       Strategy = "validation"
)

// Wave names one pass of a multi-wave stage execution.
type Wave string

const (
	WaveFoundation   Wave = "foundation"
	WaveEnhancement  Wave = "enhancement"
	WaveOptimization Wave = "optimization"
)

// MultiWaveOrder is the fixed wave sequence for multi-wave execution.
var MultiWaveOrder = []Wave{WaveFoundation, WaveEnhancement, WaveOptimization}

// Inputs are the five complexity signals, each in [0,1].
type Inputs struct {
	ChainComplexity     float64 `json:"chain_complexity"`
	AgentCoordination   float64 `json:"agent_coordination"`
	ImplementationScale float64 `json:"implementation_scale"`
	ProjectContext      float64 `json:"project_context"`
	QualityRequirements float64 `json:"quality_requirements"`
}

// Decision is the outcome of a complexity assessment. Computed once per run
// and recomputed only on a significant context change.
type Decision struct {
	Inputs    Inputs   `json:"inputs"`
	Score     float64  `json:"score"`
	MultiWave bool     `json:"multi_wave"`
	Strategy  Strategy `json:"strategy"`
}

// Waves returns the wave sequence this decision implies: the three-wave order
// for multi-wave execution, or a single foundation pass otherwise.
func (d Decision) Waves() []Wave {
	if d.MultiWave {
		return MultiWaveOrder
	}
	return []Wave{WaveFoundation}
}

// Assessor computes wave decisions against a configured threshold.
type Assessor struct {
	policy config.WavePolicy
}

// New creates an Assessor.
func New(policy config.WavePolicy) *Assessor {
	return &Assessor{policy: policy}
}

// Assess computes the wave score and strategy.
// score = 0.35*chain + 0.25*coordination + 0.20*scale + 0.15*context + 0.05*quality;
// score >= threshold enables multi-wave execution.
func (a *Assessor) Assess(in Inputs) Decision {
	score := clamp01(WeightChainComplexity*in.ChainComplexity +
		WeightAgentCoordination*in.AgentCoordination +
		WeightImplementationScale*in.ImplementationScale +
		WeightProjectContext*in.ProjectContext +
		WeightQualityRequirements*in.QualityRequirements)

	multi := score > a.policy.Threshold || math.Abs(score-a.policy.Threshold) < 1e-9

	return Decision{
		Inputs:    in,
		Score:     score,
		MultiWave: multi,
		Strategy:  pickStrategy(in, multi),
	}
}

// Flipped reports whether a re-assessment changes the multi-wave decision.
// A flip mid-run is a miscalculation warning: the current wave completes and
// the new decision applies from the next stage.
func Flipped(old, new_ Decision) bool {
	return old.MultiWave != new_.MultiWave
}

// pickStrategy selects the execution strategy from the dominant complexity
// signal. Single-pass runs keep the single-pass strategy regardless.
func pickStrategy(in Inputs, multi bool) Strategy {
	if !multi {
		return StrategySinglePass
	}

	type candidate struct {
		value    float64
		strategy Strategy
	}
	// Order breaks ties: chain complexity wins over coordination, and so on.
	candidates := []candidate{
		{in.ChainComplexity, StrategyProgressive},
		{in.AgentCoordination, StrategyAgentCoordinated},
		{in.ProjectContext, StrategyContextDriven},
		{in.QualityRequirements, StrategyValidation},
		{in.ImplementationScale, StrategyProgressive},
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.value > best.value {
			best = c
		}
	}
	return best.strategy
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
