package wave

import (
	"math"
	"testing"

	"github.com/forgelabs/chainforge/internal/config"
)

func defaultPolicy() config.WavePolicy {
	return config.WavePolicy{Threshold: 0.70, RedetectThreshold: 0.15}
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

// Scenario: chainComplexity=0.9, agentCoordination=0.8, implementationScale=0.6,
// projectContext=0.5, qualityRequirements=0.3 yields 0.725 >= 0.7 and enables
// multi-wave execution.
func TestMultiWaveScenario(t *testing.T) {
	a := New(defaultPolicy())
	d := a.Assess(Inputs{
		ChainComplexity:     0.9,
		AgentCoordination:   0.8,
		ImplementationScale: 0.6,
		ProjectContext:      0.5,
		QualityRequirements: 0.3,
	})

	if math.Abs(d.Score-0.725) > 1e-9 {
		t.Errorf("score = %v, want 0.725", d.Score)
	}
	if !d.MultiWave {
		t.Error("score 0.725 should enable multi-wave execution")
	}
	if got := d.Waves(); len(got) != 3 || got[0] != WaveFoundation || got[2] != WaveOptimization {
		t.Errorf("waves = %v, want foundation/enhancement/optimization", got)
	}
	// Chain complexity dominates the inputs.
	if d.Strategy != StrategyProgressive {
		t.Errorf("strategy = %s, want progressive", d.Strategy)
	}
}

func TestSinglePassBelowThreshold(t *testing.T) {
	a := New(defaultPolicy())
	d := a.Assess(Inputs{
		ChainComplexity:     0.4,
		AgentCoordination:   0.3,
		ImplementationScale: 0.2,
		ProjectContext:      0.2,
		QualityRequirements: 0.1,
	})
	if d.MultiWave {
		t.Errorf("score %v should stay single-pass", d.Score)
	}
	if d.Strategy != StrategySinglePass {
		t.Errorf("strategy = %s, want single-pass", d.Strategy)
	}
	if got := d.Waves(); len(got) != 1 {
		t.Errorf("single-pass waves = %v, want one wave", got)
	}
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	a := New(defaultPolicy())
	// 0.35*1 + 0.25*1 + 0.20*0.5 + 0.15*0 + 0.05*0 = 0.70 exactly.
	d := a.Assess(Inputs{ChainComplexity: 1, AgentCoordination: 1, ImplementationScale: 0.5})
	if math.Abs(d.Score-0.70) > 1e-9 {
		t.Fatalf("constructed score = %v, want 0.70", d.Score)
	}
	if !d.MultiWave {
		t.Error("score exactly at threshold should enable multi-wave")
	}
}

func TestDominantSignalPicksStrategy(t *testing.T) {
	a := New(defaultPolicy())
	tests := []struct {
		name string
		in   Inputs
		want Strategy
	}{
		{
			"coordination dominates",
			Inputs{ChainComplexity: 0.7, AgentCoordination: 0.95, ImplementationScale: 0.7, ProjectContext: 0.6, QualityRequirements: 0.5},
			StrategyAgentCoordinated,
		},
		{
			"context dominates",
			Inputs{ChainComplexity: 0.7, AgentCoordination: 0.6, ImplementationScale: 0.7, ProjectContext: 0.99, QualityRequirements: 0.5},
			StrategyContextDriven,
		},
		{
			"quality dominates",
			Inputs{ChainComplexity: 0.7, AgentCoordination: 0.7, ImplementationScale: 0.7, ProjectContext: 0.7, QualityRequirements: 1.0},
			StrategyValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := a.Assess(tt.in)
			if !d.MultiWave {
				t.Fatalf("inputs should cross the threshold, score = %v", d.Score)
			}
			if d.Strategy != tt.want {
				t.Errorf("strategy = %s, want %s", d.Strategy, tt.want)
			}
		})
	}
}

func TestFlipped(t *testing.T) {
	a := New(defaultPolicy())
	low := a.Assess(Inputs{ChainComplexity: 0.2})
	high := a.Assess(Inputs{ChainComplexity: 1, AgentCoordination: 1, ImplementationScale: 1})
	if !Flipped(low, high) {
		t.Error("decisions with different modes should flip")
	}
	if Flipped(low, low) {
		t.Error("identical decisions should not flip")
	}
}
