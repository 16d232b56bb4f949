package gate

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/forgelabs/chainforge/internal/config"
)

// stubChecker returns a fixed score and counts invocations.
type stubChecker struct {
	score float64
	calls atomic.Int64
}

func (s *stubChecker) Check(_ context.Context, _ string, _ config.Gate, _ Input) (float64, string, error) {
	s.calls.Add(1)
	return s.score, "stubbed", nil
}

// scoreByGate returns per-gate scores from a map.
type scoreByGate map[string]float64

func (s scoreByGate) Check(_ context.Context, gateID string, _ config.Gate, _ Input) (float64, string, error) {
	return s[gateID], "stubbed", nil
}

func newFramework(t *testing.T, gates map[string]config.Gate, checkers map[string]Checker) *Framework {
	t.Helper()
	f, err := NewFramework(gates, checkers, nil)
	if err != nil {
		t.Fatalf("new framework: %v", err)
	}
	return f
}

func TestRunRequiredFailureBlocks(t *testing.T) {
	gates := map[string]config.Gate{
		"security_review": {Threshold: 0.95, Checker: "stub"},
		"feasibility":     {Threshold: 0.70, Checker: "stub"},
	}
	f := newFramework(t, gates, map[string]Checker{
		"stub": scoreByGate{"security_review": 0.80, "feasibility": 0.90},
	})
	stage := config.Stage{ID: "trd", RequiredGates: []string{"security_review", "feasibility"}}

	report, err := f.Run(context.Background(), stage, 1, Input{Stage: "trd", Content: "design"}, StrategySequential)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passed || !report.Blocked {
		t.Errorf("passed=%v blocked=%v, want failed and blocked", report.Passed, report.Blocked)
	}

	sec := report.Result("security_review")
	if sec == nil || sec.Status != StatusFailed {
		t.Fatalf("security_review result = %+v, want failed", sec)
	}
	if sec.Score != 0.80 || sec.Threshold != 0.95 {
		t.Errorf("score/threshold = %v/%v", sec.Score, sec.Threshold)
	}
	// Sequential stops at the required failure; later gates never run.
	if feas := report.Result("feasibility"); feas.Status != StatusBlocked {
		t.Errorf("feasibility status = %s, want blocked", feas.Status)
	}
	if fails := report.Failures(); len(fails) != 2 {
		t.Errorf("failures = %v", fails)
	}
}

func TestRunSequentialStopsAtRequiredFailure(t *testing.T) {
	failing := &stubChecker{score: 0.0}
	later := &stubChecker{score: 1.0}
	gates := map[string]config.Gate{
		"first":  {Threshold: 0.70, Checker: "failing"},
		"second": {Threshold: 0.50, Checker: "later"},
		"third":  {Threshold: 0.50, Checker: "later"},
	}
	f := newFramework(t, gates, map[string]Checker{"failing": failing, "later": later})
	stage := config.Stage{ID: "prd", RequiredGates: []string{"first", "second"}, OptionalGates: []string{"third"}}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "draft"}, StrategySequential)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if later.calls.Load() != 0 {
		t.Errorf("%d gates ran after the required failure, want 0", later.calls.Load())
	}
	for _, name := range []string{"second", "third"} {
		if res := report.Result(name); res.Status != StatusBlocked {
			t.Errorf("%s status = %s, want blocked", name, res.Status)
		}
	}
	if !report.Blocked {
		t.Error("report should be blocked")
	}
}

func TestRunOptionalFailureDegradesToWarning(t *testing.T) {
	gates := map[string]config.Gate{
		"clarity":   {Threshold: 0.70, Checker: "stub"},
		"ambiguity": {Threshold: 0.90, Checker: "stub"},
		"scope":     {Threshold: 0.90, Checker: "stub"},
	}
	f := newFramework(t, gates, map[string]Checker{
		"stub": scoreByGate{"clarity": 0.95, "ambiguity": 0.87, "scope": 0.50},
	})
	stage := config.Stage{
		ID:            "idea_definition",
		RequiredGates: []string{"clarity"},
		OptionalGates: []string{"ambiguity", "scope"},
	}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "idea"}, StrategySequential)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed || report.Blocked {
		t.Errorf("passed=%v blocked=%v, optional failures must not block", report.Passed, report.Blocked)
	}
	// Any optional shortfall degrades to a warning, however far below.
	if amb := report.Result("ambiguity"); amb.Status != StatusWarning {
		t.Errorf("ambiguity status = %s, want warning", amb.Status)
	}
	if sc := report.Result("scope"); sc.Status != StatusWarning {
		t.Errorf("scope status = %s, want warning", sc.Status)
	}
}

func TestRunThresholdIsInclusive(t *testing.T) {
	gates := map[string]config.Gate{"clarity": {Threshold: 0.70, Checker: "stub"}}
	f := newFramework(t, gates, map[string]Checker{"stub": &stubChecker{score: 0.70}})
	stage := config.Stage{ID: "idea_definition", RequiredGates: []string{"clarity"}}

	report, _ := f.Run(context.Background(), stage, 1, Input{Content: "x"}, StrategySequential)
	if got := report.Result("clarity").Status; got != StatusPassed {
		t.Errorf("status at exact threshold = %s, want passed", got)
	}
}

func TestRunBlocksDependentOfFailedGate(t *testing.T) {
	gates := map[string]config.Gate{
		"completeness": {Threshold: 0.90, Checker: "stub"},
		"consistency":  {Threshold: 0.70, Checker: "stub", DependsOn: []string{"completeness"}},
	}
	f := newFramework(t, gates, map[string]Checker{
		"stub": scoreByGate{"completeness": 0.40, "consistency": 1.0},
	})
	stage := config.Stage{ID: "prd", RequiredGates: []string{"completeness", "consistency"}}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "prd text"}, StrategyParallel)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cons := report.Result("consistency")
	if cons.Status != StatusBlocked {
		t.Errorf("consistency status = %s, want blocked", cons.Status)
	}
	if cons.Score != 0 {
		t.Errorf("blocked gate should not have run, score = %v", cons.Score)
	}
	if !report.Blocked {
		t.Error("report should be blocked")
	}
}

func TestRunDependencyOrderingUnderParallel(t *testing.T) {
	gates := map[string]config.Gate{
		"completeness": {Threshold: 0.50, Checker: "stub"},
		"consistency":  {Threshold: 0.50, Checker: "stub", DependsOn: []string{"completeness"}},
		"scope":        {Threshold: 0.50, Checker: "stub"},
	}
	f := newFramework(t, gates, map[string]Checker{"stub": &stubChecker{score: 0.9}})
	stage := config.Stage{ID: "prd", RequiredGates: []string{"completeness", "consistency", "scope"}}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "prd"}, StrategyParallel)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed {
		t.Errorf("report = %+v, want all passed", report)
	}
	if len(report.Results) != 3 {
		t.Errorf("results = %d, want 3", len(report.Results))
	}
}

func TestRunCachesIdenticalInput(t *testing.T) {
	stub := &stubChecker{score: 0.9}
	gates := map[string]config.Gate{"clarity": {Threshold: 0.70, Checker: "stub"}}
	f := newFramework(t, gates, map[string]Checker{"stub": stub})
	stage := config.Stage{ID: "idea_definition", RequiredGates: []string{"clarity"}}
	in := Input{Stage: "idea_definition", Content: "same output"}

	first, _ := f.Run(context.Background(), stage, 1, in, StrategySequential)
	if first.Result("clarity").Cached {
		t.Error("first run should not be cached")
	}

	second, _ := f.Run(context.Background(), stage, 2, in, StrategySequential)
	if !second.Result("clarity").Cached {
		t.Error("second run with identical input should hit the cache")
	}
	if stub.calls.Load() != 1 {
		t.Errorf("checker ran %d times, want 1", stub.calls.Load())
	}

	// Different content misses the cache.
	_, _ = f.Run(context.Background(), stage, 3, Input{Stage: "idea_definition", Content: "revised output"}, StrategySequential)
	if stub.calls.Load() != 2 {
		t.Errorf("checker ran %d times after new content, want 2", stub.calls.Load())
	}
}

func TestRunVersionSaltInvalidatesCache(t *testing.T) {
	stub := &stubChecker{score: 0.9}
	gates := map[string]config.Gate{"clarity": {Threshold: 0.70, Checker: "stub"}}
	f := newFramework(t, gates, map[string]Checker{"stub": stub})
	stage := config.Stage{ID: "idea_definition", RequiredGates: []string{"clarity"}}
	in := Input{Content: "output"}

	_, _ = f.Run(context.Background(), stage, 1, in, StrategySequential)
	f.SetVersionSalt("tooling-v2")
	_, _ = f.Run(context.Background(), stage, 1, in, StrategySequential)
	if stub.calls.Load() != 2 {
		t.Errorf("checker ran %d times, salt change should invalidate", stub.calls.Load())
	}
}

func TestRunAdaptiveRunsOptionalAfterRequiredPass(t *testing.T) {
	gates := map[string]config.Gate{
		"clarity":   {Threshold: 0.70, Checker: "stub"},
		"ambiguity": {Threshold: 0.50, Checker: "stub"},
		"scope":     {Threshold: 0.50, Checker: "stub"},
	}
	f := newFramework(t, gates, map[string]Checker{"stub": &stubChecker{score: 0.9}})
	stage := config.Stage{
		ID:            "idea_definition",
		RequiredGates: []string{"clarity"},
		OptionalGates: []string{"ambiguity", "scope"},
	}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "idea"}, StrategyAdaptive)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Strategy != StrategyAdaptive {
		t.Errorf("strategy = %s, want adaptive", report.Strategy)
	}
	if !report.Passed || len(report.Results) != 3 {
		t.Errorf("report = %+v, want 3 passed results", report)
	}
	for _, res := range report.Results {
		if res.Status != StatusPassed {
			t.Errorf("%s status = %s, want passed", res.Gate, res.Status)
		}
	}
}

func TestRunAdaptiveSkipsOptionalOnRequiredFailure(t *testing.T) {
	optional := &stubChecker{score: 1.0}
	gates := map[string]config.Gate{
		"clarity":   {Threshold: 0.70, Checker: "failing"},
		"ambiguity": {Threshold: 0.50, Checker: "optional"},
	}
	f := newFramework(t, gates, map[string]Checker{
		"failing":  &stubChecker{score: 0.1},
		"optional": optional,
	})
	stage := config.Stage{
		ID:            "idea_definition",
		RequiredGates: []string{"clarity"},
		OptionalGates: []string{"ambiguity"},
	}

	report, err := f.Run(context.Background(), stage, 1, Input{Content: "idea"}, StrategyAdaptive)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if optional.calls.Load() != 0 {
		t.Errorf("optional checker ran %d times after required failure, want 0", optional.calls.Load())
	}
	if amb := report.Result("ambiguity"); amb.Status != StatusBlocked {
		t.Errorf("ambiguity status = %s, want blocked", amb.Status)
	}
	if !report.Blocked {
		t.Error("report should be blocked")
	}
}

func TestRunUndefinedGate(t *testing.T) {
	f := newFramework(t, map[string]config.Gate{}, DefaultCheckers(nil, nil))
	stage := config.Stage{ID: "prd", RequiredGates: []string{"ghost"}}
	if _, err := f.Run(context.Background(), stage, 1, Input{}, StrategySequential); err == nil {
		t.Error("undefined gate should error")
	}
}

func TestRunErrorsAreNotCached(t *testing.T) {
	calls := 0
	erroring := checkerFunc(func(_ context.Context, _ string, _ config.Gate, _ Input) (float64, string, error) {
		calls++
		return 0, "", context.DeadlineExceeded
	})
	gates := map[string]config.Gate{"clarity": {Threshold: 0.70, Checker: "stub"}}
	f := newFramework(t, gates, map[string]Checker{"stub": erroring})
	stage := config.Stage{ID: "idea_definition", RequiredGates: []string{"clarity"}}
	in := Input{Content: "output"}

	report, _ := f.Run(context.Background(), stage, 1, in, StrategySequential)
	if got := report.Result("clarity").Status; got != StatusFailed {
		t.Errorf("errored required gate status = %s, want failed", got)
	}

	_, _ = f.Run(context.Background(), stage, 2, in, StrategySequential)
	if calls != 2 {
		t.Errorf("checker ran %d times, errors must not be cached", calls)
	}
}

// checkerFunc adapts a function to the Checker interface.
type checkerFunc func(context.Context, string, config.Gate, Input) (float64, string, error)

func (f checkerFunc) Check(ctx context.Context, gateID string, g config.Gate, in Input) (float64, string, error) {
	return f(ctx, gateID, g, in)
}
