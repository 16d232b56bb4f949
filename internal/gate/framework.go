package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/forgelabs/chainforge/internal/config"
)

// cacheSize bounds the idempotent result cache.
const cacheSize = 256

// Framework evaluates a stage's gates against its output. Results are cached
// by a hash of the gate definition and input, so re-running unchanged output
// is free and deterministic.
type Framework struct {
	gates    map[string]config.Gate
	checkers map[string]Checker
	cache    *lru.Cache[string, Result]
	progress io.Writer

	// versionSalt invalidates cached results when external checker tooling
	// changes. Callers set it to a hash of tool versions.
	versionSalt string
}

// NewFramework creates a Framework over the configured gates.
func NewFramework(gates map[string]config.Gate, checkers map[string]Checker, progress io.Writer) (*Framework, error) {
	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gate cache: %w", err)
	}
	return &Framework{
		gates:    gates,
		checkers: checkers,
		cache:    cache,
		progress: progress,
	}, nil
}

// SetVersionSalt sets the cache invalidation salt.
func (f *Framework) SetVersionSalt(salt string) {
	f.versionSalt = salt
}

// DefaultCheckers returns the built-in checker set. runner and caller may be
// nil when command or capability gates are not configured.
func DefaultCheckers(runner CommandRunner, caller CapabilityCaller) map[string]Checker {
	return map[string]Checker{
		"structure":  StructureChecker{},
		"length":     LengthChecker{},
		"keyword":    KeywordChecker{},
		"command":    CommandChecker{Runner: runner},
		"capability": CapabilityChecker{Caller: caller},
	}
}

func (f *Framework) logf(format string, args ...interface{}) {
	if f.progress != nil {
		fmt.Fprintf(f.progress, format+"\n", args...)
	}
}

// gateRef is one gate scheduled for a run.
type gateRef struct {
	name     string
	gate     config.Gate
	required bool
}

// Run evaluates the stage's required and optional gates over the input.
// Required gates below threshold fail and block the stage; optional gates
// below threshold degrade to warnings. A gate whose dependency did not pass
// is blocked without running.
func (f *Framework) Run(ctx context.Context, stage config.Stage, attempt int, in Input, strategy Strategy) (*Report, error) {
	refs, err := f.resolve(stage)
	if err != nil {
		return nil, err
	}

	effective := strategy
	if effective == "" {
		effective = StrategyAdaptive
	}

	results := make(map[string]Result, len(refs))
	switch effective {
	case StrategyParallel:
		if err := f.runParallel(ctx, refs, in, results); err != nil {
			return nil, err
		}
	case StrategyAdaptive:
		// Required gates run one at a time so a failure stops the stage
		// before the rest execute; optional gates fan out afterwards.
		required, optional := splitRequired(refs)
		if failed := f.runSequential(ctx, required, in, results); failed != "" {
			blockUnrun(optional, failed, results)
		} else if err := f.runParallel(ctx, optional, in, results); err != nil {
			return nil, err
		}
	default:
		f.runSequential(ctx, refs, in, results)
	}

	report := &Report{
		Stage:    stage.ID,
		Attempt:  attempt,
		Strategy: effective,
		Passed:   true,
	}
	for _, ref := range refs {
		res := results[ref.name]
		report.Results = append(report.Results, res)
		if res.Required && res.Status != StatusPassed {
			report.Passed = false
			report.Blocked = true
		}
	}
	return report, nil
}

// resolve maps the stage's gate names to definitions, required gates first.
func (f *Framework) resolve(stage config.Stage) ([]gateRef, error) {
	var refs []gateRef
	add := func(names []string, required bool) error {
		for _, name := range names {
			g, ok := f.gates[name]
			if !ok {
				return fmt.Errorf("stage %s references undefined gate %q", stage.ID, name)
			}
			refs = append(refs, gateRef{name: name, gate: g, required: required || g.Required})
		}
		return nil
	}
	if err := add(stage.RequiredGates, true); err != nil {
		return nil, err
	}
	if err := add(stage.OptionalGates, false); err != nil {
		return nil, err
	}
	return refs, nil
}

// dependencyLayers orders gates so every gate runs after its dependencies.
// Dependencies outside the run are treated as satisfied. Declaration order is
// preserved within a layer.
func dependencyLayers(refs []gateRef) [][]gateRef {
	inRun := make(map[string]bool, len(refs))
	for _, ref := range refs {
		inRun[ref.name] = true
	}

	placed := make(map[string]bool, len(refs))
	var layers [][]gateRef
	remaining := refs

	for len(remaining) > 0 {
		var layer, next []gateRef
		for _, ref := range remaining {
			ready := true
			for _, dep := range ref.gate.DependsOn {
				if inRun[dep] && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, ref)
			} else {
				next = append(next, ref)
			}
		}
		if len(layer) == 0 {
			// Config validation rejects cycles; run whatever is left in
			// declaration order rather than spin.
			layer = next
			next = nil
		}
		for _, ref := range layer {
			placed[ref.name] = true
		}
		layers = append(layers, layer)
		remaining = next
	}
	return layers
}

// runSequential evaluates refs in dependency order, one at a time, stopping
// at the first required gate that does not pass. Gates after the stop point
// are blocked without running, so side-effectful checkers never execute for
// output that is already rejected. Returns the name of the stopping gate,
// or "".
func (f *Framework) runSequential(ctx context.Context, refs []gateRef, in Input, results map[string]Result) string {
	var ordered []gateRef
	for _, layer := range dependencyLayers(refs) {
		ordered = append(ordered, layer...)
	}
	for i, ref := range ordered {
		res := f.evaluate(ctx, ref, in, results)
		results[ref.name] = res
		if res.Required && res.Status != StatusPassed {
			blockUnrun(ordered[i+1:], ref.name, results)
			return ref.name
		}
	}
	return ""
}

// runParallel evaluates refs concurrently, layered by dependencies.
func (f *Framework) runParallel(ctx context.Context, refs []gateRef, in Input, results map[string]Result) error {
	for _, layer := range dependencyLayers(refs) {
		if len(layer) > 1 {
			if err := f.runLayerParallel(ctx, layer, in, results); err != nil {
				return err
			}
			continue
		}
		for _, ref := range layer {
			results[ref.name] = f.evaluate(ctx, ref, in, results)
		}
	}
	return nil
}

// blockUnrun records gates skipped after a required failure.
func blockUnrun(refs []gateRef, failed string, results map[string]Result) {
	for _, ref := range refs {
		results[ref.name] = Result{
			Gate:      ref.name,
			Status:    StatusBlocked,
			Threshold: ref.gate.Threshold,
			Required:  ref.required,
			Summary:   fmt.Sprintf("not run: required gate %s failed", failed),
		}
	}
}

func splitRequired(refs []gateRef) (required, optional []gateRef) {
	for _, ref := range refs {
		if ref.required {
			required = append(required, ref)
		} else {
			optional = append(optional, ref)
		}
	}
	return required, optional
}

// runLayerParallel evaluates one dependency layer concurrently.
func (f *Framework) runLayerParallel(ctx context.Context, layer []gateRef, in Input, results map[string]Result) error {
	out := make([]Result, len(layer))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range layer {
		i, ref := i, ref
		g.Go(func() error {
			out[i] = f.evaluate(gctx, ref, in, results)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, ref := range layer {
		results[ref.name] = out[i]
	}
	return nil
}

// evaluate runs one gate, honoring cached results and failed dependencies.
func (f *Framework) evaluate(ctx context.Context, ref gateRef, in Input, prior map[string]Result) Result {
	for _, dep := range ref.gate.DependsOn {
		if res, ok := prior[dep]; ok && (res.Status == StatusFailed || res.Status == StatusBlocked) {
			return Result{
				Gate:      ref.name,
				Status:    StatusBlocked,
				Threshold: ref.gate.Threshold,
				Required:  ref.required,
				Summary:   fmt.Sprintf("dependency %s did not pass", dep),
			}
		}
	}

	key := f.cacheKey(ref, in)
	if cached, ok := f.cache.Get(key); ok {
		cached.Cached = true
		cached.Required = ref.required
		return cached
	}

	checker, ok := f.checkers[ref.gate.Checker]
	if !ok {
		return Result{
			Gate:      ref.name,
			Status:    statusForFailure(ref.required),
			Threshold: ref.gate.Threshold,
			Required:  ref.required,
			Summary:   fmt.Sprintf("unknown checker %q", ref.gate.Checker),
		}
	}

	timeout := time.Duration(ref.gate.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	score, summary, err := checker.Check(checkCtx, ref.name, ref.gate, in)
	duration := int(time.Since(start).Milliseconds())

	res := Result{
		Gate:       ref.name,
		Score:      score,
		Threshold:  ref.gate.Threshold,
		Required:   ref.required,
		DurationMs: duration,
		Summary:    summary,
	}
	switch {
	case err != nil:
		res.Status = statusForFailure(ref.required)
		res.Summary = err.Error()
		f.logf("gate %s errored: %v", ref.name, err)
		// Errors are not cached: the next run may have a server back up.
		return res
	case score >= ref.gate.Threshold:
		res.Status = StatusPassed
	case ref.required:
		res.Status = StatusFailed
		f.logf("gate %s scored %.2f below threshold %.2f", ref.name, score, ref.gate.Threshold)
	default:
		res.Status = StatusWarning
		f.logf("gate %s scored %.2f below threshold %.2f, degraded to warning", ref.name, score, ref.gate.Threshold)
	}

	f.cache.Add(key, res)
	return res
}

func statusForFailure(required bool) Status {
	if required {
		return StatusFailed
	}
	return StatusWarning
}

// cacheKey hashes the gate definition and input so identical re-runs reuse
// the prior result.
func (f *Framework) cacheKey(ref gateRef, in Input) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.6f|%d|", f.versionSalt, ref.name, ref.gate.Checker, ref.gate.Command, ref.gate.Threshold, ref.gate.TimeoutMs)

	keys := make([]string, 0, len(ref.gate.Params))
	for k := range ref.gate.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s|", k, ref.gate.Params[k])
	}

	fmt.Fprintf(h, "%s|%s", in.Stage, in.Content)
	return hex.EncodeToString(h.Sum(nil))
}
