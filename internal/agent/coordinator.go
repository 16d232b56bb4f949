package agent

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/forgelabs/chainforge/internal/config"
)

// Worker executes one agent instance. The production worker calls capability
// servers; tests substitute fakes.
type Worker interface {
	Execute(ctx context.Context, inst Instance, task Task) ([]Finding, error)
}

const (
	defaultMaxConcurrent   = 4
	defaultInstanceTimeout = 5 * time.Minute
	defaultCancelGrace     = 5 * time.Second
	maxAttempts            = 2 // initial run plus one retry
)

// Coordinator runs a set of agents against a task under a concurrency bound.
// Aggregation order is fixed by descriptor priority, so two runs with the
// same inputs produce the same aggregate regardless of scheduling jitter.
type Coordinator struct {
	limits   config.CoordinatorLimits
	worker   Worker
	progress io.Writer
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(limits config.CoordinatorLimits, worker Worker, progress io.Writer) *Coordinator {
	return &Coordinator{limits: limits, worker: worker, progress: progress}
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, format+"\n", args...)
	}
}

func (c *Coordinator) maxConcurrent() int64 {
	if c.limits.MaxConcurrentAgents <= 0 {
		return defaultMaxConcurrent
	}
	return int64(c.limits.MaxConcurrentAgents)
}

func (c *Coordinator) instanceTimeout() time.Duration {
	return parseDuration(c.limits.InstanceTimeout, defaultInstanceTimeout)
}

func (c *Coordinator) cancelGrace() time.Duration {
	return parseDuration(c.limits.CancelGrace, defaultCancelGrace)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Run spawns one instance per descriptor and fans their results in. A failed
// instance is retried once; instances that still fail are reported through
// *PartialCoordinationFailureError while the aggregate carries the rest.
// On cancellation, in-flight instances get the configured grace period to
// deliver; stragglers are recorded as failed.
func (c *Coordinator) Run(ctx context.Context, task Task, descriptors []config.Agent) (*Aggregate, error) {
	agg := &Aggregate{Stage: task.Stage}
	if len(descriptors) == 0 {
		return agg, nil
	}

	sem := semaphore.NewWeighted(c.maxConcurrent())
	resultCh := make(chan Result, len(descriptors))

	for _, desc := range descriptors {
		inst := Instance{ID: uuid.NewString(), Descriptor: desc}
		instTask := task
		instTask.Context = task.Context.Clone()
		go func() {
			resultCh <- c.runInstance(ctx, sem, inst, instTask)
		}()
	}

	results := c.collect(ctx, resultCh, descriptors)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority < results[j].Priority
		}
		return results[i].AgentID < results[j].AgentID
	})
	agg.Results = results
	agg.Findings, agg.Secondary = mergeFindings(results)

	var failed []string
	for _, r := range results {
		if r.State != StateCompleted {
			failed = append(failed, r.AgentID)
		}
	}
	if len(failed) > 0 {
		return agg, &PartialCoordinationFailureError{Failed: failed}
	}
	return agg, nil
}

// collect fans in one result per descriptor. After cancellation it keeps
// draining for the grace period, then records stragglers as failed.
func (c *Coordinator) collect(ctx context.Context, resultCh <-chan Result, descriptors []config.Agent) []Result {
	results := make([]Result, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))

	var graceTimer <-chan time.Time
	for len(results) < len(descriptors) {
		select {
		case res := <-resultCh:
			results = append(results, res)
			seen[res.AgentID] = true
		case <-ctx.Done():
			if graceTimer == nil {
				graceTimer = time.After(c.cancelGrace())
			}
			select {
			case res := <-resultCh:
				results = append(results, res)
				seen[res.AgentID] = true
			case <-graceTimer:
				for _, desc := range descriptors {
					if !seen[desc.ID] {
						c.logf("agent %s did not stop within grace period", desc.ID)
						results = append(results, Result{
							AgentID:  desc.ID,
							Domain:   analyzerDomain(desc.Domain),
							Priority: desc.Priority,
							State:    StateFailed,
							Error:    "did not stop within cancellation grace period",
						})
					}
				}
				return results
			}
		}
	}
	return results
}

// runInstance executes one agent with the concurrency bound, per-attempt
// timeout, and single retry.
func (c *Coordinator) runInstance(ctx context.Context, sem *semaphore.Weighted, inst Instance, task Task) Result {
	desc := inst.Descriptor
	res := Result{
		InstanceID: inst.ID,
		AgentID:    desc.ID,
		Domain:     analyzerDomain(desc.Domain),
		Priority:   desc.Priority,
		State:      StateSpawned,
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		res.State = StateCancelled
		res.Error = "cancelled before start"
		return res
	}
	defer sem.Release(1)

	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		res.State = StateRunning

		instCtx, cancel := context.WithTimeout(ctx, c.instanceTimeout())
		findings, err := c.worker.Execute(instCtx, inst, task)
		cancel()

		if err == nil {
			res.State = StateCompleted
			res.Findings = findings
			break
		}
		if ctx.Err() != nil {
			res.State = StateCancelled
			res.Error = ctx.Err().Error()
			break
		}
		res.State = StateFailed
		res.Error = err.Error()
		if attempt < maxAttempts {
			c.logf("agent %s attempt %d failed, retrying: %v", desc.ID, attempt, err)
		}
	}
	res.DurationMs = int(time.Since(start).Milliseconds())
	return res
}

// mergeFindings keeps one finding per output region. Results arrive in
// priority order, so the first claim on a region wins; later overlapping
// findings are kept as secondary suggestions.
func mergeFindings(results []Result) (winners, secondary []Finding) {
	claimed := make(map[string]bool)
	for _, res := range results {
		if res.State != StateCompleted {
			continue
		}
		for _, f := range res.Findings {
			if f.AgentID == "" {
				f.AgentID = res.AgentID
			}
			if f.Region != "" && claimed[f.Region] {
				secondary = append(secondary, f)
				continue
			}
			if f.Region != "" {
				claimed[f.Region] = true
			}
			winners = append(winners, f)
		}
	}
	return winners, secondary
}
