// Package mcp binds external capability servers: registration, health and
// load tracking, leased selection, and the mcp-go transport for capability
// calls. All mutable server state is owned by the Registry; callers never
// mutate descriptors directly.
package mcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/forgelabs/chainforge/internal/config"
)

// Health is the tracked health state of a capability server.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// consecutiveFailLimit marks a server unhealthy after this many failed
// health checks in a row.
const consecutiveFailLimit = 3

// metricsWindow is the rolling sample window for latency/success metrics.
const metricsWindow = 32

type sample struct {
	latencyMs int
	success   bool
}

// server is the registry-internal mutable state for one capability server.
type server struct {
	cfg              config.Server
	health           Health
	consecutiveFails int
	leases           int
	samples          []sample // ring, newest last, capped at metricsWindow
	rrTick           uint64   // round-robin tiebreaker among equal candidates
}

func (s *server) successRate() float64 {
	if len(s.samples) == 0 {
		return 1.0 // no data yet: give the server the benefit of the doubt
	}
	ok := 0
	for _, sm := range s.samples {
		if sm.success {
			ok++
		}
	}
	return float64(ok) / float64(len(s.samples))
}

func (s *server) avgLatencyMs() int {
	if len(s.samples) == 0 {
		return 0
	}
	total := 0
	for _, sm := range s.samples {
		total += sm.latencyMs
	}
	return total / len(s.samples)
}

func (s *server) hasTag(tag string) bool {
	for _, t := range s.cfg.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Status is a read-only snapshot of one server's tracked state.
type Status struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Priority     int      `json:"priority"`
	Health       Health   `json:"health"`
	Leases       int      `json:"leases"`
	MaxLeases    int      `json:"max_leases"`
	SuccessRate  float64  `json:"success_rate"`
	AvgLatencyMs int      `json:"avg_latency_ms"`
	Samples      int      `json:"samples"`
}

// Registry is the single mutation point for server health, metrics, and lease
// counts. It persists across runs; snapshots and selection read under the same
// lock to avoid lost updates during concurrent spawning.
type Registry struct {
	mu      sync.Mutex
	servers []*server
	byID    map[string]*server

	// SampleSink, when set, receives every recorded metric sample (for the
	// durable event log). Called outside the registry lock.
	SampleSink func(serverID string, latencyMs int, success bool)
}

// NewRegistry creates a Registry over the configured servers.
func NewRegistry(cfgs []config.Server) *Registry {
	r := &Registry{byID: make(map[string]*server, len(cfgs))}
	for _, cfg := range cfgs {
		s := &server{cfg: cfg, health: HealthUnknown}
		r.servers = append(r.servers, s)
		r.byID[cfg.ID] = s
	}
	return r
}

// Config returns the static config for a server ID.
func (r *Registry) Config(id string) (config.Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return config.Server{}, false
	}
	return s.cfg, true
}

// Snapshot returns the tracked state of all servers in registration order.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, Status{
			ID:           s.cfg.ID,
			Capabilities: s.cfg.CapabilityTags,
			Priority:     s.cfg.Priority,
			Health:       s.health,
			Leases:       s.leases,
			MaxLeases:    s.cfg.MaxConcurrentLeases,
			SuccessRate:  s.successRate(),
			AvgLatencyMs: s.avgLatencyMs(),
			Samples:      len(s.samples),
		})
	}
	return out
}

// RecordSample appends a rolling latency/success sample for a server.
func (r *Registry) RecordSample(id string, latencyMs int, success bool) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		s.samples = append(s.samples, sample{latencyMs: latencyMs, success: success})
		if len(s.samples) > metricsWindow {
			s.samples = s.samples[len(s.samples)-metricsWindow:]
		}
	}
	sink := r.SampleSink
	r.mu.Unlock()

	if ok && sink != nil {
		sink(id, latencyMs, success)
	}
}

// RecordHealthCheck folds a health probe result into the server state.
// Three consecutive failures mark the server unhealthy; any success marks it
// healthy again.
func (r *Registry) RecordHealthCheck(id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.byID[id]
	if !found {
		return
	}
	if ok {
		s.consecutiveFails = 0
		s.health = HealthHealthy
		return
	}
	s.consecutiveFails++
	if s.consecutiveFails >= consecutiveFailLimit {
		s.health = HealthUnhealthy
	}
}

// Lease is an exclusive capacity slot on one server, held for the duration of
// a single capability call. Release is idempotent.
type Lease struct {
	ID         string
	ServerID   string
	Capability string
	AcquiredAt time.Time

	reg      *Registry
	released bool
	mu       sync.Mutex
}

// Release returns the lease's capacity slot to the server.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.reg.releaseSlot(l.ServerID)
}

func (r *Registry) releaseSlot(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.leases > 0 {
		s.leases--
	}
}

// NoAvailableServerError is returned when no server can satisfy a capability.
// Callers apply their documented per-capability fallback and tag degraded
// output confidenceReduced.
type NoAvailableServerError struct {
	Capability string
}

func (e *NoAvailableServerError) Error() string {
	return fmt.Sprintf("no available server for capability %q", e.Capability)
}
