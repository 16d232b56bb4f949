package mcp

import (
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs/chainforge/internal/config"
)

// Selector picks a server for a capability request and hands out leases.
// Selection is deterministic for a fixed registry state: capability tag
// filter, then health and metric thresholds, then affinity override, then
// priority, then least loaded with a round-robin tiebreak.
type Selector struct {
	reg *Registry
	// affinity maps agent ID -> capability tag -> preferred server ID.
	affinity map[string]map[string]string
}

// NewSelector creates a Selector over a registry and the configured
// agent/capability affinity rules.
func NewSelector(reg *Registry, rules []config.AffinityRule) *Selector {
	aff := make(map[string]map[string]string)
	for _, rule := range rules {
		byCap := aff[rule.Agent]
		if byCap == nil {
			byCap = make(map[string]string)
			aff[rule.Agent] = byCap
		}
		byCap[rule.Capability] = rule.Server
	}
	return &Selector{reg: reg, affinity: aff}
}

// Request identifies one capability acquisition.
type Request struct {
	AgentID    string
	Capability string
}

// Acquire selects a server for the request and reserves a lease slot on it.
// Returns *NoAvailableServerError when no eligible server exists; the caller
// falls back and tags its output as reduced confidence.
func (sel *Selector) Acquire(req Request) (*Lease, error) {
	preferred := ""
	if byCap, ok := sel.affinity[req.AgentID]; ok {
		preferred = byCap[req.Capability]
	}

	serverID, ok := sel.reg.acquireSlot(req.Capability, preferred)
	if !ok {
		return nil, &NoAvailableServerError{Capability: req.Capability}
	}
	return &Lease{
		ID:         uuid.NewString(),
		ServerID:   serverID,
		Capability: req.Capability,
		AcquiredAt: time.Now().UTC(),
		reg:        sel.reg,
	}, nil
}

// Registry returns the selector's registry for status reporting.
func (sel *Selector) Registry() *Registry {
	return sel.reg
}

// eligible reports whether a server can take a lease for a capability right
// now. Unknown health counts as available so fresh servers are usable before
// the first probe completes.
func (s *server) eligible(capability string) bool {
	if !s.hasTag(capability) {
		return false
	}
	if s.health == HealthUnhealthy {
		return false
	}
	if s.cfg.MaxConcurrentLeases > 0 && s.leases >= s.cfg.MaxConcurrentLeases {
		return false
	}
	// Metric thresholds only apply once a sample window exists.
	if len(s.samples) > 0 {
		if s.cfg.MinSuccessRate > 0 && s.successRate() < s.cfg.MinSuccessRate {
			return false
		}
		if s.cfg.MaxLatencyMs > 0 && s.avgLatencyMs() > s.cfg.MaxLatencyMs {
			return false
		}
	}
	return true
}

// acquireSlot selects an eligible server and increments its lease count under
// the registry lock, so concurrent acquisitions never oversubscribe a server.
func (r *Registry) acquireSlot(capability, preferredID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Affinity wins when the preferred server is eligible.
	if preferredID != "" {
		if s, ok := r.byID[preferredID]; ok && s.eligible(capability) {
			s.leases++
			s.rrTick++
			return s.cfg.ID, true
		}
	}

	var best *server
	for _, s := range r.servers {
		if !s.eligible(capability) {
			continue
		}
		if best == nil || betterCandidate(s, best) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}
	best.leases++
	best.rrTick++
	return best.cfg.ID, true
}

// betterCandidate orders candidates: lower priority value first, then fewer
// held leases, then least recently picked.
func betterCandidate(a, b *server) bool {
	if a.cfg.Priority != b.cfg.Priority {
		return a.cfg.Priority < b.cfg.Priority
	}
	if a.leases != b.leases {
		return a.leases < b.leases
	}
	return a.rrTick < b.rrTick
}
