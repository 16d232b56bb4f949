package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/forgelabs/chainforge/internal/config"
)

func docsServers() []config.Server {
	return []config.Server{
		{
			ID:                  "docs-primary",
			CapabilityTags:      []string{"documentation"},
			Priority:            1,
			Transport:           config.TransportStdio,
			Command:             "context7-mcp",
			MaxConcurrentLeases: 2,
		},
		{
			ID:                  "docs-fallback",
			CapabilityTags:      []string{"documentation"},
			Priority:            2,
			Transport:           config.TransportStdio,
			Command:             "context7-mcp",
			MaxConcurrentLeases: 2,
		},
	}
}

func TestSelectorPrefersLowerPriority(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)

	lease, err := sel.Acquire(Request{AgentID: "scribe", Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-primary" {
		t.Errorf("selected %s, want docs-primary", lease.ServerID)
	}
	lease.Release()
}

func TestSelectorFailsOverOnUnhealthyPrimary(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)

	// Two failures are not enough to exclude the primary.
	reg.RecordHealthCheck("docs-primary", false)
	reg.RecordHealthCheck("docs-primary", false)
	lease, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire after 2 failures: %v", err)
	}
	if lease.ServerID != "docs-primary" {
		t.Errorf("selected %s after 2 failures, want docs-primary", lease.ServerID)
	}
	lease.Release()

	// Third consecutive failure excludes it.
	reg.RecordHealthCheck("docs-primary", false)
	lease, err = sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire after failover: %v", err)
	}
	if lease.ServerID != "docs-fallback" {
		t.Errorf("selected %s after failover, want docs-fallback", lease.ServerID)
	}
	lease.Release()

	// One success restores the primary.
	reg.RecordHealthCheck("docs-primary", true)
	lease, err = sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}
	if lease.ServerID != "docs-primary" {
		t.Errorf("selected %s after recovery, want docs-primary", lease.ServerID)
	}
	lease.Release()
}

func TestSelectorNoAvailableServer(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)

	for _, id := range []string{"docs-primary", "docs-fallback"} {
		for i := 0; i < 3; i++ {
			reg.RecordHealthCheck(id, false)
		}
	}

	_, err := sel.Acquire(Request{Capability: "documentation"})
	var noServer *NoAvailableServerError
	if !errors.As(err, &noServer) {
		t.Fatalf("expected NoAvailableServerError, got %v", err)
	}
	if noServer.Capability != "documentation" {
		t.Errorf("error capability = %q", noServer.Capability)
	}
}

func TestSelectorUnknownCapability(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)
	if _, err := sel.Acquire(Request{Capability: "quantum"}); err == nil {
		t.Error("unknown capability should not acquire")
	}
}

func TestLeaseCapAndIdempotentRelease(t *testing.T) {
	servers := docsServers()
	servers[0].MaxConcurrentLeases = 1
	servers[1].MaxConcurrentLeases = 1
	reg := NewRegistry(servers)
	sel := NewSelector(reg, nil)

	l1, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	l2, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l1.ServerID == l2.ServerID {
		t.Errorf("both leases on %s despite cap 1", l1.ServerID)
	}

	if _, err := sel.Acquire(Request{Capability: "documentation"}); err == nil {
		t.Error("third acquire should fail with both servers at cap")
	}

	// Double release must not free two slots.
	l1.Release()
	l1.Release()
	for _, st := range reg.Snapshot() {
		if st.ID == l1.ServerID && st.Leases != 0 {
			t.Errorf("leases on %s = %d after release, want 0", st.ID, st.Leases)
		}
	}

	l3, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l3.Release()
	l2.Release()
}

func TestSelectorAffinityOverridesPriority(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, []config.AffinityRule{
		{Agent: "scribe", Capability: "documentation", Server: "docs-fallback"},
	})

	lease, err := sel.Acquire(Request{AgentID: "scribe", Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-fallback" {
		t.Errorf("affinity ignored, selected %s", lease.ServerID)
	}
	lease.Release()

	// Affinity does not apply to other agents.
	lease, err = sel.Acquire(Request{AgentID: "frontend", Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-primary" {
		t.Errorf("non-affinity agent selected %s, want docs-primary", lease.ServerID)
	}
	lease.Release()
}

func TestSelectorAffinityFallsBackWhenPinnedUnavailable(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, []config.AffinityRule{
		{Agent: "scribe", Capability: "documentation", Server: "docs-fallback"},
	})
	for i := 0; i < 3; i++ {
		reg.RecordHealthCheck("docs-fallback", false)
	}

	lease, err := sel.Acquire(Request{AgentID: "scribe", Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-primary" {
		t.Errorf("selected %s, want docs-primary when pinned server is down", lease.ServerID)
	}
	lease.Release()
}

func TestSelectorMetricThresholds(t *testing.T) {
	servers := docsServers()
	servers[0].MinSuccessRate = 0.9
	reg := NewRegistry(servers)
	sel := NewSelector(reg, nil)

	// 50% success rate on the primary pushes selection to the fallback.
	reg.RecordSample("docs-primary", 10, true)
	reg.RecordSample("docs-primary", 10, false)

	lease, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-fallback" {
		t.Errorf("selected %s, want docs-fallback under success-rate threshold", lease.ServerID)
	}
	lease.Release()
}

func TestSelectorLatencyThreshold(t *testing.T) {
	servers := docsServers()
	servers[0].MaxLatencyMs = 100
	reg := NewRegistry(servers)
	sel := NewSelector(reg, nil)

	reg.RecordSample("docs-primary", 500, true)

	lease, err := sel.Acquire(Request{Capability: "documentation"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.ServerID != "docs-fallback" {
		t.Errorf("selected %s, want docs-fallback over latency threshold", lease.ServerID)
	}
	lease.Release()
}

func TestRegistryMetricsWindow(t *testing.T) {
	reg := NewRegistry(docsServers())
	for i := 0; i < metricsWindow+10; i++ {
		reg.RecordSample("docs-primary", 10, i >= 10) // first 10 failures age out
	}
	for _, st := range reg.Snapshot() {
		if st.ID != "docs-primary" {
			continue
		}
		if st.Samples != metricsWindow {
			t.Errorf("samples = %d, want %d", st.Samples, metricsWindow)
		}
		if st.SuccessRate != 1.0 {
			t.Errorf("success rate = %v, want 1.0 after failures aged out", st.SuccessRate)
		}
	}
}

func TestRegistrySampleSink(t *testing.T) {
	reg := NewRegistry(docsServers())
	var got []string
	reg.SampleSink = func(id string, latencyMs int, success bool) {
		got = append(got, fmt.Sprintf("%s/%d/%v", id, latencyMs, success))
	}
	reg.RecordSample("docs-primary", 42, true)
	if len(got) != 1 || got[0] != "docs-primary/42/true" {
		t.Errorf("sink received %v", got)
	}
}

// fakeTransport is a Transport stub for caller tests.
type fakeTransport struct {
	text    string
	callErr error
	pingErr error
	calls   []string
}

func (f *fakeTransport) Call(ctx context.Context, srv config.Server, tool string, args map[string]any) (string, error) {
	f.calls = append(f.calls, srv.ID+":"+tool)
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.text, nil
}

func (f *fakeTransport) Ping(ctx context.Context, srv config.Server) error {
	return f.pingErr
}

func (f *fakeTransport) Close() error { return nil }

func TestCallerReleasesLeaseAndRecordsSample(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)
	ft := &fakeTransport{text: "react docs"}
	caller := NewCaller(sel, ft)

	res, err := caller.Call(context.Background(), Request{Capability: "documentation"}, "lookup", map[string]any{"topic": "react"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Text != "react docs" || res.ServerID != "docs-primary" {
		t.Errorf("result = %+v", res)
	}
	if len(ft.calls) != 1 || ft.calls[0] != "docs-primary:lookup" {
		t.Errorf("transport calls = %v", ft.calls)
	}

	for _, st := range reg.Snapshot() {
		if st.ID == "docs-primary" {
			if st.Leases != 0 {
				t.Errorf("leases = %d after call, want 0", st.Leases)
			}
			if st.Samples != 1 {
				t.Errorf("samples = %d, want 1", st.Samples)
			}
		}
	}
}

func TestCallerReleasesLeaseOnError(t *testing.T) {
	reg := NewRegistry(docsServers())
	sel := NewSelector(reg, nil)
	ft := &fakeTransport{callErr: errors.New("boom")}
	caller := NewCaller(sel, ft)

	_, err := caller.Call(context.Background(), Request{Capability: "documentation"}, "lookup", nil)
	if err == nil {
		t.Fatal("expected call error")
	}

	for _, st := range reg.Snapshot() {
		if st.ID == "docs-primary" {
			if st.Leases != 0 {
				t.Errorf("leases = %d after failed call, want 0", st.Leases)
			}
			if st.SuccessRate != 0 {
				t.Errorf("success rate = %v, want 0 after failure", st.SuccessRate)
			}
		}
	}
}

func TestMonitorProbeAll(t *testing.T) {
	servers := docsServers()
	reg := NewRegistry(servers)
	ft := &fakeTransport{pingErr: errors.New("down")}
	mon := NewMonitor(reg, ft, servers, nil)

	for i := 0; i < 3; i++ {
		mon.ProbeAll(context.Background())
	}
	for _, st := range reg.Snapshot() {
		if st.Health != HealthUnhealthy {
			t.Errorf("%s health = %s, want unhealthy", st.ID, st.Health)
		}
	}

	ft.pingErr = nil
	mon.ProbeAll(context.Background())
	for _, st := range reg.Snapshot() {
		if st.Health != HealthHealthy {
			t.Errorf("%s health = %s, want healthy after recovery", st.ID, st.Health)
		}
	}
}
