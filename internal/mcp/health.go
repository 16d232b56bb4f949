package mcp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/forgelabs/chainforge/internal/config"
)

// Monitor probes registered servers on their configured intervals and folds
// the results into the registry. A server is marked unhealthy after three
// consecutive probe failures and recovers on the first success.
type Monitor struct {
	reg       *Registry
	transport Transport
	servers   []config.Server
	progress  io.Writer
}

// NewMonitor creates a Monitor for the given servers.
func NewMonitor(reg *Registry, transport Transport, servers []config.Server, progress io.Writer) *Monitor {
	return &Monitor{reg: reg, transport: transport, servers: servers, progress: progress}
}

func (m *Monitor) logf(format string, args ...interface{}) {
	if m.progress != nil {
		fmt.Fprintf(m.progress, format+"\n", args...)
	}
}

// Run probes every server on its interval until ctx is cancelled. Each server
// gets one probe immediately so selection has health data early.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, srv := range m.servers {
		wg.Add(1)
		go func(srv config.Server) {
			defer wg.Done()
			m.probeLoop(ctx, srv)
		}(srv)
	}
	wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context, srv config.Server) {
	interval := time.Duration(srv.HealthCheck.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.probe(ctx, srv)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, srv)
		}
	}
}

// probe runs a single health check against one server.
func (m *Monitor) probe(ctx context.Context, srv config.Server) {
	timeout := time.Duration(srv.HealthCheck.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := m.transport.Ping(probeCtx, srv)
	m.reg.RecordHealthCheck(srv.ID, err == nil)
	if err != nil {
		m.logf("health check failed for %s: %v", srv.ID, err)
	}
}

// ProbeAll runs one probe per server synchronously, for CLI status commands.
func (m *Monitor) ProbeAll(ctx context.Context) {
	for _, srv := range m.servers {
		m.probe(ctx, srv)
	}
}
