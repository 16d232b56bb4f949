package mcp

import (
	"context"
	"time"
)

// CallResult is the outcome of one capability call.
type CallResult struct {
	ServerID  string `json:"server_id"`
	Text      string `json:"text"`
	LatencyMs int    `json:"latency_ms"`
}

// Caller runs the full lease lifecycle for a capability call: acquire a
// server, invoke the tool, record the latency/success sample, and release the
// lease. The lease is released even when the call fails or the context is
// cancelled mid-flight.
type Caller struct {
	sel       *Selector
	transport Transport
}

// NewCaller creates a Caller over a selector and transport.
func NewCaller(sel *Selector, transport Transport) *Caller {
	return &Caller{sel: sel, transport: transport}
}

// Call acquires a server for the request and invokes the named tool on it.
// Returns *NoAvailableServerError when nothing can serve the capability.
func (c *Caller) Call(ctx context.Context, req Request, tool string, args map[string]any) (*CallResult, error) {
	lease, err := c.sel.Acquire(req)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	srv, ok := c.sel.reg.Config(lease.ServerID)
	if !ok {
		return nil, &NoAvailableServerError{Capability: req.Capability}
	}

	start := time.Now()
	text, err := c.transport.Call(ctx, srv, tool, args)
	latency := int(time.Since(start).Milliseconds())
	c.sel.reg.RecordSample(lease.ServerID, latency, err == nil)
	if err != nil {
		return nil, err
	}
	return &CallResult{ServerID: lease.ServerID, Text: text, LatencyMs: latency}, nil
}
