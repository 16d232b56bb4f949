package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/agent"
	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/chain"
	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/db"
	"github.com/forgelabs/chainforge/internal/gate"
	"github.com/forgelabs/chainforge/internal/inference"
	"github.com/forgelabs/chainforge/internal/mcp"
	"github.com/forgelabs/chainforge/internal/orchestrator"
	"github.com/forgelabs/chainforge/internal/scoring"
	"github.com/forgelabs/chainforge/internal/stage"
)

var configFile string

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openDB opens and migrates the event database.
func openDB() (*db.DB, func(), error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// newAnalyzer builds an analyzer from the configured policy.
func newAnalyzer(cfg *config.Chain) *analyzer.Analyzer {
	an := analyzer.New()
	if cfg.Analyzer.MaxDepth > 0 {
		an.MaxDepth = cfg.Analyzer.MaxDepth
	}
	if len(cfg.Analyzer.Excludes) > 0 {
		an.Excludes = append(an.Excludes, cfg.Analyzer.Excludes...)
	}
	if cfg.Analyzer.MaxSampleFiles > 0 {
		an.MaxSampleFiles = cfg.Analyzer.MaxSampleFiles
	}
	return an
}

// contextRefresher re-derives the project context for between-wave checkpoints.
type contextRefresher struct {
	an   *analyzer.Analyzer
	root string
}

func (r *contextRefresher) Refresh(_ context.Context) (*analyzer.ProjectContext, error) {
	return r.an.Analyze(r.root)
}

// newOrchestrator wires the full stack: config, run store, event DB, server
// registry, gate framework, coordinator, inference provider, and engine.
// root is the project directory used for context analysis, re-derivation, and
// template overrides; "" means the working directory.
func newOrchestrator(root string) (*orchestrator.Orchestrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	d, cleanupDB, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*orchestrator.Orchestrator, func(), error) {
		cleanupDB()
		return nil, nil, err
	}

	store, err := chain.DefaultStore()
	if err != nil {
		return fail(fmt.Errorf("open run store: %w", err))
	}

	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return fail(fmt.Errorf("get working directory: %w", err))
		}
	}

	registry := mcp.NewRegistry(cfg.Chain.Servers)
	registry.SampleSink = func(serverID string, latencyMs int, success bool) {
		_ = d.LogServerSample(serverID, latencyMs, success)
	}
	transport := mcp.NewMCPTransport()
	selector := mcp.NewSelector(registry, cfg.Chain.Affinity)
	caller := mcp.NewCaller(selector, transport)

	framework, err := gate.NewFramework(cfg.Chain.Gates, gate.DefaultCheckers(gate.ExecRunner{}, caller), os.Stderr)
	if err != nil {
		return fail(err)
	}

	provider, err := inference.NewExecProvider(cfg.Chain.Inference)
	if err != nil {
		return fail(fmt.Errorf("configure inference provider: %w", err))
	}

	an := newAnalyzer(&cfg.Chain)
	scorer := scoring.NewEngine(cfg.Chain.Agents, cfg.Chain.Scoring)
	worker := agent.NewCapabilityWorker(caller)
	coord := agent.NewCoordinator(cfg.Chain.Coordinator, worker, os.Stderr)

	engine := stage.NewEngine(&cfg.Chain, store, scorer, coord, framework, provider, os.Stderr)
	engine.SetEventLog(d)
	engine.SetWorkdir(root)
	engine.SetRefresher(&contextRefresher{an: an, root: root})

	orch := orchestrator.NewOrchestrator(&cfg.Chain, store, an, engine, os.Stderr)
	orch.SetEventLog(d)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go mcp.NewMonitor(registry, transport, cfg.Chain.Servers, os.Stderr).Run(monitorCtx)

	cleanup := func() {
		stopMonitor()
		_ = transport.Close()
		cleanupDB()
	}
	return orch, cleanup, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to chain config file")
}
