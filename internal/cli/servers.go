package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/mcp"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured capability servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry := mcp.NewRegistry(cfg.Chain.Servers)
		return printServers(cmd, registry)
	},
}

var serversProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Health-probe every configured server once and report the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		registry := mcp.NewRegistry(cfg.Chain.Servers)
		transport := mcp.NewMCPTransport()
		defer transport.Close()

		monitor := mcp.NewMonitor(registry, transport, cfg.Chain.Servers, cmd.ErrOrStderr())
		monitor.ProbeAll(cmd.Context())
		return printServers(cmd, registry)
	},
}

func printServers(cmd *cobra.Command, registry *mcp.Registry) error {
	statuses := registry.Snapshot()

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return writeJSON(cmd, statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No servers configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tCAPABILITIES\tPRIORITY\tHEALTH\tLEASES\tSUCCESS\tLATENCY")
	for _, s := range statuses {
		leases := fmt.Sprintf("%d", s.Leases)
		if s.MaxLeases > 0 {
			leases = fmt.Sprintf("%d/%d", s.Leases, s.MaxLeases)
		}
		success := "-"
		latency := "-"
		if s.Samples > 0 {
			success = fmt.Sprintf("%.0f%%", s.SuccessRate*100)
			latency = fmt.Sprintf("%dms", s.AvgLatencyMs)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.ID, strings.Join(s.Capabilities, ","), s.Priority, s.Health, leases, success, latency)
	}
	return w.Flush()
}

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "List configured quality gates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, cfg.Chain.Gates)
		}
		if len(cfg.Chain.Gates) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No gates configured.")
			return nil
		}

		// Stable listing: stage placement order, then leftovers by name.
		printed := make(map[string]bool)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GATE\tCHECKER\tTHRESHOLD\tREQUIRED BY\tDEPENDS ON")
		for _, s := range cfg.Chain.Stages {
			for _, name := range s.RequiredGates {
				printGate(w, cfg, name, s.ID+" (required)", printed)
			}
			for _, name := range s.OptionalGates {
				printGate(w, cfg, name, s.ID+" (optional)", printed)
			}
		}
		leftovers := make([]string, 0, len(cfg.Chain.Gates))
		for name := range cfg.Chain.Gates {
			leftovers = append(leftovers, name)
		}
		sort.Strings(leftovers)
		for _, name := range leftovers {
			printGate(w, cfg, name, "-", printed)
		}
		return w.Flush()
	},
}

func printGate(w *tabwriter.Writer, cfg *config.Config, name, placement string, printed map[string]bool) {
	if printed[name] {
		return
	}
	g, ok := cfg.Chain.Gates[name]
	if !ok {
		return
	}
	printed[name] = true
	deps := "-"
	if len(g.DependsOn) > 0 {
		deps = strings.Join(g.DependsOn, ",")
	}
	fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", name, g.Checker, g.Threshold, placement, deps)
}

func init() {
	serversCmd.Flags().String("format", "text", "Output format: text or json")
	serversProbeCmd.Flags().String("format", "text", "Output format: text or json")
	gatesCmd.Flags().String("format", "text", "Output format: text or json")
	serversCmd.AddCommand(serversProbeCmd)
}
