package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query run performance statistics from the event database",
}

var statsGatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Per-gate pass rates and average scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		rates, err := analytics.QueryGatePassRates(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, rates)
		}
		if len(rates) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No gate runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GATE\tRUNS\tPASSED\tPASS RATE\tAVG SCORE")
		for _, r := range rates {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\t%.2f\n", r.Gate, r.Total, r.Passed, r.PassRate, r.AvgScore)
		}
		return w.Flush()
	},
}

var statsAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Per-agent spawn decisions and completion rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		stats, err := analytics.QuerySpawnStats(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No agent runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tTOTAL\tAUTO\tSUGGESTED\tCOMPLETED\tCOMPLETION")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.0f%%\n",
				s.Agent, s.Total, s.AutoSpawned, s.Suggested, s.Completed, s.CompletionRate)
		}
		return w.Flush()
	},
}

var statsRemediationCmd = &cobra.Command{
	Use:   "remediation",
	Short: "Per-stage remediation rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		rates, err := analytics.QueryRemediationRates(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, rates)
		}
		if len(rates) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stage events recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tADVANCED\tREMEDIATIONS\tRATE")
		for _, r := range rates {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\n", r.Stage, r.Advanced, r.Remediations, r.Rate)
		}
		return w.Flush()
	},
}

var statsWavesCmd = &cobra.Command{
	Use:   "waves",
	Short: "Distribution of execution strategies chosen at run creation",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		split, err := analytics.QueryWaveSplit(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, split)
		}
		if len(split) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STRATEGY\tRUNS\tSHARE")
		for _, s := range split {
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\n", s.Strategy, s.Runs, s.Share)
		}
		return w.Flush()
	},
}

var statsServersCmd = &cobra.Command{
	Use:   "servers",
	Short: "Per-server latency percentiles and success rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		perf, err := analytics.QueryServerPerformance(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, perf)
		}
		if len(perf) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No server samples recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tSAMPLES\tSUCCESS\tP50\tP95")
		for _, p := range perf {
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%.0fms\t%.0fms\n",
				p.ServerID, p.Samples, p.SuccessRate, p.P50LatencyMs, p.P95LatencyMs)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{statsGatesCmd, statsAgentsCmd, statsRemediationCmd, statsWavesCmd, statsServersCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
		c.Flags().String("since", "", "only include records at or after this timestamp (RFC3339)")
		statsCmd.AddCommand(c)
	}
}
