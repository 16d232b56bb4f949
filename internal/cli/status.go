package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of one run, or a summary of all runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator("")
		if err != nil {
			return err
		}
		defer cleanup()

		format, _ := cmd.Flags().GetString("format")

		if len(args) == 1 {
			info, err := orch.Status(args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, info)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run:      %s\n", info.ID)
			fmt.Fprintf(w, "idea:     %s\n", info.Idea)
			fmt.Fprintf(w, "status:   %s\n", info.Status)
			fmt.Fprintf(w, "stage:    %s (attempt %d)\n", info.Stage, info.Attempt)
			fmt.Fprintf(w, "wave:     score %.2f, multi-wave %v, strategy %s\n", info.WaveScore, info.MultiWave, info.Strategy)
			if len(info.History) > 0 {
				fmt.Fprintln(w, "history:")
				for _, h := range info.History {
					fmt.Fprintf(w, "  %s attempt %d: %s (%s, gates %d/%d, agents %d)\n",
						h.Stage, h.Attempt, h.Outcome, h.Duration,
						h.GatesPassed, h.GatesPassed+h.GatesFailed, h.AgentsSpawned)
				}
			}
			return nil
		}

		infos, err := orch.StatusAll()
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd, infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tSTAGE\tATT\tWAVE\tIDEA")
		for _, info := range infos {
			waveStr := "single"
			if info.MultiWave {
				waveStr = string(info.Strategy)
			}
			idea := info.Idea
			if len(idea) > 40 {
				idea = idea[:37] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				info.ID, info.Status, info.Stage, info.Attempt, waveStr, idea)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
