package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/stage"
)

var runCmd = &cobra.Command{
	Use:   "run [idea]",
	Short: "Create a run from an idea and advance it until it completes or needs remediation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		orch, cleanup, err := newOrchestrator(root)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := orch.Create(args[0], rootOrCwd(root))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created run %s (%d stages, strategy %s)\n",
			run.ID, len(run.StageOrder), run.Wave.Strategy)

		for {
			out, err := orch.Advance(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			printOutcome(cmd, out)

			if out.Remediation != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"run parked at %s; resume with: chainforge remediate %s \"<feedback>\"\n",
					out.Remediation.Stage, run.ID)
				return nil
			}
			if out.RunComplete {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s completed\n", run.ID)
				return nil
			}
		}
	},
}

func rootOrCwd(root string) string {
	if root == "" {
		return "."
	}
	return root
}

func printOutcome(cmd *cobra.Command, out *stage.Outcome) {
	w := cmd.OutOrStdout()
	status := "accepted"
	if out.Remediation != nil {
		status = fmt.Sprintf("blocked by %v", out.Remediation.FailedGates)
	}
	fmt.Fprintf(w, "stage %s attempt %d: %s", out.Stage, out.Attempt, status)
	if out.Aggregate != nil && len(out.Aggregate.Results) > 0 {
		fmt.Fprintf(w, " (%d agents, %d findings)", len(out.Aggregate.Results), len(out.Aggregate.Findings))
	}
	if out.ConfidenceReduced {
		fmt.Fprint(w, " [reduced confidence]")
	}
	fmt.Fprintln(w)
	for _, s := range out.Suggested {
		fmt.Fprintf(w, "  suggested agent: %s (score %.2f)\n", s.AgentID, s.Total)
	}
}

var advanceCmd = &cobra.Command{
	Use:   "advance [run-id]",
	Short: "Run the current stage of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator("")
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := orch.Advance(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, out)
		}
		printOutcome(cmd, out)
		return nil
	},
}

var remediateCmd = &cobra.Command{
	Use:   "remediate [run-id] [feedback]",
	Short: "Re-run a parked stage with remediation feedback",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator("")
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := orch.Remediate(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, out)
		}
		printOutcome(cmd, out)
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort [run-id]",
	Short: "Abort a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator("")
		if err != nil {
			return err
		}
		defer cleanup()

		reason, _ := cmd.Flags().GetString("reason")
		if err := orch.Abort(args[0], reason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s aborted\n", args[0])
		return nil
	},
}

func init() {
	runCmd.Flags().String("root", "", "project directory to analyze (default: working directory)")
	advanceCmd.Flags().String("format", "text", "Output format: text or json")
	remediateCmd.Flags().String("format", "text", "Output format: text or json")
	abortCmd.Flags().String("reason", "", "why the run is being aborted")
}
