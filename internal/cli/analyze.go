package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/scoring"
	"github.com/forgelabs/chainforge/internal/wave"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [dir]",
	Short: "Analyze a project directory and print its domain signal scores",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root := "."
		if len(args) == 1 {
			root = args[0]
		}

		pctx, err := newAnalyzer(&cfg.Chain).Analyze(root)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, pctx)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "analyzed %s (%d files)\n\n", pctx.Root, pctx.FilesSeen)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOMAIN\tSCORE")
		for _, d := range pctx.TopDomains() {
			fmt.Fprintf(tw, "%s\t%.2f\n", d, pctx.Score(d))
		}
		return tw.Flush()
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score [stage-id]",
	Short: "Score the configured agents for a stage against content from stdin or --input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stageCfg := cfg.Chain.StageByID(args[0])
		if stageCfg == nil {
			return fmt.Errorf("stage %q is not configured", args[0])
		}

		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		root, _ := cmd.Flags().GetString("root")
		pctx, err := newAnalyzer(&cfg.Chain).Analyze(rootOrCwd(root))
		if err != nil {
			return err
		}

		prefer, _ := cmd.Flags().GetStringSlice("prefer")
		avoid, _ := cmd.Flags().GetStringSlice("avoid")
		engine := scoring.NewEngine(cfg.Chain.Agents, cfg.Chain.Scoring)
		results := engine.Score(stageCfg, content, pctx, scoring.Prefs{Preferred: prefer, Avoided: avoid})

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, results)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AGENT\tDOMAIN\tTOTAL\tSTAGE\tCONTENT\tCONTEXT\tPREF\tDECISION")
		for _, r := range results {
			decision := string(r.Decision)
			if r.BoundaryTie {
				decision += " (boundary)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
				r.AgentID, r.Domain, r.Total,
				r.StageRequirement, r.ContentAnalysis, r.ContextAlignment, r.Preference, decision)
		}
		return tw.Flush()
	},
}

// readContent returns the stage content from --input or stdin.
func readContent(cmd *cobra.Command) (string, error) {
	input, _ := cmd.Flags().GetString("input")
	if input != "" {
		data, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("no content: pass --input or pipe content on stdin")
	}
	return string(data), nil
}

var assessCmd = &cobra.Command{
	Use:   "assess [idea]",
	Short: "Run the wave-mode complexity assessment for an idea without creating a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		orch, cleanup, err := newOrchestrator(root)
		if err != nil {
			return err
		}
		defer cleanup()

		decision, _, err := orch.Assess(args[0], rootOrCwd(root))
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, decision)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "score:      %.2f\n", decision.Score)
		fmt.Fprintf(w, "multi-wave: %v\n", decision.MultiWave)
		fmt.Fprintf(w, "strategy:   %s\n", decision.Strategy)
		fmt.Fprintf(w, "inputs:     chain=%.2f coordination=%.2f scale=%.2f context=%.2f quality=%.2f\n",
			decision.Inputs.ChainComplexity, decision.Inputs.AgentCoordination,
			decision.Inputs.ImplementationScale, decision.Inputs.ProjectContext,
			decision.Inputs.QualityRequirements)
		if decision.MultiWave {
			waves := make([]string, 0, len(wave.MultiWaveOrder))
			for _, wv := range decision.Waves() {
				waves = append(waves, string(wv))
			}
			fmt.Fprintf(w, "waves:      %s\n", strings.Join(waves, " -> "))
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("format", "text", "Output format: text or json")
	scoreCmd.Flags().String("format", "text", "Output format: text or json")
	scoreCmd.Flags().String("input", "", "file holding the stage content to score against")
	scoreCmd.Flags().String("root", "", "project directory to analyze (default: working directory)")
	scoreCmd.Flags().StringSlice("prefer", nil, "agent ids to prefer")
	scoreCmd.Flags().StringSlice("avoid", nil, "agent ids to avoid")
	assessCmd.Flags().String("format", "text", "Output format: text or json")
	assessCmd.Flags().String("root", "", "project directory to analyze (default: working directory)")
}
