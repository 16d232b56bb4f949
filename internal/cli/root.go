// Package cli defines the chainforge command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "chainforge",
	Short: "A prompt-chain orchestration engine",
	Long: `chainforge drives a free-form idea through a configurable chain of prompt
stages (idea definition, PRD, TRD, feature breakdown, user stories), spawning
analysis agents, calling capability servers, and holding every stage output to
quality gates before it advances.

All state is stored in ~/.chainforge/ (SQLite for events, JSON for run state).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
}
