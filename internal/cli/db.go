package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgelabs/chainforge/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()
		cmd.Println("Database is up to date.")
		return nil
	},
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the event database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the event database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("yes")
		if !confirm {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		cmd.Println("Database reset.")
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbPathCmd)
	dbCmd.AddCommand(dbResetCmd)
}
