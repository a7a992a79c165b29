package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "bank-reconciliation-core/pkg/errors"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Migrate runs the schema migration for every core table: statement
lines, rules, templates, profiles, matches, journals, payments, runs,
exceptions and approvals.

Examples:
  reconcore migrate
  RECONCORE_DATABASE_DSN="host=db user=recon dbname=recon" reconcore migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	if err := a.store.AutoMigrate(); err != nil {
		return apperrors.StorageError("migrating schema", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
	return nil
}
