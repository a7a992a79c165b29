package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// Flags for the export commands
var (
	exportTenant uint
	exportOut    string

	exportStatus      string
	exportLegalEntity uint
	exportBankAccount uint
	exportReason      string
	exportLimit       int

	exportRunID uint
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reconciliation state to files",
	Long: `Export renders tenant-scoped reconciliation state into files:
the exception queue as an XLSX workbook, a recorded automation run as an
XLSX workbook of its outcome rows or a one-page PDF summary.`,
}

var exportExceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Export the exception queue as an XLSX workbook",
	Long: `Exceptions writes the tenant's exception queue, one row per
exception joined with its statement line.

Examples:
  reconcore export exceptions --tenant 1 --out queue.xlsx
  reconcore export exceptions --tenant 1 --status OPEN --bank-account 100 --out open.xlsx`,
	PreRunE: validateExportExceptionsFlags,
	RunE:    runExportExceptions,
}

var exportRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Export one automation run",
	Long: `Run exports a recorded automation run. The output extension picks
the artifact: .xlsx writes the persisted outcome rows, .pdf writes the
one-page counter summary.

Examples:
  reconcore export run --tenant 1 --run 12 --out outcomes.xlsx
  reconcore export run --tenant 1 --run 12 --out summary.pdf`,
	PreRunE: validateExportRunFlags,
	RunE:    runExportRun,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportExceptionsCmd)
	exportCmd.AddCommand(exportRunCmd)

	exportCmd.PersistentFlags().UintVar(&exportTenant, "tenant", 0, "tenant id (required)")
	exportCmd.PersistentFlags().StringVarP(&exportOut, "out", "o", "", "output file path (required)")

	exportExceptionsCmd.Flags().StringVar(&exportStatus, "status", "", "filter by status: OPEN, ASSIGNED, RESOLVED or IGNORED")
	exportExceptionsCmd.Flags().UintVar(&exportLegalEntity, "legal-entity", 0, "filter by legal entity")
	exportExceptionsCmd.Flags().UintVar(&exportBankAccount, "bank-account", 0, "filter by bank account")
	exportExceptionsCmd.Flags().StringVar(&exportReason, "reason", "", "filter by reason code")
	exportExceptionsCmd.Flags().IntVar(&exportLimit, "limit", 0, "row cap (default from the report configuration)")

	exportRunCmd.Flags().UintVar(&exportRunID, "run", 0, "run id (required)")
}

func validateExportFlags() error {
	if exportTenant == 0 {
		return apperrors.ValidationError(apperrors.CodeMissingPayload, "tenant", nil)
	}
	if exportOut == "" {
		return apperrors.ValidationError(apperrors.CodeMissingPayload, "out", nil)
	}
	return nil
}

func validateExportExceptionsFlags(cmd *cobra.Command, args []string) error {
	if err := validateExportFlags(); err != nil {
		return err
	}
	if filepath.Ext(exportOut) != ".xlsx" {
		return apperrors.ValidationError(apperrors.CodeInvalidInput, "out", "exception exports are .xlsx")
	}
	if exportStatus != "" && !models.ExceptionStatus(exportStatus).IsValid() {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "status", exportStatus)
	}
	return nil
}

func validateExportRunFlags(cmd *cobra.Command, args []string) error {
	if err := validateExportFlags(); err != nil {
		return err
	}
	if exportRunID == 0 {
		return apperrors.ValidationError(apperrors.CodeMissingPayload, "run", nil)
	}
	switch filepath.Ext(exportOut) {
	case ".xlsx", ".pdf":
		return nil
	default:
		return apperrors.ValidationError(apperrors.CodeInvalidInput, "out", "use a .xlsx or .pdf output path")
	}
}

func runExportExceptions(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	f := store.ExceptionFilter{ReasonCode: exportReason, Limit: exportLimit}
	if exportStatus != "" {
		status := models.ExceptionStatus(exportStatus)
		f.Status = &status
	}
	if exportLegalEntity != 0 {
		le := exportLegalEntity
		f.LegalEntityID = &le
	}
	if exportBankAccount != 0 {
		ba := exportBankAccount
		f.BankAccountID = &ba
	}

	out, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if err := a.reports.ExceptionQueueXLSX(exportTenant, f, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportOut)
	return nil
}

func runExportRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	out, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	switch filepath.Ext(exportOut) {
	case ".pdf":
		err = a.reports.RunSummaryPDF(exportTenant, exportRunID, out)
	default:
		err = a.reports.RunOutcomeXLSX(exportTenant, exportRunID, out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportOut)
	return nil
}
