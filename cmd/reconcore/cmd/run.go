package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bank-reconciliation-core/internal/runs"
	"bank-reconciliation-core/internal/scope"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// Flags for the run command
var (
	runTenant      uint
	runUser        uint
	runMode        string
	runLegalEntity uint
	runBankAccount uint
	runDateFrom    string
	runDateTo      string
	runLimit       int
	runRequestID   string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute an automation run from the command line",
	Long: `Run evaluates the active rule set against the unreconciled statement
lines of one tenant. Preview reports what each rule would do without
touching the lines; apply executes the rule actions and records the run.

Apply runs carry an optional request id: repeating the same id replays
the stored result instead of running twice.

Examples:
  reconcore run --tenant 1 --mode preview
  reconcore run --tenant 1 --mode apply --bank-account 100 --limit 50
  reconcore run --tenant 1 --mode apply --request-id nightly-2025-03-10`,
	PreRunE: validateRunFlags,
	RunE:    runAutoRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().UintVar(&runTenant, "tenant", 0, "tenant id (required)")
	runCmd.Flags().UintVar(&runUser, "user", 0, "acting user id recorded on the run")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "preview", "run mode: preview or apply")
	runCmd.Flags().UintVar(&runLegalEntity, "legal-entity", 0, "restrict to one legal entity")
	runCmd.Flags().UintVar(&runBankAccount, "bank-account", 0, "restrict to one bank account")
	runCmd.Flags().StringVar(&runDateFrom, "date-from", "", "window start (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runDateTo, "date-to", "", "window end (YYYY-MM-DD)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "line scan cap (default from configuration)")
	runCmd.Flags().StringVar(&runRequestID, "request-id", "", "apply replay key")

	runCmd.MarkFlagRequired("tenant")
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	if runTenant == 0 {
		return apperrors.ValidationError(apperrors.CodeMissingPayload, "tenant", nil)
	}
	if runMode != "preview" && runMode != "apply" {
		return apperrors.ValidationError(apperrors.CodeUnknownEnum, "mode", runMode)
	}
	if _, err := parseDayFlag("date-from", runDateFrom); err != nil {
		return err
	}
	if _, err := parseDayFlag("date-to", runDateTo); err != nil {
		return err
	}
	if runRequestID != "" && runMode != "apply" {
		return apperrors.ValidationError(apperrors.CodeInvalidInput, "request-id", "only apply runs take a request id")
	}
	return nil
}

func parseDayFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidInput, name, raw)
	}
	return &t, nil
}

func runAutoRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	p := &scope.Principal{TenantID: runTenant, UserID: runUser}
	f := runs.Filters{RunRequestID: runRequestID, Limit: runLimit}
	if f.Limit == 0 {
		f.Limit = a.cfg.Runs.DefaultLimit
	}
	if runLegalEntity != 0 {
		le := runLegalEntity
		f.LegalEntityID = &le
	}
	if runBankAccount != 0 {
		ba := runBankAccount
		f.BankAccountID = &ba
	}
	f.DateFrom, _ = parseDayFlag("date-from", runDateFrom)
	f.DateTo, _ = parseDayFlag("date-to", runDateTo)
	if f.DateTo != nil {
		// The flag names a day; cover it to the last second.
		end := f.DateTo.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		f.DateTo = &end
	}

	var res *runs.Result
	if runMode == "apply" {
		res, err = a.runs.Apply(p, f)
	} else {
		res, err = a.runs.Preview(p, f)
	}
	if err != nil {
		return err
	}
	printRunResult(cmd, res)
	return nil
}

func printRunResult(cmd *cobra.Command, res *runs.Result) {
	out := cmd.OutOrStdout()
	run := res.Run
	fmt.Fprintf(out, "Run #%d (%s) finished with status %s\n", run.ID, run.RunMode, run.Status)
	if res.Replay {
		fmt.Fprintln(out, "Replayed a previously recorded run with the same request id.")
	}
	fmt.Fprintf(out, "  Scanned:    %d\n", run.ScannedCount)
	fmt.Fprintf(out, "  Matched:    %d\n", run.MatchedCount)
	fmt.Fprintf(out, "  Reconciled: %d\n", run.ReconciledCount)
	fmt.Fprintf(out, "  Exceptions: %d\n", run.ExceptionCount)
	fmt.Fprintf(out, "  Skipped:    %d\n", run.SkippedCount)
	fmt.Fprintf(out, "  Errors:     %d\n", run.ErrorCount)
	if run.Payload.Capped {
		fmt.Fprintf(out, "Line scan capped at %d; raise --limit or narrow the window.\n", run.LineLimit)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
	}
}
