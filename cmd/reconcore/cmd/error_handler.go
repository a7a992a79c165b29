package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// HandleError prints a user-facing message for err and returns the
// process exit code. main calls it with whatever Execute returned.
func HandleError(err error) int {
	if err == nil {
		return 0
	}
	logger.GetGlobalLogger().WithComponent("cli").WithError(err).Error("Command failed")

	re, ok := apperrors.AsReconError(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", re.Message)
	if len(re.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range re.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}
	if re.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", re.Suggestion)
	}
	if help := categoryHelp(re.Category); help != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", help)
	}
	if viper.GetBool("verbose") && re.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", re.Cause)
	}
	return re.GetExitCode()
}

// categoryHelp returns category-specific help text
func categoryHelp(category apperrors.ErrorCategory) string {
	switch category {
	case apperrors.CategoryValidation:
		return `Validation error help:
• Check the flag values against the command help
• Dates use YYYY-MM-DD and ids are positive integers
• Run limits stay between 1 and 500`

	case apperrors.CategoryConfiguration:
		return `Configuration error help:
• Check RECONCORE_* environment variables and the --config file
• The database driver must be sqlite, postgres or mysql
• Use 'reconcore serve --help' to see the expected settings`

	case apperrors.CategoryAuthorization:
		return `Authorization error help:
• The acting principal lacks a permission or legal-entity scope
• Check the token claims or the --tenant and --legal-entity flags`

	case apperrors.CategoryConflict:
		return `Conflict error help:
• The operation collides with already-recorded state
• Re-read the entity and retry with current values`

	case apperrors.CategoryGovernance:
		return `Governance error help:
• The change is parked behind a pending approval request
• Decide the request before repeating the operation`

	default:
		return ""
	}
}
