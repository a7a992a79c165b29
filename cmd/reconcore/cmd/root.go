// Package cmd holds the reconcore subcommands and the CLI error surface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconcore",
	Short: "Bank reconciliation core service",
	Long: `Reconcore hosts the bank reconciliation core: rule-driven automatic
matching of bank statement lines, manual match governance, the exception
queue and approval workflows over a shared ledger database.

Examples:
  reconcore migrate
  reconcore serve --listen :8080
  reconcore run --tenant 1 --mode preview --limit 100
  reconcore export exceptions --tenant 1 --out queue.xlsx
  reconcore export run --tenant 1 --run 12 --out summary.pdf`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig wires environment variables into the CLI-level viper. The
// process configuration itself loads through the config package.
func initConfig() {
	viper.SetEnvPrefix("RECONCORE")
	viper.AutomaticEnv()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
