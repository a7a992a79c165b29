package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bank-reconciliation-core/internal/server"
	apperrors "bank-reconciliation-core/pkg/errors"
)

var (
	serveListen      string
	serveAutoMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve hosts the /api/v1 surface: automation runs, rule and template
administration, the exception queue, manual matching and approvals.

The JWT signing secret must be configured (RECONCORE_SERVER_JWT_SECRET or
the config file) before the server will start.

Examples:
  reconcore serve
  reconcore serve --listen :9090 --auto-migrate`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides configuration)")
	serveCmd.Flags().BoolVar(&serveAutoMigrate, "auto-migrate", false, "migrate the schema before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	if a.cfg.Server.JWTSecret == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "server.jwt_secret", nil)
	}
	if serveAutoMigrate {
		if err := a.store.AutoMigrate(); err != nil {
			return apperrors.StorageError("migrating schema", err)
		}
	}

	listen := a.cfg.Server.ListenAddr
	if serveListen != "" {
		listen = serveListen
	}
	srv := server.New(server.Config{
		ListenAddr:     listen,
		JWTSecret:      a.cfg.Server.JWTSecret,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	}, server.Services{
		Store:      a.store,
		Runs:       a.runs,
		Admin:      a.admin,
		Recon:      a.recon,
		Exceptions: a.exceptions,
		Approvals:  a.approvals,
	}, a.log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.InternalError("shutting down server", err)
	}
	return <-errCh
}
