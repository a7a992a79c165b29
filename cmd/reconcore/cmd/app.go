package cmd

import (
	"github.com/spf13/viper"

	"bank-reconciliation-core/cmd/reconcore/config"
	"bank-reconciliation-core/internal/admin"
	"bank-reconciliation-core/internal/approvals"
	"bank-reconciliation-core/internal/engine"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/executors"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/reports"
	"bank-reconciliation-core/internal/runs"
	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// app bundles everything a subcommand needs: the loaded configuration,
// the process logger, the store and the wired domain services.
type app struct {
	cfg *config.Config
	log logger.Logger

	store      *store.Store
	runs       *runs.Service
	admin      *admin.Service
	recon      *recon.Service
	exceptions *exceptions.Service
	approvals  *approvals.Service
	reports    *reports.Service
}

// buildApp loads configuration, installs the logger and opens the store,
// then wires the domain services. Every subcommand starts here.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerConfig()
	if viper.GetBool("verbose") {
		logCfg.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log", err.Error())
	}
	logger.SetGlobalLogger(log)

	st, err := store.Open(cfg.StoreConfig(), log)
	if err != nil {
		return nil, apperrors.StorageError("opening database", err)
	}

	exc := exceptions.New(st, log)
	rec := recon.New(st, exc, log)
	exe := executors.New(st, rec, log)
	gate := approvals.New(st, log)
	adm := admin.New(st, gate, exe, exc, log)
	adm.RegisterExecutors()
	run := runs.New(st, engine.New(st, log), exe, rec, exc, log)
	rep, err := reports.New(st, nil, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		log:        log,
		store:      st,
		runs:       run,
		admin:      adm,
		recon:      rec,
		exceptions: exc,
		approvals:  gate,
		reports:    rep,
	}, nil
}
