// Package store is the persistence layer: a thin wrapper around gorm that
// carries the transaction boundary, the row-lock helper and the read-mostly
// caches for rules and approval policies.
package store

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/pkg/logger"
)

// Config selects the backing database and cache behavior.
type Config struct {
	Driver    string        // sqlite | postgres | mysql
	DSN       string
	CacheSize int           // entries per cache, default 256
	CacheTTL  time.Duration // default 30s
	Verbose   bool          // log SQL through gorm's logger
}

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second
)

// Store wraps a gorm DB handle. Clones produced by Transaction share the
// caches with the root store.
type Store struct {
	db       *gorm.DB
	log      logger.Logger
	rules    *expirable.LRU[uint, []models.ReconRule]
	policies *expirable.LRU[string, []models.ApprovalPolicy]
}

// Open connects to the configured database and returns a ready store.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	var dial gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dial = sqlite.Open(cfg.DSN)
	case "postgres":
		dial = postgres.Open(cfg.DSN)
	case "mysql":
		dial = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormLog := gormlogger.Default.LogMode(gormlogger.Silent)
	if cfg.Verbose {
		gormLog = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         gormLog,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", cfg.Driver)
	}
	return New(db, log, cfg.CacheSize, cfg.CacheTTL), nil
}

// New builds a store around an existing gorm handle. Tests use this with an
// in-memory sqlite DB.
func New(db *gorm.DB, log logger.Logger, cacheSize int, cacheTTL time.Duration) *Store {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Store{
		db:       db,
		log:      log.WithComponent("store"),
		rules:    expirable.NewLRU[uint, []models.ReconRule](cacheSize, nil, cacheTTL),
		policies: expirable.NewLRU[string, []models.ApprovalPolicy](cacheSize, nil, cacheTTL),
	}
}

// DB exposes the raw handle for callers that compose their own queries.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or upgrades every table this core owns.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.BankAccount{},
		&models.LedgerBook{},
		&models.FiscalPeriod{},
		&models.BookPeriodStatus{},
		&models.JournalEntry{},
		&models.JournalLine{},
		&models.PaymentBatch{},
		&models.PaymentLine{},
		&models.PaymentReturnEvent{},
		&models.PaymentBatchAudit{},
		&models.StatementLine{},
		&models.ReconMatch{},
		&models.StatementLineAudit{},
		&models.ReconRule{},
		&models.PostingTemplate{},
		&models.DifferenceProfile{},
		&models.ReconException{},
		&models.ReconExceptionEvent{},
		&models.ApprovalPolicy{},
		&models.ApprovalRequest{},
		&models.ApprovalDecision{},
		&models.AutoRun{},
		&models.AutoPostTrace{},
		&models.DifferenceAdjustment{},
	)
}

// Transaction runs fn inside one database transaction. The store handed to
// fn shares caches with the receiver but routes every query through the tx.
// Nested calls join the outer transaction (gorm savepoints).
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(txdb *gorm.DB) error {
		return fn(s.with(txdb))
	})
}

func (s *Store) with(db *gorm.DB) *Store {
	clone := *s
	clone.db = db
	return &clone
}

// forUpdate adds a FOR UPDATE row lock on dialects that support it. sqlite
// serializes writers on its own, so the clause is skipped there.
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// IsDuplicateKey reports whether err is a unique-constraint violation on any
// supported driver.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound reports whether err is gorm's empty-result error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func policyCacheKey(tenantID uint, module, target, action string) string {
	return fmt.Sprintf("%d|%s|%s|%s", tenantID, module, target, action)
}

// InvalidateRuleCache drops the cached rule list for a tenant. Admin writes
// call this after every rule mutation.
func (s *Store) InvalidateRuleCache(tenantID uint) {
	s.rules.Remove(tenantID)
}

// InvalidatePolicyCache drops every cached policy list for a tenant.
func (s *Store) InvalidatePolicyCache(tenantID uint) {
	for _, k := range s.policies.Keys() {
		var t uint
		if _, err := fmt.Sscanf(k, "%d|", &t); err == nil && t == tenantID {
			s.policies.Remove(k)
		}
	}
}
