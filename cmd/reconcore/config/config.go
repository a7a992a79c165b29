// Package config loads process configuration for the reconcore binary.
// Precedence, lowest to highest: built-in defaults, an optional YAML
// config file, then RECONCORE_-prefixed environment variables. A .env
// file in the working directory is folded into the environment first.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bank-reconciliation-core/internal/store"
	apperrors "bank-reconciliation-core/pkg/errors"
	"bank-reconciliation-core/pkg/logger"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Log      LogConfig
	Runs     RunsConfig
}

// DatabaseConfig selects the backing database and the read-cache behavior.
type DatabaseConfig struct {
	Driver    string // sqlite | postgres | mysql
	DSN       string
	CacheSize int
	CacheTTL  string // duration string, e.g. "30s"
	Verbose   bool
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	ListenAddr     string
	JWTSecret      string
	AllowedOrigins []string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// RunsConfig carries automation-run defaults.
type RunsConfig struct {
	DefaultLimit int
}

// Load reads the configuration. cfgFile selects an explicit config file;
// empty means defaults and environment only.
func Load(cfgFile string) (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reconcore.db")
	v.SetDefault("database.cache_size", 256)
	v.SetDefault("database.cache_ttl", "30s")
	v.SetDefault("database.verbose", false)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("runs.default_limit", 200)

	v.SetEnvPrefix("RECONCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "config file", err.Error())
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:    v.GetString("database.driver"),
			DSN:       v.GetString("database.dsn"),
			CacheSize: v.GetInt("database.cache_size"),
			CacheTTL:  v.GetString("database.cache_ttl"),
			Verbose:   v.GetBool("database.verbose"),
		},
		Server: ServerConfig{
			ListenAddr:     v.GetString("server.listen_addr"),
			JWTSecret:      v.GetString("server.jwt_secret"),
			AllowedOrigins: expandList(v.GetStringSlice("server.allowed_origins")),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Runs: RunsConfig{
			DefaultLimit: v.GetInt("runs.default_limit"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values before any component consumes them.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database.driver", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "database.dsn", nil)
	}
	if c.Server.ListenAddr == "" {
		return apperrors.ConfigurationError(apperrors.CodeMissingConfig, "server.listen_addr", nil)
	}
	switch logger.Level(c.Log.Level) {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel, logger.FatalLevel:
	default:
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log.level", c.Log.Level)
	}
	switch logger.Format(c.Log.Format) {
	case logger.TextFormat, logger.JSONFormat:
	default:
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "log.format", c.Log.Format)
	}
	if c.Runs.DefaultLimit < 1 || c.Runs.DefaultLimit > 500 {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "runs.default_limit", c.Runs.DefaultLimit)
	}
	if _, err := time.ParseDuration(c.Database.CacheTTL); err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "database.cache_ttl", c.Database.CacheTTL)
	}
	return nil
}

// StoreConfig maps the database section onto the store's options.
func (c *Config) StoreConfig() store.Config {
	cfg := store.Config{
		Driver:    c.Database.Driver,
		DSN:       c.Database.DSN,
		CacheSize: c.Database.CacheSize,
		Verbose:   c.Database.Verbose,
	}
	if ttl, err := time.ParseDuration(c.Database.CacheTTL); err == nil {
		cfg.CacheTTL = ttl
	}
	return cfg
}

// LoggerConfig maps the log section onto the logger's options.
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.Level(c.Log.Level),
		Format: logger.Format(c.Log.Format),
		Output: logger.StderrOutput,
	}
}

// expandList splits comma-joined entries so both YAML lists and env
// strings like "a,b" land as separate values.
func expandList(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
