// Package config resolves server settings from flags, the environment and an
// optional .env file. Flags win over the environment, which wins over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// Defaults.
const (
	DefaultDBPath    = "sobe.sqlite3"
	DefaultAddr      = ":8080"
	DefaultAdminUser = "Admin"
)

// Config holds everything the server needs to start.
type Config struct {
	DBPath            string
	DatabaseURL       string // selects PostgreSQL instead of the SQLite file
	Addr              string
	AdminUser         string
	LogPath           string
	LogLevel          slog.Level
	LowStockThreshold int
	LockWait          time.Duration
	CORSOrigins       []string
}

// Usage is printed for -h.
const Usage = `Usage: sobe [flags]

Flags:
  -d, -db <path>          SQLite database path (default: sobe.sqlite3)
  -p, -postgres <url>     PostgreSQL connection URL, used instead of -db
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        admin username on first run (default: Admin)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Environment (also read from .env):
  SOBE_DB, SOBE_DATABASE_URL, SOBE_ADDR,
  SOBE_ADMIN, SOBE_LOG                         defaults for the flags above
  SOBE_LOG_LEVEL                               debug, info, warn or error (default: info)
  SOBE_LOW_STOCK_THRESHOLD                     highest low-stock quantity (default: 5)
  SOBE_LOCK_WAIT                               per-item lock wait (default: 2s)
  SOBE_CORS_ORIGINS                            comma separated allowed origins
`

// LoadDotenv loads path into the process environment if it exists. Variables
// already set are not overridden.
func LoadDotenv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load parses args on top of values from getenv. It returns flag.ErrHelp if
// help was requested.
func Load(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{}

	fset := flag.NewFlagSet("sobe", flag.ContinueOnError)
	fset.SetOutput(output)
	fset.Usage = func() { fmt.Fprint(output, Usage) }

	dbPath := env("SOBE_DB", DefaultDBPath)
	fset.StringVar(&cfg.DBPath, "db", dbPath, "")
	fset.StringVar(&cfg.DBPath, "d", dbPath, "")

	databaseURL := env("SOBE_DATABASE_URL", "")
	fset.StringVar(&cfg.DatabaseURL, "postgres", databaseURL, "")
	fset.StringVar(&cfg.DatabaseURL, "p", databaseURL, "")

	addr := env("SOBE_ADDR", DefaultAddr)
	fset.StringVar(&cfg.Addr, "addr", addr, "")
	fset.StringVar(&cfg.Addr, "a", addr, "")

	admin := env("SOBE_ADMIN", DefaultAdminUser)
	fset.StringVar(&cfg.AdminUser, "user", admin, "")
	fset.StringVar(&cfg.AdminUser, "u", admin, "")

	logPath := env("SOBE_LOG", "")
	fset.StringVar(&cfg.LogPath, "log", logPath, "")
	fset.StringVar(&cfg.LogPath, "l", logPath, "")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fset.Arg(0))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(env("SOBE_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("SOBE_LOG_LEVEL: %w", err)
	}

	threshold, err := strconv.Atoi(env("SOBE_LOW_STOCK_THRESHOLD", strconv.Itoa(model.DefaultLowStockThreshold)))
	if err != nil {
		return nil, fmt.Errorf("SOBE_LOW_STOCK_THRESHOLD: %w", err)
	}
	cfg.LowStockThreshold = threshold

	wait, err := time.ParseDuration(env("SOBE_LOCK_WAIT", stock.DefaultLockWait.String()))
	if err != nil {
		return nil, fmt.Errorf("SOBE_LOCK_WAIT: %w", err)
	}
	cfg.LockWait = wait

	for _, origin := range strings.Split(getenv("SOBE_CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DBPath == "" && c.DatabaseURL == "" {
		return errors.New("database path must not be empty")
	}
	if c.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	if strings.TrimSpace(c.AdminUser) == "" {
		return errors.New("admin username must not be empty")
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("low stock threshold must not be negative, got %d", c.LowStockThreshold)
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("lock wait must be positive, got %s", c.LockWait)
	}
	return nil
}

// UsesPostgres reports whether the server runs on PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// Classifier returns the stock classifier for the configured threshold.
func (c *Config) Classifier() model.Classifier {
	return model.Classifier{LowStockThreshold: c.LowStockThreshold}
}
