package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/sobe/internal/api"
	"github.com/erazemk/sobe/internal/config"
	"github.com/erazemk/sobe/internal/db"
	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
	"github.com/erazemk/sobe/internal/store"
	"github.com/erazemk/sobe/internal/store/postgres"
)

// tokenPurgeInterval is how often expired revoked tokens are removed.
const tokenPurgeInterval = time.Hour

// levelRouter is a slog.Handler that routes records below ERROR to stdout
// and ERROR+ to stderr, dropping anything below the configured level.
type levelRouter struct {
	level  slog.Leveler
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lr.level.Level()
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		level:  lr.level,
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		level:  lr.level,
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// newLevelRouter builds the handler writing to the given streams.
func newLevelRouter(stdout, stderr io.Writer, level slog.Level) *levelRouter {
	opts := &slog.HandlerOptions{Level: level}
	return &levelRouter{
		level:  level,
		stdout: slog.NewTextHandler(stdout, opts),
		stderr: slog.NewTextHandler(stderr, opts),
	}
}

// setupLogger installs the default logger. If logPath is non-empty, all
// levels are also written to that file. Returns a cleanup function that
// closes the log file (if opened).
func setupLogger(logPath string, level slog.Level) (func(), error) {
	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(newLevelRouter(stdoutW, stderrW, level)))
	return cleanup, nil
}

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprint(os.Stderr, config.Usage)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	st, err := setup(context.Background(), cfg, os.Stdout)
	if err != nil {
		slog.Error("failed to prepare database", "error", err)
		os.Exit(1)
	}
	defer st.close()
	database := st.db

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(context.Background(), database)
	if err != nil {
		slog.Error("failed to get JWT secret", "error", err)
		os.Exit(1)
	}

	engine := stock.New(st.ledger,
		stock.WithClassifier(cfg.Classifier()),
		stock.WithLockWait(cfg.LockWait),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Wrap(api.NewRouter(database, engine, jwtSecret), cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purgeTokens(ctx, database, tokenPurgeInterval)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr,
		"low_stock_threshold", cfg.LowStockThreshold, "lock_wait", cfg.LockWait)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped, closing database")
}

// purgeTokens periodically removes revoked tokens that have expired anyway.
func purgeTokens(ctx context.Context, database *sql.DB, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpiredTokens(ctx, database, time.Now())
			if err != nil {
				slog.Error("failed to purge expired tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged expired tokens", "count", n)
			}
		}
	}
}

// storage is an opened database: db serves the administrative queries and
// ledger is the store movements are applied through.
type storage struct {
	db     *sql.DB
	ledger stock.Store
	close  func()
}

// openStorage opens PostgreSQL when a URL is configured and the SQLite file
// otherwise, and ensures the schema exists.
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.UsesPostgres() {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		database := postgres.SQLDB(pool)
		ledger := postgres.NewLedger(pool)
		ledger.LockTimeout = cfg.LockWait
		return &storage{
			db:     database,
			ledger: ledger,
			close: func() {
				database.Close()
				pool.Close()
			},
		}, nil
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &storage{
		db:     database,
		ledger: store.NewLedger(database),
		close:  func() { database.Close() },
	}, nil
}

// setup opens the database, creates the admin account on first run and
// brings stored item statuses in line with the configured threshold.
func setup(ctx context.Context, cfg *config.Config, out io.Writer) (*storage, error) {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	password, err := ensureAdmin(ctx, st.db, cfg.AdminUser)
	if err != nil {
		st.close()
		return nil, err
	}
	if password != "" {
		location := cfg.DBPath
		if cfg.UsesPostgres() {
			location = "PostgreSQL"
		}
		printInitResult(out, location, cfg.AdminUser, password)
		fmt.Fprintln(out)
	}

	n, err := store.ReclassifyItems(ctx, st.db, cfg.Classifier())
	if err != nil {
		st.close()
		return nil, err
	}
	if n > 0 {
		slog.Info("reclassified items", "count", n, "low_stock_threshold", cfg.LowStockThreshold)
	}

	slog.Info("database ready", "postgres", cfg.UsesPostgres(), "path", cfg.DBPath)
	return st, nil
}

// ensureAdmin creates the admin user if the database has no admin yet and
// returns its generated password. It returns "" if an admin already exists.
func ensureAdmin(ctx context.Context, database *sql.DB, adminUsername string) (string, error) {
	n, err := store.CountAdmins(ctx, database)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}

	password, err := generatePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateUser(ctx, database, adminUsername, string(hash), model.RoleAdmin); err != nil {
		return "", fmt.Errorf("creating admin user: %w", err)
	}

	return password, nil
}

// printInitResult prints the database initialization result.
func printInitResult(w io.Writer, dbPath, username, password string) {
	fmt.Fprintf(w, "Database initialized: %s\n", dbPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Admin account created:")
	fmt.Fprintf(w, "  Username: %s\n", username)
	fmt.Fprintf(w, "  Password: %s\n", password)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Save this password, it cannot be recovered.")
	fmt.Fprintln(w, "The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
