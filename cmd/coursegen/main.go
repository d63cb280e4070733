// Command coursegen runs the course generation queue worker.
//
// Subcommands:
//
//	worker   claim and process queued generation jobs, plus the ops HTTP server
//	reaper   standalone stale-claim reaper
//	migrate  run pending database migrations and exit
//	enqueue  add a queue entry for an existing job
//	queue    print queue depth and recent entries
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	// Embeds the IANA timezone database for distroless images.
	_ "time/tzdata"

	// Sets GOMEMLIMIT from the cgroup memory limit.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dbawebdesign/lailms-sub004/internal/api"
	"github.com/dbawebdesign/lailms-sub004/internal/config"
	"github.com/dbawebdesign/lailms-sub004/internal/orchestrator"
	"github.com/dbawebdesign/lailms-sub004/internal/store"
	"github.com/dbawebdesign/lailms-sub004/internal/worker"
	"github.com/dbawebdesign/lailms-sub004/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "coursegen",
		Short: "Course generation queue worker",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		workerCmd(),
		reaperCmd(),
		migrateCmd(),
		enqueueCmd(),
		queueCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued generation jobs until SIGINT/SIGTERM",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.OrchestratorURL == "" {
		return errors.New("config: ORCHESTRATOR_URL is required for the worker")
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(db)
	reg := newRegistry()

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	orch := orchestrator.NewClient(cfg.OrchestratorURL, cfg.OrchestratorSigningSecret,
		&http.Client{Timeout: cfg.OrchestratorHTTPTimeout})

	pool := worker.NewPool(st, orch, worker.PoolConfig{
		Worker: worker.Config{
			WorkerID:        workerID,
			PollInterval:    cfg.PollInterval(),
			PipelineTimeout: cfg.PipelineTimeout,
			Policy: worker.Policy{
				DefaultMaxRetries: cfg.MaxRetries,
				BackoffBase:       cfg.RetryBackoffBase,
				BackoffMax:        cfg.RetryBackoffMax,
			},
			Generation: orchestrator.GenerationConfig{
				Model:      cfg.GenerationModel,
				Language:   cfg.GenerationLanguage,
				MaxLessons: cfg.GenerationMaxLessons,
			},
		},
		Concurrency:        cfg.WorkerConcurrency,
		ReaperEnabled:      cfg.ReaperEnabled,
		StaleCheckInterval: cfg.StaleCheckInterval,
		StaleThreshold:     cfg.StaleThreshold,
	}, worker.WithLogger(logger), worker.WithMetrics(worker.NewMetrics(reg)))

	g, gctx := errgroup.WithContext(ctx)

	// Runs until gctx is cancelled, then drains in-flight jobs.
	g.Go(func() error { return pool.Start(gctx) })

	if cfg.OpsListenAddr != "" {
		srv := newOpsServer(cfg, api.NewServer(st, reg, logger).Handler())
		g.Go(func() error {
			slog.Info("ops server started", "addr", cfg.OpsListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
			)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("ops server shutdown: %w", err)
			}
			return nil
		})
	}

	slog.Info("worker process started",
		"worker_id", workerID,
		"concurrency", cfg.WorkerConcurrency,
		"reaper_enabled", cfg.ReaperEnabled)

	err = g.Wait()
	slog.Info("worker process stopped")
	return err
}

// ── reaper ────────────────────────────────────────────────────────────────────

func reaperCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reaper",
		Short: "Run only the stale-claim reaper (for deployments with REAPER_ENABLED=false on workers)",
		RunE:  runReaper,
	}
}

func runReaper(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r := worker.NewReaper(store.New(db), cfg.StaleCheckInterval, cfg.StaleThreshold,
		worker.WithLogger(logger), worker.WithMetrics(worker.NewMetrics(newRegistry())))
	return r.Run(ctx)
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB; use pgx's stdlib adapter.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "enqueue <job-id>",
		Short: "Add a pending queue entry for an existing generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			var override *int
			if cmd.Flags().Changed("max-retries") {
				if maxRetries < 0 {
					return fmt.Errorf("--max-retries must be >= 0, got %d", maxRetries)
				}
				override = &maxRetries
			}

			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			entry, err := st.Enqueue(cmd.Context(), jobID, override)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %s does not exist", jobID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "per-entry retry ceiling (default: worker MAX_RETRIES)")
	return cmd
}

// ── queue ─────────────────────────────────────────────────────────────────────

func queueCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print queue depth per status and the most recent entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch store.EntryStatus(status) {
			case "", store.EntryPending, store.EntryClaimed, store.EntryDone:
			default:
				return fmt.Errorf("invalid --status %q (pending, claimed, done)", status)
			}

			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			stats, err := st.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := st.ListEntries(cmd.Context(), store.EntryFilter{
				Status: store.EntryStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []store.Entry{}
			}
			return printJSON(cmd, map[string]any{"stats": stats, "entries": entries})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter entries by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to print")
	return cmd
}

// ── helpers ───────────────────────────────────────────────────────────────────

// openStore loads config and connects for the one-shot tooling commands.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	db, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return store.New(db), db.Close, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newOpsServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.OpsListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// newPool creates and validates a pgxpool: statement timeout, pool sizing,
// and PgBouncer-compatible exec mode. Connection attempts are retried with
// exponential backoff to ride out Postgres starting after the worker.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	var db *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		db = p
		return nil
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("database not ready, retrying", "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", err)
	}

	// Warn when the applied schema does not match this binary.
	var schemaVersion int
	err = db.QueryRow(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&schemaVersion)
	if err == nil && schemaVersion != expectedSchemaVersion {
		slog.Warn("schema version mismatch, run `coursegen migrate`",
			"applied_version", schemaVersion,
			"expected_version", expectedSchemaVersion,
		)
	}

	return db, nil
}

// expectedSchemaVersion is the migration version this binary requires.
const expectedSchemaVersion = 1

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
