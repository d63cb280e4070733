// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Values are never re-read while the process runs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"10"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Process ──────────────────────────────────────────────────────────────────
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`
	// OpsListenAddr serves /healthz, /metrics and the queue API. Empty disables it.
	OpsListenAddr string `env:"OPS_LISTEN_ADDR" envDefault:":9090"`

	// ── Worker ───────────────────────────────────────────────────────────────────
	// WorkerID identifies this process in generation_queue.owner_id.
	// A random uuid is used when unset.
	WorkerID          string `env:"WORKER_ID"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"1"`
	PollIntervalMS    int    `env:"POLL_INTERVAL_MS"   envDefault:"5000"`
	MaxRetries        int    `env:"MAX_RETRIES"        envDefault:"3"`
	// PipelineTimeout bounds one orchestration call. Zero means no deadline.
	PipelineTimeout  time.Duration `env:"PIPELINE_TIMEOUT"   envDefault:"15m"`
	RetryBackoffBase time.Duration `env:"RETRY_BACKOFF_BASE" envDefault:"0s"`
	RetryBackoffMax  time.Duration `env:"RETRY_BACKOFF_MAX"  envDefault:"5m"`

	// ── Stale reaper ─────────────────────────────────────────────────────────────
	ReaperEnabled      bool          `env:"REAPER_ENABLED"       envDefault:"true"`
	StaleCheckInterval time.Duration `env:"STALE_CHECK_INTERVAL" envDefault:"60s"`
	// StaleThreshold is the claim age after which the owning worker is presumed dead.
	StaleThreshold time.Duration `env:"STALE_THRESHOLD" envDefault:"20m"`

	// ── Orchestration pipeline ───────────────────────────────────────────────────
	OrchestratorURL           string        `env:"ORCHESTRATOR_URL"`
	OrchestratorSigningSecret string        `env:"ORCHESTRATOR_SIGNING_SECRET"`
	OrchestratorHTTPTimeout   time.Duration `env:"ORCHESTRATOR_HTTP_TIMEOUT" envDefault:"0s"`

	// ── Generation settings forwarded to the pipeline ───────────────────────────
	GenerationModel      string `env:"GENERATION_MODEL"       envDefault:"gpt-4o"`
	GenerationLanguage   string `env:"GENERATION_LANGUAGE"    envDefault:"en"`
	GenerationMaxLessons int    `env:"GENERATION_MAX_LESSONS" envDefault:"12"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing or Validate fails.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMS))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency))
	}
	if c.StaleCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("STALE_CHECK_INTERVAL must be positive, got %s", c.StaleCheckInterval))
	}
	if c.StaleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("STALE_THRESHOLD must be positive, got %s", c.StaleThreshold))
	}
	// A reaped entry may be claimed by another worker while the first one is
	// still inside its pipeline call unless the call always ends first.
	if c.PipelineTimeout > 0 && c.StaleThreshold <= c.PipelineTimeout {
		errs = append(errs, fmt.Errorf("STALE_THRESHOLD (%s) must exceed PIPELINE_TIMEOUT (%s)",
			c.StaleThreshold, c.PipelineTimeout))
	}
	if c.RetryBackoffBase < 0 || c.RetryBackoffMax < 0 {
		errs = append(errs, errors.New("RETRY_BACKOFF_BASE and RETRY_BACKOFF_MAX must not be negative"))
	}
	return errors.Join(errs...)
}

// PollInterval returns POLL_INTERVAL_MS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
