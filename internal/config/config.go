package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names for Storage.Backend.
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

// Server holds the HTTP listener settings.
type Server struct {
	// HTTPAddr is the dashboard/API listen address.
	HTTPAddr string `json:"httpAddr" env:"FORQ_HTTP_ADDR"`
}

// Storage selects and tunes the broker backend.
type Storage struct {
	// Backend is pebble (embedded, default) or redis.
	Backend string `json:"backend" env:"FORQ_BACKEND"`
	// DataDir is the embedded store's directory. Empty picks a host default.
	DataDir string `json:"dataDir" env:"FORQ_DATA_DIR"`
	// Fsync is always, interval, or never.
	Fsync string `json:"fsync" env:"FORQ_FSYNC"`
	// FsyncIntervalMs is the group-commit window when Fsync is interval.
	FsyncIntervalMs int `json:"fsyncIntervalMs" env:"FORQ_FSYNC_INTERVAL_MS"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr     string `json:"addr" env:"FORQ_REDIS_ADDR"`
	Password string `json:"password" env:"FORQ_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"FORQ_REDIS_DB"`
}

// Worker sets pool defaults; per-queue registrations may override them.
type Worker struct {
	Concurrency    int `json:"concurrency" env:"FORQ_WORKER_CONCURRENCY"`
	LockMs         int `json:"lockMs" env:"FORQ_WORKER_LOCK_MS"`
	PollMs         int `json:"pollMs" env:"FORQ_WORKER_POLL_MS"`
	StallMs        int `json:"stallMs" env:"FORQ_WORKER_STALL_MS"`
	DrainTimeoutMs int `json:"drainTimeoutMs" env:"FORQ_WORKER_DRAIN_TIMEOUT_MS"`
	DialAttempts   int `json:"dialAttempts" env:"FORQ_DIAL_ATTEMPTS"`
	DialBackoffMs  int `json:"dialBackoffMs" env:"FORQ_DIAL_BACKOFF_MS"`
}

// Retention caps the terminal-record buffers per queue.
type Retention struct {
	MaxDoneRecords int `json:"maxDoneRecords" env:"FORQ_MAX_DONE_RECORDS"`
	MaxDeadRecords int `json:"maxDeadRecords" env:"FORQ_MAX_DEAD_RECORDS"`
}

// Log selects log verbosity and encoding.
type Log struct {
	Level  string `json:"level" env:"FORQ_LOG_LEVEL"`
	Format string `json:"format" env:"FORQ_LOG_FORMAT"`
}

// Config is the top-level configuration.
type Config struct {
	Server    Server    `json:"server"`
	Storage   Storage   `json:"storage"`
	Redis     Redis     `json:"redis"`
	Worker    Worker    `json:"worker"`
	Retention Retention `json:"retention"`
	Log       Log       `json:"log"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Server: Server{HTTPAddr: ":8080"},
		Storage: Storage{
			Backend:         BackendPebble,
			Fsync:           "interval",
			FsyncIntervalMs: 5,
		},
		Redis: Redis{Addr: "127.0.0.1:6379"},
		Worker: Worker{
			Concurrency:    4,
			LockMs:         30_000,
			PollMs:         250,
			StallMs:        30_000,
			DrainTimeoutMs: 10_000,
			DialAttempts:   5,
			DialBackoffMs:  250,
		},
		Retention: Retention{
			MaxDoneRecords: 1024,
			MaxDeadRecords: 1024,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load resolves configuration: defaults, then the JSON file at path (when
// non-empty), then FORQ_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: env overlay: %w", err)
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendPebble, BackendRedis:
	default:
		return fmt.Errorf("config: storage.backend must be %s or %s, got %q", BackendPebble, BackendRedis, c.Storage.Backend)
	}
	switch c.Storage.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("config: storage.fsync must be always|interval|never, got %q", c.Storage.Fsync)
	}
	if c.Storage.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr required for the redis backend")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.LockMs < 100 {
		return fmt.Errorf("config: worker.lockMs must be >= 100, got %d", c.Worker.LockMs)
	}
	return nil
}

// LockDuration is Worker.LockMs as a duration.
func (w Worker) LockDuration() time.Duration { return time.Duration(w.LockMs) * time.Millisecond }

// PollInterval is Worker.PollMs as a duration.
func (w Worker) PollInterval() time.Duration { return time.Duration(w.PollMs) * time.Millisecond }

// StallInterval is Worker.StallMs as a duration.
func (w Worker) StallInterval() time.Duration { return time.Duration(w.StallMs) * time.Millisecond }

// DrainTimeout is Worker.DrainTimeoutMs as a duration.
func (w Worker) DrainTimeout() time.Duration {
	return time.Duration(w.DrainTimeoutMs) * time.Millisecond
}

// DialBackoff is Worker.DialBackoffMs as a duration.
func (w Worker) DialBackoff() time.Duration {
	return time.Duration(w.DialBackoffMs) * time.Millisecond
}
