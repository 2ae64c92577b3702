package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rvallejo/forq/internal/broker"
	pebblebroker "github.com/rvallejo/forq/internal/broker/pebble"
	redisbroker "github.com/rvallejo/forq/internal/broker/redis"
	cfgpkg "github.com/rvallejo/forq/internal/config"
	"github.com/rvallejo/forq/internal/metrics"
	"github.com/rvallejo/forq/internal/monitor"
	httpserver "github.com/rvallejo/forq/internal/server/http"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
	"github.com/rvallejo/forq/internal/worker"
	logpkg "github.com/rvallejo/forq/pkg/log"
)

// Options carries everything Run needs beyond the resolved config.
type Options struct {
	Config cfgpkg.Config
}

// Run starts the broker, worker registry, and HTTP server, and blocks until
// ctx is cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// don't pass a signal-aware context still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config

	lvl, err := logpkg.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(lvl),
		logpkg.WithFormat(logpkg.Format(cfg.Log.Format)),
	)

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	manager := broker.NewManager(dialer(cfg, met), broker.ManagerOptions{
		DialAttempts: cfg.Worker.DialAttempts,
		DialBackoff:  cfg.Worker.DialBackoff(),
		Logger:       logger,
	})
	defer manager.Release()

	// Dial eagerly so misconfiguration surfaces at startup, not first use.
	if _, err := manager.Acquire(sctx); err != nil {
		return err
	}

	logger.Info("starting forq server",
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Str("backend", cfg.Storage.Backend),
		logpkg.Str("data_dir", cfg.Storage.DataDir),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	registry := worker.NewRegistry(manager, worker.Config{
		Concurrency:   cfg.Worker.Concurrency,
		LockDuration:  cfg.Worker.LockDuration(),
		PollInterval:  cfg.Worker.PollInterval(),
		StallInterval: cfg.Worker.StallInterval(),
		DrainTimeout:  cfg.Worker.DrainTimeout(),
	}, logger, met)
	defer registry.StopAll()

	mon := monitor.New(manager, logger)
	hsrv := httpserver.New(manager, mon, met, reg, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.Server.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server failed", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Drain workers before the servers and broker go away so in-flight jobs
	// can still ack.
	registry.StopAll()
	hsrv.Close()
	wg.Wait()
	return nil
}

// dialer builds the backend dial function the manager retries against.
func dialer(cfg cfgpkg.Config, met *metrics.Set) broker.Dialer {
	switch cfg.Storage.Backend {
	case cfgpkg.BackendRedis:
		return func(ctx context.Context) (broker.Broker, error) {
			return redisbroker.Dial(ctx, redisbroker.Options{
				Addr:           cfg.Redis.Addr,
				Password:       cfg.Redis.Password,
				DB:             cfg.Redis.DB,
				MaxDoneRecords: cfg.Retention.MaxDoneRecords,
				MaxDeadRecords: cfg.Retention.MaxDeadRecords,
			})
		}
	default:
		return func(ctx context.Context) (broker.Broker, error) {
			fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
			if err != nil {
				return nil, err
			}
			db, err := pebblestore.Open(pebblestore.Options{
				DataDir:       filepath.Join(cfg.Storage.DataDir, "store"),
				Fsync:         fsync,
				FsyncInterval: time.Duration(cfg.Storage.FsyncIntervalMs) * time.Millisecond,
				Metrics:       met,
			})
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
			return pebblebroker.New(db, pebblebroker.Options{
				MaxDoneRecords: cfg.Retention.MaxDoneRecords,
				MaxDeadRecords: cfg.Retention.MaxDeadRecords,
			}), nil
		}
	}
}
