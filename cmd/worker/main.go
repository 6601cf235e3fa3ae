package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/records-inbox/internal/bootstrap"
	"github.com/kirillkom/records-inbox/internal/config"
	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/infrastructure/watcher"
	"github.com/kirillkom/records-inbox/internal/observability/logging"
	"github.com/kirillkom/records-inbox/internal/observability/metrics"
)

const (
	jobTimeout      = 5 * time.Minute
	sourcesLockName = ".sources.lock"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		RetryObserver:    workerMetrics,
		DeliveryObserver: workerMetrics,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.SeedMappings(ctx); err != nil {
		return err
	}

	// Only one worker process may watch the drop folder and poll email.
	lock := flock.New(filepath.Join(app.Drop.Path(), sourcesLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if locked {
		defer func() { _ = lock.Unlock() }()
	}

	g, gctx := errgroup.WithContext(ctx)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return app.Queue.Consume(gctx, func(handlerCtx context.Context, job domain.IngestJob) error {
			jobCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
			defer cancel()

			start := time.Now()
			workerMetrics.StartJob()
			outcome, err := app.ProcessUC.Process(jobCtx, job)
			workerMetrics.FinishJob(outcome, time.Since(start), err)
			if err == nil {
				app.IngestUC.Forget(job.Path)
			}
			return err
		})
	})

	if locked {
		w := watcher.New(app.Drop.Path(), app.IngestUC, cfg.WatchStability, cfg.WatchPollInterval)
		g.Go(func() error { return w.Run(gctx) })
		g.Go(func() error {
			app.EmailPollUC.Run(gctx, cfg.EmailPollInterval, workerMetrics.ObservePoll)
			return nil
		})
	} else {
		slog.Info("worker_sources_disabled", "reason", "sources lock held by another process", "lock", lock.Path())
	}

	slog.Info("worker_started", "stream", cfg.NATSStream, "subject", cfg.NATSSubject, "sources", locked)
	return g.Wait()
}
