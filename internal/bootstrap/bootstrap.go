package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/records-inbox/internal/config"
	"github.com/kirillkom/records-inbox/internal/core/ports"
	"github.com/kirillkom/records-inbox/internal/core/usecase"
	"github.com/kirillkom/records-inbox/internal/infrastructure/dropfolder"
	"github.com/kirillkom/records-inbox/internal/infrastructure/extractor"
	"github.com/kirillkom/records-inbox/internal/infrastructure/mailbox/imap"
	"github.com/kirillkom/records-inbox/internal/infrastructure/memory"
	"github.com/kirillkom/records-inbox/internal/infrastructure/ocr/ollama"
	"github.com/kirillkom/records-inbox/internal/infrastructure/queue/nats"
	"github.com/kirillkom/records-inbox/internal/infrastructure/redis"
	"github.com/kirillkom/records-inbox/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/records-inbox/internal/infrastructure/resilience"
	"github.com/kirillkom/records-inbox/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/records-inbox/internal/infrastructure/storage/s3"
)

// Options carries process-specific observers into the shared wiring.
type Options struct {
	RetryObserver    resilience.RetryObserver
	DeliveryObserver nats.DeliveryObserver
}

type App struct {
	Config config.Config

	DB            *sql.DB
	Queue         *nats.Queue
	Drop          *dropfolder.Folder
	Mappings      *postgres.MappingRepository
	Settings      *postgres.SettingsRepository
	Notifications *postgres.NotificationRepository
	FailedJobs    ports.FailedJobLog

	IngestUC    *usecase.IngestUseCase
	ProcessUC   *usecase.ProcessFileUseCase
	TriageUC    *usecase.TriageUseCase
	EmailPollUC *usecase.EmailPollUseCase

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	if err := app.wire(ctx, cfg, opts); err != nil {
		app.Close()
		return nil, err
	}
	slog.Info("bootstrap_ready",
		"storage_backend", cfg.StorageBackend,
		"lease_backend", cfg.LeaseBackend,
		"ocr_enabled", cfg.OCREnabled,
		"drop_dir", app.Drop.Path(),
	)
	return app, nil
}

func (app *App) wire(ctx context.Context, cfg config.Config, opts Options) error {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	app.DB = db
	app.onClose(func() { _ = db.Close() })
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = cfg.RetryMaxAttempts
	policy.RetryInitialBackoff = cfg.RetryInitialBackoff
	policy.RetryMaxBackoff = cfg.RetryMaxBackoff
	policy.BreakerEnabled = cfg.BreakerEnabled
	policy.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	executor := resilience.NewExecutor(policy)
	if opts.RetryObserver != nil {
		executor.WithObserver(opts.RetryObserver)
	}

	blobs, err := newBlobStore(ctx, cfg, executor)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	leases, failedJobs, err := app.newCoordination(ctx, cfg)
	if err != nil {
		return err
	}
	app.FailedJobs = failedJobs

	queue, err := nats.New(ctx, cfg.NATSURL, nats.Options{
		Stream:             cfg.NATSStream,
		Subject:            cfg.NATSSubject,
		Consumer:           cfg.NATSConsumer,
		Concurrency:        cfg.QueueConcurrency,
		RatePerSecond:      cfg.QueueRatePerSecond,
		MaxDeliver:         cfg.QueueMaxDeliver,
		AckWait:            cfg.QueueAckWait,
		ResilienceExecutor: executor,
		FailedJobs:         failedJobs,
		Observer:           opts.DeliveryObserver,
	})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	app.Queue = queue
	app.onClose(queue.Close)

	drop, err := dropfolder.New(cfg.DropDir)
	if err != nil {
		return fmt.Errorf("init drop folder: %w", err)
	}
	app.Drop = drop

	inbox := postgres.NewInboxRepository(db)
	app.Mappings = postgres.NewMappingRepository(db)
	app.Settings = postgres.NewSettingsRepository(db)
	app.Notifications = postgres.NewNotificationRepository(db)

	var ocr ports.OCREngine
	if cfg.OCREnabled {
		ocr = ollama.New(cfg.OllamaURL, cfg.OllamaOCRModel, cfg.OllamaTimeout, executor)
	}

	assignUC := usecase.NewAssignUseCase(inbox)
	app.IngestUC = usecase.NewIngestUseCase(queue, inbox, drop)
	app.ProcessUC = usecase.NewProcessFileUseCase(
		inbox, app.Mappings, blobs, extractor.New(ocr), assignUC, app.Notifications, leases, cfg.LeaseTTL,
	)
	app.TriageUC = usecase.NewTriageUseCase(
		inbox, app.Mappings, blobs, drop, assignUC, app.IngestUC, failedJobs, cfg.DownloadURLTTL,
	)
	app.EmailPollUC = usecase.NewEmailPollUseCase(app.Settings, imap.New(cfg.IMAPTimeout), drop, leases, cfg.LeaseTTL).
		WithFailedJobLog(failedJobs)
	return nil
}

// SeedMappings inserts the configured mapping rules when the table is empty.
func (app *App) SeedMappings(ctx context.Context) error {
	seed, err := config.LoadMappingSeed(app.Config.MappingsSeedFile)
	if err != nil {
		return err
	}
	inserted, err := app.Mappings.SeedDefaults(ctx, seed)
	if err != nil {
		return fmt.Errorf("seed mappings: %w", err)
	}
	if inserted > 0 {
		slog.Info("mappings_seeded", "count", inserted)
	}
	return nil
}

func (app *App) Close() {
	for i := len(app.closeFns) - 1; i >= 0; i-- {
		app.closeFns[i]()
	}
	app.closeFns = nil
}

func (app *App) onClose(fn func()) {
	app.closeFns = append(app.closeFns, fn)
}

func newBlobStore(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "local":
		store, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := s3.New(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix, executor)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

// newCoordination picks the lease manager and failed-job history. The
// memory backend is only correct with a single worker process.
func (app *App) newCoordination(ctx context.Context, cfg config.Config) (ports.LeaseManager, ports.FailedJobLog, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LeaseBackend)) {
	case "", "memory":
		return memory.NewLeaseManager(), memory.NewFailedJobLog(cfg.QueueFailedHistory), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		app.onClose(func() { _ = client.Close() })
		if err := redis.Ping(ctx, client); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redis.NewLeaseManager(client), redis.NewFailedJobLog(client, cfg.QueueFailedHistory), nil
	default:
		return nil, nil, fmt.Errorf("unknown LEASE_BACKEND %q", cfg.LeaseBackend)
	}
}
