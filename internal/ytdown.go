package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/priyankadasarigt/ytdown/internal/activity"
	"github.com/priyankadasarigt/ytdown/internal/api"
	"github.com/priyankadasarigt/ytdown/internal/event"
	"github.com/priyankadasarigt/ytdown/internal/extract"
	"github.com/priyankadasarigt/ytdown/internal/ffmpeg"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/internal/metrics"
	"github.com/priyankadasarigt/ytdown/internal/storage"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/internal/upload"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// ytdownImpl represents the top-level object for the server, and is responsible
	// for initialising the services, stores and event handling.
	ytdownImpl struct {
		config   Config
		eventBus event.EventCoordinator
		store    storage.Store

		jobService      *job.Service
		restGateway     *api.RestGateway
		activityService *activity.ActivityService
	}
)

func New(ctx context.Context, config Config) (*ytdownImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping services using config: %#v\n", config.Redacted())

	if err := os.MkdirAll(config.Jobs.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", config.Jobs.DownloadDir, err)
	}

	store, err := storage.New(ctx, config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to construct object store: %w", err)
	}

	eventBus := event.New()
	collector := metrics.NewCollector()
	tracker := activity.NewTracker(nil)
	ledger := token.NewLedger(config.Tokens)
	registry := job.NewRegistry(config.Jobs.Retention)

	runner := job.NewRunner(
		job.RunnerConfig{DownloadDir: config.Jobs.DownloadDir, Brand: config.Jobs.Brand},
		extract.NewClient(config.Extractor),
		ffmpeg.NewProber(config.Ffmpeg),
		upload.NewCoordinator(store, config.Upload),
		registry,
		eventBus,
		job.WithMetrics(collector),
		job.WithActivity(tracker),
	)
	jobService := job.NewService(config.Jobs, ledger, registry, runner)

	gateway := api.NewRestGateway(&config.RestConfig, ledger, jobService, extract.NewClient(config.Extractor), collector, tracker)

	return &ytdownImpl{
		config:          config,
		eventBus:        eventBus,
		store:           store,
		jobService:      jobService,
		restGateway:     gateway,
		activityService: activity.New(eventBus, gateway.Socket()),
	}, nil
}

// Run starts every service and blocks until the context provided is cancelled, or
// until one of the services fails. In the latter case, the remaining services are
// stopped and the error is returned.
func (ytdown *ytdownImpl) Run(parent context.Context) error {
	defer func() {
		if err := ytdown.store.Close(); err != nil {
			log.Emit(logger.WARNING, "Failed to close object store: %v\n", err)
		}
	}()

	group, ctx := errgroup.WithContext(parent)
	ytdown.spawnAsyncService(ctx, group, ytdown.jobService, "job-service")
	ytdown.spawnAsyncService(ctx, group, ytdown.restGateway, "rest-gateway")
	log.Emit(logger.SUCCESS, "Services spawned!\n")

	if err := group.Wait(); err != nil {
		log.Emit(logger.FATAL, "Shutting down due to service failure: %v\n", err)
		return err
	}

	log.Emit(logger.STOP, "All services stopped\n")
	return nil
}

// spawnAsyncService runs the provided service in the group, converting a panic
// in to an error so that the remaining services are brought down cleanly.
func (ytdown *ytdownImpl) spawnAsyncService(ctx context.Context, group *errgroup.Group, service RunnableService, label string) {
	log.Emit(logger.NEW, "Spawning %s\n", label)
	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("service %s panicked: %v", label, r)
			}
		}()

		if err := service.Run(ctx); err != nil {
			return fmt.Errorf("service %s crashed: %w", label, err)
		}

		return nil
	})
}
