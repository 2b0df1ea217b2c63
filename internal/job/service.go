package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/priyankadasarigt/ytdown/pkg/worker"
)

var (
	serviceLog = logger.Get("JobService")

	ErrInvalidInput = errors.New("missing required parameters")
	ErrServerBusy   = errors.New("server busy, try again later")
)

type (
	Config struct {
		Workers         int           `yaml:"workers" env:"JOB_WORKERS" env-default:"4"`
		QueueSize       int           `yaml:"queue_size" env:"JOB_QUEUE_SIZE" env-default:"64"`
		Retention       time.Duration `yaml:"retention" env:"JOB_RETENTION" env-default:"2h"`
		DownloadDir     string        `yaml:"download_dir" env:"JOB_DOWNLOAD_DIR" env-default:"downloads"`
		Brand           string        `yaml:"brand" env:"JOB_BRAND" env-default:"YTDown"`
		JanitorInterval time.Duration `yaml:"janitor_interval" env:"JOB_JANITOR_INTERVAL" env-default:"1m"`
	}

	// TokenLedger is the subset of the token ledger needed to admit jobs
	// and reclaim expired tokens.
	TokenLedger interface {
		Consume(value string) bool
		Sweep() int
	}

	// Service admits new jobs and hands them to a bounded pool of workers. Admission
	// never blocks on the work itself: Submit returns as soon as the job is queued.
	Service struct {
		config   Config
		tokens   TokenLedger
		registry *Registry
		runner   *Runner
		pool     *worker.WorkerPool
		validate *validator.Validate
		now      func() time.Time
	}
)

func NewService(config Config, tokens TokenLedger, registry *Registry, runner *Runner) *Service {
	return &Service{
		config:   config,
		tokens:   tokens,
		registry: registry,
		runner:   runner,
		pool:     worker.NewWorkerPool("JobWorker", config.Workers, config.QueueSize),
		validate: validator.New(),
		now:      time.Now,
	}
}

// Start starts the worker pool without blocking. Jobs executed by the pool
// receive the context provided.
func (service *Service) Start(ctx context.Context) error {
	return service.pool.Start(ctx)
}

// Close stops admitting jobs and waits for queued and running jobs to conclude.
func (service *Service) Close() {
	service.pool.Close()
}

// Run starts the worker pool and the janitor, blocking until the context is
// cancelled. Running jobs are cancelled with the context, and Run waits for
// them to conclude before returning.
func (service *Service) Run(ctx context.Context) error {
	if err := service.Start(ctx); err != nil {
		return err
	}

	interval := service.config.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serviceLog.Emit(logger.SUCCESS, "Job service started (workers=%d queue=%d)\n", service.config.Workers, service.config.QueueSize)
	for {
		select {
		case <-ticker.C:
			service.Sweep()
		case <-ctx.Done():
			serviceLog.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for jobs to conclude.\n")
			service.Close()
			return nil
		}
	}
}

// Submit consumes the token provided and, if it was valid, queues a new job for
// the parameters given. The token is consumed before the parameters are checked,
// so a submission with bad parameters still uses up its token.
func (service *Service) Submit(tokenValue string, params Params) (uuid.UUID, error) {
	if !service.tokens.Consume(tokenValue) {
		return uuid.Nil, token.ErrInvalidToken
	}

	if err := service.validate.Struct(params); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	job := New(params, service.now())
	if err := service.registry.Record(job.Snapshot()); err != nil {
		return uuid.Nil, err
	}

	err := service.pool.Submit(func(ctx context.Context) { service.runner.Run(ctx, job) })
	if err != nil {
		service.registry.Delete(job.ID)
		serviceLog.Emit(logger.WARNING, "Rejected %s: %v\n", job, err)
		return uuid.Nil, fmt.Errorf("%w: %v", ErrServerBusy, err)
	}

	serviceLog.Emit(logger.NEW, "Queued %s\n", job)
	return job.ID, nil
}

// Lookup returns the latest snapshot of the job with the ID provided.
func (service *Service) Lookup(id uuid.UUID) (Job, error) {
	return service.registry.Lookup(id)
}

// Sweep reclaims expired tokens and job entries.
func (service *Service) Sweep() {
	tokens := service.tokens.Sweep()
	jobs := service.registry.Sweep()
	if tokens > 0 || jobs > 0 {
		serviceLog.Emit(logger.DEBUG, "Janitor removed %d tokens and %d jobs\n", tokens, jobs)
	}
}

// Busy returns the number of jobs currently being executed, and the number
// waiting for a free worker.
func (service *Service) Busy() (int, int) {
	return service.pool.Busy(), service.pool.Pending()
}
