package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/priyankadasarigt/ytdown/internal/event"
	"github.com/priyankadasarigt/ytdown/internal/extract"
	"github.com/priyankadasarigt/ytdown/internal/ffmpeg"
	"github.com/priyankadasarigt/ytdown/internal/upload"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/priyankadasarigt/ytdown/pkg/progress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	log    = logger.Get("JobRunner")
	tracer = otel.Tracer("github.com/priyankadasarigt/ytdown/internal/job")
)

const (
	processingMessage = "Processing video..."
	uploadingMessage  = "Uploading to cloud storage..."
	notFoundMessage   = "File not found after download"
)

type (
	Extractor interface {
		Download(ctx context.Context, req extract.DownloadRequest, onProgress func(extract.Progress)) (*extract.DownloadResult, error)
	}

	Verifier interface {
		Enabled() bool
		Verify(path string) (*ffmpeg.ProbeResult, error)
	}

	Uploader interface {
		Upload(ctx context.Context, localPath string, displayName string, sink upload.ProgressSink) (*upload.Result, error)
	}

	// Metrics receives notifications about the lifecycle of jobs.
	Metrics interface {
		JobStarted()
		JobFinished(outcome string, elapsed time.Duration)
		UploadFinished(bytes int64, duplicate bool)
	}

	// Activity is notified whenever a job makes meaningful progress.
	Activity interface {
		Touch()
	}

	RunnerConfig struct {
		DownloadDir string
		Brand       string
	}

	// Runner drives a single job through download, merge verification and upload,
	// recording each state change in the registry and reporting progress over the
	// event bus.
	Runner struct {
		config    RunnerConfig
		extractor Extractor
		verifier  Verifier
		uploader  Uploader
		registry  *Registry
		eventBus  event.EventDispatcher
		metrics   Metrics
		activity  Activity
		now       func() time.Time
	}

	RunnerOption func(*Runner)
)

func WithMetrics(metrics Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = metrics }
}

func WithActivity(activity Activity) RunnerOption {
	return func(r *Runner) { r.activity = activity }
}

func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = clock }
}

func NewRunner(config RunnerConfig, extractor Extractor, verifier Verifier, uploader Uploader, registry *Registry, eventBus event.EventDispatcher, opts ...RunnerOption) *Runner {
	runner := &Runner{
		config:    config,
		extractor: extractor,
		verifier:  verifier,
		uploader:  uploader,
		registry:  registry,
		eventBus:  eventBus,
		metrics:   noopMetrics{},
		activity:  noopActivity{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Run executes the job to completion. Run never panics: any panic raised while
// processing the job is recovered and the job is marked FAILED.
func (runner *Runner) Run(ctx context.Context, job *Job) {
	ctx, span := tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.session_id", job.Params.SessionID),
	))
	defer span.End()

	started := runner.now()
	runner.metrics.JobStarted()
	defer func() {
		if r := recover(); r != nil {
			log.Emit(logger.FATAL, "Job %s panicked: %v\n%s", job, r, debug.Stack())
			runner.fail(job, fmt.Errorf("%w: %v", ErrPanic, r))
		}

		if job.State == FAILED {
			span.SetStatus(codes.Error, job.Failure)
		}
		runner.metrics.JobFinished(job.State.String(), runner.now().Sub(started))
	}()

	log.Emit(logger.NEW, "Starting %s\n", job)
	if err := runner.run(ctx, job); err != nil {
		span.RecordError(err)
		runner.fail(job, err)
	}
}

func (runner *Runner) run(ctx context.Context, job *Job) error {
	if err := runner.transition(job, DOWNLOADING); err != nil {
		return err
	}

	path, err := runner.download(ctx, job)
	if err != nil {
		return err
	}

	if err := runner.transition(job, PROCESSING); err != nil {
		return err
	}

	if err := runner.verify(ctx, path); err != nil {
		return err
	}

	prefix := job.Prefix(runner.config.Brand)
	displayName := strings.Replace(filepath.Base(path), prefix, fmt.Sprintf("[%s] ", runner.config.Brand), 1)

	if err := runner.transition(job, UPLOADING); err != nil {
		return err
	}
	runner.dispatchStage(job, "uploading", uploadingMessage)

	return runner.upload(ctx, job, path, displayName)
}

// download invokes the extraction engine, relaying its progress, and returns the
// path of the merged output.
func (runner *Runner) download(ctx context.Context, job *Job) (string, error) {
	ctx, span := tracer.Start(ctx, "job.download")
	defer span.End()

	// Percentages are per stream: the audio stream restarts from zero once
	// the video stream has finished.
	gate := progress.NewGate(runner.now)
	prefix := job.Prefix(runner.config.Brand)
	result, err := runner.extractor.Download(ctx, extract.DownloadRequest{
		URL:       job.Params.URL,
		VideoCode: job.Params.VideoCode,
		AudioCode: job.Params.AudioCode,
		Dir:       runner.config.DownloadDir,
		Prefix:    prefix,
	}, func(p extract.Progress) {
		switch p.Status {
		case extract.StatusDownloading:
			if percent, ok := p.PercentValue(); ok && !gate.Allow(percent, percent >= 100) {
				return
			}

			runner.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, event.DownloadProgress{
				SessionID: job.Params.SessionID,
				JobID:     job.ID,
				Status:    extract.StatusDownloading,
				Percent:   p.Percent,
				Speed:     p.Speed,
				ETA:       p.ETA,
			})
		case extract.StatusFinished:
			runner.dispatchStage(job, "processing", processingMessage)
		}
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, extract.ErrFileNotFound) {
			return "", errors.New(notFoundMessage)
		}

		return "", err
	}

	job.Title = result.Title
	path := result.Path
	if _, statErr := os.Stat(path); statErr != nil {
		if path, err = extract.LocateByPrefix(runner.config.DownloadDir, prefix); err != nil {
			return "", errors.New(notFoundMessage)
		}
	}
	if job.Title == "" {
		job.Title = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), filepath.Ext(path))
	}

	log.Emit(logger.SUCCESS, "Download for %s complete: %s\n", job, path)
	return path, nil
}

func (runner *Runner) verify(ctx context.Context, path string) error {
	if runner.verifier == nil || !runner.verifier.Enabled() {
		return nil
	}

	_, span := tracer.Start(ctx, "job.verify")
	defer span.End()

	if _, err := runner.verifier.Verify(path); err != nil {
		span.RecordError(err)
		return fmt.Errorf("merged output failed verification: %w", err)
	}

	return nil
}

// upload moves the merged output in to object storage. The upload runs as its own
// task and its outcome is always observed: a failed upload still completes the job,
// but as a fallback without a retrieval URL.
func (runner *Runner) upload(ctx context.Context, job *Job, path string, displayName string) error {
	ctx, span := tracer.Start(ctx, "job.upload")
	defer span.End()

	sink := func(p upload.Progress) {
		runner.eventBus.Dispatch(event.UPLOAD_PROGRESS, event.UploadProgress{
			SessionID: job.Params.SessionID,
			JobID:     job.ID,
			Percent:   p.Percent,
			Uploaded:  p.Transferred,
			Total:     p.Total,
		})
	}

	future := Go(ctx, func(ctx context.Context) (*upload.Result, error) {
		return runner.uploader.Upload(ctx, path, displayName, sink)
	})

	uploaded, err := future.Await(ctx)
	if err != nil {
		span.RecordError(err)
		log.Emit(logger.WARNING, "Upload for %s failed, completing as fallback: %v\n", job, err)
		job.Result = &Result{DisplayName: displayName, LocalFile: filepath.Base(path), Fallback: true}
		if err := runner.transition(job, COMPLETE); err != nil {
			return err
		}

		runner.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, event.DownloadComplete{
			SessionID: job.Params.SessionID,
			JobID:     job.ID,
			Filename:  displayName,
			Fallback:  true,
		})
		return nil
	}

	if err := os.Remove(path); err != nil {
		log.Emit(logger.WARNING, "Failed to remove local file %s: %v\n", path, err)
	}

	runner.metrics.UploadFinished(uploaded.Size, uploaded.Duplicate)
	job.Result = &Result{
		DownloadURL: uploaded.URL,
		DisplayName: displayName,
		StoredName:  uploaded.StoredName,
		Duplicate:   uploaded.Duplicate,
	}
	if err := runner.transition(job, COMPLETE); err != nil {
		return err
	}

	runner.activity.Touch()
	runner.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, event.DownloadComplete{
		SessionID:   job.Params.SessionID,
		JobID:       job.ID,
		Filename:    displayName,
		DownloadURL: uploaded.URL,
	})

	log.Emit(logger.SUCCESS, "%s complete (duplicate=%v): %s\n", job, uploaded.Duplicate, uploaded.URL)
	return nil
}

// fail marks the job FAILED and notifies the subscriber. Jobs which have already
// reached a terminal state are left untouched.
func (runner *Runner) fail(job *Job, cause error) {
	if job.State.IsTerminal() {
		log.Emit(logger.ERROR, "Error after %s reached terminal state: %v\n", job, cause)
		return
	}

	job.Failure = cause.Error()
	if err := runner.transition(job, FAILED); err != nil {
		log.Emit(logger.ERROR, "Failed to mark %s as failed: %v\n", job, err)
	}

	log.Emit(logger.ERROR, "%s failed: %s\n", job, job.Failure)
	runner.eventBus.Dispatch(event.DOWNLOAD_ERROR, event.DownloadFailure{
		SessionID: job.Params.SessionID,
		JobID:     job.ID,
		Error:     job.Failure,
	})
}

func (runner *Runner) transition(job *Job, to State) error {
	if err := job.Transition(to, runner.now()); err != nil {
		return err
	}

	return runner.registry.Record(job.Snapshot())
}

func (runner *Runner) dispatchStage(job *Job, status string, message string) {
	runner.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, event.DownloadProgress{
		SessionID: job.Params.SessionID,
		JobID:     job.ID,
		Status:    status,
		Message:   message,
	})
}

type noopMetrics struct{}

func (noopMetrics) JobStarted()                       {}
func (noopMetrics) JobFinished(string, time.Duration) {}
func (noopMetrics) UploadFinished(int64, bool)        {}

type noopActivity struct{}

func (noopActivity) Touch() {}
