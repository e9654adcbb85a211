package jobs

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomusic/nomusic-go/internal/align"
	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/downloader"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/library"
	"github.com/nomusic/nomusic-go/internal/logging"
	"github.com/nomusic/nomusic-go/internal/observability"
	"github.com/nomusic/nomusic-go/internal/preset"
	"github.com/nomusic/nomusic-go/internal/separator"
)

// submitBuffer bounds how many jobs can sit between submission and
// worker pickup.
const submitBuffer = 256

// shutdownTimeout bounds how long Stop waits for in-flight jobs.
const shutdownTimeout = 30 * time.Second

// CancelResult is the outcome of a cancel request.
type CancelResult int

const (
	CancelAccepted CancelResult = iota
	CancelAlreadyTerminal
	CancelNotFound
)

// MediaProber is the probing surface the pipeline consumes, satisfied
// by ffmpeg.Prober.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaProbe, error)
	Duration(ctx context.Context, path string) (float64, error)
}

// MediaTransformer covers the ffmpeg transforms the pipeline invokes,
// satisfied by ffmpeg.Transformer.
type MediaTransformer interface {
	ExtractWAV(ctx context.Context, input, output string, opts ffmpeg.ExtractOptions) error
	Mix(ctx context.Context, inputA, inputB, output string) error
	Normalize(ctx context.Context, input, output string) error
	AdjustDuration(ctx context.Context, input, output string, actual, target float64) error
	Remux(ctx context.Context, videoInput, audioInput, output string, p preset.Preset) error
	EncodeAudio(ctx context.Context, input, output string, p preset.Preset) error
}

// SeparationRunner executes one driver over an input, chunking long
// files; satisfied by separator.Segmenter.
type SeparationRunner interface {
	Run(ctx context.Context, driver separator.Driver, wavIn, outDir string, progress separator.ProgressFunc) (string, error)
}

// VocalAligner reconciles the two vocal stems in time; satisfied by
// align.Aligner.
type VocalAligner interface {
	Align(ctx context.Context, pathA, pathB, outDir string) (*align.Result, error)
}

// Deps bundles everything the orchestrator needs.
type Deps struct {
	Settings    *conf.Settings
	Prober      MediaProber
	Transformer MediaTransformer
	Aligner     VocalAligner
	Spleeter    separator.Driver
	Demucs      separator.Driver
	Segmenter   SeparationRunner
	Downloader  *downloader.Downloader
	Presets     *preset.Store
	Library     *library.Store
}

// Orchestrator owns the job table and the worker pools that run
// separation and download jobs.
type Orchestrator struct {
	deps   Deps
	table  *Table
	logger *slog.Logger

	sepJobs chan *Job
	dlJobs  chan *Job

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewOrchestrator wires the orchestrator; Start launches the workers.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:    deps,
		table:   NewTable(),
		logger:  logging.ForService("orchestrator"),
		sepJobs: make(chan *Job, submitBuffer),
		dlJobs:  make(chan *Job, submitBuffer),
	}
}

// Table exposes the job table for listing and status reads.
func (o *Orchestrator) Table() *Table { return o.table }

// Start launches the separation and download worker pools.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)

	sepWorkers := o.deps.Settings.Workers.Separation
	if sepWorkers < 1 {
		sepWorkers = 1
	}
	dlWorkers := o.deps.Settings.Workers.Download
	if dlWorkers < 1 {
		dlWorkers = 1
	}

	for i := 0; i < sepWorkers; i++ {
		o.wg.Add(1)
		go o.worker(o.sepJobs, o.runSeparation)
	}
	for i := 0; i < dlWorkers; i++ {
		o.wg.Add(1)
		go o.worker(o.dlJobs, o.runDownload)
	}
	o.logger.Info("orchestrator started",
		"separation_workers", sepWorkers,
		"download_workers", dlWorkers)
}

// Stop cancels all running jobs and waits for the workers, bounded by
// shutdownTimeout.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.cancel()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
	case <-time.After(shutdownTimeout):
		o.logger.Warn("orchestrator stop timed out, abandoning workers")
	}
}

func (o *Orchestrator) worker(jobs <-chan *Job, run func(*Job)) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			run(j)
		}
	}
}

// SubmitSeparation enqueues a separation job for inputPath and returns
// its id without blocking on the work.
func (o *Orchestrator) SubmitSeparation(inputPath string, opts SeparationOptions) (string, error) {
	if opts.Model == "" {
		opts.Model = "both"
	}
	switch opts.Model {
	case "spleeter", "demucs", "both":
	default:
		return "", errors.Newf("unknown model %q", opts.Model).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Context("model", opts.Model).
			Build()
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", errors.Newf("input file not found: %s", inputPath).
			Component("orchestrator").
			Category(errors.CategoryInvalidInput).
			Context("path", inputPath).
			Build()
	}

	j := newJob(uuid.NewString(), KindSeparate)
	j.input = inputPath
	j.options = opts
	o.table.add(j)

	select {
	case o.sepJobs <- j:
	default:
		j.finish(StatusFailed, nil, "separation queue is full")
		return "", errors.Newf("separation queue is full").
			Component("orchestrator").
			Category(errors.CategoryQueueState).
			Build()
	}
	o.logger.Info("separation submitted", "job_id", j.id, "input", inputPath, "model", opts.Model)
	return j.id, nil
}

// SubmitDownload enqueues a direct download job.
func (o *Orchestrator) SubmitDownload(req DownloadRequest) (string, error) {
	if req.URL == "" {
		return "", errors.Newf("download url must not be empty").
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	j := newJob(uuid.NewString(), KindDownload)
	j.dlReq = req
	o.table.add(j)

	select {
	case o.dlJobs <- j:
	default:
		j.finish(StatusFailed, nil, "download queue is full")
		return "", errors.Newf("download queue is full").
			Component("orchestrator").
			Category(errors.CategoryQueueState).
			Build()
	}
	o.logger.Info("download submitted", "job_id", j.id, "url", req.URL)
	return j.id, nil
}

// Status returns the snapshot of one job.
func (o *Orchestrator) Status(id string) (Snapshot, bool) {
	return o.table.Status(id)
}

// List returns snapshots of matching jobs, newest first.
func (o *Orchestrator) List(filter ListFilter) []Snapshot {
	return o.table.List(filter)
}

// Wait returns a channel closed when the job reaches a terminal state.
func (o *Orchestrator) Wait(id string) (<-chan struct{}, bool) {
	j, ok := o.table.get(id)
	if !ok {
		return nil, false
	}
	return j.Done(), true
}

// Cancel requests cancellation of a job.
func (o *Orchestrator) Cancel(id string) CancelResult {
	j, ok := o.table.get(id)
	if !ok {
		return CancelNotFound
	}
	if !j.requestCancel() {
		return CancelAlreadyTerminal
	}
	o.logger.Info("cancel requested", "job_id", id)
	return CancelAccepted
}

// runDownload executes one direct download job with retry.
func (o *Orchestrator) runDownload(j *Job) {
	if !j.setRunning() {
		return
	}
	jobCtx, cancel := context.WithCancel(o.ctx)
	defer cancel()
	j.setCancelFunc(cancel)

	observability.JobsActive.WithLabelValues(string(KindDownload)).Inc()
	defer observability.JobsActive.WithLabelValues(string(KindDownload)).Dec()

	kind := downloader.KindVideo
	if j.dlReq.Kind == "audio" {
		kind = downloader.KindAudio
	}
	opts := downloader.Options{
		Kind:      kind,
		FormatID:  j.dlReq.FormatID,
		Subtitles: j.dlReq.Subtitles,
		Filename:  j.dlReq.Filename,
	}

	j.setProgress(0, "Downloading")
	path, err := o.deps.Downloader.DownloadWithRetry(jobCtx, j.dlReq.URL, opts, func(pct float64) {
		j.setProgress(pct, "Downloading")
	}, o.deps.Settings.Download.MaxRetries)

	switch {
	case err == nil:
		j.finish(StatusCompleted, []string{path}, "")
		observability.JobsTotal.WithLabelValues(string(KindDownload), StatusCompleted.String()).Inc()
	case errors.IsCategory(err, errors.CategoryCancelled):
		j.finish(StatusCancelled, nil, "cancelled")
		observability.JobsTotal.WithLabelValues(string(KindDownload), StatusCancelled.String()).Inc()
	default:
		o.logger.Error("download failed", "job_id", j.id, "error", err)
		j.finish(StatusFailed, nil, err.Error())
		observability.JobsTotal.WithLabelValues(string(KindDownload), StatusFailed.String()).Inc()
	}
}
