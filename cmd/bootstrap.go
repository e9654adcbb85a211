package cmd

import (
	"context"
	"time"

	"github.com/nomusic/nomusic-go/internal/align"
	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/downloader"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/library"
	"github.com/nomusic/nomusic-go/internal/preset"
	"github.com/nomusic/nomusic-go/internal/queue"
	"github.com/nomusic/nomusic-go/internal/separator"
	"github.com/nomusic/nomusic-go/internal/tools"
)

// services holds the wired core of the application. Every command
// builds it the same way; the HTTP layer sits on top only for serve.
type services struct {
	settings    *conf.Settings
	prober      *ffmpeg.Prober
	transformer *ffmpeg.Transformer
	downloader  *downloader.Downloader
	presets     *preset.Store
	library     *library.Store
	orch        *jobs.Orchestrator
	queue       *queue.DownloadQueue
	batches     *queue.BatchManager
}

// buildServices locates the required tools and wires the pipeline.
// yt-dlp is located only when needYtDlp is set so pure file separation
// works without it.
func buildServices(ctx context.Context, settings *conf.Settings, needYtDlp bool) (*services, error) {
	if err := settings.EnsureDirs(); err != nil {
		return nil, err
	}

	locator := tools.NewLocator(settings)
	ffmpegPath, err := locator.Locate(ctx, tools.FFmpeg)
	if err != nil {
		return nil, err
	}
	ffprobePath, err := locator.Locate(ctx, tools.FFprobe)
	if err != nil {
		return nil, err
	}

	var dl *downloader.Downloader
	if needYtDlp {
		ytDlpPath, err := locator.Locate(ctx, tools.YtDlp)
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(settings.Download.TimeoutMinutes) * time.Minute
		dl = downloader.New(ytDlpPath, settings.DownloadDir(), timeout)
	}

	prober := ffmpeg.NewProber(ffprobePath)
	transformer := ffmpeg.NewTransformer(ffmpegPath)

	presets, err := preset.NewStore(settings.PresetFile())
	if err != nil {
		return nil, err
	}
	lib, err := library.NewStore(settings.LibraryFile())
	if err != nil {
		return nil, err
	}

	segmentWorkers := settings.Workers.DemucsSegments
	if p := presets.Processing(); p.DemucsWorkers > 0 {
		segmentWorkers = p.DemucsWorkers
	}
	segmenter := separator.NewSegmenter(prober, transformer,
		settings.Segment.ThresholdSeconds,
		settings.Segment.LengthSeconds,
		segmentWorkers)

	orch := jobs.NewOrchestrator(jobs.Deps{
		Settings:    settings,
		Prober:      prober,
		Transformer: transformer,
		Aligner:     align.NewAligner(),
		Spleeter:    separator.NewSpleeter(settings.Tools.SpleeterBin),
		Demucs:      separator.NewDemucs(settings.Tools.DemucsBin),
		Segmenter:   segmenter,
		Downloader:  dl,
		Presets:     presets,
		Library:     lib,
	})

	svc := &services{
		settings:    settings,
		prober:      prober,
		transformer: transformer,
		downloader:  dl,
		presets:     presets,
		library:     lib,
		orch:        orch,
		batches:     queue.NewBatchManager(settings, prober, orch),
	}

	if needYtDlp {
		dlq, err := queue.NewDownloadQueue(settings.QueueFile(), settings, dl, orch)
		if err != nil {
			return nil, err
		}
		svc.queue = dlq
	}
	return svc, nil
}
