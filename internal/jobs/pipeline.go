package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/library"
	"github.com/nomusic/nomusic-go/internal/observability"
	"github.com/nomusic/nomusic-go/internal/separator"
)

// Progress budget per phase. Each phase maps its local progress into a
// fixed band so the overall bar is monotonic regardless of which driver
// reports when.
const (
	pctProbe     = 3.0
	pctExtract   = 10.0
	pctSeparate  = 75.0
	pctAlign     = 80.0
	pctMix       = 85.0
	pctNormalize = 92.0
	pctRemux     = 99.0
)

// runSeparation executes one separation job end-to-end, owning its temp
// directory and terminal transition.
func (o *Orchestrator) runSeparation(j *Job) {
	if !j.setRunning() {
		return
	}
	jobCtx, cancel := context.WithCancel(o.ctx)
	defer cancel()
	j.setCancelFunc(cancel)

	observability.JobsActive.WithLabelValues(string(KindSeparate)).Inc()
	defer observability.JobsActive.WithLabelValues(string(KindSeparate)).Dec()

	tempDir := filepath.Join(o.deps.Settings.Paths.TempRoot, j.id)
	resultPath, err := o.pipeline(jobCtx, j, tempDir)

	keepTemp := j.options.KeepTemp || o.deps.Settings.KeepTemp

	switch {
	case err == nil:
		j.finish(StatusCompleted, []string{resultPath}, "")
		observability.JobsTotal.WithLabelValues(string(KindSeparate), StatusCompleted.String()).Inc()
		snap := j.Snapshot()
		if addErr := o.deps.Library.Add(library.Entry{
			TaskID:      j.id,
			ResultFiles: snap.ResultFiles,
			Metadata:    snap.Metadata,
		}); addErr != nil {
			o.logger.Warn("failed to record library entry", "job_id", j.id, "error", addErr)
		}
		o.logger.Info("separation completed", "job_id", j.id, "result", resultPath)
	case errors.IsCategory(err, errors.CategoryCancelled) || jobCtx.Err() != nil:
		j.finish(StatusCancelled, nil, "cancelled")
		observability.JobsTotal.WithLabelValues(string(KindSeparate), StatusCancelled.String()).Inc()
		o.logger.Info("separation cancelled", "job_id", j.id)
		keepTemp = false
	default:
		j.finish(StatusFailed, nil, err.Error())
		observability.JobsTotal.WithLabelValues(string(KindSeparate), StatusFailed.String()).Inc()
		o.logger.Error("separation failed",
			"job_id", j.id,
			"category", string(errors.CategoryOf(err)),
			"error", err)
	}

	if !keepTemp {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			o.logger.Warn("temp dir cleanup failed", "job_id", j.id, "dir", tempDir, "error", rmErr)
		}
	}
}

// pipeline runs the phases in order and returns the final output path.
func (o *Orchestrator) pipeline(ctx context.Context, j *Job, tempDir string) (string, error) {
	settings := o.deps.Settings
	input := j.input

	extractDir := filepath.Join(tempDir, "extract")
	spleeterDir := filepath.Join(tempDir, "spleeter")
	demucsDir := filepath.Join(tempDir, "demucs")
	mixDir := filepath.Join(tempDir, "mix")
	for _, dir := range []string{extractDir, spleeterDir, demucsDir, mixDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.New(err).
				Component("orchestrator").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}

	// Probe.
	j.setProgress(0, "Probing input")
	probe, err := o.deps.Prober.Probe(ctx, input)
	if err != nil {
		return "", err
	}
	j.setMetadata(probe)
	j.setProgress(pctProbe, "Probe complete")

	// Extract.
	j.setProgress(pctProbe, "Extracting audio")
	track := ffmpeg.SelectAudioTrack(probe, settings.AudioLanguages)
	extractWav := filepath.Join(extractDir, "audio.wav")
	err = o.deps.Transformer.ExtractWAV(ctx, input, extractWav, ffmpeg.ExtractOptions{
		TrackIndex:    track.Index,
		DurationLimit: j.options.DurationLimit,
	})
	if err != nil {
		return "", err
	}
	j.setProgress(pctExtract, "Audio extracted")

	// Separate, both drivers concurrently.
	spleeterVocal, demucsVocal, err := o.runSeparators(ctx, j, extractWav, spleeterDir, demucsDir)
	if err != nil {
		return "", err
	}
	j.setProgress(pctSeparate, "Separation complete")

	// Align and mix; identity when only one stream exists.
	mixed, err := o.alignAndMix(ctx, j, spleeterVocal, demucsVocal, mixDir)
	if err != nil {
		return "", err
	}
	j.setProgress(pctMix, "Mix complete")

	// Normalize.
	j.setProgress(pctMix, "Normalizing loudness")
	normalized := filepath.Join(mixDir, "normalized.wav")
	if err := o.deps.Transformer.Normalize(ctx, mixed, normalized); err != nil {
		return "", err
	}
	j.setProgress(pctNormalize, "Loudness normalized")

	// Reconcile output duration with the extracted source before remux.
	finalAudio := filepath.Join(mixDir, "final.wav")
	target, err := o.deps.Prober.Duration(ctx, extractWav)
	if err != nil {
		return "", err
	}
	actual, err := o.deps.Prober.Duration(ctx, normalized)
	if err != nil {
		return "", err
	}
	if err := o.deps.Transformer.AdjustDuration(ctx, normalized, finalAudio, actual, target); err != nil {
		return "", err
	}

	// Remux.
	j.setProgress(pctNormalize, "Writing output")
	outputPath, err := o.remux(ctx, input, finalAudio, probe)
	if err != nil {
		return "", err
	}
	j.setProgress(pctRemux, "Remux complete")

	// Verify.
	fi, err := os.Stat(outputPath)
	if err != nil || fi.Size() == 0 {
		return "", errors.Newf("output verification failed for %s", outputPath).
			Component("orchestrator").
			Category(errors.CategoryRemux).
			Context("path", outputPath).
			Build()
	}
	return outputPath, nil
}

type separatorOutcome struct {
	driver separator.Driver
	path   string
	err    error
}

// runSeparators fans out to the selected drivers. With model=both the
// progress band 10-75 is split in half: Spleeter reports into the lower
// half, Demucs into the upper. If exactly one driver fails the pipeline
// degrades to the surviving stream with a warning step; if all fail the
// job fails.
func (o *Orchestrator) runSeparators(ctx context.Context, j *Job, extractWav, spleeterDir, demucsDir string) (string, string, error) {
	type plan struct {
		driver separator.Driver
		outDir string
		lo, hi float64
	}

	var plans []plan
	switch j.options.Model {
	case "spleeter":
		plans = []plan{{o.deps.Spleeter, spleeterDir, pctExtract, pctSeparate}}
	case "demucs":
		plans = []plan{{o.deps.Demucs, demucsDir, pctExtract, pctSeparate}}
	default:
		mid := (pctExtract + pctSeparate) / 2
		plans = []plan{
			{o.deps.Spleeter, spleeterDir, pctExtract, mid},
			{o.deps.Demucs, demucsDir, mid, pctSeparate},
		}
	}

	separator.PreflightMemory(o.logger)

	outcomes := make([]separatorOutcome, len(plans))
	var wg sync.WaitGroup
	for i, p := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			path, err := o.deps.Segmenter.Run(ctx, p.driver, extractWav, p.outDir, func(pct float64, step string) {
				j.setProgress(p.lo+(p.hi-p.lo)*pct/100, step)
			})
			observability.SeparatorSeconds.WithLabelValues(p.driver.Name()).Observe(time.Since(start).Seconds())
			outcomes[i] = separatorOutcome{driver: p.driver, path: path, err: err}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return "", "", errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryCancelled).
			Build()
	}

	var spleeterVocal, demucsVocal string
	var failures []separatorOutcome
	for _, out := range outcomes {
		if out.err != nil {
			failures = append(failures, out)
			continue
		}
		if out.driver.Name() == "spleeter" {
			spleeterVocal = out.path
		} else {
			demucsVocal = out.path
		}
	}

	if spleeterVocal == "" && demucsVocal == "" {
		errs := make([]error, 0, len(failures))
		for _, f := range failures {
			errs = append(errs, f.err)
		}
		return "", "", errors.New(errors.Join(errs...)).
			Component("orchestrator").
			Category(errors.CategorySeparator).
			Build()
	}

	for _, f := range failures {
		failed, survivor := "Demucs", "Spleeter"
		if f.driver.Name() == "spleeter" {
			failed, survivor = "Spleeter", "Demucs"
		}
		step := fmt.Sprintf("%s failed, continuing with %s", failed, survivor)
		o.logger.Warn("separator failed, degrading to single driver",
			"job_id", j.id,
			"failed", f.driver.Name(),
			"error", f.err)
		j.setProgress(pctSeparate, step)
	}

	return spleeterVocal, demucsVocal, nil
}

// alignAndMix blends the two vocal streams. With a single stream the
// phase is the identity.
func (o *Orchestrator) alignAndMix(ctx context.Context, j *Job, spleeterVocal, demucsVocal, mixDir string) (string, error) {
	if spleeterVocal == "" || demucsVocal == "" {
		single := spleeterVocal
		if single == "" {
			single = demucsVocal
		}
		j.setProgress(pctMix, "Single vocal stream, skipping alignment")
		return single, nil
	}

	j.setProgress(pctSeparate, "Aligning vocal streams")
	result, err := o.deps.Aligner.Align(ctx, spleeterVocal, demucsVocal, mixDir)
	if err != nil {
		return "", err
	}
	step := fmt.Sprintf("Aligned (lag %.3fs, confidence %.2f)", result.LagSeconds, result.Confidence)
	if result.LowConfidence {
		step = "Alignment low confidence, mixing without offset"
	}
	j.setProgress(pctAlign, step)

	mixed := filepath.Join(mixDir, "mixed.wav")
	if err := o.deps.Transformer.Mix(ctx, result.AlignedAPath, result.AlignedBPath, mixed); err != nil {
		return "", err
	}
	return mixed, nil
}

// remux produces the final output file. Video inputs keep their video
// stream per the active preset; audio inputs stay in their own family.
func (o *Orchestrator) remux(ctx context.Context, input, finalAudio string, probe *ffmpeg.MediaProbe) (string, error) {
	outputDir := o.deps.Settings.OutputDir()
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryFileIO).
			Context("dir", outputDir).
			Build()
	}

	active := o.deps.Presets.Active()
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	if probe.IsVideo {
		format := active.Output.Format
		if format == "" {
			format = "mp4"
		}
		outputPath := filepath.Join(outputDir, "nomusic-"+stem+"."+format)
		if err := o.deps.Transformer.Remux(ctx, input, finalAudio, outputPath, active); err != nil {
			return "", err
		}
		return outputPath, nil
	}

	outputPath := filepath.Join(outputDir, stem+"_vocals"+audioOutputExt(input))
	if err := o.deps.Transformer.EncodeAudio(ctx, finalAudio, outputPath, active); err != nil {
		return "", err
	}
	return outputPath, nil
}

// audioOutputExt keeps lossless and m4a sources in their own container;
// everything else becomes mp3.
func audioOutputExt(input string) string {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".flac":
		return ".flac"
	case ".wav":
		return ".wav"
	case ".m4a":
		return ".m4a"
	default:
		return ".mp3"
	}
}
