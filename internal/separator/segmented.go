package separator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// Segmenter runs a driver over long inputs by splitting them into
// contiguous non-overlapping chunks, separating each chunk with bounded
// parallelism, and concatenating the per-chunk stems in start-time
// order.
type Segmenter struct {
	prober      *ffmpeg.Prober
	transformer *ffmpeg.Transformer

	thresholdSeconds float64
	segmentSeconds   float64
	parallelism      int

	logger *slog.Logger
}

// NewSegmenter creates a Segmenter. parallelism bounds concurrent
// segment runs per driver invocation.
func NewSegmenter(prober *ffmpeg.Prober, transformer *ffmpeg.Transformer, thresholdSeconds, segmentSeconds float64, parallelism int) *Segmenter {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Segmenter{
		prober:           prober,
		transformer:      transformer,
		thresholdSeconds: thresholdSeconds,
		segmentSeconds:   segmentSeconds,
		parallelism:      parallelism,
		logger:           logging.ForService("separator"),
	}
}

// Run separates wavIn with the given driver, chunking when the input
// exceeds the segmentation threshold. All intermediates live under
// outDir.
func (s *Segmenter) Run(ctx context.Context, driver Driver, wavIn, outDir string, progress ProgressFunc) (string, error) {
	duration, err := s.prober.Duration(ctx, wavIn)
	if err != nil {
		return "", err
	}

	if duration <= s.thresholdSeconds {
		return driver.Separate(ctx, wavIn, outDir, progress)
	}

	segDir := filepath.Join(outDir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return "", errors.New(err).Component("separator").Category(errors.CategoryFileIO).Build()
	}

	progress(0, fmt.Sprintf("Splitting %.0fs input for %s", duration, driver.Name()))
	segments, err := s.transformer.Split(ctx, wavIn, segDir, duration, s.segmentSeconds)
	if err != nil {
		return "", err
	}
	total := len(segments)
	s.logger.Info("segmented input",
		"driver", driver.Name(),
		"duration_s", duration,
		"segments", total,
		"parallelism", s.parallelism)

	// Per-segment progress folds into one monotonic overall percentage:
	// each completed segment contributes a full share, the in-flight
	// ones contribute their local fraction.
	var mu sync.Mutex
	segPct := make([]float64, total)
	reported := 0.0
	report := func(idx int, pct float64, step string) {
		mu.Lock()
		if pct > segPct[idx] {
			segPct[idx] = pct
		}
		var sum float64
		for _, p := range segPct {
			sum += p
		}
		overall := sum / float64(total)
		if overall > reported {
			reported = overall
		}
		overall = reported
		mu.Unlock()
		progress(overall, step)
	}

	vocals := make([]string, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, seg := range segments {
		g.Go(func() error {
			segOut := filepath.Join(outDir, fmt.Sprintf("seg_%03d", i))
			if err := os.MkdirAll(segOut, 0o755); err != nil {
				return errors.New(err).Component("separator").Category(errors.CategoryFileIO).Build()
			}
			label := fmt.Sprintf("%s segment %d/%d", driver.Name(), i+1, total)
			vocal, err := driver.Separate(gctx, seg, segOut, func(pct float64, _ string) {
				report(i, pct, label)
			})
			if err != nil {
				return err
			}
			vocals[i] = vocal
			report(i, 100, label)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	out := filepath.Join(outDir, "vocals.wav")
	progress(99, fmt.Sprintf("Joining %d %s segments", total, driver.Name()))
	if err := s.transformer.Concat(ctx, vocals, out); err != nil {
		return "", err
	}
	progress(100, driver.Name()+" complete")
	return out, nil
}
