// Package align estimates the time offset between the two separators'
// vocal outputs by cross-correlation and corrects it by left-padding the
// earlier stream with silence. Streams are never truncated.
package align

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/logging"
)

const (
	// silenceThreshold is -50 dBFS as linear amplitude.
	silenceThreshold = 0.0031622776601683794
	// maxTrimSeconds bounds leading-silence trimming.
	maxTrimSeconds = 5.0
	// windowSeconds is the analysis window used for correlation.
	windowSeconds = 30.0
	// maxLagSeconds is the largest offset considered plausible.
	maxLagSeconds = 2.0
	// minConfidence rejects flat correlation surfaces.
	minConfidence = 0.2
	// decimation reduces the correlation cost; at 44.1 kHz the lag
	// resolution remains under half a millisecond.
	decimation = 20
	// confidenceSaturation maps the peak-to-mean ratio onto [0,1]; a
	// ratio at or above 10x mean is treated as fully confident.
	confidenceSaturation = 10.0
)

// Result describes an alignment decision.
type Result struct {
	LagSamples    int     `json:"lag_samples"`
	LagSeconds    float64 `json:"lag_seconds"`
	Confidence    float64 `json:"confidence"`
	SampleRate    int     `json:"sample_rate"`
	AlignedAPath  string  `json:"aligned_a_path"`
	AlignedBPath  string  `json:"aligned_b_path"`
	LowConfidence bool    `json:"low_confidence"`
}

// Aligner computes and applies alignment between two WAV files.
type Aligner struct {
	logger *slog.Logger
}

func NewAligner() *Aligner {
	return &Aligner{logger: logging.ForService("align")}
}

// Align estimates the lag between pathA and pathB and writes aligned
// copies into outDir. A positive lag means A starts later than B, so B
// is the earlier stream and receives the padding. When the estimate is
// implausible (|lag| over 2 s) or the correlation surface is flat
// (confidence under 0.2) the lag is forced to zero and both files pass
// through unchanged.
func (a *Aligner) Align(ctx context.Context, pathA, pathB, outDir string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Component("align").Category(errors.CategoryCancelled).Build()
	}

	windowFrames := int((maxTrimSeconds + windowSeconds) * 44100)
	monoA, infoA, err := readMonoWindow(pathA, windowFrames)
	if err != nil {
		return nil, err
	}
	monoB, infoB, err := readMonoWindow(pathB, windowFrames)
	if err != nil {
		return nil, err
	}
	if infoA.sampleRate != infoB.sampleRate {
		return nil, errors.Newf("sample rate mismatch: %d vs %d", infoA.sampleRate, infoB.sampleRate).
			Component("align").
			Category(errors.CategoryAlignment).
			Build()
	}
	sampleRate := infoA.sampleRate

	// Trim leading silence symmetrically: both streams lose the same
	// number of frames so a genuine offset is preserved.
	trim := minInt(
		leadingSilentFrames(monoA, sampleRate),
		leadingSilentFrames(monoB, sampleRate),
	)
	monoA = monoA[trim:]
	monoB = monoB[trim:]

	window := int(windowSeconds * float64(sampleRate))
	if len(monoA) > window {
		monoA = monoA[:window]
	}
	if len(monoB) > window {
		monoB = monoB[:window]
	}

	decA := decimate(monoA, decimation)
	decB := decimate(monoB, decimation)
	decRate := sampleRate / decimation
	maxLagDec := int(maxLagSeconds * float64(decRate))

	lagDec, confidence := crossCorrelate(decA, decB, maxLagDec)

	lag := lagDec * decimation
	result := &Result{
		LagSamples: lag,
		LagSeconds: float64(lag) / float64(sampleRate),
		Confidence: confidence,
		SampleRate: sampleRate,
	}

	if math.Abs(result.LagSeconds) > maxLagSeconds || confidence < minConfidence {
		a.logger.Warn("alignment estimate rejected, using zero lag",
			"lag_seconds", result.LagSeconds,
			"confidence", confidence)
		result.LowConfidence = true
		result.LagSamples = 0
		result.LagSeconds = 0
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Component("align").Category(errors.CategoryCancelled).Build()
	}

	// Apply the correction. The earlier stream gets |lag| frames of
	// leading silence; the other passes through.
	result.AlignedAPath = pathA
	result.AlignedBPath = pathB
	switch {
	case result.LagSamples > 0:
		// A starts later; pad B.
		padded := filepath.Join(outDir, "aligned_b.wav")
		if err := padWAV(pathB, padded, result.LagSamples); err != nil {
			return nil, err
		}
		result.AlignedBPath = padded
	case result.LagSamples < 0:
		padded := filepath.Join(outDir, "aligned_a.wav")
		if err := padWAV(pathA, padded, -result.LagSamples); err != nil {
			return nil, err
		}
		result.AlignedAPath = padded
	}

	a.logger.Info("alignment complete",
		"lag_seconds", result.LagSeconds,
		"confidence", result.Confidence,
		"low_confidence", result.LowConfidence)
	return result, nil
}

// leadingSilentFrames counts frames below the silence threshold at the
// head of the signal, capped at maxTrimSeconds.
func leadingSilentFrames(samples []float64, sampleRate int) int {
	limit := int(maxTrimSeconds * float64(sampleRate))
	if limit > len(samples) {
		limit = len(samples)
	}
	for i := 0; i < limit; i++ {
		if math.Abs(samples[i]) >= silenceThreshold {
			return i
		}
	}
	return limit
}

// decimate keeps every factor-th sample. The signals are vocal stems
// with energy well below the decimated Nyquist, so a simple pick is
// adequate for lag estimation.
func decimate(samples []float64, factor int) []float64 {
	out := make([]float64, 0, len(samples)/factor+1)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}

// crossCorrelate slides a against b over lags in [-maxLag, maxLag] and
// returns the lag with the largest absolute correlation plus a
// confidence score. Confidence is the peak-to-mean ratio of the
// correlation magnitudes, scaled so a ratio of confidenceSaturation or
// more maps to 1.
func crossCorrelate(a, b []float64, maxLag int) (int, float64) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}

	bestLag := 0
	bestMag := 0.0
	var sumMag float64
	count := 0

	for lag := -maxLag; lag <= maxLag; lag++ {
		var sum float64
		for i := range b {
			j := i + lag
			if j < 0 || j >= len(a) {
				continue
			}
			sum += a[j] * b[i]
		}
		mag := math.Abs(sum)
		sumMag += mag
		count++
		if mag > bestMag {
			bestMag = mag
			bestLag = lag
		}
	}

	if count == 0 || sumMag == 0 {
		return 0, 0
	}
	mean := sumMag / float64(count)
	confidence := bestMag / mean / confidenceSaturation
	if confidence > 1 {
		confidence = 1
	}
	return bestLag, confidence
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
