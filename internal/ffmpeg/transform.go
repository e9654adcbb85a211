package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/preset"
)

// Separators and the aligner operate at a fixed rate and layout; the
// extractor resamples everything to match.
const (
	SampleRate = 44100
	Channels   = 2
)

// Transformer runs the ffmpeg transform commands of the pipeline.
type Transformer struct {
	ffmpegPath string
}

// NewTransformer creates a Transformer using the given ffmpeg binary.
func NewTransformer(ffmpegPath string) *Transformer {
	return &Transformer{ffmpegPath: ffmpegPath}
}

// ExtractOptions tunes WAV extraction.
type ExtractOptions struct {
	// TrackIndex selects an absolute input stream index; negative means
	// let ffmpeg pick the default audio stream.
	TrackIndex int
	// DurationLimit caps extraction to the first N seconds when > 0.
	DurationLimit float64
}

// ExtractWAV decodes the input's audio into a 44.1 kHz stereo s16le WAV.
// Mono sources are upmixed; anything above stereo is downmixed.
func (t *Transformer) ExtractWAV(ctx context.Context, input, output string, opts ExtractOptions) error {
	args := []string{"-y", "-i", input}
	if opts.TrackIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", opts.TrackIndex))
	}
	args = append(args,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
	)
	if opts.DurationLimit > 0 {
		args = append(args, "-t", formatSeconds(opts.DurationLimit))
	}
	args = append(args, output)

	if _, err := runCommand(ctx, t.ffmpegPath, args...); err != nil {
		return errors.New(err).
			Component("extract").
			Category(errors.CategoryExtract).
			Context("input", input).
			Build()
	}
	return nil
}

// Split cuts the input WAV into contiguous non-overlapping segments of
// at most segmentLen seconds, written as segment_000.wav, ... in outDir.
// Returns the segment paths in start-time order.
func (t *Transformer) Split(ctx context.Context, input string, outDir string, totalDuration, segmentLen float64) ([]string, error) {
	if segmentLen <= 0 {
		return nil, errors.Newf("segment length must be positive, got %f", segmentLen).
			Component("segment").
			Category(errors.CategoryValidation).
			Build()
	}
	count := int(math.Ceil(totalDuration / segmentLen))
	if count < 1 {
		count = 1
	}

	segments := make([]string, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * segmentLen
		length := math.Min(segmentLen, totalDuration-start)
		out := filepath.Join(outDir, fmt.Sprintf("segment_%03d.wav", i))
		_, err := runCommand(ctx, t.ffmpegPath,
			"-y",
			"-ss", formatSeconds(start),
			"-t", formatSeconds(length),
			"-i", input,
			"-c", "copy",
			out,
		)
		if err != nil {
			return nil, errors.New(err).
				Component("segment").
				Category(errors.CategoryExtract).
				Context("segment", i).
				Build()
		}
		segments = append(segments, out)
	}
	return segments, nil
}

// Concat joins segment files in the given order using the concat demuxer
// with stream copy. Paths are written to a list file next to the output.
func (t *Transformer) Concat(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return errors.Newf("nothing to concatenate").
			Component("segment").
			Category(errors.CategoryValidation).
			Build()
	}

	listPath := output + ".txt"
	var list strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			return errors.New(err).Component("segment").Category(errors.CategoryFileIO).Build()
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return errors.New(err).Component("segment").Category(errors.CategoryFileIO).Build()
	}
	defer func() { _ = os.Remove(listPath) }()

	_, err := runCommand(ctx, t.ffmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	)
	if err != nil {
		return errors.New(err).
			Component("segment").
			Category(errors.CategoryExtract).
			Context("output", output).
			Build()
	}
	return nil
}

// Mix blends two aligned vocal streams with equal weight and a limiter
// at 0 dBFS. Output duration is the longer of the two inputs.
func (t *Transformer) Mix(ctx context.Context, inputA, inputB, output string) error {
	_, err := runCommand(ctx, t.ffmpegPath,
		"-y",
		"-i", inputA,
		"-i", inputB,
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest:normalize=0,alimiter=limit=1.0[a]",
		"-map", "[a]",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		output,
	)
	if err != nil {
		return errors.New(err).
			Component("mix").
			Category(errors.CategoryMix).
			Build()
	}
	return nil
}

// loudnormStats is the measurement output of the first loudnorm pass.
type loudnormStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	Offset      string `json:"target_offset"`
}

const loudnormTarget = "I=-16:TP=-1.5:LRA=11"

// Normalize applies two-pass EBU R128 loudness normalization.
func (t *Transformer) Normalize(ctx context.Context, input, output string) error {
	stderr, err := runCommandStderr(ctx, t.ffmpegPath,
		"-hide_banner",
		"-i", input,
		"-af", "loudnorm="+loudnormTarget+":print_format=json",
		"-f", "null", "-",
	)
	if err != nil {
		return errors.New(err).
			Component("normalize").
			Category(errors.CategoryNormalize).
			Context("pass", 1).
			Build()
	}

	stats, err := parseLoudnormStats(stderr)
	if err != nil {
		return err
	}

	filter := fmt.Sprintf("loudnorm=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		loudnormTarget, stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.Offset)

	_, err = runCommand(ctx, t.ffmpegPath,
		"-y",
		"-i", input,
		"-af", filter,
		"-ar", fmt.Sprintf("%d", SampleRate),
		output,
	)
	if err != nil {
		return errors.New(err).
			Component("normalize").
			Category(errors.CategoryNormalize).
			Context("pass", 2).
			Build()
	}
	return nil
}

// parseLoudnormStats pulls the JSON measurement block from the tail of
// the first-pass stderr.
func parseLoudnormStats(stderr string) (*loudnormStats, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end < start {
		return nil, errors.Newf("loudnorm measurement block not found in ffmpeg output").
			Component("normalize").
			Category(errors.CategoryNormalize).
			Build()
	}
	var stats loudnormStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return nil, errors.Newf("malformed loudnorm measurement: %w", err).
			Component("normalize").
			Category(errors.CategoryNormalize).
			Build()
	}
	return &stats, nil
}

// AdjustDuration reconciles the processed audio with the target
// duration: shorter audio is head-padded with silence, longer audio is
// capped. Differences within one millisecond pass through via rename.
func (t *Transformer) AdjustDuration(ctx context.Context, input, output string, actual, target float64) error {
	diff := target - actual
	if math.Abs(diff) <= 0.001 {
		return os.Rename(input, output)
	}

	var args []string
	if diff > 0 {
		delayMs := int(math.Round(diff * 1000))
		args = []string{
			"-y", "-i", input,
			"-af", fmt.Sprintf("adelay=%d:all=1", delayMs),
			output,
		}
	} else {
		args = []string{
			"-y", "-i", input,
			"-t", formatSeconds(target),
			"-c", "copy",
			output,
		}
	}
	if _, err := runCommand(ctx, t.ffmpegPath, args...); err != nil {
		return errors.New(err).
			Component("mix").
			Category(errors.CategoryMix).
			Context("target_duration", target).
			Build()
	}
	return nil
}

// Remux combines the processed vocal track with the original video
// stream per the active preset. The source video is stream-copied when
// the preset says "copy", re-encoded otherwise.
func (t *Transformer) Remux(ctx context.Context, videoInput, audioInput, output string, p preset.Preset) error {
	args := []string{
		"-y",
		"-i", videoInput,
		"-i", audioInput,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", p.Video.Codec,
	}
	if p.Video.Codec != "copy" && p.Video.Bitrate != nil && *p.Video.Bitrate != "" {
		args = append(args, "-b:v", *p.Video.Bitrate)
	}
	args = append(args, "-c:a", p.Audio.Codec)
	if p.Audio.Codec != "copy" && p.Audio.Bitrate != "" {
		args = append(args, "-b:a", p.Audio.Bitrate)
	}
	args = append(args, "-shortest", output)

	if _, err := runCommand(ctx, t.ffmpegPath, args...); err != nil {
		return errors.New(err).
			Component("remux").
			Category(errors.CategoryRemux).
			Context("output", output).
			Build()
	}
	return nil
}

// EncodeAudio writes the final audio-only output in the container
// implied by the output extension.
func (t *Transformer) EncodeAudio(ctx context.Context, input, output string, p preset.Preset) error {
	bitrate := p.Audio.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}
	args := []string{"-y", "-i", input}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".wav":
		args = append(args, "-c:a", "pcm_s16le")
	case ".flac":
		args = append(args, "-c:a", "flac")
	case ".m4a":
		args = append(args, "-c:a", "aac", "-b:a", bitrate)
	default:
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrate)
	}
	args = append(args, output)

	if _, err := runCommand(ctx, t.ffmpegPath, args...); err != nil {
		return errors.New(err).
			Component("remux").
			Category(errors.CategoryRemux).
			Context("output", output).
			Build()
	}
	return nil
}

// formatSeconds renders a duration for ffmpeg arguments with millisecond
// precision.
func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
