package ffmpeg

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// Transforms interrupted by cancellation must classify as cancelled,
// not as the phase's own failure kind, or the job finishes Failed
// instead of Cancelled.
func TestTransformsKeepCancelledClassification(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	tr := NewTransformer(filepath.Join(dir, "no-such-ffmpeg"))

	err := tr.ExtractWAV(ctx, filepath.Join(dir, "in.mkv"), filepath.Join(dir, "out.wav"), ExtractOptions{TrackIndex: -1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancelled),
		"got category %s", errors.CategoryOf(err))

	err = tr.Mix(ctx, filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav"), filepath.Join(dir, "m.wav"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancelled))

	err = tr.Normalize(ctx, filepath.Join(dir, "m.wav"), filepath.Join(dir, "n.wav"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancelled))

	p := NewProber(filepath.Join(dir, "no-such-ffprobe"))
	_, err = p.Probe(ctx, filepath.Join(dir, "in.mkv"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancelled))
}

func TestParseLoudnormStats(t *testing.T) {
	t.Parallel()

	stderr := `
[Parsed_loudnorm_0 @ 0x55e] frame rate banner noise
{
	"input_i" : "-23.61",
	"input_tp" : "-6.53",
	"input_lra" : "11.30",
	"input_thresh" : "-34.13",
	"output_i" : "-16.02",
	"output_tp" : "-1.50",
	"target_offset" : "0.42"
}
`
	stats, err := parseLoudnormStats(stderr)
	require.NoError(t, err)
	assert.Equal(t, "-23.61", stats.InputI)
	assert.Equal(t, "-6.53", stats.InputTP)
	assert.Equal(t, "11.30", stats.InputLRA)
	assert.Equal(t, "-34.13", stats.InputThresh)
	assert.Equal(t, "0.42", stats.Offset)
}

func TestParseLoudnormStatsPicksLastBlock(t *testing.T) {
	t.Parallel()

	stderr := `{"input_i":"-99"} intermediate noise {"input_i":"-20.00","input_tp":"-3.00","input_lra":"9.00","input_thresh":"-31.00","target_offset":"0.10"}`
	stats, err := parseLoudnormStats(stderr)
	require.NoError(t, err)
	assert.Equal(t, "-20.00", stats.InputI)
}

func TestParseLoudnormStatsMissingBlock(t *testing.T) {
	t.Parallel()

	_, err := parseLoudnormStats("ffmpeg version n7.0 ... no json here")
	require.Error(t, err)
}

func TestTailLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", tailLines("", 5))
	assert.Equal(t, "one", tailLines("one", 5))
	assert.Equal(t, "d\ne", tailLines("a\nb\nc\nd\ne", 2))
	// Blank lines do not count against the budget.
	assert.Equal(t, "b\nc", tailLines("a\n\nb\n\n\nc\n", 2))
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.000", formatSeconds(0))
	assert.Equal(t, "600.000", formatSeconds(600))
	assert.Equal(t, "12.345", formatSeconds(12.3451))
}

func TestSelectAudioTrack(t *testing.T) {
	t.Parallel()

	probe := &MediaProbe{AudioTracks: []AudioTrack{
		{Index: 1, Language: "eng", Codec: "aac"},
		{Index: 2, Language: "jpn", Codec: "aac"},
		{Index: 3, Language: "", Codec: "ac3"},
	}}

	assert.Equal(t, 2, SelectAudioTrack(probe, []string{"jpn", "eng"}).Index)
	assert.Equal(t, 1, SelectAudioTrack(probe, []string{"ENG"}).Index, "language match is case-insensitive")
	assert.Equal(t, 1, SelectAudioTrack(probe, []string{"kor"}).Index, "no match falls back to the first track")
	assert.Equal(t, 1, SelectAudioTrack(probe, nil).Index)
}

func TestStderrTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", StderrTail(nil))
	assert.Equal(t, "", StderrTail(assert.AnError))
}
