package align

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 4000

// writeTestWAV writes mono 16-bit samples to path.
func writeTestWAV(t *testing.T, path string, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

// noiseSignal returns deterministic broadband noise at roughly half
// scale, long enough to dominate any correlation surface.
func noiseSignal(seconds float64) []int {
	rng := rand.New(rand.NewSource(42))
	n := int(seconds * testRate)
	out := make([]int, n)
	for i := range out {
		out[i] = rng.Intn(20000) - 10000
	}
	return out
}

func prependSilence(samples []int, frames int) []int {
	return append(make([]int, frames), samples...)
}

func TestAlignIdenticalStreams(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	signal := noiseSignal(10)
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeTestWAV(t, a, signal)
	writeTestWAV(t, b, signal)

	res, err := NewAligner().Align(context.Background(), a, b, dir)
	require.NoError(t, err)

	assert.Equal(t, 0, res.LagSamples)
	assert.False(t, res.LowConfidence)
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
	assert.Equal(t, a, res.AlignedAPath, "zero lag passes both files through")
	assert.Equal(t, b, res.AlignedBPath)
}

func TestAlignDetectsShift(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	signal := noiseSignal(10)
	const shiftFrames = 2000 // 0.5 s

	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeTestWAV(t, a, signal)
	writeTestWAV(t, b, prependSilence(signal, shiftFrames))

	res, err := NewAligner().Align(context.Background(), a, b, dir)
	require.NoError(t, err)

	// B starts later, so the lag is negative and A gets the padding.
	assert.False(t, res.LowConfidence)
	assert.Equal(t, -shiftFrames, res.LagSamples)
	assert.InDelta(t, -0.5, res.LagSeconds, 0.01)
	assert.Equal(t, b, res.AlignedBPath)
	assert.Equal(t, filepath.Join(dir, "aligned_a.wav"), res.AlignedAPath)

	padded, _, err := readMonoWindow(res.AlignedAPath, len(signal)+shiftFrames+10)
	require.NoError(t, err)
	assert.Len(t, padded, len(signal)+shiftFrames)
	for i := 0; i < shiftFrames; i++ {
		require.Zero(t, padded[i], "padding must be silence")
	}
}

func TestAlignSilenceLowConfidence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeTestWAV(t, a, make([]int, 8*testRate))
	writeTestWAV(t, b, make([]int, 8*testRate))

	res, err := NewAligner().Align(context.Background(), a, b, dir)
	require.NoError(t, err)

	assert.True(t, res.LowConfidence)
	assert.Equal(t, 0, res.LagSamples)
	assert.Equal(t, a, res.AlignedAPath)
	assert.Equal(t, b, res.AlignedBPath)
}

func TestAlignCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAligner().Align(ctx, "a.wav", "b.wav", t.TempDir())
	require.Error(t, err)
}

func TestLeadingSilentFrames(t *testing.T) {
	t.Parallel()

	samples := make([]float64, testRate)
	samples[100] = 0.5
	assert.Equal(t, 100, leadingSilentFrames(samples, testRate))

	// All silent: capped at the trim limit or the signal length.
	assert.Equal(t, testRate, leadingSilentFrames(make([]float64, testRate), testRate))

	// Sub-threshold noise still counts as silence.
	quiet := make([]float64, 50)
	for i := range quiet {
		quiet[i] = silenceThreshold * 0.9
	}
	assert.Equal(t, 50, leadingSilentFrames(quiet, testRate))
}

func TestDecimate(t *testing.T) {
	t.Parallel()

	in := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, []float64{0, 3, 6, 9}, decimate(in, 3))
	assert.Equal(t, in, decimate(in, 1))
	assert.Equal(t, []float64{0}, decimate(in[:1], 5))
}

func TestCrossCorrelate(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	a := make([]float64, 4000)
	for i := range a {
		a[i] = rng.Float64()*2 - 1
	}

	// b lags a by 25 samples.
	const shift = 25
	b := make([]float64, len(a))
	copy(b[shift:], a[:len(a)-shift])

	lag, confidence := crossCorrelate(a, b, 100)
	assert.Equal(t, -shift, lag)
	assert.Greater(t, confidence, minConfidence)

	lag, confidence = crossCorrelate(a, a, 100)
	assert.Equal(t, 0, lag)
	assert.Greater(t, confidence, 0.9)

	_, confidence = crossCorrelate(make([]float64, 100), make([]float64, 100), 10)
	assert.Zero(t, confidence)

	lag, confidence = crossCorrelate(nil, nil, 10)
	assert.Zero(t, lag)
	assert.Zero(t, confidence)
}

func TestPadWAVRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.wav")
	dst := filepath.Join(dir, "dst.wav")

	signal := make([]int, 1000)
	for i := range signal {
		signal[i] = int(10000 * math.Sin(float64(i)/10))
	}
	writeTestWAV(t, src, signal)

	require.NoError(t, padWAV(src, dst, 300))

	padded, info, err := readMonoWindow(dst, 2000)
	require.NoError(t, err)
	assert.Equal(t, testRate, info.sampleRate)
	assert.Len(t, padded, 1300)
}
