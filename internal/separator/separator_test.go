package separator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDemucsProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		pct  float64
		ok   bool
	}{
		{"  5%|>         | 12.15/243.0 [00:03<01:12]", 5, true},
		{"100%|##########| 243.0/243.0 [01:10<00:00]", 100, true},
		{" 50%|#####     | then later 75%|#######   |", 75, true},
		{"Separating track song.wav", 0, false},
		{"", 0, false},
		{"999% nonsense", 0, false},
	}
	for _, tt := range tests {
		pct, ok := parseDemucsProgress(tt.line)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		if tt.ok {
			assert.InDelta(t, tt.pct, pct, 0.001, "line %q", tt.line)
		}
	}
}

func TestVocalStemPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		filepath.Join("out", "extract", "vocals.wav"),
		vocalStemPath("out", filepath.Join("tmp", "extract.wav")))

	assert.Equal(t,
		filepath.Join("out", "htdemucs", "extract", "vocals.wav"),
		vocalStemPath("out", filepath.Join("tmp", "extract.wav"), "htdemucs"))

	// Stems drop only the final extension.
	assert.Equal(t,
		filepath.Join("out", "song.1", "vocals.wav"),
		vocalStemPath("out", "song.1.wav"))
}

func TestIsGPUFailure(t *testing.T) {
	t.Parallel()

	assert.True(t, isGPUFailure("RuntimeError: CUDA out of memory. Tried to allocate 2.00 GiB"))
	assert.True(t, isGPUFailure("torch cuDNN error: CUDNN_STATUS_NOT_INITIALIZED"))
	assert.True(t, isGPUFailure("RuntimeError: No CUDA GPUs are available"))
	assert.False(t, isGPUFailure("FileNotFoundError: input.wav"))
	assert.False(t, isGPUFailure(""))
}

func TestDriverNamesAndDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "spleeter", NewSpleeter("").Bin)
	assert.Equal(t, "spleeter", NewSpleeter("").Name())
	assert.Equal(t, "/opt/spleeter", NewSpleeter("/opt/spleeter").Bin)

	assert.Equal(t, "demucs", NewDemucs("").Bin)
	assert.Equal(t, "demucs", NewDemucs("").Name())
}
