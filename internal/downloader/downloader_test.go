package downloader

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "My Song (Official Video)", SanitizeFilename("My Song (Official Video)"))
	assert.Equal(t, "a_b_c_d_e_f_g_h_i", SanitizeFilename(`a<b>c:d"e/f\g|h?i`))
	assert.Equal(t, "trimmed", SanitizeFilename("  trimmed .."))
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), 180)

	// A name that sanitizes to nothing still yields a usable stem.
	assert.True(t, strings.HasPrefix(SanitizeFilename("..."), "download_"))
}

func TestProgressRegex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		pct  string
		ok   bool
	}{
		{"[download]  42.3% of 120.45MiB at 5.23MiB/s ETA 00:13", "42.3", true},
		{"[download] 100% of 120.45MiB in 00:25", "100", true},
		{"[download] Destination: video.mp4", "", false},
		{"[info] Downloading 1 format(s): 137+140", "", false},
	}
	for _, tt := range tests {
		m := progressRe.FindStringSubmatch(tt.line)
		if !tt.ok {
			assert.Nil(t, m, "line %q", tt.line)
			continue
		}
		require.NotNil(t, m, "line %q", tt.line)
		assert.Equal(t, tt.pct, m[1])
		_, err := strconv.ParseFloat(m[1], 64)
		assert.NoError(t, err)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, isTransient(""))
	assert.True(t, isTransient("ERROR: unable to download video data: timed out"))
	assert.False(t, isTransient("ERROR: Unsupported URL: https://example.com"))
	assert.False(t, isTransient("ERROR: Video unavailable"))
	assert.False(t, isTransient("ERROR: Private video. Sign in if you've been granted access"))
	assert.False(t, isTransient("ERROR: Requested format is not available"))
	assert.False(t, isTransient("HTTP Error 404: Not Found"))
}

func TestFormatArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"-f", "bestaudio", "-x", "--audio-format", "mp3"},
		formatArgs(Options{Kind: KindAudio}))

	assert.Equal(t,
		[]string{"-f", "bestvideo+bestaudio/best"},
		formatArgs(Options{Kind: KindVideo}))

	assert.Equal(t,
		[]string{"-f", "137+bestaudio/best"},
		formatArgs(Options{Kind: KindVideo, FormatID: "137"}))

	// Audio downloads ignore explicit format ids.
	assert.Equal(t,
		[]string{"-f", "bestaudio", "-x", "--audio-format", "mp3"},
		formatArgs(Options{Kind: KindAudio, FormatID: "137"}))
}

func TestSubtitleArgs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, subtitleArgs(""))
	assert.Nil(t, subtitleArgs("none"))
	assert.Equal(t, []string{"--write-subs", "--all-subs"}, subtitleArgs("all"))
	assert.Equal(t, []string{"--write-subs", "--sub-langs", "en"}, subtitleArgs("en"))
}

func TestFilterFormats(t *testing.T) {
	t.Parallel()

	in := []Format{
		{FormatID: "sb0", Ext: "mhtml"},
		{FormatID: "sb1", Ext: "webp"},
		{FormatID: "137", Ext: "mp4", Resolution: "1920x1080"},
		{FormatID: "140", Ext: "m4a", ACodec: "aac"},
	}
	out := filterFormats(in)
	require.Len(t, out, 2)
	assert.Equal(t, "137", out[0].FormatID)
	assert.Equal(t, "140", out[1].FormatID)
}

func TestIsMediaExt(t *testing.T) {
	t.Parallel()

	assert.True(t, isMediaExt(".mp4"))
	assert.True(t, isMediaExt(".flac"))
	assert.False(t, isMediaExt(".part"))
	assert.False(t, isMediaExt(".srt"))
	assert.False(t, isMediaExt(""))
}

func TestFindExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := New("yt-dlp", dir, 0)

	assert.Empty(t, d.findExisting("My Song"))

	writeEmpty(t, dir, "My Song.part")
	writeEmpty(t, dir, "Other Song.mp4")
	assert.Empty(t, d.findExisting("My Song"), "partial downloads do not count")

	writeEmpty(t, dir, "My Song.mkv")
	assert.Equal(t, filepath.Join(dir, "My Song.mkv"), d.findExisting("My Song"))
}

func writeEmpty(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestTailOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\nb", tailOf("a\nb", 5))
	assert.Equal(t, "d\ne", tailOf("a\nb\nc\nd\ne", 2))
}
