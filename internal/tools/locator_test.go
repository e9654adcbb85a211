package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
)

func testLocator(t *testing.T) *Locator {
	t.Helper()
	settings := &conf.Settings{}
	settings.Paths.Tools = t.TempDir()
	return NewLocator(settings)
}

// emptyPath points PATH at an empty directory so host-installed tools
// cannot leak into discovery.
func emptyPath(t *testing.T) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())
}

func TestLocateUnknownTool(t *testing.T) {
	t.Parallel()

	l := testLocator(t)
	_, err := l.Locate(context.Background(), "imagemagick")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLocateConfiguredPath(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	bin := filepath.Join(t.TempDir(), "my-ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	l.settings.Tools.FFmpegPath = bin

	path, err := l.Locate(context.Background(), FFmpeg)
	require.NoError(t, err)
	assert.Equal(t, bin, path)
}

func TestLocateConfiguredPathMissing(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	l.settings.Tools.FFmpegPath = filepath.Join(t.TempDir(), "nope")

	_, err := l.Locate(context.Background(), FFmpeg)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingDependency))
}

func TestLocateToolsDir(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	local := filepath.Join(l.settings.Paths.Tools, binaryName(YtDlp))
	require.NoError(t, os.WriteFile(local, []byte("bin"), 0o755))

	path, err := l.Locate(context.Background(), YtDlp)
	require.NoError(t, err)
	abs, _ := filepath.Abs(local)
	assert.Equal(t, abs, path)
}

func TestLocateAutoFetchDisabled(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	l.settings.Tools.AutoFetch = false

	_, err := l.Locate(context.Background(), YtDlp)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingDependency))
}

func TestLocateFetchesYtDlp(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	l.settings.Tools.AutoFetch = true

	httpmock.ActivateNonDefault(l.client)
	defer httpmock.DeactivateAndReset()

	src, err := fetchSource(YtDlp)
	require.NoError(t, err)
	httpmock.RegisterResponder("GET", src.url,
		httpmock.NewBytesResponder(200, []byte("fake yt-dlp binary")))

	path, err := l.Locate(context.Background(), YtDlp)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake yt-dlp binary", string(raw))

	// The result is cached: a second Locate performs no further request.
	_, err = l.Locate(context.Background(), YtDlp)
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestLocateFetchHTTPError(t *testing.T) {
	emptyPath(t)

	l := testLocator(t)
	l.settings.Tools.AutoFetch = true

	httpmock.ActivateNonDefault(l.client)
	defer httpmock.DeactivateAndReset()

	src, err := fetchSource(YtDlp)
	require.NoError(t, err)
	httpmock.RegisterResponder("GET", src.url, httpmock.NewStringResponder(503, "unavailable"))

	_, err = l.Locate(context.Background(), YtDlp)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingDependency))
}

func TestLinuxFFmpegIsNotFetchable(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only source table entry")
	}
	emptyPath(t)

	l := testLocator(t)
	l.settings.Tools.AutoFetch = true

	_, err := l.Locate(context.Background(), FFmpeg)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingDependency))
}

func TestExtractFromZip(t *testing.T) {
	t.Parallel()

	l := testLocator(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("ffmpeg-7.0-essentials/bin/" + binaryName(FFmpeg))
	require.NoError(t, err)
	_, err = w.Write([]byte("ffmpeg binary payload"))
	require.NoError(t, err)
	other, err := zw.Create("ffmpeg-7.0-essentials/README.txt")
	require.NoError(t, err)
	_, err = other.Write([]byte("docs"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	target := filepath.Join(l.settings.Paths.Tools, binaryName(FFmpeg))
	require.NoError(t, l.extractFromZip(bytes.NewReader(buf.Bytes()), FFmpeg, target))

	raw, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg binary payload", string(raw))
}

func TestExtractFromZipMissingBinary(t *testing.T) {
	t.Parallel()

	l := testLocator(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("no binary here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	target := filepath.Join(l.settings.Paths.Tools, binaryName(FFmpeg))
	err = l.extractFromZip(bytes.NewReader(buf.Bytes()), FFmpeg, target)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMissingDependency))
}
