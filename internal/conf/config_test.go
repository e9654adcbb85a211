package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func loadForTest(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	t.Chdir(t.TempDir())
	settings, err := Load()
	require.NoError(t, err)
	return settings
}

func TestLoadDefaults(t *testing.T) {
	settings := loadForTest(t)

	assert.False(t, settings.Debug)
	assert.Equal(t, "127.0.0.1", settings.WebServer.Host)
	assert.Equal(t, "5000", settings.WebServer.Port)
	assert.Equal(t, 1, settings.Workers.Separation)
	assert.Equal(t, 2, settings.Workers.DemucsSegments)
	assert.InDelta(t, 600.0, settings.Segment.ThresholdSeconds, 0.01)
	assert.InDelta(t, 600.0, settings.Segment.LengthSeconds, 0.01)
	assert.Equal(t, 3, settings.Download.MaxRetries)
	assert.Equal(t, 30, settings.Download.TimeoutMinutes)
	assert.True(t, settings.Tools.AutoFetch)
	assert.Equal(t, "spleeter", settings.Tools.SpleeterBin)
	assert.Equal(t, "demucs", settings.Tools.DemucsBin)
	assert.Empty(t, settings.AudioLanguages)
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "config.yaml"), `
debug: true
webserver:
  port: "8080"
workers:
  separation: 2
audiolanguages:
  - jpn
  - eng
`)

	settings, err := Load()
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, "8080", settings.WebServer.Port)
	assert.Equal(t, 2, settings.Workers.Separation)
	assert.Equal(t, []string{"jpn", "eng"}, settings.AudioLanguages)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", settings.WebServer.Host)
}

func TestPathHelpers(t *testing.T) {
	settings := loadForTest(t)
	settings.Paths.Base = "/srv/nomusic"

	assert.Equal(t, filepath.Join("/srv/nomusic", "download"), settings.DownloadDir())
	assert.Equal(t, filepath.Join("/srv/nomusic", "nomusic"), settings.OutputDir())
	assert.Equal(t, filepath.Join("/srv/nomusic", "download_queue.json"), settings.QueueFile())
	assert.Equal(t, filepath.Join("/srv/nomusic", "library.json"), settings.LibraryFile())
	assert.Equal(t, filepath.Join("/srv/nomusic", "video.json"), settings.PresetFile())
}

func TestEnsureDirs(t *testing.T) {
	settings := loadForTest(t)
	base := t.TempDir()
	settings.Paths.Base = filepath.Join(base, "data")
	settings.Paths.TempRoot = filepath.Join(base, "tmp")
	settings.Paths.Tools = filepath.Join(base, "tools")

	require.NoError(t, settings.EnsureDirs())

	for _, dir := range []string{settings.DownloadDir(), settings.OutputDir(), settings.Paths.TempRoot, settings.Paths.Tools} {
		assert.DirExists(t, dir)
	}
}
