// Package conf holds the process-wide configuration for the separation
// service. Settings are loaded once through viper and treated as
// read-mostly for the process lifetime.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// MainSettings contains application-level settings.
type MainSettings struct {
	Name string // application name used in logs
	Log  LogConfig
}

// LogConfig describes the optional file log.
type LogConfig struct {
	Enabled bool
	Path    string
}

// WebServerSettings contains the HTTP API settings.
type WebServerSettings struct {
	Enabled bool
	Host    string
	Port    string
}

// PathSettings groups every directory the service writes to.
type PathSettings struct {
	// Base is the working root; download/, nomusic/ and the JSON state
	// files live under it.
	Base string
	// TempRoot hosts per-job temp directories.
	TempRoot string
	// Tools hosts locally fetched binaries when none are found on PATH.
	Tools string
}

// WorkerSettings bounds the concurrency of each pool.
type WorkerSettings struct {
	// Separation is the number of separation jobs running at once.
	// Separators are RAM-heavy, so the default is 1.
	Separation int
	// Download is the number of concurrent queue downloads.
	Download int
	// Batch bounds concurrent folder-batch submissions.
	Batch int
	// DemucsSegments bounds per-driver segment parallelism.
	DemucsSegments int
}

// SegmentSettings controls chunking of long inputs.
type SegmentSettings struct {
	ThresholdSeconds float64 // inputs longer than this are split
	LengthSeconds    float64 // maximum segment length
}

// DownloadSettings controls the yt-dlp driver.
type DownloadSettings struct {
	TimeoutMinutes int
	MaxRetries     int
}

// ToolSettings controls external binary discovery.
type ToolSettings struct {
	// AutoFetch allows downloading a missing binary into Paths.Tools.
	AutoFetch bool
	// FFmpegPath, FFprobePath, YtDlpPath override discovery when set.
	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string
	// SpleeterBin and DemucsBin name the separator executables.
	SpleeterBin string
	DemucsBin   string
}

// Settings is the root configuration structure.
type Settings struct {
	Debug    bool
	KeepTemp bool

	Main      MainSettings
	WebServer WebServerSettings
	Paths     PathSettings
	Workers   WorkerSettings
	Segment   SegmentSettings
	Download  DownloadSettings
	Tools     ToolSettings

	// AudioLanguages is the preferred audio track languages, in priority
	// order, used when an input carries multiple audio tracks.
	AudioLanguages []string
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file (if present) and environment into a
// Settings struct. Missing files are not an error; defaults apply.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "nomusic"))
	}
	viper.SetEnvPrefix("nomusic")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// Setting returns the singleton settings instance, loading defaults on
// first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance != nil
		settingsMutex.RUnlock()
		if !loaded {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DownloadDir returns the directory raw downloads are written to.
func (s *Settings) DownloadDir() string {
	return filepath.Join(s.Paths.Base, "download")
}

// OutputDir returns the directory final separated files are written to.
func (s *Settings) OutputDir() string {
	return filepath.Join(s.Paths.Base, "nomusic")
}

// QueueFile returns the path of the persistent download queue.
func (s *Settings) QueueFile() string {
	return filepath.Join(s.Paths.Base, "download_queue.json")
}

// LibraryFile returns the path of the completed-jobs library.
func (s *Settings) LibraryFile() string {
	return filepath.Join(s.Paths.Base, "library.json")
}

// PresetFile returns the path of the remux preset store.
func (s *Settings) PresetFile() string {
	return filepath.Join(s.Paths.Base, "video.json")
}

// EnsureDirs creates every directory the service needs.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.Paths.Base, s.DownloadDir(), s.OutputDir(), s.Paths.TempRoot, s.Paths.Tools} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
