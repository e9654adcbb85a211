// Package tools locates the external binaries the pipeline depends on:
// ffmpeg, ffprobe and yt-dlp. Discovery order is explicit configuration,
// PATH, the local tools directory, then (policy permitting) a download of
// a platform-appropriate build. Results are cached for the process
// lifetime.
package tools

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// Tool names accepted by Locate.
const (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"
	YtDlp   = "yt-dlp"
)

// Locator resolves tool names to absolute binary paths.
type Locator struct {
	settings *conf.Settings
	logger   *slog.Logger
	client   *http.Client

	mu    sync.Mutex
	cache map[string]string
	locks map[string]*sync.Mutex
}

// NewLocator creates a Locator bound to the given settings.
func NewLocator(settings *conf.Settings) *Locator {
	return &Locator{
		settings: settings,
		logger:   logging.ForService("tools"),
		client:   &http.Client{Timeout: 10 * time.Minute},
		cache:    make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Locate returns the absolute path of the named tool, fetching it when
// allowed and necessary. Concurrent callers for the same tool share one
// fetch; different tools do not block each other.
func (l *Locator) Locate(ctx context.Context, tool string) (string, error) {
	if tool != FFmpeg && tool != FFprobe && tool != YtDlp {
		return "", errors.Newf("unknown tool %q", tool).
			Component("tools").
			Category(errors.CategoryValidation).
			Build()
	}

	l.mu.Lock()
	if path, ok := l.cache[tool]; ok {
		l.mu.Unlock()
		return path, nil
	}
	lock, ok := l.locks[tool]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[tool] = lock
	}
	l.mu.Unlock()

	// Serialize discovery per tool so concurrent startup requests share
	// one download.
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	if path, ok := l.cache[tool]; ok {
		l.mu.Unlock()
		return path, nil
	}
	l.mu.Unlock()

	path, err := l.discover(ctx, tool)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.cache[tool] = path
	l.mu.Unlock()
	l.logger.Info("tool located", "tool", tool, "path", path)
	return path, nil
}

// MustLocateAll resolves every tool the pipeline needs, failing on the
// first miss.
func (l *Locator) MustLocateAll(ctx context.Context) error {
	for _, tool := range []string{FFmpeg, FFprobe, YtDlp} {
		if _, err := l.Locate(ctx, tool); err != nil {
			return err
		}
	}
	return nil
}

func (l *Locator) discover(ctx context.Context, tool string) (string, error) {
	// Explicit configuration wins.
	if p := l.configuredPath(tool); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", errors.Newf("configured path for %s does not exist: %s", tool, l.configuredPath(tool)).
			Component("tools").
			Category(errors.CategoryMissingDependency).
			Context("tool", tool).
			Build()
	}

	if p, err := exec.LookPath(binaryName(tool)); err == nil {
		return filepath.Abs(p)
	}

	local := filepath.Join(l.settings.Paths.Tools, binaryName(tool))
	if _, err := os.Stat(local); err == nil {
		return filepath.Abs(local)
	}

	if !l.settings.Tools.AutoFetch {
		return "", missingDependency(tool, "auto-fetch disabled; install it or set its path in the configuration")
	}

	l.logger.Info("tool not found, fetching", "tool", tool, "os", runtime.GOOS, "arch", runtime.GOARCH)
	path, err := l.fetch(ctx, tool)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func (l *Locator) configuredPath(tool string) string {
	switch tool {
	case FFmpeg:
		return l.settings.Tools.FFmpegPath
	case FFprobe:
		return l.settings.Tools.FFprobePath
	case YtDlp:
		return l.settings.Tools.YtDlpPath
	}
	return ""
}

func binaryName(tool string) string {
	if runtime.GOOS == "windows" {
		return tool + ".exe"
	}
	return tool
}

func missingDependency(tool, hint string) error {
	return errors.Newf("required tool %s is not available: %s", tool, hint).
		Component("tools").
		Category(errors.CategoryMissingDependency).
		Context("tool", tool).
		Context("hint", hint).
		Build()
}
