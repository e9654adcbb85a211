// Package downloader wraps yt-dlp: format probing for the UI and the
// actual media download with line-parsed progress. Downloads land in the
// configured download directory; a file already present for the same
// title is reused instead of re-downloaded.
package downloader

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// FormatKind selects what to download.
type FormatKind string

const (
	KindVideo FormatKind = "video"
	KindAudio FormatKind = "audio"
)

// Options tunes one download.
type Options struct {
	Kind FormatKind
	// FormatID is an opaque yt-dlp format identifier; empty means best.
	FormatID string
	// Subtitles is a language code, "all", or "none".
	Subtitles string
	// Filename overrides the output stem when set.
	Filename string
}

// ProgressFunc receives download progress in [0,100].
type ProgressFunc func(pct float64)

var progressRe = regexp.MustCompile(`(?i)\[download\]\s+([0-9.]+)%`)

// permanentMarkers are yt-dlp failure strings that retrying cannot fix.
var permanentMarkers = []string{
	"unsupported url",
	"is not a valid url",
	"video unavailable",
	"private video",
	"requested format is not available",
	"http error 404",
	"http error 410",
}

// Downloader runs yt-dlp subprocesses.
type Downloader struct {
	bin         string
	downloadDir string
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Downloader writing into downloadDir with the given
// per-attempt timeout.
func New(bin, downloadDir string, timeout time.Duration) *Downloader {
	return &Downloader{
		bin:         bin,
		downloadDir: downloadDir,
		timeout:     timeout,
		logger:      logging.ForService("downloader"),
	}
}

// Download fetches url and returns the path of the downloaded file.
// Progress lines are parsed for percentage tokens; multi-stream
// downloads emit several 0-100 ramps, which the caller's monotonic
// progress handling absorbs.
func (d *Downloader) Download(ctx context.Context, url string, opts Options, progress ProgressFunc) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	stem, err := d.resolveStem(ctx, url, opts)
	if err != nil {
		return "", err
	}

	// Reuse a finished file with the same stem.
	if existing := d.findExisting(stem); existing != "" {
		d.logger.Info("download skipped, file exists", "url", url, "path", existing)
		if progress != nil {
			progress(100)
		}
		return existing, nil
	}

	template := filepath.Join(d.downloadDir, stem+".%(ext)s")
	args := []string{"--newline", "--no-playlist", "-o", template}
	args = append(args, formatArgs(opts)...)
	args = append(args, subtitleArgs(opts.Subtitles)...)
	args = append(args, url)

	if err := d.runScanned(ctx, progress, args...); err != nil {
		return "", err
	}

	result := d.findExisting(stem)
	if result == "" {
		return "", errors.Newf("download finished but no file found for %q", stem).
			Component("downloader").
			Category(errors.CategoryDownload).
			Context("transient", true).
			Context("url", url).
			Build()
	}
	if progress != nil {
		progress(100)
	}
	return result, nil
}

func formatArgs(opts Options) []string {
	if opts.Kind == KindAudio {
		return []string{"-f", "bestaudio", "-x", "--audio-format", "mp3"}
	}
	if opts.FormatID != "" {
		return []string{"-f", opts.FormatID + "+bestaudio/best"}
	}
	return []string{"-f", "bestvideo+bestaudio/best"}
}

func subtitleArgs(subtitles string) []string {
	switch subtitles {
	case "", "none":
		return nil
	case "all":
		return []string{"--write-subs", "--all-subs"}
	default:
		return []string{"--write-subs", "--sub-langs", subtitles}
	}
}

// resolveStem determines the sanitized output file stem, asking yt-dlp
// for the title when the caller did not provide a name.
func (d *Downloader) resolveStem(ctx context.Context, url string, opts Options) (string, error) {
	if opts.Filename != "" {
		return SanitizeFilename(opts.Filename), nil
	}
	out, err := d.runOutput(ctx, "--no-playlist", "--get-filename", "-o", "%(title)s", url)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(out)
	if title == "" {
		return "", errors.Newf("could not resolve a filename for %s", url).
			Component("downloader").
			Category(errors.CategoryDownload).
			Context("transient", true).
			Context("url", url).
			Build()
	}
	return SanitizeFilename(title), nil
}

// findExisting returns a previously downloaded media file matching stem.
func (d *Downloader) findExisting(stem string) string {
	entries, err := os.ReadDir(d.downloadDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if strings.TrimSuffix(name, filepath.Ext(name)) == stem && isMediaExt(ext) {
			return filepath.Join(d.downloadDir, name)
		}
	}
	return ""
}

func isMediaExt(ext string) bool {
	switch ext {
	case ".mp4", ".mkv", ".webm", ".avi", ".mov", ".mp3", ".m4a", ".flac", ".wav", ".opus", ".ogg":
		return true
	}
	return false
}

// runScanned executes yt-dlp streaming its output through the progress
// parser.
func (d *Downloader) runScanned(ctx context.Context, progress ProgressFunc, args ...string) error {
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.wrapExecErr(err, args)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.wrapExecErr(err, args)
	}
	if err := cmd.Start(); err != nil {
		return d.wrapExecErr(err, args)
	}

	var mu sync.Mutex
	var tail []string
	var wg sync.WaitGroup
	scan := func(r interface{ Read([]byte) (int, error) }) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			mu.Lock()
			if len(tail) >= 16 {
				tail = tail[1:]
			}
			tail = append(tail, line)
			mu.Unlock()
			if progress != nil {
				if m := progressRe.FindStringSubmatch(line); m != nil {
					if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
						progress(pct)
					}
				}
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		mu.Lock()
		tailCopy := strings.Join(tail, "\n")
		mu.Unlock()
		if ctx.Err() != nil {
			return errors.New(ctx.Err()).
				Component("downloader").
				Category(errors.CategoryCancelled).
				Build()
		}
		return errors.New(err).
			Component("downloader").
			Category(errors.CategoryDownload).
			Context("transient", isTransient(tailCopy)).
			Context("args", strings.Join(args, " ")).
			Context("output_tail", tailCopy).
			Build()
	}
	return nil
}

// runOutput executes yt-dlp and returns its stdout.
func (d *Downloader) runOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.New(ctx.Err()).
				Component("downloader").
				Category(errors.CategoryCancelled).
				Build()
		}
		tail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			tail = tailOf(string(exitErr.Stderr), 12)
		}
		return "", errors.New(err).
			Component("downloader").
			Category(errors.CategoryDownload).
			Context("transient", isTransient(tail)).
			Context("args", strings.Join(args, " ")).
			Context("output_tail", tail).
			Build()
	}
	return string(out), nil
}

func (d *Downloader) wrapExecErr(err error, args []string) error {
	return errors.New(err).
		Component("downloader").
		Category(errors.CategoryDownload).
		Context("transient", true).
		Context("args", strings.Join(args, " ")).
		Build()
}

// isTransient classifies a failure by its output: unknown failures are
// retried, known-permanent ones are not.
func isTransient(outputTail string) bool {
	lower := strings.ToLower(outputTail)
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

func tailOf(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename strips characters that are invalid in file names and
// collapses the result to something safe across platforms.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if len(name) > 180 {
		name = name[:180]
	}
	if name == "" {
		name = fmt.Sprintf("download_%d", time.Now().Unix())
	}
	return name
}
