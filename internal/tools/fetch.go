package tools

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// source describes where a tool build can be fetched for the current
// platform. Archive sources are zip files containing the binary;
// binary sources are the executable itself.
type source struct {
	url     string
	archive bool
}

// yt-dlp publishes standalone binaries per platform; ffmpeg/ffprobe zip
// builds exist for windows (gyan.dev) and macOS (evermeet). Linux ffmpeg
// builds are xz archives we do not unpack, so on linux ffmpeg comes from
// the package manager.
func fetchSource(tool string) (source, error) {
	switch tool {
	case YtDlp:
		base := "https://github.com/yt-dlp/yt-dlp/releases/latest/download/"
		switch runtime.GOOS {
		case "windows":
			return source{url: base + "yt-dlp.exe"}, nil
		case "darwin":
			return source{url: base + "yt-dlp_macos"}, nil
		default:
			return source{url: base + "yt-dlp"}, nil
		}
	case FFmpeg, FFprobe:
		switch runtime.GOOS {
		case "windows":
			return source{url: "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip", archive: true}, nil
		case "darwin":
			return source{url: fmt.Sprintf("https://evermeet.cx/ffmpeg/getrelease/%s/zip", tool), archive: true}, nil
		default:
			return source{}, missingDependency(tool, "no fetchable build for this platform; install ffmpeg with your package manager")
		}
	}
	return source{}, missingDependency(tool, "unknown tool")
}

// fetch downloads the tool into the tools directory and returns the
// resulting binary path.
func (l *Locator) fetch(ctx context.Context, tool string) (string, error) {
	src, err := fetchSource(tool)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(l.settings.Paths.Tools, 0o755); err != nil {
		return "", errors.New(err).
			Component("tools").
			Category(errors.CategoryFileIO).
			Context("dir", l.settings.Paths.Tools).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.url, http.NoBody)
	if err != nil {
		return "", errors.New(err).Component("tools").Category(errors.CategoryMissingDependency).Build()
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.New(err).
			Component("tools").
			Category(errors.CategoryMissingDependency).
			Context("tool", tool).
			Context("url", src.url).
			Context("hint", "download failed; install the tool manually").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("fetching %s: unexpected status %s", tool, resp.Status).
			Component("tools").
			Category(errors.CategoryMissingDependency).
			Context("tool", tool).
			Context("url", src.url).
			Build()
	}

	target := filepath.Join(l.settings.Paths.Tools, binaryName(tool))
	if src.archive {
		return target, l.extractFromZip(resp.Body, tool, target)
	}
	return target, writeExecutable(target, resp.Body)
}

// extractFromZip buffers the archive to disk, then extracts the first
// entry whose base name matches the tool binary.
func (l *Locator) extractFromZip(body io.Reader, tool, target string) error {
	tmp, err := os.CreateTemp(l.settings.Paths.Tools, tool+"-*.zip")
	if err != nil {
		return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Build()
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, body)
	if err != nil {
		return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Build()
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return errors.New(err).
			Component("tools").
			Category(errors.CategoryMissingDependency).
			Context("tool", tool).
			Build()
	}

	want := binaryName(tool)
	for _, f := range zr.File {
		if filepath.Base(f.Name) != want || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Build()
		}
		err = writeExecutable(target, rc)
		_ = rc.Close()
		return err
	}
	return missingDependency(tool, fmt.Sprintf("archive did not contain %s", want))
}

func writeExecutable(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Context("path", target).Build()
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Context("path", target).Build()
	}
	if err := f.Close(); err != nil {
		return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Context("path", target).Build()
	}
	if !strings.HasSuffix(target, ".exe") {
		if err := os.Chmod(target, 0o755); err != nil {
			return errors.New(err).Component("tools").Category(errors.CategoryFileIO).Context("path", target).Build()
		}
	}
	return nil
}
