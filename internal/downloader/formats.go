package downloader

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// Format is one downloadable representation reported by yt-dlp. The
// format id is opaque and passed back verbatim on download.
type Format struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	FormatNote string `json:"format_note,omitempty"`
	Filesize   int64  `json:"filesize,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
}

// PlaylistEntry is one video of a probed playlist.
type PlaylistEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// ProbeResult describes a remote URL: either a single video with its
// formats or a playlist listing.
type ProbeResult struct {
	IsPlaylist bool `json:"is_playlist"`

	// Single video fields.
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Subtitles []string `json:"subtitles,omitempty"`
	Formats   []Format `json:"formats,omitempty"`

	// Playlist fields.
	Videos     []PlaylistEntry `json:"videos,omitempty"`
	VideoCount int             `json:"video_count,omitempty"`
}

type ytVideoJSON struct {
	Type      string                `json:"_type"`
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Thumbnail string                `json:"thumbnail"`
	Subtitles map[string][]struct{} `json:"subtitles"`
	Formats   []Format              `json:"formats"`
	Entries   []ytEntryJSON         `json:"entries"`
}

type ytEntryJSON struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Duration  float64  `json:"duration"`
	Thumbnail string   `json:"thumbnail"`
	Thumbs    []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// ProbeFormats inspects a remote URL. With checkPlaylist set, playlist
// URLs return the flat entry list instead of single-video formats.
func (d *Downloader) ProbeFormats(ctx context.Context, url string, checkPlaylist bool) (*ProbeResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := []string{"-J"}
	if checkPlaylist {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, url)

	out, err := d.runOutput(ctx, args...)
	if err != nil {
		return nil, err
	}

	var raw ytVideoJSON
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Newf("malformed yt-dlp metadata for %s: %w", url, err).
			Component("downloader").
			Category(errors.CategoryDownload).
			Context("transient", false).
			Context("url", url).
			Build()
	}

	if raw.Type == "playlist" {
		result := &ProbeResult{
			IsPlaylist: true,
			Title:      raw.Title,
			Videos:     make([]PlaylistEntry, 0, len(raw.Entries)),
		}
		for _, e := range raw.Entries {
			entry := PlaylistEntry{
				ID:        e.ID,
				Title:     e.Title,
				URL:       e.URL,
				Duration:  e.Duration,
				Thumbnail: e.Thumbnail,
			}
			if entry.Thumbnail == "" && len(e.Thumbs) > 0 {
				entry.Thumbnail = e.Thumbs[len(e.Thumbs)-1].URL
			}
			result.Videos = append(result.Videos, entry)
		}
		result.VideoCount = len(result.Videos)
		return result, nil
	}

	result := &ProbeResult{
		ID:        raw.ID,
		Title:     raw.Title,
		Thumbnail: raw.Thumbnail,
		Formats:   filterFormats(raw.Formats),
	}
	for lang := range raw.Subtitles {
		result.Subtitles = append(result.Subtitles, lang)
	}
	sort.Strings(result.Subtitles)
	return result, nil
}

// filterFormats drops storyboard and other non-media entries the UI
// cannot use.
func filterFormats(formats []Format) []Format {
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		if f.Ext == "mhtml" || strings.HasPrefix(f.FormatID, "sb") {
			continue
		}
		out = append(out, f)
	}
	return out
}
