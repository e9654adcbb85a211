package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// AudioTrack describes one audio stream of an input file.
type AudioTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	Codec    string `json:"codec"`
}

// MediaProbe is the metadata snapshot attached to a job. Field names are
// stable for the polling UI.
type MediaProbe struct {
	DurationSeconds float64      `json:"duration_s"`
	IsVideo         bool         `json:"is_video"`
	VideoCodec      string       `json:"video_codec,omitempty"`
	AudioCodec      string       `json:"audio_codec,omitempty"`
	Resolution      string       `json:"resolution,omitempty"`
	AudioTracks     []AudioTrack `json:"audio_tracks"`
}

// ffprobe JSON output shapes.
type probeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Tags      map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Prober wraps ffprobe with a short-lived result cache keyed by path.
type Prober struct {
	ffprobePath string
	cache       *gocache.Cache
}

// NewProber creates a Prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		cache:       gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Probe inspects path and returns its metadata. Results are cached; the
// cache tolerates files being reprocessed within a batch without
// re-running ffprobe.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaProbe, error) {
	if cached, ok := p.cache.Get(path); ok {
		probe := cached.(*MediaProbe)
		return probe, nil
	}

	stdout, err := runCommand(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, errors.New(err).
			Component("probe").
			Category(errors.CategoryProbe).
			Context("path", path).
			Build()
	}

	var result probeResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, errors.Newf("malformed ffprobe output for %s: %w", path, err).
			Component("probe").
			Category(errors.CategoryProbe).
			Context("path", path).
			Build()
	}

	probe := &MediaProbe{AudioTracks: []AudioTrack{}}
	if result.Format.Duration != "" {
		d, err := strconv.ParseFloat(result.Format.Duration, 64)
		if err != nil {
			return nil, errors.Newf("unparseable duration %q for %s", result.Format.Duration, path).
				Component("probe").
				Category(errors.CategoryProbe).
				Context("path", path).
				Build()
		}
		probe.DurationSeconds = d
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			// Attached cover art shows up as a video stream in audio
			// files; mjpeg/png streams do not make the input a video.
			if s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			if !probe.IsVideo {
				probe.IsVideo = true
				probe.VideoCodec = s.CodecName
				if s.Width > 0 && s.Height > 0 {
					probe.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
				}
			}
		case "audio":
			if probe.AudioCodec == "" {
				probe.AudioCodec = s.CodecName
			}
			probe.AudioTracks = append(probe.AudioTracks, AudioTrack{
				Index:    s.Index,
				Language: strings.ToLower(s.Tags["language"]),
				Codec:    s.CodecName,
			})
		}
	}

	if len(probe.AudioTracks) == 0 {
		return nil, errors.Newf("input has no audio tracks: %s", path).
			Component("probe").
			Category(errors.CategoryInvalidInput).
			Context("path", path).
			Build()
	}

	p.cache.Set(path, probe, gocache.DefaultExpiration)
	return probe, nil
}

// Duration is the cheap variant: format duration only.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	if cached, ok := p.cache.Get(path); ok {
		return cached.(*MediaProbe).DurationSeconds, nil
	}
	stdout, err := runCommand(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, errors.New(err).
			Component("probe").
			Category(errors.CategoryProbe).
			Context("path", path).
			Build()
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, errors.Newf("unparseable duration output %q for %s", strings.TrimSpace(stdout), path).
			Component("probe").
			Category(errors.CategoryProbe).
			Context("path", path).
			Build()
	}
	return d, nil
}

// SelectAudioTrack picks the audio track to extract: the first track
// whose language matches the priority list, else the first audio track.
func SelectAudioTrack(probe *MediaProbe, languages []string) AudioTrack {
	for _, lang := range languages {
		lang = strings.ToLower(lang)
		for _, t := range probe.AudioTracks {
			if t.Language == lang {
				return t
			}
		}
	}
	return probe.AudioTracks[0]
}
