// Package preset manages the remux output presets persisted in
// video.json. The store is read-mostly: many readers take snapshots, all
// mutation goes through a single guarded writer that rewrites the file
// atomically.
package preset

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// VideoSettings selects the video codec for remux. A nil bitrate means
// codec default (or not applicable for "copy").
type VideoSettings struct {
	Codec   string  `json:"codec"`
	Bitrate *string `json:"bitrate"`
}

// AudioSettings selects the audio codec for remux.
type AudioSettings struct {
	Codec   string `json:"codec"`
	Bitrate string `json:"bitrate"`
}

// OutputSettings selects the output container.
type OutputSettings struct {
	Format string `json:"format"`
}

// Preset is a named bundle of remux settings.
type Preset struct {
	Name   string         `json:"name,omitempty"`
	Video  VideoSettings  `json:"video"`
	Audio  AudioSettings  `json:"audio"`
	Output OutputSettings `json:"output"`
}

// ProcessingSettings carries tunables stored alongside presets.
type ProcessingSettings struct {
	DemucsWorkers int `json:"demucs_workers"`
}

type fileSchema struct {
	Video         VideoSettings      `json:"video"`
	Audio         AudioSettings      `json:"audio"`
	Output        OutputSettings     `json:"output"`
	Processing    ProcessingSettings `json:"processing"`
	Presets       map[string]Preset  `json:"presets,omitempty"`
	CurrentPreset string             `json:"current_preset,omitempty"`
}

// Default returns the built-in preset: copy video, AAC 192k audio, mp4.
func Default() Preset {
	return Preset{
		Video:  VideoSettings{Codec: "copy"},
		Audio:  AudioSettings{Codec: "aac", Bitrate: "192k"},
		Output: OutputSettings{Format: "mp4"},
	}
}

// Store holds the preset configuration backed by a JSON file.
type Store struct {
	mu   sync.RWMutex
	path string
	data fileSchema
}

// NewStore loads the store from path, initializing the file with
// defaults when it does not exist.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, errors.New(err).
				Component("preset").
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Build()
		}
	case os.IsNotExist(err):
		def := Default()
		s.data = fileSchema{
			Video:      def.Video,
			Audio:      def.Audio,
			Output:     def.Output,
			Processing: ProcessingSettings{DemucsWorkers: 2},
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New(err).
			Component("preset").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if s.data.Output.Format == "" {
		s.data.Output = Default().Output
	}
	if s.data.Audio.Codec == "" {
		s.data.Audio = Default().Audio
	}
	if s.data.Video.Codec == "" {
		s.data.Video = Default().Video
	}
	if s.data.Processing.DemucsWorkers <= 0 {
		s.data.Processing.DemucsWorkers = 2
	}
	return s, nil
}

// Active returns the preset currently applied to remux: the selected
// named preset when current_preset is set, otherwise the top-level
// settings.
func (s *Store) Active() Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.CurrentPreset != "" {
		if p, ok := s.data.Presets[s.data.CurrentPreset]; ok {
			p.Name = s.data.CurrentPreset
			return p
		}
	}
	return Preset{
		Video:  s.data.Video,
		Audio:  s.data.Audio,
		Output: s.data.Output,
	}
}

// Processing returns the processing tunables.
func (s *Store) Processing() ProcessingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Processing
}

// Presets returns a copy of the named preset map.
func (s *Store) Presets() map[string]Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Preset, len(s.data.Presets))
	for k, v := range s.data.Presets {
		out[k] = v
	}
	return out
}

// Upsert adds or replaces a named preset and persists the store.
func (s *Store) Upsert(p Preset) error {
	if p.Name == "" {
		return errors.Newf("preset name must not be empty").
			Component("preset").
			Category(errors.CategoryValidation).
			Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Presets == nil {
		s.data.Presets = make(map[string]Preset)
	}
	s.data.Presets[p.Name] = p
	return s.save()
}

// SetCurrent selects a named preset, or clears the selection when name
// is empty.
func (s *Store) SetCurrent(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		if _, ok := s.data.Presets[name]; !ok {
			return errors.Newf("unknown preset %q", name).
				Component("preset").
				Category(errors.CategoryValidation).
				Context("preset", name).
				Build()
		}
	}
	s.data.CurrentPreset = name
	return s.save()
}

// Delete removes a named preset, clearing the selection if it pointed at
// the removed entry.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Presets, name)
	if s.data.CurrentPreset == name {
		s.data.CurrentPreset = ""
	}
	return s.save()
}

// save writes the store atomically. Callers must hold the write lock.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("preset").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := renameio.WriteFile(s.path, raw, 0o644); err != nil {
		return errors.New(err).
			Component("preset").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	return nil
}
