// Package library persists the record of completed separations in
// library.json: newest first, capped, and pruned of entries whose files
// no longer exist on disk.
package library

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// maxEntries caps the library; the oldest records fall off.
const maxEntries = 100

// Entry is one completed separation.
type Entry struct {
	TaskID      string             `json:"task_id"`
	ResultFiles []string           `json:"result_files"`
	Metadata    *ffmpeg.MediaProbe `json:"metadata,omitempty"`
}

// Store is the JSON-file-backed library.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	logger  *slog.Logger
}

// NewStore loads the library from path; a missing file yields an empty
// library.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, logger: logging.ForService("library")}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.entries); err != nil {
			// A corrupt library is not worth failing startup over;
			// start fresh and let the next save replace it.
			s.logger.Warn("library file corrupt, starting empty", "path", path, "error", err)
			s.entries = nil
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.New(err).
			Component("library").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return s, nil
}

// Add inserts a completed record at the front and persists the store.
func (s *Store) Add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry{entry}, s.entries...)
	if len(s.entries) > maxEntries {
		s.entries = s.entries[:maxEntries]
	}
	return s.save()
}

// List returns the current entries, pruning records whose first result
// file disappeared from disk. Pruning persists when anything changed.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0:0]
	pruned := false
	for _, e := range s.entries {
		if len(e.ResultFiles) == 0 {
			pruned = true
			continue
		}
		if _, err := os.Stat(e.ResultFiles[0]); err != nil {
			pruned = true
			continue
		}
		kept = append(kept, e)
	}
	if pruned {
		s.entries = kept
		if err := s.save(); err != nil {
			s.logger.Warn("failed to persist pruned library", "error", err)
		}
	}

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Delete removes the entry owning filePath, deleting the file from disk
// as well. Missing files are not an error; the record still goes.
func (s *Store) Delete(filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("library").
			Category(errors.CategoryFileIO).
			Context("path", filePath).
			Build()
	}

	kept := s.entries[:0:0]
	for _, e := range s.entries {
		owns := false
		for _, f := range e.ResultFiles {
			if f == filePath {
				owns = true
				break
			}
		}
		if !owns {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return s.save()
}

// save writes the library atomically. Callers must hold the lock.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errors.New(err).Component("library").Category(errors.CategoryFileIO).Build()
	}
	if err := renameio.WriteFile(s.path, raw, 0o644); err != nil {
		return errors.New(err).
			Component("library").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	return nil
}
