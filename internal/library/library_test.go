package library

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestAddAndList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "library.json"))
	require.NoError(t, err)

	first := touch(t, dir, "first_vocals.mp3")
	second := touch(t, dir, "second_vocals.mp3")

	require.NoError(t, s.Add(Entry{TaskID: "a", ResultFiles: []string{first}}))
	require.NoError(t, s.Add(Entry{TaskID: "b", ResultFiles: []string{second}}))

	entries := s.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].TaskID, "newest entry comes first")
	assert.Equal(t, "a", entries[1].TaskID)
}

func TestListPrunesMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "library.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	kept := touch(t, dir, "kept.mp3")
	gone := touch(t, dir, "gone.mp3")
	require.NoError(t, s.Add(Entry{TaskID: "kept", ResultFiles: []string{kept}}))
	require.NoError(t, s.Add(Entry{TaskID: "gone", ResultFiles: []string{gone}}))

	require.NoError(t, os.Remove(gone))

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].TaskID)

	// The prune is persisted.
	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.List(), 1)
}

func TestCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "library.json"))
	require.NoError(t, err)

	for i := 0; i < maxEntries+10; i++ {
		f := touch(t, dir, fmt.Sprintf("out%03d.mp3", i))
		require.NoError(t, s.Add(Entry{TaskID: fmt.Sprintf("t%d", i), ResultFiles: []string{f}}))
	}

	entries := s.List()
	require.Len(t, entries, maxEntries)
	assert.Equal(t, fmt.Sprintf("t%d", maxEntries+9), entries[0].TaskID, "the newest entry survives")
}

func TestDeleteRemovesFileAndRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "library.json"))
	require.NoError(t, err)

	f := touch(t, dir, "victim.mp3")
	require.NoError(t, s.Add(Entry{TaskID: "v", ResultFiles: []string{f}}))

	require.NoError(t, s.Delete(f))
	assert.NoFileExists(t, f)
	assert.Empty(t, s.List())

	// Deleting an already-missing file is not an error.
	require.NoError(t, s.Delete(f))
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "library.json")
	require.NoError(t, os.WriteFile(path, []byte("][garbage"), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}
