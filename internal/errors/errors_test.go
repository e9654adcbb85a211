package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBasics(t *testing.T) {
	t.Parallel()

	err := Newf("probe failed on %s", "input.mkv").
		Component("ffmpeg").
		Category(CategoryProbe).
		Context("path", "input.mkv").
		Build()

	assert.Equal(t, "probe failed on input.mkv", err.Error())
	assert.Equal(t, "ffmpeg", err.Component)
	assert.Equal(t, CategoryProbe, err.Category)
	assert.Equal(t, "input.mkv", err.Context["path"])
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapPreservesClassification(t *testing.T) {
	t.Parallel()

	inner := Newf("exit status 1").
		Component("downloader").
		Category(CategoryDownload).
		Context("transient", true).
		Build()

	wrapped := New(fmt.Errorf("attempt 2: %w", inner)).Build()

	assert.Equal(t, CategoryDownload, wrapped.Category)
	assert.Equal(t, "downloader", wrapped.Component)
	assert.True(t, wrapped.Transient())
}

func TestWrapOverride(t *testing.T) {
	t.Parallel()

	inner := Newf("boom").Category(CategoryDownload).Build()
	wrapped := New(inner).Category(CategoryQueueState).Build()

	assert.Equal(t, CategoryQueueState, wrapped.Category)
}

func TestCancellationSticksThroughRewrap(t *testing.T) {
	t.Parallel()

	inner := Newf("context canceled").
		Component("ffmpeg").
		Category(CategoryCancelled).
		Build()

	// Phase wrappers stamp their own category onto subprocess errors;
	// a cancelled subprocess must keep its cancelled classification.
	wrapped := New(inner).Component("extract").Category(CategoryExtract).Build()

	assert.Equal(t, CategoryCancelled, wrapped.Category)
	assert.True(t, IsCategory(wrapped, CategoryCancelled))
	assert.Equal(t, "extract", wrapped.Component)

	// Another layer on top changes nothing.
	again := New(wrapped).Category(CategoryMix).Build()
	assert.Equal(t, CategoryCancelled, again.Category)
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryGeneric, CategoryOf(stderrors.New("plain")))
	assert.Equal(t, CategoryGeneric, CategoryOf(nil))

	err := Newf("cancelled").Category(CategoryCancelled).Build()
	assert.Equal(t, CategoryCancelled, CategoryOf(err))
	assert.True(t, IsCategory(err, CategoryCancelled))
	assert.False(t, IsCategory(err, CategoryDownload))

	// Classification survives plain fmt wrapping.
	assert.True(t, IsCategory(fmt.Errorf("outer: %w", err), CategoryCancelled))
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	err := Newf("no audio").Category(CategoryInvalidInput).Build()
	target := &ProcessError{Category: CategoryInvalidInput}

	assert.True(t, Is(err, target))
	assert.False(t, Is(err, &ProcessError{Category: CategoryProbe}))
}

func TestTransientDefaultsFalse(t *testing.T) {
	t.Parallel()

	err := Newf("404").Category(CategoryDownload).Build()
	assert.False(t, err.Transient())

	err = Newf("timeout").Category(CategoryDownload).Context("transient", true).Build()
	assert.True(t, err.Transient())
}

func TestReexports(t *testing.T) {
	t.Parallel()

	base := stderrors.New("base")
	wrapped := fmt.Errorf("outer: %w", base)

	assert.True(t, Is(wrapped, base))
	assert.Equal(t, base, Unwrap(wrapped))

	var pe *ProcessError
	require.True(t, As(Newf("x").Build(), &pe))

	joined := Join(base, stderrors.New("other"))
	assert.True(t, Is(joined, base))
}
