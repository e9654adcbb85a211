package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
)

func testOrchestrator() *Orchestrator {
	return NewOrchestrator(Deps{
		Settings: &conf.Settings{
			Workers:  conf.WorkerSettings{Separation: 1, Download: 1},
			Download: conf.DownloadSettings{MaxRetries: 1},
		},
	})
}

func mediaFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake"), 0o644))
	return path
}

func TestSubmitSeparationValidation(t *testing.T) {
	t.Parallel()

	o := testOrchestrator()

	_, err := o.SubmitSeparation(mediaFixture(t), SeparationOptions{Model: "wavenet"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = o.SubmitSeparation(filepath.Join(t.TempDir(), "missing.mp4"), SeparationOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidInput))
}

func TestSubmitSeparationQueuesJob(t *testing.T) {
	t.Parallel()

	o := testOrchestrator()

	// Workers are not started, so the job sits queued and is observable.
	id, err := o.SubmitSeparation(mediaFixture(t), SeparationOptions{})
	require.NoError(t, err)

	snap, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, "queued", snap.Status)
	assert.Equal(t, KindSeparate, snap.Kind)
}

func TestSubmitDownloadValidation(t *testing.T) {
	t.Parallel()

	o := testOrchestrator()
	_, err := o.SubmitDownload(DownloadRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCancelQueued(t *testing.T) {
	t.Parallel()

	o := testOrchestrator()
	id, err := o.SubmitSeparation(mediaFixture(t), SeparationOptions{})
	require.NoError(t, err)

	assert.Equal(t, CancelAccepted, o.Cancel(id))

	snap, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, "cancelled", snap.Status)

	// Cancelling again reports terminal, unknown ids report not found.
	assert.Equal(t, CancelAlreadyTerminal, o.Cancel(id))
	assert.Equal(t, CancelNotFound, o.Cancel("missing"))

	done, ok := o.Wait(id)
	require.True(t, ok)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelled job must signal done")
	}
}

func TestCancelledQueuedJobSkippedByWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := testOrchestrator()
	id, err := o.SubmitSeparation(mediaFixture(t), SeparationOptions{})
	require.NoError(t, err)
	require.Equal(t, CancelAccepted, o.Cancel(id))

	// The worker drains the cancelled job without running the pipeline
	// (a real run would fail loudly with no prober wired).
	o.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	o.Stop()

	snap, _ := o.Status(id)
	assert.Equal(t, "cancelled", snap.Status)
}

func TestStartStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := testOrchestrator()
	o.Start(context.Background())
	o.Start(context.Background())
	o.Stop()
	o.Stop()
}

func TestWaitUnknownJob(t *testing.T) {
	t.Parallel()

	o := testOrchestrator()
	_, ok := o.Wait("nope")
	assert.False(t, ok)
}
