package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "queued", StatusQueued.String())
	assert.Equal(t, "processing", StatusRunning.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())

	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestProgressMonotonic(t *testing.T) {
	t.Parallel()

	j := newJob("j1", KindSeparate)
	require.True(t, j.setRunning())

	j.setProgress(40, "Separating")
	j.setProgress(25, "late spleeter update")
	j.setProgress(60, "Mixing")

	snap := j.Snapshot()
	assert.Equal(t, 60, snap.Progress)
	assert.Equal(t, "Mixing", snap.CurrentStep)
}

func TestFinishOnce(t *testing.T) {
	t.Parallel()

	j := newJob("j1", KindSeparate)
	require.True(t, j.setRunning())

	require.True(t, j.finish(StatusCompleted, []string{"/out/x_vocals.mp3"}, ""))
	assert.False(t, j.finish(StatusFailed, nil, "too late"))

	snap := j.Snapshot()
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Nil(t, snap.Error)

	select {
	case <-j.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	// Progress updates after a terminal state are dropped.
	j.setProgress(1, "stray")
	assert.Equal(t, 100, j.Snapshot().Progress)
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()

	j := newJob("j1", KindSeparate)
	require.True(t, j.requestCancel())

	snap := j.Snapshot()
	assert.Equal(t, "cancelled", snap.Status)
	require.NotNil(t, snap.Error)

	select {
	case <-j.Done():
	default:
		t.Fatal("cancelled queued job must close done")
	}

	// The worker must not pick it up afterwards.
	assert.False(t, j.setRunning())
	// A second cancel reports already terminal.
	assert.False(t, j.requestCancel())
}

func TestCancelRunningJobFiresContext(t *testing.T) {
	t.Parallel()

	j := newJob("j1", KindSeparate)
	require.True(t, j.setRunning())

	ctx, cancel := context.WithCancel(context.Background())
	j.setCancelFunc(cancel)

	require.True(t, j.requestCancel())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel must propagate to the job context")
	}

	// The job is not terminal until the worker observes the cancel.
	assert.Equal(t, StatusRunning, j.statusNow())
	require.True(t, j.finish(StatusCancelled, nil, "cancelled"))
	assert.Equal(t, "cancelled", j.Snapshot().Status)
}

func TestSnapshotJSONShape(t *testing.T) {
	t.Parallel()

	j := newJob("abc-123", KindSeparate)
	raw, err := json.Marshal(j.Snapshot())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, key := range []string{"task_id", "kind", "status", "progress", "current_step", "result_files", "metadata", "error", "created_at"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "abc-123", m["task_id"])
	assert.Equal(t, "queued", m["status"])
	assert.Equal(t, []any{}, m["result_files"], "result_files is an array even before completion")
	assert.Nil(t, m["error"])
}

func TestTableList(t *testing.T) {
	t.Parallel()

	table := NewTable()
	a := newJob("a", KindSeparate)
	table.add(a)
	time.Sleep(2 * time.Millisecond)
	b := newJob("b", KindDownload)
	table.add(b)

	all := table.List(ListFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].JobID, "newest first")

	downloads := table.List(ListFilter{Kind: KindDownload})
	require.Len(t, downloads, 1)
	assert.Equal(t, "b", downloads[0].JobID)

	require.True(t, b.setRunning())
	running := table.List(ListFilter{Status: "processing"})
	require.Len(t, running, 1)
	assert.Equal(t, "b", running[0].JobID)

	_, ok := table.Status("missing")
	assert.False(t, ok)
}
