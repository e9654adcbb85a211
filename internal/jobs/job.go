// Package jobs holds the job model and the orchestrator that runs a
// separation end-to-end: probe, extract, separate with both drivers in
// parallel, align, mix, normalize and remux, publishing progress through
// a polled snapshot surface.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/nomusic/nomusic-go/internal/ffmpeg"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus int

const (
	StatusQueued JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the wire form of the status. These values are stable
// for the polling UI.
func (s JobStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobKind distinguishes separation jobs from download jobs.
type JobKind string

const (
	KindSeparate JobKind = "separate"
	KindDownload JobKind = "download"
)

// SeparationOptions tunes one separation job.
type SeparationOptions struct {
	// Model selects the drivers: "spleeter", "demucs" or "both".
	Model string
	// DurationLimit processes only the first N seconds when > 0.
	DurationLimit float64
	// KeepTemp preserves the job temp directory for debugging.
	KeepTemp bool
}

// DownloadRequest describes a direct (non-queued) download job.
type DownloadRequest struct {
	URL       string
	Kind      string // "audio" or "video"
	FormatID  string
	Subtitles string
	Filename  string
}

// Snapshot is the immutable view of a job returned by the status
// surface. Field names are stable for the UI.
type Snapshot struct {
	JobID       string             `json:"task_id"`
	Kind        JobKind            `json:"kind"`
	Status      string             `json:"status"`
	Progress    int                `json:"progress"`
	CurrentStep string             `json:"current_step"`
	ResultFiles []string           `json:"result_files"`
	Metadata    *ffmpeg.MediaProbe `json:"metadata"`
	Error       *string            `json:"error"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Job is one unit of work. All mutation goes through the setters, which
// hold the job lock and enforce the state machine: status moves
// monotonically and progress never decreases while running.
type Job struct {
	mu sync.Mutex

	id      string
	kind    JobKind
	input   string
	options SeparationOptions
	dlReq   DownloadRequest

	status      JobStatus
	progress    float64
	currentStep string
	resultFiles []string
	metadata    *ffmpeg.MediaProbe
	errMsg      string
	createdAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(id string, kind JobKind) *Job {
	return &Job{
		id:        id,
		kind:      kind,
		status:    StatusQueued,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot copies the job state under the lock.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		JobID:       j.id,
		Kind:        j.kind,
		Status:      j.status.String(),
		Progress:    int(j.progress),
		CurrentStep: j.currentStep,
		ResultFiles: append([]string(nil), j.resultFiles...),
		Metadata:    j.metadata,
		CreatedAt:   j.createdAt,
	}
	if snap.ResultFiles == nil {
		snap.ResultFiles = []string{}
	}
	if j.errMsg != "" {
		msg := j.errMsg
		snap.Error = &msg
	}
	return snap
}

// setRunning moves the job out of Queued. Returns false if the job is
// already terminal (cancelled before pickup).
func (j *Job) setRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusRunning
	return true
}

// setProgress updates progress and step. Decreasing progress values are
// ignored so concurrent reporters cannot move the bar backwards.
func (j *Job) setProgress(pct float64, step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	if pct > j.progress {
		j.progress = pct
	}
	if step != "" {
		j.currentStep = step
	}
}

// setMetadata attaches the probe snapshot.
func (j *Job) setMetadata(m *ffmpeg.MediaProbe) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.metadata = m
}

// finish moves the job into a terminal state exactly once.
func (j *Job) finish(status JobStatus, resultFiles []string, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.resultFiles = resultFiles
	j.errMsg = errMsg
	if status == StatusCompleted {
		j.progress = 100
	}
	close(j.done)
	return true
}

// requestCancel fires the job's cancel signal. A job still waiting in
// the queue transitions to Cancelled immediately; a running job gets its
// context cancelled and finishes through the worker. Returns false when
// the job is already terminal.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	if j.status == StatusQueued {
		j.status = StatusCancelled
		j.errMsg = "cancelled before start"
		close(j.done)
		j.mu.Unlock()
		return true
	}
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (j *Job) setCancelFunc(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
}

func (j *Job) statusNow() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}
