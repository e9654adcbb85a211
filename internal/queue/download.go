// Package queue implements the two queues feeding the orchestrator: the
// persistent download queue backed by download_queue.json and the
// in-memory folder batch queue.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/downloader"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/logging"
	"github.com/nomusic/nomusic-go/internal/observability"
)

// ItemStatus is the lifecycle state of a queued download.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemDownloading ItemStatus = "downloading"
	ItemCompleted   ItemStatus = "completed"
	ItemFailed      ItemStatus = "failed"
)

// Item is one queued download. The full record is persisted so the
// queue survives restarts with attempt counts intact.
type Item struct {
	QueueID      string     `json:"queue_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	FormatKind   string     `json:"format"` // "audio" or "video"
	FormatID     string     `json:"format_id,omitempty"`
	Subtitles    string     `json:"subtitles,omitempty"`
	Filename     string     `json:"filename,omitempty"`
	AutoSeparate bool       `json:"auto_separate"`
	Model        string     `json:"model,omitempty"`
	Status       ItemStatus `json:"status"`
	Progress     float64    `json:"progress"`
	AttemptCount int        `json:"attempt_count"`
	Error        string     `json:"error,omitempty"`
	ResultPath   string     `json:"result_path,omitempty"`
	ChildJobID   string     `json:"child_job_id,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
}

type persistedQueue struct {
	Running bool   `json:"running"`
	Items   []Item `json:"items"`
}

// retryBackoff returns the delay before the given retry attempt
// (1-based): 2s, 4s, 8s.
func retryBackoff(attempt int) time.Duration {
	d := 2 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// DownloadQueue consumes items strictly FIFO, one at a time, with
// per-item retry and optional auto-separation of the downloaded file.
type DownloadQueue struct {
	mu         sync.Mutex
	path       string
	items      []Item
	running    bool
	processing string // queue_id currently downloading

	settings *conf.Settings
	dl       *downloader.Downloader
	orch     *jobs.Orchestrator
	logger   *slog.Logger

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDownloadQueue loads the queue state from path. Items that were
// mid-download at shutdown are rewound to pending with their attempt
// count preserved.
func NewDownloadQueue(path string, settings *conf.Settings, dl *downloader.Downloader, orch *jobs.Orchestrator) (*DownloadQueue, error) {
	q := &DownloadQueue{
		path:     path,
		settings: settings,
		dl:       dl,
		orch:     orch,
		logger:   logging.ForService("download-queue"),
		wake:     make(chan struct{}, 1),
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var p persistedQueue
		if err := json.Unmarshal(raw, &p); err != nil {
			q.logger.Warn("queue file corrupt, starting empty", "path", path, "error", err)
		} else {
			for i := range p.Items {
				if p.Items[i].Status == ItemDownloading {
					p.Items[i].Status = ItemPending
					p.Items[i].Progress = 0
				}
			}
			q.items = p.Items
			q.running = p.Running
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.New(err).
			Component("download-queue").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	q.updateDepthMetric()
	return q, nil
}

// Run launches the dispatcher and returns once it is spawned. It
// processes items while the queue is started and sleeps otherwise.
func (q *DownloadQueue) Run(ctx context.Context) {
	q.mu.Lock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	running := q.running
	q.mu.Unlock()

	q.wg.Add(1)
	go q.dispatch()
	if running {
		q.poke()
	}
}

// Stop terminates the dispatcher. The in-flight download is cancelled by
// context; its item rewinds to pending on the next start. Safe to call
// concurrently with Run and before Run.
func (q *DownloadQueue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

func (q *DownloadQueue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Add appends an item and returns its queue id.
func (q *DownloadQueue) Add(item Item) (string, error) {
	if item.URL == "" {
		return "", errors.Newf("queue item url must not be empty").
			Component("download-queue").
			Category(errors.CategoryValidation).
			Build()
	}
	item.QueueID = uuid.NewString()
	item.Status = ItemPending
	item.Progress = 0
	item.AttemptCount = 0
	item.AddedAt = time.Now()

	q.mu.Lock()
	q.items = append(q.items, item)
	err := q.saveLocked()
	q.mu.Unlock()
	if err != nil {
		return "", err
	}
	q.updateDepthMetric()
	q.poke()
	return item.QueueID, nil
}

// AddBatch appends several items sharing the same options and returns
// how many were added.
func (q *DownloadQueue) AddBatch(items []Item) (int, error) {
	added := 0
	for _, item := range items {
		if _, err := q.Add(item); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Remove drops a pending item. Items in any other state are not
// removable.
func (q *DownloadQueue) Remove(queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.QueueID != queueID {
			continue
		}
		if item.Status != ItemPending {
			return errors.Newf("queue item %s is %s, only pending items are removable", queueID, item.Status).
				Component("download-queue").
				Category(errors.CategoryQueueState).
				Context("queue_id", queueID).
				Build()
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		if err := q.saveLocked(); err != nil {
			return err
		}
		q.updateDepthMetricLocked()
		return nil
	}
	return errors.Newf("queue item %s not found", queueID).
		Component("download-queue").
		Category(errors.CategoryQueueState).
		Context("queue_id", queueID).
		Build()
}

// ClearDone removes completed and failed items.
func (q *DownloadQueue) ClearDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0:0]
	for _, item := range q.items {
		if item.Status == ItemCompleted || item.Status == ItemFailed {
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return q.saveLocked()
}

// StartDispatch enables the dispatcher.
func (q *DownloadQueue) StartDispatch() error {
	q.mu.Lock()
	q.running = true
	err := q.saveLocked()
	q.mu.Unlock()
	q.poke()
	return err
}

// StopDispatch prevents the next pick. The in-flight download finishes.
func (q *DownloadQueue) StopDispatch() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	return q.saveLocked()
}

// Snapshot returns a copy of the items plus the id of the in-flight one.
func (q *DownloadQueue) Snapshot() ([]Item, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Item, len(q.items))
	copy(items, q.items)
	return items, q.processing
}

// Running reports whether the dispatcher is enabled.
func (q *DownloadQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// dispatch is the single consumer loop: strict FIFO, one download at a
// time.
func (q *DownloadQueue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			if q.ctx.Err() != nil {
				return
			}
			item, ok := q.nextPending()
			if !ok {
				break
			}
			q.process(item)
		}
	}
}

// nextPending claims the first pending item while the queue is running.
func (q *DownloadQueue) nextPending() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return Item{}, false
	}
	for i := range q.items {
		if q.items[i].Status == ItemPending {
			q.items[i].Status = ItemDownloading
			q.processing = q.items[i].QueueID
			if err := q.saveLocked(); err != nil {
				q.logger.Warn("queue persist failed", "error", err)
			}
			return q.items[i], true
		}
	}
	return Item{}, false
}

// process downloads one item with persisted retry bookkeeping, then
// chains auto-separation.
func (q *DownloadQueue) process(item Item) {
	opts := downloader.Options{
		Kind:      downloader.FormatKind(item.FormatKind),
		FormatID:  item.FormatID,
		Subtitles: item.Subtitles,
		Filename:  item.Filename,
	}
	if opts.Kind == "" {
		opts.Kind = downloader.KindVideo
	}

	maxRetries := q.settings.Download.MaxRetries
	var path string
	var err error
	for {
		q.mutateItem(item.QueueID, func(it *Item) {
			it.AttemptCount++
		})

		path, err = q.dl.Download(q.ctx, item.URL, opts, func(pct float64) {
			q.mutateItem(item.QueueID, func(it *Item) {
				if pct > it.Progress {
					it.Progress = pct
				}
			})
		})
		if err == nil || q.ctx.Err() != nil {
			break
		}
		var pe *errors.ProcessError
		if errors.As(err, &pe) && !pe.Transient() {
			break
		}

		attempts := q.itemAttempts(item.QueueID)
		if attempts > maxRetries {
			break
		}
		delay := retryBackoff(attempts)
		observability.DownloadRetries.Inc()
		q.logger.Info("retrying queued download",
			"queue_id", item.QueueID,
			"attempt", attempts,
			"delay", delay.String())
		select {
		case <-q.ctx.Done():
		case <-time.After(delay):
		}
		if q.ctx.Err() != nil {
			break
		}
	}

	switch {
	case q.ctx.Err() != nil:
		// Shutdown mid-download; rewind so the restart resumes it.
		q.mutateItem(item.QueueID, func(it *Item) {
			it.Status = ItemPending
			it.Progress = 0
		})
	case err != nil:
		q.logger.Error("queued download failed", "queue_id", item.QueueID, "url", item.URL, "error", err)
		q.mutateItem(item.QueueID, func(it *Item) {
			it.Status = ItemFailed
			it.Error = err.Error()
		})
	default:
		q.mutateItem(item.QueueID, func(it *Item) {
			it.Status = ItemCompleted
			it.Progress = 100
			it.ResultPath = path
		})
		if item.AutoSeparate {
			jobID, subErr := q.orch.SubmitSeparation(path, jobs.SeparationOptions{Model: item.Model})
			if subErr != nil {
				q.logger.Error("auto-separate submission failed", "queue_id", item.QueueID, "error", subErr)
			} else {
				q.mutateItem(item.QueueID, func(it *Item) {
					it.ChildJobID = jobID
				})
			}
		}
	}

	q.mu.Lock()
	q.processing = ""
	q.mu.Unlock()
	q.updateDepthMetric()
}

func (q *DownloadQueue) mutateItem(queueID string, fn func(*Item)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].QueueID == queueID {
			fn(&q.items[i])
			if err := q.saveLocked(); err != nil {
				q.logger.Warn("queue persist failed", "error", err)
			}
			return
		}
	}
}

func (q *DownloadQueue) itemAttempts(queueID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].QueueID == queueID {
			return q.items[i].AttemptCount
		}
	}
	return 0
}

// saveLocked writes the queue atomically. Callers must hold the lock.
func (q *DownloadQueue) saveLocked() error {
	p := persistedQueue{Running: q.running, Items: q.items}
	if p.Items == nil {
		p.Items = []Item{}
	}
	raw, err := json.MarshalIndent(&p, "", "  ")
	if err != nil {
		return errors.New(err).Component("download-queue").Category(errors.CategoryFileIO).Build()
	}
	if err := renameio.WriteFile(q.path, raw, 0o644); err != nil {
		return errors.New(err).
			Component("download-queue").
			Category(errors.CategoryFileIO).
			Context("path", q.path).
			Build()
	}
	return nil
}

func (q *DownloadQueue) updateDepthMetric() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateDepthMetricLocked()
}

func (q *DownloadQueue) updateDepthMetricLocked() {
	depth := 0
	for _, item := range q.items {
		if item.Status == ItemPending {
			depth++
		}
	}
	observability.QueueDepth.Set(float64(depth))
}
