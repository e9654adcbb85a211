package queue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// BatchItemStatus is the lifecycle state of one scanned file.
type BatchItemStatus string

const (
	BatchPending    BatchItemStatus = "pending"
	BatchProcessing BatchItemStatus = "processing"
	BatchCompleted  BatchItemStatus = "completed"
	BatchFailed     BatchItemStatus = "failed"
)

// BatchItem is one file of a scanned folder.
type BatchItem struct {
	FileID     string             `json:"file_id"`
	Path       string             `json:"path"`
	Name       string             `json:"name"`
	Selected   bool               `json:"selected"`
	Status     BatchItemStatus    `json:"status"`
	Progress   int                `json:"progress"`
	ChildJobID string             `json:"child_job_id,omitempty"`
	Error      string             `json:"error,omitempty"`
	Metadata   *ffmpeg.MediaProbe `json:"metadata,omitempty"`
}

// BatchStatus is the polled snapshot of a running batch.
type BatchStatus struct {
	BatchID    string      `json:"batch_id"`
	TotalFiles int         `json:"total_files"`
	Processed  int         `json:"processed"`
	Success    int         `json:"success"`
	Failed     int         `json:"failed"`
	Files      []BatchItem `json:"files"`
}

type batch struct {
	id    string
	items []*BatchItem
}

// mediaExtensions lists the file types the folder scan accepts.
var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".ogg": true,
	".opus": true, ".aac": true,
}

// BatchManager owns folder scans and the batches launched from them.
// Scans are in-memory per process; batch items feed the orchestrator's
// separation pool with bounded submission concurrency.
type BatchManager struct {
	mu      sync.Mutex
	scans   map[string]*batch // queue_id -> scanned folder
	batches map[string]*batch // batch_id -> running batch

	settings *conf.Settings
	prober   *ffmpeg.Prober
	orch     *jobs.Orchestrator
	logger   *slog.Logger
}

// NewBatchManager creates a BatchManager.
func NewBatchManager(settings *conf.Settings, prober *ffmpeg.Prober, orch *jobs.Orchestrator) *BatchManager {
	return &BatchManager{
		scans:    make(map[string]*batch),
		batches:  make(map[string]*batch),
		settings: settings,
		prober:   prober,
		orch:     orch,
		logger:   logging.ForService("batch-queue"),
	}
}

// Scan walks folder non-recursively, probes every media file and
// registers the result under a new queue id. Files that fail to probe
// are listed unselected with the error attached.
func (m *BatchManager) Scan(ctx context.Context, folder string) (string, []BatchItem, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return "", nil, errors.Newf("folder not found: %s", folder).
			Component("batch-queue").
			Category(errors.CategoryInvalidInput).
			Context("path", folder).
			Build()
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", nil, errors.New(err).
			Component("batch-queue").
			Category(errors.CategoryFileIO).
			Context("path", folder).
			Build()
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	b := &batch{id: uuid.NewString()}
	for _, name := range names {
		path := filepath.Join(folder, name)
		item := &BatchItem{
			FileID:   uuid.NewString(),
			Path:     path,
			Name:     name,
			Selected: true,
			Status:   BatchPending,
		}
		probe, err := m.prober.Probe(ctx, path)
		if err != nil {
			item.Selected = false
			item.Error = err.Error()
		} else {
			item.Metadata = probe
		}
		b.items = append(b.items, item)
	}

	m.mu.Lock()
	m.scans[b.id] = b
	m.mu.Unlock()

	m.logger.Info("folder scanned", "queue_id", b.id, "folder", folder, "files", len(b.items))
	return b.id, copyItems(b.items), nil
}

// Remove drops an unprocessed item from a scan.
func (m *BatchManager) Remove(queueID, fileID string) ([]BatchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.scans[queueID]
	if !ok {
		return nil, errors.Newf("scan %s not found", queueID).
			Component("batch-queue").
			Category(errors.CategoryQueueState).
			Build()
	}
	for i, item := range b.items {
		if item.FileID != fileID {
			continue
		}
		if item.Status != BatchPending {
			return nil, errors.Newf("file %s is %s, only pending files are removable", fileID, item.Status).
				Component("batch-queue").
				Category(errors.CategoryQueueState).
				Build()
		}
		b.items = append(b.items[:i], b.items[i+1:]...)
		return copyItems(b.items), nil
	}
	return nil, errors.Newf("file %s not found in scan %s", fileID, queueID).
		Component("batch-queue").
		Category(errors.CategoryQueueState).
		Build()
}

// Process launches one separation job per selected item of a scan and
// returns the batch id. Submission concurrency is bounded; the actual
// separation parallelism is owned by the orchestrator's pool.
func (m *BatchManager) Process(ctx context.Context, queueID, model string) (string, []BatchItem, error) {
	m.mu.Lock()
	b, ok := m.scans[queueID]
	if ok {
		delete(m.scans, queueID)
		m.batches[b.id] = b
	}
	m.mu.Unlock()
	if !ok {
		return "", nil, errors.Newf("scan %s not found", queueID).
			Component("batch-queue").
			Category(errors.CategoryQueueState).
			Build()
	}

	workers := m.settings.Workers.Batch
	if workers < 1 {
		workers = 1
	}

	go m.run(ctx, b, model, workers)
	return b.id, m.snapshotItems(b), nil
}

func (m *BatchManager) run(ctx context.Context, b *batch, model string, workers int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range b.items {
		m.mu.Lock()
		selected := item.Selected && item.Status == BatchPending
		m.mu.Unlock()
		if !selected {
			continue
		}
		g.Go(func() error {
			m.processItem(gctx, item, model)
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("batch finished", "batch_id", b.id)
}

// processItem submits one separation and mirrors its progress into the
// batch item until it terminates.
func (m *BatchManager) processItem(ctx context.Context, item *BatchItem, model string) {
	jobID, err := m.orch.SubmitSeparation(item.Path, jobs.SeparationOptions{Model: model})
	if err != nil {
		m.mu.Lock()
		item.Status = BatchFailed
		item.Error = err.Error()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	item.Status = BatchProcessing
	item.ChildJobID = jobID
	m.mu.Unlock()

	done, ok := m.orch.Wait(jobID)
	if !ok {
		m.mu.Lock()
		item.Status = BatchFailed
		item.Error = "job disappeared"
		m.mu.Unlock()
		return
	}

	for {
		select {
		case <-ctx.Done():
			m.orch.Cancel(jobID)
			<-done
			m.finishItem(item, jobID)
			return
		case <-done:
			m.finishItem(item, jobID)
			return
		case <-time.After(500 * time.Millisecond):
			if snap, ok := m.orch.Status(jobID); ok {
				m.mu.Lock()
				if snap.Progress > item.Progress {
					item.Progress = snap.Progress
				}
				m.mu.Unlock()
			}
		}
	}
}

func (m *BatchManager) finishItem(item *BatchItem, jobID string) {
	snap, ok := m.orch.Status(jobID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		item.Status = BatchFailed
		item.Error = "job disappeared"
		return
	}
	item.Progress = snap.Progress
	switch snap.Status {
	case jobs.StatusCompleted.String():
		item.Status = BatchCompleted
	default:
		item.Status = BatchFailed
		if snap.Error != nil {
			item.Error = *snap.Error
		}
	}
}

// Status returns the polled snapshot of a batch (or a not-yet-processed
// scan).
func (m *BatchManager) Status(batchID string) (BatchStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		b, ok = m.scans[batchID]
	}
	if !ok {
		return BatchStatus{}, false
	}

	status := BatchStatus{BatchID: b.id, Files: make([]BatchItem, 0, len(b.items))}
	for _, item := range b.items {
		status.Files = append(status.Files, *item)
		if !item.Selected {
			continue
		}
		status.TotalFiles++
		switch item.Status {
		case BatchCompleted:
			status.Processed++
			status.Success++
		case BatchFailed:
			status.Processed++
			status.Failed++
		}
	}
	return status, true
}

func (m *BatchManager) snapshotItems(b *batch) []BatchItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyItems(b.items)
}

func copyItems(items []*BatchItem) []BatchItem {
	out := make([]BatchItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out
}
