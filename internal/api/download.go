package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/queue"
)

type downloadRequest struct {
	URL       string `json:"url"`
	Format    string `json:"format"` // "audio" or "video"
	FormatID  string `json:"format_id"`
	Subtitles string `json:"subtitles"`
	Filename  string `json:"filename"`
}

// download starts a direct (non-queued) download job.
func (c *Controller) download(ec echo.Context) error {
	var req downloadRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	jobID, err := c.orch.SubmitDownload(jobs.DownloadRequest{
		URL:       req.URL,
		Kind:      req.Format,
		FormatID:  req.FormatID,
		Subtitles: req.Subtitles,
		Filename:  req.Filename,
	})
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]string{"job_id": jobID})
}

type ytFormatsRequest struct {
	URL           string `json:"url"`
	CheckPlaylist bool   `json:"check_playlist"`
}

// ytFormats probes a remote URL for its formats or playlist entries.
func (c *Controller) ytFormats(ec echo.Context) error {
	var req ytFormatsRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result, err := c.dl.ProbeFormats(ec.Request().Context(), req.URL, req.CheckPlaylist)
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, result)
}

type queueAddRequest struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Format       string `json:"format"`
	FormatID     string `json:"format_id"`
	Subtitles    string `json:"subtitles"`
	Filename     string `json:"filename"`
	AutoSeparate bool   `json:"auto_separate"`
	Model        string `json:"model"`
}

func (r *queueAddRequest) toItem() queue.Item {
	return queue.Item{
		URL:          r.URL,
		Title:        r.Title,
		FormatKind:   r.Format,
		FormatID:     r.FormatID,
		Subtitles:    r.Subtitles,
		Filename:     r.Filename,
		AutoSeparate: r.AutoSeparate,
		Model:        r.Model,
	}
}

// queueAdd enqueues one download.
func (c *Controller) queueAdd(ec echo.Context) error {
	var req queueAddRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	queueID, err := c.dlq.Add(req.toItem())
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]string{"queue_id": queueID})
}

type queueAddBatchRequest struct {
	Videos []struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Filename string `json:"filename"`
	} `json:"videos"`
	Format       string `json:"format"`
	FormatID     string `json:"format_id"`
	Subtitles    string `json:"subtitles"`
	AutoSeparate bool   `json:"auto_separate"`
	Model        string `json:"model"`
}

// queueAddBatch enqueues several downloads sharing the same options.
func (c *Controller) queueAddBatch(ec echo.Context) error {
	var req queueAddBatchRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	items := make([]queue.Item, 0, len(req.Videos))
	for _, v := range req.Videos {
		items = append(items, queue.Item{
			URL:          v.URL,
			Title:        v.Title,
			Filename:     v.Filename,
			FormatKind:   req.Format,
			FormatID:     req.FormatID,
			Subtitles:    req.Subtitles,
			AutoSeparate: req.AutoSeparate,
			Model:        req.Model,
		})
	}
	added, err := c.dlq.AddBatch(items)
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]int{"added": added})
}

type queueRemoveRequest struct {
	QueueID string `json:"queue_id"`
}

func (c *Controller) queueRemove(ec echo.Context) error {
	var req queueRemoveRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.dlq.Remove(req.QueueID); err != nil {
		return fail(ec, err)
	}
	return c.queueList(ec)
}

func (c *Controller) queueClear(ec echo.Context) error {
	if err := c.dlq.ClearDone(); err != nil {
		return fail(ec, err)
	}
	return c.queueList(ec)
}

func (c *Controller) queueStart(ec echo.Context) error {
	if err := c.dlq.StartDispatch(); err != nil {
		return fail(ec, err)
	}
	return c.queueList(ec)
}

func (c *Controller) queueStop(ec echo.Context) error {
	if err := c.dlq.StopDispatch(); err != nil {
		return fail(ec, err)
	}
	return c.queueList(ec)
}

// queueList returns the queue snapshot.
func (c *Controller) queueList(ec echo.Context) error {
	items, processing := c.dlq.Snapshot()
	return ec.JSON(http.StatusOK, map[string]any{
		"queue":      items,
		"processing": processing,
		"running":    c.dlq.Running(),
	})
}
