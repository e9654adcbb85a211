package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/nomusic/nomusic-go/internal/downloader"
	"github.com/nomusic/nomusic-go/internal/jobs"
)

// separateUpload accepts a multipart upload and submits it for
// separation. The file is staged under the base directory so the
// pipeline reads a stable path.
func (c *Controller) separateUpload(ec echo.Context) error {
	fileHeader, err := ec.FormFile("file")
	if err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "missing file field"})
	}
	model := ec.FormValue("model")

	src, err := fileHeader.Open()
	if err != nil {
		return fail(ec, err)
	}
	defer func() { _ = src.Close() }()

	uploadDir := filepath.Join(c.settings.Paths.Base, "upload")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fail(ec, err)
	}
	target := filepath.Join(uploadDir, downloader.SanitizeFilename(fileHeader.Filename))
	dst, err := os.Create(target)
	if err != nil {
		return fail(ec, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(target)
		return fail(ec, err)
	}
	if err := dst.Close(); err != nil {
		return fail(ec, err)
	}

	return c.submitSeparation(ec, target, model)
}

type separateFileRequest struct {
	FilePath string `json:"file_path"`
	Model    string `json:"model"`
}

// separateFile submits an existing file for separation.
func (c *Controller) separateFile(ec echo.Context) error {
	var req separateFileRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.submitSeparation(ec, req.FilePath, req.Model)
}

// submitSeparation probes for the immediate metadata response, then
// enqueues the job.
func (c *Controller) submitSeparation(ec echo.Context, path, model string) error {
	probe, err := c.prober.Probe(ec.Request().Context(), path)
	if err != nil {
		return fail(ec, err)
	}
	jobID, err := c.orch.SubmitSeparation(path, jobs.SeparationOptions{Model: model})
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]any{
		"job_id":   jobID,
		"metadata": probe,
	})
}

// jobStatus returns the snapshot of one job.
func (c *Controller) jobStatus(ec echo.Context) error {
	snap, ok := c.orch.Status(ec.Param("job_id"))
	if !ok {
		return ec.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return ec.JSON(http.StatusOK, snap)
}

type cancelRequest struct {
	JobID string `json:"job_id"`
}

// cancelJob cancels a running or queued job of either kind.
func (c *Controller) cancelJob(ec echo.Context) error {
	var req cancelRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch c.orch.Cancel(req.JobID) {
	case jobs.CancelNotFound:
		return ec.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	case jobs.CancelAlreadyTerminal:
		return ec.JSON(http.StatusConflict, map[string]string{"status": "already_terminal"})
	default:
		return ec.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
	}
}
