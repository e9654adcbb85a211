package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type folderScanRequest struct {
	FolderPath string `json:"folder_path"`
}

// folderScan lists processable media files in a folder. The scan is
// non-recursive.
func (c *Controller) folderScan(ec echo.Context) error {
	var req folderScanRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	queueID, files, err := c.batches.Scan(ec.Request().Context(), req.FolderPath)
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]any{
		"queue_id": queueID,
		"files":    files,
	})
}

type folderProcessRequest struct {
	QueueID string `json:"queue_id"`
	Model   string `json:"model"`
}

// folderProcess starts separating the selected files of a scan.
func (c *Controller) folderProcess(ec echo.Context) error {
	var req folderProcessRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	batchID, files, err := c.batches.Process(ec.Request().Context(), req.QueueID, req.Model)
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]any{
		"batch_id": batchID,
		"files":    files,
	})
}

type folderRemoveRequest struct {
	QueueID string `json:"queue_id"`
	FileID  string `json:"file_id"`
}

// folderRemove drops an unprocessed file from a scan.
func (c *Controller) folderRemove(ec echo.Context) error {
	var req folderRemoveRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	files, err := c.batches.Remove(req.QueueID, req.FileID)
	if err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]any{"files": files})
}

// batchStatus returns the polled snapshot of a batch.
func (c *Controller) batchStatus(ec echo.Context) error {
	status, ok := c.batches.Status(ec.Param("batch_id"))
	if !ok {
		return ec.JSON(http.StatusNotFound, map[string]string{"error": "batch not found"})
	}
	return ec.JSON(http.StatusOK, status)
}
