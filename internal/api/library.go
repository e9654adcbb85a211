package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nomusic/nomusic-go/internal/preset"
)

// libraryList returns the completed separations, pruned of records
// whose files no longer exist.
func (c *Controller) libraryList(ec echo.Context) error {
	return ec.JSON(http.StatusOK, c.library.List())
}

type libraryDeleteRequest struct {
	FilePath string `json:"file_path"`
}

// libraryDelete removes a result file from disk and its library record.
func (c *Controller) libraryDelete(ec echo.Context) error {
	var req libraryDeleteRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.library.Delete(req.FilePath); err != nil {
		return fail(ec, err)
	}
	return ec.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// presetList returns the named presets and the active settings.
func (c *Controller) presetList(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]any{
		"presets": c.presets.Presets(),
		"active":  c.presets.Active(),
	})
}

// presetUpsert adds or replaces a named preset.
func (c *Controller) presetUpsert(ec echo.Context) error {
	var p preset.Preset
	if err := ec.Bind(&p); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.presets.Upsert(p); err != nil {
		return fail(ec, err)
	}
	return c.presetList(ec)
}

type presetSelectRequest struct {
	Name string `json:"name"`
}

// presetSelect switches the active preset; an empty name reverts to the
// top-level settings.
func (c *Controller) presetSelect(ec echo.Context) error {
	var req presetSelectRequest
	if err := ec.Bind(&req); err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.presets.SetCurrent(req.Name); err != nil {
		return fail(ec, err)
	}
	return c.presetList(ec)
}
