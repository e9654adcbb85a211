// Package api exposes the HTTP surface of the separation service. All
// endpoints are JSON, local-only and unauthenticated; handlers never
// touch the media toolchain directly, they submit work and read
// snapshots.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/downloader"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/ffmpeg"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/library"
	"github.com/nomusic/nomusic-go/internal/logging"
	"github.com/nomusic/nomusic-go/internal/observability"
	"github.com/nomusic/nomusic-go/internal/preset"
	"github.com/nomusic/nomusic-go/internal/queue"
)

// Controller registers the HTTP handlers and owns the echo instance.
type Controller struct {
	Echo *echo.Echo

	settings *conf.Settings
	orch     *jobs.Orchestrator
	dlq      *queue.DownloadQueue
	batches  *queue.BatchManager
	dl       *downloader.Downloader
	prober   *ffmpeg.Prober
	library  *library.Store
	presets  *preset.Store
	logger   *slog.Logger
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Settings *conf.Settings
	Orch     *jobs.Orchestrator
	Queue    *queue.DownloadQueue
	Batches  *queue.BatchManager
	Download *downloader.Downloader
	Prober   *ffmpeg.Prober
	Library  *library.Store
	Presets  *preset.Store
}

// New creates the controller and registers every route.
func New(deps Deps) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	c := &Controller{
		Echo:     e,
		settings: deps.Settings,
		orch:     deps.Orch,
		dlq:      deps.Queue,
		batches:  deps.Batches,
		dl:       deps.Download,
		prober:   deps.Prober,
		library:  deps.Library,
		presets:  deps.Presets,
		logger:   logging.ForService("api"),
	}
	c.registerRoutes()
	return c
}

func (c *Controller) registerRoutes() {
	e := c.Echo

	e.GET("/health", c.health)
	e.GET("/metrics", echo.WrapHandler(observability.Handler()))

	// Separation.
	e.POST("/separate", c.separateUpload)
	e.POST("/separate-file", c.separateFile)
	e.GET("/status/:job_id", c.jobStatus)
	e.POST("/cancel", c.cancelJob)

	// Folder batches.
	e.POST("/folder/scan", c.folderScan)
	e.POST("/folder-queue/process", c.folderProcess)
	e.POST("/folder-queue/remove", c.folderRemove)
	e.GET("/batch-status/:batch_id", c.batchStatus)

	// Downloads.
	e.POST("/download", c.download)
	e.POST("/download/cancel", c.cancelJob)
	e.POST("/yt-formats", c.ytFormats)

	// Download queue.
	e.POST("/queue/add", c.queueAdd)
	e.POST("/queue/add-batch", c.queueAddBatch)
	e.POST("/queue/remove", c.queueRemove)
	e.POST("/queue/clear", c.queueClear)
	e.POST("/queue/start", c.queueStart)
	e.POST("/queue/stop", c.queueStop)
	e.GET("/queue", c.queueList)

	// Library and presets.
	e.GET("/library", c.libraryList)
	e.POST("/library/delete", c.libraryDelete)
	e.GET("/presets", c.presetList)
	e.POST("/presets", c.presetUpsert)
	e.POST("/presets/select", c.presetSelect)
}

// Start serves until the listener fails or Shutdown is called.
func (c *Controller) Start() error {
	addr := net.JoinHostPort(c.settings.WebServer.Host, c.settings.WebServer.Port)
	c.logger.Info("http server starting", "addr", addr)
	err := c.Echo.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

func (c *Controller) health(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps a pipeline error onto an HTTP status plus a JSON body. The
// API never surfaces a bare 500 with no category.
func fail(ec echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch errors.CategoryOf(err) {
	case errors.CategoryInvalidInput, errors.CategoryValidation:
		status = http.StatusBadRequest
	case errors.CategoryQueueState:
		status = http.StatusConflict
	case errors.CategoryMissingDependency:
		status = http.StatusServiceUnavailable
	}
	return ec.JSON(status, map[string]string{
		"error":    err.Error(),
		"category": string(errors.CategoryOf(err)),
	})
}
