package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomusic/nomusic-go/internal/api"
	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// serveCommand runs the HTTP service with the download queue and batch
// manager attached.
func serveCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the separation HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), settings)
		},
	}
	cmd.Flags().StringVar(&settings.WebServer.Host, "host", settings.WebServer.Host, "Address to listen on")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", settings.WebServer.Port, "Port to listen on")
	return cmd
}

func runServe(ctx context.Context, settings *conf.Settings) error {
	logger := logging.ForService("serve")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, settings, true)
	if err != nil {
		return err
	}

	svc.orch.Start(ctx)
	svc.queue.Run(ctx)

	controller := api.New(api.Deps{
		Settings: settings,
		Orch:     svc.orch,
		Queue:    svc.queue,
		Batches:  svc.batches,
		Download: svc.downloader,
		Prober:   svc.prober,
		Library:  svc.library,
		Presets:  svc.presets,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- controller.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	svc.queue.Stop()
	svc.orch.Stop()
	return nil
}
