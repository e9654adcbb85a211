package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// downloadCommand fetches a URL with yt-dlp and optionally separates
// the result in the same invocation.
func downloadCommand(settings *conf.Settings) *cobra.Command {
	var (
		kind      string
		formatID  string
		subtitles string
		separate  bool
		model     string
	)

	cmd := &cobra.Command{
		Use:   "download <url> [filename]",
		Short: "Download media from a URL",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := jobs.DownloadRequest{
				URL:       args[0],
				Kind:      kind,
				FormatID:  formatID,
				Subtitles: subtitles,
			}
			if len(args) == 2 {
				req.Filename = args[1]
			}
			return runDownload(cmd.Context(), settings, req, separate, model)
		},
	}

	cmd.Flags().StringVar(&kind, "format", "video", "Download kind: audio or video")
	cmd.Flags().StringVar(&formatID, "format-id", "", "Explicit yt-dlp format id")
	cmd.Flags().StringVar(&subtitles, "subtitles", "", "Subtitle language to embed")
	cmd.Flags().BoolVar(&separate, "separate", false, "Run vocal separation after the download")
	cmd.Flags().StringVar(&model, "model", "both", "Separator model when --separate is set")
	return cmd
}

func runDownload(ctx context.Context, settings *conf.Settings, req jobs.DownloadRequest, separate bool, model string) error {
	logger := logging.ForService("download")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, settings, true)
	if err != nil {
		return err
	}
	svc.orch.Start(ctx)
	defer svc.orch.Stop()

	jobID, err := svc.orch.SubmitDownload(req)
	if err != nil {
		return err
	}
	logger.Info("download started", "job_id", jobID, "url", req.URL)

	snap, cancelled := waitForJob(ctx, svc.orch, jobID)
	if cancelled {
		os.Exit(exitCancelled)
	}
	if snap.Status != jobs.StatusCompleted.String() {
		msg := "download failed"
		if snap.Error != nil {
			msg = *snap.Error
		}
		return errors.Newf("%s", msg).Component("cli").Build()
	}
	if len(snap.ResultFiles) == 0 {
		return errors.Newf("download finished without a result file").Component("cli").Build()
	}
	downloaded := snap.ResultFiles[0]
	fmt.Println(downloaded)

	if !separate {
		return nil
	}
	return runSeparateFile(ctx, settings, downloaded, jobs.SeparationOptions{
		Model:    model,
		KeepTemp: settings.KeepTemp,
	})
}
