package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/jobs"
	"github.com/nomusic/nomusic-go/internal/logging"
)

// exitCancelled mirrors the conventional 128+SIGINT exit status.
const exitCancelled = 130

// separateCommand runs one separation (or a whole folder) from the
// command line, without the HTTP server.
func separateCommand(settings *conf.Settings) *cobra.Command {
	var (
		folder   string
		model    string
		duration float64
		keepTemp bool
	)

	cmd := &cobra.Command{
		Use:   "separate [file]",
		Short: "Remove music from a media file or a folder of files",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && folder == "" {
				return errors.Newf("either a file argument or --folder is required").
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			if len(args) == 1 && folder != "" {
				return errors.Newf("a file argument and --folder are mutually exclusive").
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			opts := jobs.SeparationOptions{
				Model:         model,
				DurationLimit: duration,
				KeepTemp:      keepTemp || settings.KeepTemp,
			}
			if folder != "" {
				return runSeparateFolder(cmd.Context(), settings, folder, model)
			}
			return runSeparateFile(cmd.Context(), settings, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Process every media file in a folder")
	cmd.Flags().StringVar(&model, "model", "both", "Separator model: spleeter, demucs or both")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Process only the first N seconds")
	cmd.Flags().BoolVar(&keepTemp, "keep-temp", false, "Keep the per-job temp directory")
	return cmd
}

func runSeparateFile(ctx context.Context, settings *conf.Settings, path string, opts jobs.SeparationOptions) error {
	logger := logging.ForService("separate")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, settings, false)
	if err != nil {
		return err
	}
	svc.orch.Start(ctx)
	defer svc.orch.Stop()

	jobID, err := svc.orch.SubmitSeparation(path, opts)
	if err != nil {
		return err
	}
	logger.Info("separation started", "job_id", jobID, "input", path)

	snap, cancelled := waitForJob(ctx, svc.orch, jobID)
	if cancelled {
		os.Exit(exitCancelled)
	}
	if snap.Status != jobs.StatusCompleted.String() {
		msg := "separation failed"
		if snap.Error != nil {
			msg = *snap.Error
		}
		return errors.Newf("%s", msg).Component("cli").Build()
	}
	for _, f := range snap.ResultFiles {
		fmt.Println(f)
	}
	return nil
}

func runSeparateFolder(ctx context.Context, settings *conf.Settings, folder, model string) error {
	logger := logging.ForService("separate")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, settings, false)
	if err != nil {
		return err
	}
	svc.orch.Start(ctx)
	defer svc.orch.Stop()

	queueID, items, err := svc.batches.Scan(ctx, folder)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.Newf("no media files found in %s", folder).Component("cli").Build()
	}
	logger.Info("folder scanned", "folder", folder, "files", len(items))

	batchID, _, err := svc.batches.Process(ctx, queueID, model)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "cancelled")
			os.Exit(exitCancelled)
		case <-ticker.C:
		}
		status, ok := svc.batches.Status(batchID)
		if !ok {
			return errors.Newf("batch %s disappeared", batchID).Component("cli").Build()
		}
		if status.Processed >= status.TotalFiles {
			fmt.Printf("done: %d succeeded, %d failed\n", status.Success, status.Failed)
			if status.Failed > 0 {
				return errors.Newf("%d of %d files failed", status.Failed, status.TotalFiles).Component("cli").Build()
			}
			return nil
		}
	}
}

// waitForJob blocks until the job finishes or the context is cancelled.
// On cancellation it forwards the cancel and waits for the job to wind
// down so temp directories are cleaned before exit.
func waitForJob(ctx context.Context, orch *jobs.Orchestrator, jobID string) (jobs.Snapshot, bool) {
	done, ok := orch.Wait(jobID)
	if !ok {
		snap, _ := orch.Status(jobID)
		return snap, false
	}
	select {
	case <-done:
	case <-ctx.Done():
		orch.Cancel(jobID)
		<-done
		snap, _ := orch.Status(jobID)
		return snap, true
	}
	snap, _ := orch.Status(jobID)
	return snap, false
}
