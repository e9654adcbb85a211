package downloader

import (
	"context"
	"time"

	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/observability"
)

// retryBaseDelay doubles per attempt: 2s, 4s, 8s.
const retryBaseDelay = 2 * time.Second

// DownloadWithRetry runs Download, retrying transient failures up to
// maxRetries times with exponential backoff. Permanent failures and
// cancellation surface immediately.
func (d *Downloader) DownloadWithRetry(ctx context.Context, url string, opts Options, progress ProgressFunc, maxRetries int) (string, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			observability.DownloadRetries.Inc()
			d.logger.Info("retrying download",
				"url", url,
				"attempt", attempt,
				"delay", delay.String())
			select {
			case <-ctx.Done():
				return "", errors.New(ctx.Err()).
					Component("downloader").
					Category(errors.CategoryCancelled).
					Build()
			case <-time.After(delay):
			}
			delay *= 2
		}

		path, err := d.Download(ctx, url, opts, progress)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if errors.IsCategory(err, errors.CategoryCancelled) {
			return "", err
		}
		var pe *errors.ProcessError
		if errors.As(err, &pe) && !pe.Transient() {
			return "", err
		}
	}
	return "", lastErr
}
