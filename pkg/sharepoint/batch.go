package sharepoint

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// UploadRequest is one file of an UploadMany batch.
type UploadRequest struct {
	LocalPath string
	DestURL   string
	Options   UploadOptions
}

// DownloadRequest is one file of a DownloadMany batch.
type DownloadRequest struct {
	SourceURL string
	Target    string
	Options   DownloadOptions
}

// UploadResult pairs a request with its outcome.
type UploadResult struct {
	Request UploadRequest
	File    *File
	Err     error
}

// DownloadResult pairs a request with its outcome.
type DownloadResult struct {
	Request DownloadRequest
	Path    string
	Err     error
}

// UploadMany runs uploads concurrently, at most ParallelTransfers at a time.
// Results are in request order. A failed file does not stop the others;
// the returned error is set only when the batch was cut short by
// cancellation or an authentication failure.
func (c *Client) UploadMany(ctx context.Context, reqs []UploadRequest) ([]UploadResult, error) {
	results := make([]UploadResult, len(reqs))

	err := c.dispatch(ctx, len(reqs), func(ctx context.Context, i int) error {
		f, err := c.Upload(ctx, reqs[i].LocalPath, reqs[i].DestURL, reqs[i].Options)
		results[i] = UploadResult{Request: reqs[i], File: f, Err: err}

		if err != nil {
			c.logger.Warn("sharepoint: upload failed",
				slog.String("path", reqs[i].LocalPath),
				slog.String("error", err.Error()),
			)
		}

		return err
	})

	return results, err
}

// DownloadMany runs downloads concurrently. It follows the same rules as
// UploadMany.
func (c *Client) DownloadMany(ctx context.Context, reqs []DownloadRequest) ([]DownloadResult, error) {
	results := make([]DownloadResult, len(reqs))

	err := c.dispatch(ctx, len(reqs), func(ctx context.Context, i int) error {
		p, err := c.Download(ctx, reqs[i].SourceURL, reqs[i].Target, reqs[i].Options)
		results[i] = DownloadResult{Request: reqs[i], Path: p, Err: err}

		if err != nil {
			c.logger.Warn("sharepoint: download failed",
				slog.String("url", reqs[i].SourceURL),
				slog.String("error", err.Error()),
			)
		}

		return err
	})

	return results, err
}

// dispatch runs n jobs through a bounded errgroup. Only fatal errors are
// returned to the group, so they alone cancel the remaining jobs, which
// then fail fast on the canceled context.
func (c *Client) dispatch(ctx context.Context, n int, job func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	for i := range n {
		g.Go(func() error {
			if err := job(gctx, i); err != nil && isFatal(err) {
				return err
			}

			return nil
		})
	}

	return g.Wait()
}

// isFatal reports errors that doom every other transfer of the batch.
func isFatal(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
