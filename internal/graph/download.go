package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrNoDownloadURL is returned when a drive item has no pre-authenticated download URL.
// This can happen for folders and OneNote packages.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// downloadPath stands in for pre-authenticated download URLs in logs and errors.
const downloadPath = "(download URL)"

// OpenDownload starts fetching the content of item from its pre-authenticated
// download URL. The caller reads and closes the returned body. The URL itself
// is never logged because it embeds a short-lived credential.
func (c *Client) OpenDownload(ctx context.Context, item *Item) (io.ReadCloser, error) {
	if item.DownloadURL == "" {
		// Warn, not Error: this is expected for folders and OneNote packages.
		c.logger.Warn("item has no download URL",
			slog.String("item_id", item.ID),
			slog.String("name", item.Name),
			slog.Bool("is_folder", item.IsFolder),
			slog.Bool("is_package", item.IsPackage),
		)

		return nil, fmt.Errorf("graph: downloading %q: %w", item.Name, ErrNoDownloadURL)
	}

	resp, err := c.send(ctx, &request{
		method:    http.MethodGet,
		url:       item.DownloadURL,
		path:      downloadPath,
		size:      -1,
		anonymous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: downloading %q: %w", item.Name, err)
	}

	return resp.Body, nil
}

// Download streams the content of item to w and returns the number of bytes
// written. Only the request is retried; a failure mid-stream is returned
// with the count written so far.
func (c *Client) Download(ctx context.Context, item *Item, w io.Writer) (int64, error) {
	body, err := c.OpenDownload(ctx, item)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, copyErr := io.Copy(w, body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("name", item.Name),
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("graph: streaming download content of %q: %w", item.Name, copyErr)
	}

	c.logger.Debug("download complete",
		slog.String("item_id", item.ID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// DownloadItem fetches fresh metadata for itemID, which carries a new
// download URL, and streams its content to w.
func (c *Client) DownloadItem(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error) {
	item, err := c.GetItem(ctx, driveID, itemID)
	if err != nil {
		return 0, fmt.Errorf("graph: getting item for download: %w", err)
	}

	return c.Download(ctx, item, w)
}
