package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
	"github.com/tonimelisma/sharepoint-go/pkg/quickxorhash"
)

const (
	partialSuffix = ".partial"
	dirPerms      = 0o755
	filePerms     = 0o644
)

// LocalTarget resolves where a download of a file called name lands. A
// target that is an existing directory, or ends in a path separator, keeps
// name inside it; any other target is the file path itself. Without
// overwrite an existing destination fails with *DestinationExistsError.
// It touches only the local filesystem.
func LocalTarget(target, name string, overwrite bool) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("transfer: unusable file name %q", name)
	}

	if target == "" {
		target = "."
	}

	dest := target

	if strings.HasSuffix(target, "/") || strings.HasSuffix(target, string(os.PathSeparator)) {
		dest = filepath.Join(target, name)
	} else if info, err := os.Stat(target); err == nil && info.IsDir() {
		dest = filepath.Join(target, name)
	}

	if overwrite {
		return dest, nil
	}

	if err := checkAbsent(dest); err != nil {
		return "", err
	}

	return dest, nil
}

func checkAbsent(dest string) error {
	_, err := os.Lstat(dest)
	if err == nil {
		return &DestinationExistsError{Path: dest}
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("transfer: checking %s: %w", dest, err)
	}

	return nil
}

// Download fetches item into target (see LocalTarget) and returns the path
// written. Content goes to a ".partial" file that is renamed into place only
// after the server hash, when reported, matches.
func (e *Engine) Download(ctx context.Context, item *graph.Item, target string, opts DownloadOptions) (string, error) {
	dest, err := LocalTarget(target, item.Name, opts.Overwrite)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerms); err != nil {
		return "", fmt.Errorf("transfer: creating directory for %s: %w", dest, err)
	}

	streamed := e.ShouldStream(item.Size, opts.Stream)

	e.logger.Info("transfer: download starting",
		slog.String("name", item.Name),
		slog.String("dest", dest),
		slog.Int64("size", item.Size),
		slog.Bool("streamed", streamed),
	)

	var n int64
	if streamed {
		n, err = e.downloadStreamed(ctx, item, dest, opts.Overwrite)
	} else {
		n, err = e.downloadBuffered(ctx, item, dest, opts.Overwrite)
	}

	if err != nil {
		return "", err
	}

	if !item.ModifiedAt.IsZero() {
		if err := os.Chtimes(dest, item.ModifiedAt, item.ModifiedAt); err != nil {
			e.logger.Warn("transfer: setting modification time failed",
				slog.String("dest", dest),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("transfer: download complete",
		slog.String("dest", dest),
		slog.Int64("bytes", n),
	)

	return dest, nil
}

// Bytes fetches item into memory.
func (e *Engine) Bytes(ctx context.Context, item *graph.Item) ([]byte, error) {
	body, err := e.remote.OpenDownload(ctx, item)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(e.limiter.WrapReader(ctx, body))
	if err != nil {
		return nil, fmt.Errorf("transfer: reading %s: %w", item.Name, err)
	}

	if err := verifyHash(item.Name, hashBytes(data), item.QuickXorHash); err != nil {
		return nil, err
	}

	return data, nil
}

func (e *Engine) downloadBuffered(ctx context.Context, item *graph.Item, dest string, overwrite bool) (int64, error) {
	data, err := e.Bytes(ctx, item)
	if err != nil {
		return 0, err
	}

	partial := dest + partialSuffix
	if err := os.WriteFile(partial, data, filePerms); err != nil {
		removePartial(partial)

		return 0, fmt.Errorf("transfer: writing %s: %w", partial, err)
	}

	if err := finalize(partial, dest, overwrite); err != nil {
		return 0, err
	}

	return int64(len(data)), nil
}

func (e *Engine) downloadStreamed(ctx context.Context, item *graph.Item, dest string, overwrite bool) (int64, error) {
	body, err := e.remote.OpenDownload(ctx, item)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	partial := dest + partialSuffix

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return 0, fmt.Errorf("transfer: creating %s: %w", partial, err)
	}

	h := quickxorhash.New()
	buf := make([]byte, copyBufferSize)

	n, copyErr := io.CopyBuffer(io.MultiWriter(f, h), e.limiter.WrapReader(ctx, body), buf)
	closeErr := f.Close()

	if copyErr != nil {
		removePartial(partial)

		return n, fmt.Errorf("transfer: downloading %s after %d bytes: %w", item.Name, n, copyErr)
	}

	if closeErr != nil {
		removePartial(partial)

		return n, fmt.Errorf("transfer: closing %s: %w", partial, closeErr)
	}

	if err := verifyHash(item.Name, quickxorhash.Encode(h.Sum(nil)), item.QuickXorHash); err != nil {
		removePartial(partial)

		return n, err
	}

	if err := finalize(partial, dest, overwrite); err != nil {
		return n, err
	}

	return n, nil
}

// finalize moves a complete partial file into place. The destination is
// re-checked because another transfer may have created it meanwhile.
func finalize(partial, dest string, overwrite bool) error {
	if !overwrite {
		if err := checkAbsent(dest); err != nil {
			removePartial(partial)

			return err
		}
	}

	if err := os.Rename(partial, dest); err != nil {
		removePartial(partial)

		return fmt.Errorf("transfer: renaming %s into place: %w", partial, err)
	}

	return nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("transfer: removing partial file failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
