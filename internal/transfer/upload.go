package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
)

// Upload sends the file at localPath to target. An empty target.Name keeps
// the local base name. target.Conflict is derived from opts.Overwrite; a
// name collision without overwrite surfaces as *DestinationExistsError.
func (e *Engine) Upload(
	ctx context.Context, localPath string, target graph.UploadTarget, opts UploadOptions,
) (*graph.Item, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: upload %s: %w", localPath, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("transfer: upload %s: %w", localPath, ErrNotRegularFile)
	}

	if target.Name == "" {
		target.Name = filepath.Base(localPath)
	}

	target.Conflict = graph.ConflictFail
	if opts.Overwrite {
		target.Conflict = graph.ConflictReplace
	}

	size := info.Size()
	streamed := e.ShouldStream(size, opts.Stream)

	// Upload sessions reject zero-byte files.
	if streamed && size == 0 {
		streamed = false
	}

	e.logger.Info("transfer: upload starting",
		slog.String("local_path", localPath),
		slog.String("name", target.Name),
		slog.Int64("size", size),
		slog.Bool("streamed", streamed),
		slog.Bool("overwrite", opts.Overwrite),
	)

	var item *graph.Item
	if streamed {
		item, err = e.uploadStreamed(ctx, localPath, target, info)
	} else {
		item, err = e.uploadBuffered(ctx, localPath, target)
	}

	if err != nil {
		if errors.Is(err, graph.ErrConflict) {
			return nil, &DestinationExistsError{Path: target.Name, Err: err}
		}

		return nil, err
	}

	e.logger.Info("transfer: upload complete",
		slog.String("name", item.Name),
		slog.String("item_id", item.ID),
		slog.Int64("size", item.Size),
	)

	return item, nil
}

func (e *Engine) uploadBuffered(ctx context.Context, localPath string, target graph.UploadTarget) (*graph.Item, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: reading %s: %w", localPath, err)
	}

	body := e.limiter.WrapReadSeeker(ctx, bytes.NewReader(data))

	item, err := e.remote.SimpleUpload(ctx, target, body, int64(len(data)))
	if err != nil {
		return nil, err
	}

	e.checkUploadHash(target.Name, hashBytes(data), item)

	return item, nil
}

func (e *Engine) uploadStreamed(
	ctx context.Context, localPath string, target graph.UploadTarget, info os.FileInfo,
) (*graph.Item, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %s: %w", localPath, err)
	}
	defer f.Close()

	size := info.Size()

	localHash, err := hashReader(f, localPath)
	if err != nil {
		return nil, err
	}

	key := SessionKey{DriveID: target.DriveID, ParentID: target.ParentID, Name: target.Name, LocalPath: absPath(localPath)}

	session, offset := e.resumeSession(ctx, key, localHash, size)
	if session == nil {
		session, err = e.remote.CreateUploadSession(ctx, target, size, info.ModTime())
		if err != nil {
			return nil, err
		}

		e.rememberSession(ctx, key, session, localHash, size)
	}

	item, err := e.sendChunks(ctx, f, session, target, offset, size)
	if err != nil {
		var incomplete *TransferIncompleteError
		if errors.As(err, &incomplete) && ctx.Err() == nil {
			e.logger.Warn("transfer: upload incomplete, session kept for resume",
				slog.String("name", target.Name),
				slog.Int64("offset", incomplete.Offset),
				slog.Int64("size", size),
			)

			return nil, err
		}

		// Canceled or rejected: the session is never resumed.
		e.forgetSession(context.WithoutCancel(ctx), key)

		return nil, err
	}

	e.forgetSession(ctx, key)
	e.checkUploadHash(target.Name, localHash, item)

	return item, nil
}

// sendChunks uploads [offset, size) of content sequentially. A chunk that
// fails transiently is retried from whatever offset the server reports next.
func (e *Engine) sendChunks(
	ctx context.Context, content io.ReaderAt, session *graph.UploadSession,
	target graph.UploadTarget, offset, size int64,
) (*graph.Item, error) {
	attempts := 0

	for offset < size {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transfer: upload %s canceled at byte %d: %w", target.Name, offset, err)
		}

		length := min(e.chunkSize, size-offset)
		chunk := e.limiter.WrapReader(ctx, io.NewSectionReader(content, offset, length))

		item, err := e.remote.UploadChunk(ctx, session, chunk, offset, length, size)
		if err == nil {
			if item != nil {
				return item, nil
			}

			attempts = 0
			offset += length

			continue
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("transfer: upload %s canceled at byte %d: %w", target.Name, offset, ctx.Err())
		}

		if !resumable(err) {
			return nil, err
		}

		attempts++
		if attempts > e.maxChunkAttempts {
			return nil, &TransferIncompleteError{Path: target.Name, Offset: offset, Size: size, Err: err}
		}

		e.logger.Warn("transfer: chunk failed, resuming",
			slog.String("name", target.Name),
			slog.Int64("offset", offset),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)

		if sleepErr := e.sleepFunc(ctx, chunkBackoff(attempts)); sleepErr != nil {
			return nil, fmt.Errorf("transfer: upload %s canceled at byte %d: %w", target.Name, offset, sleepErr)
		}

		next, complete, qerr := e.nextOffset(ctx, session, size)
		if qerr != nil {
			if !resumable(qerr) {
				return nil, &TransferIncompleteError{Path: target.Name, Offset: offset, Size: size, Err: qerr}
			}

			continue
		}

		if complete {
			break
		}

		offset = next
	}

	// The server holds every byte but the final response was lost.
	return e.remote.ChildByName(ctx, target.DriveID, target.ParentID, target.Name)
}

// nextOffset asks the server where the session should continue. complete
// is true when no ranges remain outstanding.
func (e *Engine) nextOffset(ctx context.Context, session *graph.UploadSession, size int64) (int64, bool, error) {
	status, err := e.remote.QueryUploadSession(ctx, session)
	if err != nil {
		return 0, false, err
	}

	if len(status.NextExpectedRanges) == 0 {
		return size, true, nil
	}

	offset, err := parseRangeStart(status.NextExpectedRanges[0])
	if err != nil {
		return 0, false, err
	}

	if offset < 0 || offset > size {
		return 0, false, fmt.Errorf("transfer: server expects byte %d of %d: %w", offset, size, graph.ErrMalformedResponse)
	}

	return offset, false, nil
}

// parseRangeStart reads the start of a "start-end" or "start-" range.
func parseRangeStart(r string) (int64, error) {
	start, _, _ := strings.Cut(r, "-")

	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("transfer: expected range %q: %w", r, graph.ErrMalformedResponse)
	}

	return n, nil
}

func resumable(err error) bool {
	return graph.IsTransient(err) || errors.Is(err, graph.ErrRangeNotSatisfiable)
}

// resumeSession returns a persisted session for key and the offset to
// continue from, or nil when a new session is needed.
func (e *Engine) resumeSession(ctx context.Context, key SessionKey, hash string, size int64) (*graph.UploadSession, int64) {
	if e.store == nil {
		return nil, 0
	}

	rec, err := e.store.Load(ctx, key)
	if err != nil {
		e.logger.Warn("transfer: loading upload session failed", slog.String("error", err.Error()))

		return nil, 0
	}

	if rec == nil {
		return nil, 0
	}

	if rec.FileHash != hash || rec.FileSize != size {
		e.logger.Info("transfer: local file changed since last attempt, starting over",
			slog.String("local_path", key.LocalPath),
		)
		e.forgetSession(ctx, key)

		return nil, 0
	}

	if !rec.ExpiresAt.IsZero() && !e.now().Before(rec.ExpiresAt) {
		e.forgetSession(ctx, key)

		return nil, 0
	}

	session := &graph.UploadSession{UploadURL: rec.SessionURL, ExpirationTime: rec.ExpiresAt}

	offset, complete, err := e.nextOffset(ctx, session, size)
	if err != nil || complete {
		e.logger.Info("transfer: persisted upload session unusable, starting over",
			slog.String("local_path", key.LocalPath),
		)
		e.forgetSession(ctx, key)

		return nil, 0
	}

	e.logger.Info("transfer: resuming upload session",
		slog.String("local_path", key.LocalPath),
		slog.Int64("offset", offset),
		slog.Int64("size", size),
	)

	return session, offset
}

func (e *Engine) rememberSession(ctx context.Context, key SessionKey, session *graph.UploadSession, hash string, size int64) {
	if e.store == nil {
		return
	}

	rec := &SessionRecord{
		SessionKey: key,
		SessionURL: session.UploadURL,
		FileHash:   hash,
		FileSize:   size,
		ExpiresAt:  session.ExpirationTime,
	}

	if err := e.store.Save(ctx, rec); err != nil {
		e.logger.Warn("transfer: persisting upload session failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) forgetSession(ctx context.Context, key SessionKey) {
	if e.store == nil {
		return
	}

	if err := e.store.Delete(ctx, key); err != nil {
		e.logger.Warn("transfer: removing upload session failed", slog.String("error", err.Error()))
	}
}

// checkUploadHash only warns: SharePoint rewrites some Office documents on
// upload, so their server hash legitimately differs.
func (e *Engine) checkUploadHash(name, localHash string, item *graph.Item) {
	if err := verifyHash(name, localHash, item.QuickXorHash); err != nil {
		e.logger.Warn("transfer: upload hash mismatch",
			slog.String("name", name),
			slog.String("local_hash", localHash),
			slog.String("remote_hash", item.QuickXorHash),
		)
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return p
}
