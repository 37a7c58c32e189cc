// Package transfer moves file content between the local filesystem and a
// SharePoint document library. It decides between a single buffered request
// and a chunked stream, resumes interrupted upload sessions, verifies
// content hashes, and writes downloads atomically.
package transfer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
)

// Defaults applied by NewEngine to zero-valued Options fields.
const (
	DefaultChunkSize        = 10 * 1024 * 1024
	DefaultThreshold        = 100 * 1024 * 1024
	DefaultMaxChunkAttempts = 5

	chunkBackoffBase = 1 * time.Second
	chunkBackoffMax  = 30 * time.Second
	copyBufferSize   = 1024 * 1024
)

// Remote is the part of the Graph client the engine drives. Satisfied by
// *graph.Client.
type Remote interface {
	SimpleUpload(ctx context.Context, target graph.UploadTarget, r io.Reader, size int64) (*graph.Item, error)
	CreateUploadSession(ctx context.Context, target graph.UploadTarget, size int64, mtime time.Time) (*graph.UploadSession, error)
	UploadChunk(
		ctx context.Context, session *graph.UploadSession, chunk io.Reader, offset, length, total int64,
	) (*graph.Item, error)
	QueryUploadSession(ctx context.Context, session *graph.UploadSession) (*graph.UploadSessionStatus, error)
	ChildByName(ctx context.Context, driveID, folderID, name string) (*graph.Item, error)
	OpenDownload(ctx context.Context, item *graph.Item) (io.ReadCloser, error)
}

// Options configures an Engine.
type Options struct {
	// Threshold is the largest size sent or fetched in one buffered request.
	Threshold int64
	// ChunkSize is rounded down to a multiple of graph.ChunkAlignment.
	ChunkSize int64
	// MaxChunkAttempts bounds consecutive failed attempts at one offset.
	MaxChunkAttempts int
	// Limiter is shared by every transfer of the engine; nil is unlimited.
	Limiter *BandwidthLimiter
	// Store persists upload sessions across runs; nil disables that.
	Store  *SessionStore
	Logger *slog.Logger
}

// UploadOptions selects the transfer mode of one upload.
type UploadOptions struct {
	Stream    bool // force a chunked upload regardless of size
	Overwrite bool // replace an existing remote file
}

// DownloadOptions selects the transfer mode of one download.
type DownloadOptions struct {
	Stream    bool // force a streamed download regardless of size
	Overwrite bool // replace an existing local file
}

// Engine runs uploads and downloads. It is safe for concurrent use; all
// transfers share its bandwidth limiter and session store.
type Engine struct {
	remote           Remote
	threshold        int64
	chunkSize        int64
	maxChunkAttempts int
	limiter          *BandwidthLimiter
	store            *SessionStore
	logger           *slog.Logger

	now       func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewEngine returns an Engine over remote.
func NewEngine(remote Remote, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunkSize = max(chunkSize/graph.ChunkAlignment, 1) * graph.ChunkAlignment

	attempts := opts.MaxChunkAttempts
	if attempts <= 0 {
		attempts = DefaultMaxChunkAttempts
	}

	return &Engine{
		remote:           remote,
		threshold:        threshold,
		chunkSize:        chunkSize,
		maxChunkAttempts: attempts,
		limiter:          opts.Limiter,
		store:            opts.Store,
		logger:           logger,
		now:              time.Now,
		sleepFunc:        sleepCtx,
	}
}

// ShouldStream reports whether a transfer of size bytes is chunked. Sizes
// up to and including the threshold are buffered unless force is set.
func (e *Engine) ShouldStream(size int64, force bool) bool {
	return force || size > e.threshold
}

// Threshold returns the effective streaming threshold.
func (e *Engine) Threshold() int64 {
	return e.threshold
}

// ChunkSize returns the effective upload chunk size.
func (e *Engine) ChunkSize() int64 {
	return e.chunkSize
}

func chunkBackoff(attempt int) time.Duration {
	d := chunkBackoffBase << (attempt - 1)
	if d <= 0 || d > chunkBackoffMax {
		return chunkBackoffMax
	}

	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
