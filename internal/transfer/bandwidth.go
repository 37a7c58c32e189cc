package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/sharepoint-go/internal/config"
)

// BandwidthLimiter is a token bucket shared by every upload chunk and
// download body of one client, so bandwidth_limit caps their sum. A nil
// *BandwidthLimiter is unlimited.
type BandwidthLimiter struct {
	bucket *rate.Limiter
}

// NewBandwidthLimiter parses a bandwidth_limit value ("5MiB/s", "750KB",
// bare bytes per second). "" and "0" mean unlimited and yield nil. The
// bucket holds two seconds' worth of bytes.
func NewBandwidthLimiter(limit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	perSecond, err := bytesPerSecond(limit)
	if err != nil {
		return nil, fmt.Errorf("transfer: bandwidth_limit %q: %w", limit, err)
	}

	if perSecond == 0 {
		return nil, nil //nolint:nilnil // nil means unlimited
	}

	if logger == nil {
		logger = slog.Default()
	}

	bucketSize := 2 * int(perSecond)

	logger.Info("transfer: limiting bandwidth",
		slog.Int64("bytes_per_sec", perSecond),
		slog.Int("bucket", bucketSize),
	)

	return &BandwidthLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), bucketSize)}, nil
}

func bytesPerSecond(limit string) (int64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" || limit == "0" {
		return 0, nil
	}

	size := limit
	if strings.HasSuffix(strings.ToLower(size), "/s") {
		size = size[:len(size)-2]
	}

	n, err := config.ParseSize(size)
	switch {
	case err != nil:
		return 0, err
	case n < 0:
		return 0, fmt.Errorf("rate must not be negative")
	}

	return n, nil
}

// WrapReader meters reads from body against the shared bucket. It returns
// body unchanged when bl is nil.
func (bl *BandwidthLimiter) WrapReader(ctx context.Context, body io.Reader) io.Reader {
	if bl == nil {
		return body
	}

	return &meteredBody{ctx: ctx, bl: bl, body: body}
}

// WrapReadSeeker is WrapReader for request bodies the HTTP layer rewinds
// before a retry. Rewound bytes are metered again when re-read.
func (bl *BandwidthLimiter) WrapReadSeeker(ctx context.Context, body io.ReadSeeker) io.ReadSeeker {
	if bl == nil {
		return body
	}

	return &seekableMeteredBody{meteredBody{ctx: ctx, bl: bl, body: body}, body}
}

// consume blocks until n bytes fit the bucket. Reads larger than the bucket
// are charged in bucket-sized slices, since rate.Limiter rejects them whole.
func (bl *BandwidthLimiter) consume(ctx context.Context, n int) error {
	for limit := bl.bucket.Burst(); n > 0; n -= limit {
		if err := bl.bucket.WaitN(ctx, min(n, limit)); err != nil {
			return fmt.Errorf("transfer: waiting for bandwidth: %w", err)
		}
	}

	return nil
}

type meteredBody struct {
	ctx  context.Context
	bl   *BandwidthLimiter
	body io.Reader
}

func (m *meteredBody) Read(p []byte) (int, error) {
	n, err := m.body.Read(p)
	if n == 0 {
		return n, err
	}

	if waitErr := m.bl.consume(m.ctx, n); waitErr != nil {
		return n, waitErr
	}

	return n, err
}

type seekableMeteredBody struct {
	meteredBody
	io.Seeker
}
