package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retry and backoff constants.
const (
	DefaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	userAgent         = "sharepoint-go/0.1"
)

// Authenticator hands out leases for requests. *Session is the production
// implementation.
type Authenticator interface {
	Acquire(ctx context.Context) (*Lease, error)
	Anonymous() *Lease
}

// Client is an HTTP client for the Microsoft Graph API.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification.
type Client struct {
	baseURL    string
	auth       Authenticator
	logger     *slog.Logger
	maxRetries int

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph API client.
// baseURL is typically "https://graph.microsoft.com/v1.0".
// A negative maxRetries selects DefaultMaxRetries.
func NewClient(baseURL string, auth Authenticator, logger *slog.Logger, maxRetries int) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		logger:     logger,
		maxRetries: maxRetries,
		sleepFunc:  timeSleep,
	}
}

// request describes one logical call; send may issue it several times.
type request struct {
	method string
	url    string // absolute
	path   string // what logs and errors show; never a pre-authenticated URL
	body   io.Reader
	size   int64 // Content-Length; -1 when unknown
	header http.Header

	// anonymous requests target pre-authenticated URLs and carry no token.
	anonymous bool
	// noRetry sends exactly once; chunk uploads resume at a higher level.
	noRetry bool
}

// Do executes an authenticated request against the Graph API.
// The path is appended to the client's base URL.
// For non-nil bodies, Content-Type is set to application/json.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, &request{
		method: method,
		url:    c.baseURL + path,
		path:   path,
		body:   body,
		size:   -1,
	})
}

// send runs the retry loop. Transient failures back off exponentially,
// honoring Retry-After. A 401 invalidates the token and retries once with a
// fresh one. Bodies are rewound between attempts when they implement
// io.Seeker; other bodies are sent once.
func (c *Client) send(ctx context.Context, r *request) (*http.Response, error) {
	start, canRewind, err := bodyStart(r.body)
	if err != nil {
		return nil, fmt.Errorf("graph: %s %s: %w", r.method, r.path, err)
	}

	retries := c.maxRetries
	if r.noRetry || !canRewind {
		retries = 0
	}

	reauthed := false

	var attempt int
	for {
		if attempt > 0 || reauthed {
			if err := rewindBody(r.body, start); err != nil {
				return nil, fmt.Errorf("graph: %s %s: %w", r.method, r.path, err)
			}
		}

		lease, err := c.lease(ctx, r)
		if err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, lease, r)
		lease.Done()

		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			if attempt < retries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("path", r.path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("graph: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("graph: %s %s failed after %d attempts: %w", r.method, r.path, attempt+1, err)
		}

		// 2xx: success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if resp.StatusCode == http.StatusUnauthorized && !r.anonymous && !reauthed && canRewind {
			c.logger.Info("token rejected, re-authenticating once",
				slog.String("method", r.method),
				slog.String("path", r.path),
			)

			lease.Invalidate()

			reauthed = true

			continue
		}

		if isRetryable(resp.StatusCode) && attempt < retries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, newGraphError(resp, r.method, r.path, errBody)
	}
}

func (c *Client) lease(ctx context.Context, r *request) (*Lease, error) {
	if r.anonymous {
		return c.auth.Anonymous(), nil
	}

	lease, err := c.auth.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: %s %s: %w", r.method, r.path, err)
	}

	return lease, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, lease *Lease, r *request) (*http.Response, error) {
	body := r.body
	if r.size == 0 {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if r.size > 0 {
		req.ContentLength = r.size
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if r.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("User-Agent", userAgent)

	if !r.anonymous {
		requestID := uuid.NewString()
		req.Header.Set("client-request-id", requestID)

		c.logger.Debug("sending request",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("client_request_id", requestID),
		)
	}

	lease.Authorize(req)

	return lease.Client().Do(req)
}

// bodyStart records where a seekable body begins so retries can replay it.
// A nil body is trivially replayable.
func bodyStart(body io.Reader) (int64, bool, error) {
	if body == nil {
		return 0, true, nil
	}

	seeker, ok := body.(io.Seeker)
	if !ok {
		return 0, false, nil
	}

	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false, fmt.Errorf("locating request body: %w", err)
	}

	return start, true, nil
}

func rewindBody(body io.Reader, start int64) error {
	if body == nil {
		return nil
	}

	seeker, ok := body.(io.Seeker)
	if !ok {
		return errors.New("request body cannot be replayed")
	}

	if _, err := seeker.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding request body: %w", err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// A Retry-After header on 429 or 503 takes precedence, capped at maxBackoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
// Returns an error if the URL doesn't start with the expected base, so a
// forged nextLink never receives the bearer token.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL+"/") {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q: %w",
			fullURL, c.baseURL, ErrMalformedResponse)
	}

	return fullURL[len(c.baseURL):], nil
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client and Session.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
