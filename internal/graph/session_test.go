package graph

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeClock is a settable clock for idle and expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSession(ex TokenExchanger, idle time.Duration) (*Session, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	s := NewSession(ex, idle, nil, slog.Default())
	s.now = clock.Now
	s.sleepFunc = noopSleep

	return s, clock
}

func bearer(t *testing.T, lease *Lease) string {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", http.NoBody)
	require.NoError(t, err)

	lease.Authorize(req)

	return req.Header.Get("Authorization")
}

func TestSession_ConcurrentAcquireExchangesOnce(t *testing.T) {
	const acquirers = 16

	var calls atomic.Int32

	release := make(chan struct{})
	ex := exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		calls.Add(1)
		<-release

		return &oauth2.Token{AccessToken: "shared", Expiry: time.Now().Add(time.Hour)}, nil
	})

	s := NewSession(ex, 0, nil, slog.Default())

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		tokens  = make([]string, acquirers)
		errs    = make([]error, acquirers)
	)

	started.Add(acquirers)

	for i := range acquirers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			started.Done()

			lease, err := s.Acquire(context.Background())
			errs[i] = err

			if err == nil {
				tokens[i] = bearer(t, lease)
				lease.Done()
			}
		}()
	}

	started.Wait()
	// Give every goroutine time to join the in-flight exchange.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range acquirers {
		require.NoError(t, errs[i])
		assert.Equal(t, "Bearer shared", tokens[i])
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_CanceledWaiterDoesNotCancelExchange(t *testing.T) {
	release := make(chan struct{})

	var sawCancel atomic.Bool

	ex := exchangeFunc(func(ctx context.Context) (*oauth2.Token, error) {
		<-release

		if ctx.Err() != nil {
			sawCancel.Store(true)
		}

		return &oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(time.Hour)}, nil
	})

	s := NewSession(ex, 0, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		_, err := s.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t", bearer(t, lease))
	assert.False(t, sawCancel.Load())
}

func TestSession_RefreshesWithinExpiryMargin(t *testing.T) {
	ex := &countingExchanger{}

	var clock *fakeClock

	s, clock := newTestSession(exchangeFunc(func(ctx context.Context) (*oauth2.Token, error) {
		tok, err := ex.Exchange(ctx)
		if err == nil {
			tok.Expiry = clock.Now().Add(10 * time.Minute)
		}

		return tok, err
	}), 0)

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", bearer(t, lease))

	clock.Advance(8 * time.Minute)

	lease, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", bearer(t, lease))

	// 61s before expiry is still fine; 59s is inside the margin.
	clock.Advance(time.Minute - time.Second)

	lease, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", bearer(t, lease))

	clock.Advance(2 * time.Second)

	lease, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", bearer(t, lease))
}

func TestSession_ReleaseIdle(t *testing.T) {
	ex := &countingExchanger{}
	s, clock := newTestSession(ex, 30*time.Second)

	assert.False(t, s.ReleaseIdle(), "nothing to release before first use")

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)
	first := lease.Client()
	lease.Done()

	clock.Advance(30 * time.Second)
	assert.False(t, s.ReleaseIdle(), "exactly the timeout is not idle yet")

	clock.Advance(time.Second)
	assert.True(t, s.ReleaseIdle())

	lease, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, lease.Client(), "a fresh transport is created")
	assert.Equal(t, int32(2), ex.calls.Load(), "the token is dropped with the transport")
}

func TestSession_AcquireReleasesIdleFirst(t *testing.T) {
	ex := &countingExchanger{}
	s, clock := newTestSession(ex, time.Minute)

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)
	lease.Done()

	clock.Advance(2 * time.Minute)

	lease, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", bearer(t, lease))
}

func TestSession_IdlenessCountsFromLastDone(t *testing.T) {
	ex := &countingExchanger{}
	s, clock := newTestSession(ex, 30*time.Second)

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)

	// A request longer than the idle timeout is not idleness.
	clock.Advance(time.Minute)
	lease.Done()

	assert.False(t, s.ReleaseIdle(), "idleness counts from the end of the last request")

	clock.Advance(31 * time.Second)
	assert.True(t, s.ReleaseIdle())
}

func TestSession_CloseDuringExchangeDropsToken(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	s, _ := newTestSession(exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		close(started)
		<-release

		return &oauth2.Token{AccessToken: "late", Expiry: time.Now().Add(time.Hour)}, nil
	}), 0)

	errCh := make(chan error, 1)

	go func() {
		_, err := s.Acquire(context.Background())
		errCh <- err
	}()

	<-started
	s.Close()
	close(release)

	require.NoError(t, <-errCh, "the caller waiting on the exchange still gets its lease")

	s.mu.Lock()
	defer s.mu.Unlock()

	assert.Nil(t, s.token, "a closed session keeps no token")
}

func TestSession_RejectedCredentialsNotRetried(t *testing.T) {
	var calls atomic.Int32

	s, _ := newTestSession(exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		calls.Add(1)

		return nil, &oauth2.RetrieveError{
			Response:  &http.Response{StatusCode: http.StatusBadRequest},
			ErrorCode: "invalid_client",
		}
	}), 0)

	_, err := s.Acquire(context.Background())
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_client", authErr.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_TransientExchangeRetriedOnce(t *testing.T) {
	var calls atomic.Int32

	s, _ := newTestSession(exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset by peer")
		}

		return &oauth2.Token{AccessToken: "ok"}, nil
	}), 0)

	var slept time.Duration
	s.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	lease, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer ok", bearer(t, lease))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, exchangeRetryBackoff, slept)
}

func TestSession_TransientExchangeGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32

	s, _ := newTestSession(exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		calls.Add(1)

		return nil, errors.New("dial tcp: i/o timeout")
	}), 0)

	_, err := s.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.NotErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSession_EmptyTokenRejected(t *testing.T) {
	s, _ := newTestSession(exchangeFunc(func(context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	}), 0)

	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLease_InvalidateOnlyDropsOwnToken(t *testing.T) {
	ex := &countingExchanger{}
	s, _ := newTestSession(ex, 0)

	stale, err := s.Acquire(context.Background())
	require.NoError(t, err)

	stale.Invalidate()

	fresh, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", bearer(t, fresh))

	// A late invalidation from the old lease must not drop the new token.
	stale.Invalidate()

	again, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", bearer(t, again))
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestSession_AnonymousLeaseCarriesNoToken(t *testing.T) {
	s, _ := newTestSession(&countingExchanger{}, 0)

	lease := s.Anonymous()
	assert.Empty(t, bearer(t, lease))
	assert.NotNil(t, lease.Client())
}
