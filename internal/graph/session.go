package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// tokenExpiryMargin is how long before expiry a token is treated as stale.
const tokenExpiryMargin = 60 * time.Second

// exchangeRetryBackoff is the pause before the single retry of a token
// exchange that failed for a reason other than rejected credentials.
const exchangeRetryBackoff = 2 * time.Second

const singleflightKey = "token"

// TokenExchanger performs one credential exchange. The production
// implementation is ClientCredentials.
type TokenExchanger interface {
	Exchange(ctx context.Context) (*oauth2.Token, error)
}

// Session owns the HTTP client and bearer token for one logical client.
// Both are created lazily and dropped after IdleTimeout without requests.
// The token never leaves the Session; callers authorize requests through
// a Lease.
type Session struct {
	exchanger     TokenExchanger
	newHTTPClient func() *http.Client
	idleTimeout   time.Duration
	logger        *slog.Logger

	// Tests override these.
	now       func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error

	exchanges singleflight.Group

	mu         sync.Mutex
	httpClient *http.Client
	token      *oauth2.Token
	lastUsed   time.Time
	// generation counts releases. An exchange that straddles a release
	// does not cache its token.
	generation uint64
}

// NewSession returns a Session. newHTTPClient is called each time a fresh
// transport is needed; nil means a client with no timeout.
func NewSession(
	exchanger TokenExchanger, idleTimeout time.Duration, newHTTPClient func() *http.Client, logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if newHTTPClient == nil {
		newHTTPClient = func() *http.Client { return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()} }
	}

	return &Session{
		exchanger:     exchanger,
		newHTTPClient: newHTTPClient,
		idleTimeout:   idleTimeout,
		logger:        logger,
		now:           time.Now,
		sleepFunc:     timeSleep,
	}
}

// Lease grants one request access to the session's transport and token.
type Lease struct {
	session *Session
	client  *http.Client
	token   string
}

// Client returns the HTTP client to send the request with.
func (l *Lease) Client() *http.Client {
	return l.client
}

// Authorize sets the bearer token on req. Anonymous leases leave req as is.
func (l *Lease) Authorize(req *http.Request) {
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
}

// Done marks the end of the request. Idleness is measured from the last
// Done; the next Acquire or Anonymous call releases an idle transport.
func (l *Lease) Done() {
	l.session.touch()
}

// Invalidate discards the token this lease carried, forcing the next
// Acquire to exchange credentials again. A newer token is left alone.
func (l *Lease) Invalidate() {
	s := l.session

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && s.token.AccessToken == l.token {
		s.token = nil

		s.logger.Debug("session: token invalidated")
	}
}

// Acquire returns a Lease with a valid token, exchanging credentials when
// there is no token or it expires within tokenExpiryMargin. Concurrent
// callers share a single exchange; a caller that gives up early does not
// cancel it for the others.
func (s *Session) Acquire(ctx context.Context) (*Lease, error) {
	s.ReleaseIdle()

	s.mu.Lock()
	client := s.clientLocked()

	if s.tokenValidLocked() {
		lease := &Lease{session: s, client: client, token: s.token.AccessToken}
		s.mu.Unlock()

		return lease, nil
	}
	s.mu.Unlock()

	ch := s.exchanges.DoChan(singleflightKey, func() (any, error) {
		return s.exchange(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("graph: waiting for token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		tok, _ := res.Val.(*oauth2.Token) //nolint:errcheck // exchange always returns *oauth2.Token

		s.mu.Lock()
		client = s.clientLocked()
		s.mu.Unlock()

		return &Lease{session: s, client: client, token: tok.AccessToken}, nil
	}
}

// Anonymous returns a Lease for pre-authenticated URLs (download and
// upload session URLs) that must not carry a bearer token.
func (s *Session) Anonymous() *Lease {
	s.ReleaseIdle()

	s.mu.Lock()
	defer s.mu.Unlock()

	return &Lease{session: s, client: s.clientLocked()}
}

// ReleaseIdle closes the transport and forgets the token when no request
// has been made for longer than the idle timeout. It reports whether it
// released anything.
func (s *Session) ReleaseIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpClient == nil || s.idleTimeout <= 0 {
		return false
	}

	idle := s.now().Sub(s.lastUsed)
	if idle <= s.idleTimeout {
		return false
	}

	s.releaseLocked()

	s.logger.Debug("session: released idle transport",
		slog.Duration("idle", idle),
		slog.Duration("idle_timeout", s.idleTimeout),
	)

	return true
}

// Close releases the transport and token unconditionally.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpClient != nil {
		s.releaseLocked()

		return
	}

	s.token = nil
	s.generation++
}

func (s *Session) releaseLocked() {
	s.httpClient.CloseIdleConnections()
	s.httpClient = nil
	s.token = nil
	s.generation++
}

func (s *Session) clientLocked() *http.Client {
	if s.httpClient == nil {
		s.httpClient = s.newHTTPClient()
		s.logger.Debug("session: created transport")
	}

	s.lastUsed = s.now()

	return s.httpClient
}

func (s *Session) tokenValidLocked() bool {
	if s.token == nil || s.token.AccessToken == "" {
		return false
	}

	return s.token.Expiry.IsZero() || s.now().Add(tokenExpiryMargin).Before(s.token.Expiry)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

// exchange runs inside the singleflight group. A rejected credential fails
// at once; any other failure is retried once after a short backoff.
func (s *Session) exchange(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	s.logger.Info("session: exchanging client credentials")

	tok, err := s.exchangeOnce(ctx)
	if err != nil && !isRejected(err) {
		s.logger.Warn("session: token exchange failed, retrying once",
			slog.Duration("backoff", exchangeRetryBackoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := s.sleepFunc(ctx, exchangeRetryBackoff); sleepErr != nil {
			return nil, fmt.Errorf("graph: token exchange canceled: %w", sleepErr)
		}

		tok, err = s.exchangeOnce(ctx)
	}

	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stale := generation != s.generation
	if !stale {
		s.token = tok
	}
	s.mu.Unlock()

	if stale {
		s.logger.Debug("session: released during token exchange, token not cached")

		return tok, nil
	}

	s.logger.Debug("session: token acquired", slog.Time("expires", tok.Expiry))

	return tok, nil
}

func (s *Session) exchangeOnce(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.exchanger.Exchange(ctx)
	if err != nil {
		if isRejected(err) {
			return nil, s.authError(err)
		}

		return nil, fmt.Errorf("graph: token exchange: %w", err)
	}

	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("graph: token exchange returned no access token: %w", ErrMalformedResponse)
	}

	return tok, nil
}

// isRejected reports an exchange the identity platform answered with a
// client error, meaning the credentials themselves are wrong.
func isRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}

	return re.Response.StatusCode >= http.StatusBadRequest && re.Response.StatusCode < http.StatusInternalServerError
}

func (s *Session) authError(err error) error {
	ae := &AuthenticationError{Reason: "credentials rejected", Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorDescription != "":
			ae.Reason = re.ErrorDescription
		case re.ErrorCode != "":
			ae.Reason = re.ErrorCode
		}
	}

	if cc, ok := s.exchanger.(*ClientCredentials); ok {
		ae.TenantID = cc.TenantID
		ae.AppID = cc.AppID
	}

	return ae
}
