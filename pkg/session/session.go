// Package session manages the authenticated context against a management
// endpoint: opening, keeping the token valid, and closing.
//
// A Session is an explicit value threaded through every call. There is no
// process-wide current session. Token refresh uses single-flight semantics:
// when many branches hit an expired token at once, exactly one
// re-authentication reaches the server and the others wait for its result.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ahbmx/saninv/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var errMissingCredentials = errors.New("missing credentials")

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// AuthError is fatal to a collection run: no partial snapshot is meaningful
// without a valid session.
type AuthError struct {
	Strategy   string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth (%s) failed with status %d: %v", e.Strategy, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("auth (%s) failed: %v", e.Strategy, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Session holds the authenticated context: base endpoint, active API version
// and the current token. It is mutated only on (re-)authentication and close.
type Session struct {
	endpoint   string
	strategy   AuthStrategy
	creds      Credentials
	httpClient *http.Client
	logger     zerolog.Logger

	mu         sync.RWMutex
	token      Token
	generation uint64
	version    string
	closed     bool

	reauth singleflight.Group

	// AuthCalls counts strategy authentications, readable by tests.
	authCalls int
}

// Open establishes an authenticated session against endpoint. The strategy
// is selected by configuration, never by type inspection of the server.
func Open(ctx context.Context, endpoint string, strategy AuthStrategy, creds Credentials, httpClient *http.Client) (*Session, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	s := &Session{
		endpoint:   endpoint,
		strategy:   strategy,
		creds:      creds,
		httpClient: httpClient,
		logger:     logging.NewLogger("session"),
	}

	tok, err := strategy.Authenticate(ctx, httpClient, endpoint, creds)
	if err != nil {
		return nil, asAuthError(strategy, err)
	}

	s.mu.Lock()
	s.token = tok
	s.generation++
	s.authCalls++
	s.mu.Unlock()

	s.logger.Info().
		Str("endpoint", endpoint).
		Str("strategy", strategy.Name()).
		Msg("Session opened")

	return s, nil
}

// Endpoint returns the base URL the session was opened against.
func (s *Session) Endpoint() string { return s.endpoint }

// Version returns the active API version resolved by discovery.
func (s *Session) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetVersion records the API version resolved by discovery.
func (s *Session) SetVersion(v string) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

// EnsureValid refreshes the token if it is expired. Concurrent callers share
// one re-authentication; the call is a no-op while the token is still valid.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.RLock()
	closed, tok := s.closed, s.token
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !tok.Expired(time.Now()) {
		return nil
	}

	return s.refresh(ctx)
}

// Generation identifies the current token. Callers capture it before a
// request and hand it back to Invalidate on an authentication-class status.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Invalidate drops the token identified by gen so the next EnsureValid
// re-authenticates. It is a no-op when the token has already been replaced:
// a branch reporting a stale 401 must not expire the fresh token that
// concurrent branches are already using.
func (s *Session) Invalidate(gen uint64) {
	s.mu.Lock()
	if s.generation == gen {
		s.token = Token{ExpiresAt: time.Unix(1, 0)}
	}
	s.mu.Unlock()
}

// refresh performs a single-flight re-authentication.
func (s *Session) refresh(ctx context.Context) error {
	_, err, _ := s.reauth.Do("reauth", func() (interface{}, error) {
		// Another waiter may have refreshed while this caller queued.
		s.mu.RLock()
		tok := s.token
		s.mu.RUnlock()
		if !tok.Expired(time.Now()) {
			return nil, nil
		}

		s.logger.Debug().Str("strategy", s.strategy.Name()).Msg("Re-authenticating")

		newTok, err := s.strategy.Authenticate(ctx, s.httpClient, s.endpoint, s.creds)
		if err != nil {
			s.logger.Error().Err(err).Msg("Re-authentication failed")
			return nil, asAuthError(s.strategy, err)
		}

		s.mu.Lock()
		s.token = newTok
		s.generation++
		s.authCalls++
		s.mu.Unlock()

		s.logger.Info().Str("strategy", s.strategy.Name()).Msg("Session re-authenticated")
		return nil, nil
	})
	return err
}

// Apply decorates an outbound request with the current credentials.
func (s *Session) Apply(req *http.Request) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	s.strategy.Apply(req, s.creds, tok)
}

// AuthCalls returns how many times the strategy authenticated. Used by tests
// asserting the single-flight rule.
func (s *Session) AuthCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authCalls
}

// Close invalidates the session locally. Destroying the server-side token is
// best effort and strategy-specific; none of the supported strategies
// require an explicit logout call.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.token = Token{}
	s.logger.Info().Str("endpoint", s.endpoint).Msg("Session closed")
}

func asAuthError(strategy AuthStrategy, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &AuthError{Strategy: strategy.Name(), Err: err}
}
