package remote

import (
	"context"
	"sync"

	"github.com/perrindel/cardsync/internal/syncerr"
)

// StaticTokenSource serves a fixed bearer token and cannot refresh. It is
// the CLI fallback when a token is supplied via environment, and the
// standard test double.
type StaticTokenSource struct {
	mu    sync.Mutex
	token string
}

// NewStaticTokenSource wraps a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", syncerr.New(syncerr.Auth, "no bearer token available")
	}
	return s.token, nil
}

func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return "", syncerr.New(syncerr.Auth, "static token cannot be refreshed")
}

func (s *StaticTokenSource) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// RefreshFunc exchanges the current credentials for a fresh bearer token.
// The OAuth/PKCE flow behind it is owned by the external token module.
type RefreshFunc func(ctx context.Context) (string, error)

// CoalescingTokenSource serializes refreshes: while one refresh is in
// flight, subsequent callers wait on the same result instead of issuing
// their own. This is the shared-future shape of the refresh path.
type CoalescingTokenSource struct {
	mu       sync.Mutex
	token    string
	refresh  RefreshFunc
	inflight chan struct{}
	result   string
	err      error
}

// NewCoalescingTokenSource builds a source seeded with an initial token
// (possibly empty) and a refresh function.
func NewCoalescingTokenSource(initial string, refresh RefreshFunc) *CoalescingTokenSource {
	return &CoalescingTokenSource{token: initial, refresh: refresh}
}

func (s *CoalescingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return s.Refresh(ctx)
}

// Refresh obtains a fresh token, coalescing concurrent callers onto one
// in-flight exchange.
func (s *CoalescingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.inflight != nil {
		done := s.inflight
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", syncerr.Wrap(syncerr.Timeout, ctx.Err(), "wait for token refresh")
		}
		s.mu.Lock()
		token, err := s.result, s.err
		s.mu.Unlock()
		return token, err
	}

	done := make(chan struct{})
	s.inflight = done
	s.mu.Unlock()

	token, err := s.refresh(ctx)

	s.mu.Lock()
	if err == nil {
		s.token = token
	}
	s.result, s.err = token, err
	s.inflight = nil
	s.mu.Unlock()
	close(done)

	if err != nil {
		return "", syncerr.Wrap(syncerr.Auth, err, "refresh bearer token")
	}
	return token, nil
}

func (s *CoalescingTokenSource) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
