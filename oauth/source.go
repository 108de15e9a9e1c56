package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource serves the stored token of a provider, refreshing it in line
// when it is about to expire.
type TokenSource struct {
	ctx       context.Context
	refresher *Refresher
	fallback  oauth2.TokenSource

	mu sync.Mutex
}

// NewTokenSource returns a source over r's store. ctx bounds every store and
// refresh call.
func NewTokenSource(ctx context.Context, r *Refresher) *TokenSource {
	return &TokenSource{ctx: ctx, refresher: r}
}

// WithFallback makes Token serve fb while the provider has no stored token.
func (s *TokenSource) WithFallback(fb oauth2.TokenSource) *TokenSource {
	s.fallback = fb
	return s
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// Token implements oauth2.TokenSource.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.refresher
	tok, ok, err := r.Store.GetOAuthToken(s.ctx, r.Provider)
	if err != nil {
		return nil, err
	}
	if !ok || tok.AccessToken == "" {
		if s.fallback != nil {
			return s.fallback.Token()
		}
		return nil, fmt.Errorf("%s: %w", r.Provider, ErrNoToken)
	}
	if tok.RefreshToken != "" && r.Refresh != nil && time.Until(tok.Expiry) < time.Minute {
		if err := r.refresh(s.ctx, tok); err != nil {
			return nil, err
		}
		if tok, _, err = r.Store.GetOAuthToken(s.ctx, r.Provider); err != nil {
			return nil, err
		}
	}
	return &oauth2.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry, TokenType: "Bearer"}, nil
}
