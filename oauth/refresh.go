// Package oauth keeps a provider's stored OAuth token fresh. It performs
// jittered checks and refreshes when expiry falls within a configured window,
// and exposes the stored token as an oauth2.TokenSource.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/onnwee/streambot/db"
)

// Store reads and writes the token of a provider. db.TokenStore implements it.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (db.Token, bool, error)
	UpsertOAuthToken(ctx context.Context, provider string, tok db.Token) error
}

// RefreshFunc performs the provider-specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (db.Token, error)

// ErrNoToken is returned when the provider has no stored token.
var ErrNoToken = errors.New("no stored oauth token")

// Refresher refreshes one provider's token when it nears expiry.
type Refresher struct {
	Store    Store
	Provider string
	// Interval is how often to wake up and check.
	Interval time.Duration
	// Window triggers a refresh when the remaining lifetime is at or below it.
	Window  time.Duration
	Refresh RefreshFunc
}

func (r *Refresher) defaults() (interval, window time.Duration) {
	interval, window = r.Interval, r.Window
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return interval, window
}

// RefreshIfDue refreshes the stored token when it expires within the window
// and reports whether it did.
func (r *Refresher) RefreshIfDue(ctx context.Context) (bool, error) {
	_, window := r.defaults()
	tok, ok, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if !ok || tok.RefreshToken == "" {
		return false, nil
	}
	if time.Until(tok.Expiry) > window {
		return false, nil
	}
	return true, r.refresh(ctx, tok)
}

func (r *Refresher) refresh(ctx context.Context, old db.Token) error {
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	fresh, err := r.Refresh(ctx2, old.RefreshToken)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
	if fresh.Scope == "" {
		fresh.Scope = old.Scope
	}
	fresh.Scope = strings.TrimSpace(fresh.Scope)
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, fresh); err != nil {
		slog.Warn("token persist failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return err
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider))
	return nil
}

// Start launches the refresh loop in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	interval, _ := r.defaults()
	// Randomize initial delay to spread load across instances.
	initialJitter := time.Duration(rand.Int64N(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter of +/-20% of interval.
			jitterRange := int64(interval / 5)
			nextSleep := interval
			if jitterRange > 0 {
				nextSleep += time.Duration(rand.Int64N(jitterRange*2) - jitterRange)
			}
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if _, err := r.RefreshIfDue(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("token refresh check", slog.String("provider", r.Provider), slog.Any("err", err))
			}
		}
	}()
}
