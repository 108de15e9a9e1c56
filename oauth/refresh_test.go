package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/onnwee/streambot/db"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]db.Token
	writes int
}

func newMemStore(provider string, tok db.Token) *memStore {
	return &memStore{tokens: map[string]db.Token{provider: tok}}
}

func (m *memStore) GetOAuthToken(ctx context.Context, provider string) (db.Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[provider]
	return t, ok, nil
}

func (m *memStore) UpsertOAuthToken(ctx context.Context, provider string, tok db.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[provider] = tok
	m.writes++
	return nil
}

func (m *memStore) get(provider string) db.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[provider]
}

func TestRefreshIfDueSkipsFreshToken(t *testing.T) {
	store := newMemStore("twitch", db.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})
	called := false
	r := &Refresher{Store: store, Provider: "twitch", Window: 30 * time.Minute, Refresh: func(context.Context, string) (db.Token, error) {
		called = true
		return db.Token{}, nil
	}}

	did, err := r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, did)
	assert.False(t, called, "tokens outside the window are left alone")
}

func TestRefreshIfDueWithinWindow(t *testing.T) {
	store := newMemStore("twitch", db.Token{AccessToken: "old-access", RefreshToken: "old-refresh", Expiry: time.Now().Add(5 * time.Minute), Scope: "chat:read"})
	newExpiry := time.Now().Add(2 * time.Hour)
	r := &Refresher{Store: store, Provider: "twitch", Refresh: func(ctx context.Context, rt string) (db.Token, error) {
		assert.Equal(t, "old-refresh", rt)
		return db.Token{AccessToken: "new-access", Expiry: newExpiry}, nil
	}}

	did, err := r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, did)
	got := store.get("twitch")
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "old-refresh", got.RefreshToken, "refresh token is kept when the provider omits it")
	assert.Equal(t, "chat:read", got.Scope)
	assert.Equal(t, newExpiry, got.Expiry)
}

func TestRefreshErrorKeepsToken(t *testing.T) {
	store := newMemStore("twitch", db.Token{AccessToken: "old-access", RefreshToken: "old-refresh", Expiry: time.Now()})
	r := &Refresher{Store: store, Provider: "twitch", Refresh: func(context.Context, string) (db.Token, error) {
		return db.Token{}, errors.New("refresh failed")
	}}

	_, err := r.RefreshIfDue(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "old-access", store.get("twitch").AccessToken)
	assert.Zero(t, store.writes)
}

func TestNoRefreshToken(t *testing.T) {
	store := newMemStore("twitch", db.Token{AccessToken: "a", Expiry: time.Now()})
	r := &Refresher{Store: store, Provider: "twitch", Refresh: func(context.Context, string) (db.Token, error) {
		t.Fatal("refresh must not run without a refresh token")
		return db.Token{}, nil
	}}
	did, err := r.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, did)
}

func TestStartRefreshes(t *testing.T) {
	store := newMemStore("twitch", db.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(time.Minute)})
	r := &Refresher{Store: store, Provider: "twitch", Interval: 20 * time.Millisecond, Window: time.Hour,
		Refresh: func(context.Context, string) (db.Token, error) {
			return db.Token{AccessToken: "new", Expiry: time.Now().Add(2 * time.Hour)}, nil
		}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	assert.Eventually(t, func() bool { return store.get("twitch").AccessToken == "new" }, 2*time.Second, 10*time.Millisecond)
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("twitch", db.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
	calls := 0
	r := &Refresher{Store: store, Provider: "twitch", Refresh: func(context.Context, string) (db.Token, error) {
		calls++
		return db.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)}, nil
	}}
	ts := NewTokenSource(ctx, r)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Zero(t, calls)

	require.NoError(t, store.UpsertOAuthToken(ctx, "twitch", db.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(10 * time.Second)}))
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken, "tokens about to expire are refreshed in line")
	assert.Equal(t, 1, calls)

	_, err = NewTokenSource(ctx, &Refresher{Store: newMemStore("other", db.Token{}), Provider: "twitch"}).Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenSourceFallback(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("other", db.Token{})
	ts := NewTokenSource(ctx, &Refresher{Store: store, Provider: "twitch"}).
		WithFallback(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "static"}))

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "static", tok.AccessToken)

	require.NoError(t, store.UpsertOAuthToken(ctx, "twitch", db.Token{AccessToken: "stored", Expiry: time.Now().Add(time.Hour)}))
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored", tok.AccessToken, "a stored token wins once it exists")
}
