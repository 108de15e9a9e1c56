package twitchapi

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/onnwee/streambot/testutil"
)

func TestAuthorizeURL(t *testing.T) {
	o := NewOAuth("cid", "secret", "http://localhost/callback", "chat:read,chat:edit")
	raw, err := o.AuthorizeURL("state123")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "id.twitch.tv", u.Host)
	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "chat:read chat:edit", q.Get("scope"))
	assert.Equal(t, "state123", q.Get("state"))

	_, err = NewOAuth("", "secret", "", "").AuthorizeURL("s")
	assert.Error(t, err)
}

func TestExchangeAndRefresh(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("access-1", "refresh-1", 3600, "chat:read", "chat:edit")
	o := NewOAuth("cid", "secret", "http://localhost/callback", "chat:read")
	o.Config.Endpoint.TokenURL = m.TokenURL()

	tok, err := o.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "chat:read chat:edit", Scope(tok))
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	reqs := m.Requests("/oauth2/token")
	require.Len(t, reqs, 1)
	form, err := url.ParseQuery(reqs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "cid", form.Get("client_id"), "credentials are sent in the form body")

	tok, err = o.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)

	_, err = o.Refresh(context.Background(), "")
	assert.Error(t, err)
	_, err = o.Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestExpiryDefault(t *testing.T) {
	assert.WithinDuration(t, time.Now().Add(time.Hour), Expiry(&oauth2.Token{}), time.Minute)
	fixed := time.Now().Add(5 * time.Minute)
	assert.Equal(t, fixed, Expiry(&oauth2.Token{Expiry: fixed}))
}

func TestSplitScopes(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitScopes(" a,b  c "))
	assert.Empty(t, SplitScopes(""))
}
