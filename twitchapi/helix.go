// Package twitchapi contains the Twitch OAuth flows and a small Helix client
// for user lookups, stream status, chat message deletion and whispers.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHelixURL is the production Helix base URL.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// ErrNotFound is returned when Helix answers with an empty data set.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx Helix response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix request failed: %d: %s", e.Status, e.Body)
}

// HelixClient calls Helix with an app token for public reads and the bot
// user token for moderation and whispers.
type HelixClient struct {
	BaseURL    string
	ClientID   string
	AppTokens  oauth2.TokenSource
	UserTokens oauth2.TokenSource
	HTTPClient *http.Client
}

// User is a Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is a live Helix stream.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	GameName    string    `json:"game_name"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultHelixURL
}

func (hc *HelixClient) do(ctx context.Context, ts oauth2.TokenSource, method, path string, q url.Values, body, out any) error {
	if ts == nil {
		return errors.New("no token source for helix request")
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("helix token: %w", err)
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	u := hc.base() + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUser resolves a login name.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, hc.AppTokens, http.MethodGet, "/users", url.Values{"login": {strings.ToLower(login)}}, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user %s: %w", login, ErrNotFound)
	}
	return body.Data[0], nil
}

// GetStream returns the live stream of login, or nil when offline.
func (hc *HelixClient) GetStream(ctx context.Context, login string) (*Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.do(ctx, hc.AppTokens, http.MethodGet, "/streams", url.Values{"user_login": {strings.ToLower(login)}}, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	s := body.Data[0]
	return &s, nil
}

// DeleteChatMessage removes one chat message. The user token must belong to
// moderatorID and carry moderator:manage:chat_messages.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	if broadcasterID == "" || moderatorID == "" || messageID == "" {
		return errors.New("missing broadcaster, moderator or message id")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}, "message_id": {messageID}}
	return hc.do(ctx, hc.UserTokens, http.MethodDelete, "/moderation/chat", q, nil, nil)
}

// SendWhisper whispers message from the user token's account to toUserID.
func (hc *HelixClient) SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error {
	if fromUserID == "" || toUserID == "" {
		return errors.New("missing whisper sender or recipient")
	}
	q := url.Values{"from_user_id": {fromUserID}, "to_user_id": {toUserID}}
	return hc.do(ctx, hc.UserTokens, http.MethodPost, "/whispers", q, map[string]string{"message": message}, nil)
}
