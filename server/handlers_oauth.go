package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

// TwitchProvider is the oauth_tokens key of the bot's Twitch token.
const TwitchProvider = "twitch"

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil || h.Tokens == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI and a database)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(10*time.Minute)) {
		http.Error(w, "too many pending oauth flows", http.StatusServiceUnavailable)
		return
	}
	authURL, err := h.OAuth.AuthorizeURL(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil || h.Tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	tok, err := h.OAuth.Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	scope := twitchapi.Scope(tok)
	expiry := twitchapi.Expiry(tok)
	if err := h.Tokens.UpsertOAuthToken(ctx, TwitchProvider, db.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scope:        scope,
	}); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("persist twitch token", slog.Any("err", err))
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}
	slog.Info("stored twitch bot token", slog.String("scope", scope))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scope": scope, "expires_at": expiry})
}
