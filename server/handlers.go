package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/giveaways"
	"github.com/onnwee/streambot/moderation"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000

	// SettingsURLModeration is the settings key of the link moderation settings.
	SettingsURLModeration = "moderation:url"
)

// Settings stores small JSON values. db.KV implements it.
type Settings interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// TokenStore persists OAuth tokens. db.TokenStore implements it.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, tok db.Token) error
	GetOAuthToken(ctx context.Context, provider string) (db.Token, bool, error)
}

// ChatStatus reports the chat connection state.
type ChatStatus interface {
	Connected() bool
}

// Deps are the components the HTTP API exposes. Only Config, Registry and
// Custom are required.
type Deps struct {
	Config     *config.Config
	DB         *sql.DB
	Registry   *commands.Registry
	Custom     *commands.CustomStore
	Currencies *currency.Manager
	Giveaways  *giveaways.Manager
	Moderation *moderation.URLModerator
	Settings   Settings
	Tokens     TokenStore
	OAuth      *twitchapi.OAuth
	Chat       ChatStatus
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		Deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	// Refuse new states past the cap; the flow fails instead of memory growing.
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState reports whether state is known and unexpired, and forgets it.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && !time.Now().After(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, commands.ErrUnknownCommand),
		errors.Is(err, currency.ErrUnknownCurrency),
		errors.Is(err, giveaways.ErrUnknownGiveaway):
		return http.StatusNotFound
	case errors.Is(err, commands.ErrValidation),
		errors.Is(err, currency.ErrInvalidCurrency),
		errors.Is(err, giveaways.ErrInvalidGiveaway):
		return http.StatusBadRequest
	case errors.Is(err, commands.ErrTriggerConflict),
		errors.Is(err, giveaways.ErrClosed),
		errors.Is(err, giveaways.ErrNoEntries):
		return http.StatusConflict
	case errors.Is(err, commands.ErrPersistence),
		errors.Is(err, commands.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err with the request's correlation id and answers with
// its mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	log := telemetry.LoggerWithCorr(r.Context())
	if status >= 500 {
		log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
	} else {
		log.Debug("request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func notAvailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": what + " not enabled"})
}
