package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/streambot/moderation"
	"github.com/onnwee/streambot/telemetry"
)

// HandleURLModerationGet returns the link moderation settings.
func (h *Handlers) HandleURLModerationGet(w http.ResponseWriter, r *http.Request) {
	if h.Moderation == nil {
		notAvailable(w, "moderation")
		return
	}
	writeJSON(w, http.StatusOK, h.Moderation.Settings())
}

// HandleURLModerationPut replaces the link moderation settings and persists
// them when a settings store is configured.
func (h *Handlers) HandleURLModerationPut(w http.ResponseWriter, r *http.Request) {
	if h.Moderation == nil {
		notAvailable(w, "moderation")
		return
	}
	var s moderation.URLSettings
	if err := decodeJSON(w, r, &s); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if h.Settings != nil {
		if err := h.Settings.Set(r.Context(), SettingsURLModeration, s); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failed to persist settings"})
			telemetry.LoggerWithCorr(r.Context()).Error("persist url moderation settings", slog.Any("err", err))
			return
		}
	}
	h.Moderation.SetSettings(s)
	writeJSON(w, http.StatusOK, s)
}
