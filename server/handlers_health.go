package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness probes, checking the database when one is used.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(r.Context())
		}},
		{"chat", func() error {
			if h.Chat != nil && !h.Chat.Connected() {
				return errors.New("chat not connected")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus summarizes the bot state for dashboards.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"chatConnected":  h.Chat != nil && h.Chat.Connected(),
		"systemCommands": len(h.Registry.All()),
		"customCommands": len(h.Custom.All()),
	}
	if h.Currencies != nil {
		out["currencies"] = len(h.Currencies.All())
		out["activeViewers"] = len(h.Currencies.Viewers().Active())
	}
	if h.Giveaways != nil {
		out["giveaways"] = len(h.Giveaways.All())
	}
	if h.Config != nil {
		out["channel"] = h.Config.TwitchChannel
	}
	writeJSON(w, http.StatusOK, out)
}
