package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streambot/commands"
)

// sseBuffer is how many change events may queue for a slow client before
// further events are dropped for it.
const sseBuffer = 16

// HandleEvents streams command change events as Server-Sent Events. The
// stream opens with a snapshot of both collections.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	events := make(chan commands.ChangeEvent, sseBuffer)
	push := func(ev commands.ChangeEvent) {
		select {
		case events <- ev:
		default:
			slog.Warn("dropping change event for slow SSE client", slog.String("kind", string(ev.Kind)), slog.String("component", "http_sse"))
		}
	}
	unsubSystem := h.Registry.Subscribe(push)
	defer unsubSystem()
	unsubCustom := h.Custom.Subscribe(push)
	defer unsubCustom()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	write := func(ev commands.ChangeEvent) error {
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	initial := []commands.ChangeEvent{
		{Kind: commands.SystemCommandsChanged, Commands: h.Registry.All()},
		{Kind: commands.CustomCommandsChanged, CustomCommands: h.Custom.All()},
	}
	for _, ev := range initial {
		if err := write(ev); err != nil {
			return
		}
	}

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case ev := <-events:
			if err := write(ev); err != nil {
				slog.Debug("SSE client gone", slog.Any("err", err))
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
