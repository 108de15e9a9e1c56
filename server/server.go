// Package server exposes the HTTP API: health, status, metrics, the command,
// currency, giveaway and moderation management endpoints, a Server-Sent
// Events stream of command changes, and the Twitch OAuth flow. It injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup and SSE lifecycles.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	authCfg := newAuthConfig(cfg)
	rateLimiter := newIPRateLimiter(ctx, newRateLimiterConfig(cfg))
	h := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)

	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /auth/twitch/callback", h.HandleTwitchOAuthCallback)

	mux.HandleFunc("GET /api/events", h.HandleEvents)

	mux.HandleFunc("GET /api/commands/system", h.HandleSystemCommandsList)
	mux.HandleFunc("GET /api/commands/system/{id}", h.HandleSystemCommandGet)
	mux.HandleFunc("PUT /api/commands/system/{id}", h.HandleSystemCommandSave)
	mux.HandleFunc("PATCH /api/commands/system/{id}", h.HandleSystemCommandPatch)
	mux.HandleFunc("DELETE /api/commands/system/{id}", h.HandleSystemCommandDelete)

	mux.HandleFunc("GET /api/commands/custom", h.HandleCustomCommandsList)
	mux.HandleFunc("POST /api/commands/custom", h.HandleCustomCommandSave)
	mux.HandleFunc("DELETE /api/commands/custom", h.HandleCustomCommandDeleteByTrigger)
	mux.HandleFunc("GET /api/commands/custom/{id}", h.HandleCustomCommandGet)
	mux.HandleFunc("PUT /api/commands/custom/{id}", h.HandleCustomCommandSave)
	mux.HandleFunc("DELETE /api/commands/custom/{id}", h.HandleCustomCommandDelete)
	mux.HandleFunc("GET /api/triggers", h.HandleTriggerTaken)

	mux.HandleFunc("GET /api/currencies", h.HandleCurrenciesList)
	mux.HandleFunc("POST /api/currencies", h.HandleCurrencySave)
	mux.HandleFunc("GET /api/currencies/{id}", h.HandleCurrencyGet)
	mux.HandleFunc("PUT /api/currencies/{id}", h.HandleCurrencySave)
	mux.HandleFunc("DELETE /api/currencies/{id}", h.HandleCurrencyDelete)
	mux.HandleFunc("GET /api/currencies/{id}/balances/{user}", h.HandleCurrencyBalance)

	mux.HandleFunc("GET /api/giveaways", h.HandleGiveawaysList)
	mux.HandleFunc("POST /api/giveaways", h.HandleGiveawaySave)
	mux.HandleFunc("GET /api/giveaways/{id}", h.HandleGiveawayGet)
	mux.HandleFunc("PUT /api/giveaways/{id}", h.HandleGiveawaySave)
	mux.HandleFunc("DELETE /api/giveaways/{id}", h.HandleGiveawayDelete)
	mux.HandleFunc("POST /api/giveaways/{id}/{action}", h.HandleGiveawayAction)

	mux.HandleFunc("GET /api/moderation/url", h.HandleURLModerationGet)
	mux.HandleFunc("PUT /api/moderation/url", h.HandleURLModerationPut)

	// The API and the OAuth start need an admin; writes are also rate limited.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protected := strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/auth/twitch/start"
		if !protected {
			mux.ServeHTTP(w, r)
			return
		}
		var next http.Handler = mux
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next = rateLimitMiddleware(mux, rateLimiter)
		}
		adminAuth(next, authCfg).ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 && wrappedWriter.statusCode < 500 {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", wrappedWriter.statusCode))
		}
	})
	return withCORSConfig(handler, newCORSConfig(cfg))
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, deps),
		ReadTimeout: 5 * time.Second,
		// No write timeout: /api/events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
