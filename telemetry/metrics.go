// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch sources used as the "source" label.
const (
	SourceSystem = "system"
	SourceCustom = "custom"
)

var (
	once sync.Once

	// Counters
	ChatMessagesSeen        prometheus.Counter
	ChatMessagesSent        prometheus.Counter
	ChatSendFailures        prometheus.Counter
	CommandsDispatched      *prometheus.CounterVec
	CommandsRestricted      prometheus.Counter
	CommandsCooldownBlocked prometheus.Counter
	HandlerFailures         *prometheus.CounterVec
	CurrencyPayouts         prometheus.Counter
	ModeratedMessages       prometheus.Counter

	// Histograms (seconds)
	HandlerDuration prometheus.Observer

	// Gauges
	ActiveViewersGauge prometheus.Gauge
	ChatConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_messages_total", Help: "Number of chat messages received"})
		ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_messages_sent_total", Help: "Number of chat messages sent"})
		ChatSendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_send_failures_total", Help: "Number of outbound chat messages that failed"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_commands_dispatched_total", Help: "Number of command invocations"}, []string{"source"})
		CommandsRestricted = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_commands_restricted_total", Help: "Number of invocations denied by restrictions"})
		CommandsCooldownBlocked = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_commands_cooldown_blocked_total", Help: "Number of invocations blocked by a cooldown"})
		HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_command_handler_failures_total", Help: "Number of failed command handler invocations"}, []string{"command"})
		CurrencyPayouts = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_currency_payouts_total", Help: "Number of currency payout cycles"})
		ModeratedMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_moderated_messages_total", Help: "Number of chat messages removed by moderation"})
		HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streambot_command_handler_duration_seconds", Help: "Command handler duration seconds", Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}})
		ActiveViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_active_viewers", Help: "Current number of active chatters"})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_chat_connected", Help: "Chat connection connected=1 disconnected=0"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncDispatched counts a dispatched command by source.
func IncDispatched(source string) {
	if CommandsDispatched != nil {
		CommandsDispatched.WithLabelValues(source).Inc()
	}
}

// IncHandlerFailure counts a failed handler by command id.
func IncHandlerFailure(commandID string) {
	if HandlerFailures != nil {
		HandlerFailures.WithLabelValues(commandID).Inc()
	}
}

// UpdateChatGauge sets gauge to 1 if connected else 0.
func UpdateChatGauge(connected bool) {
	if ChatConnectedGauge != nil {
		if connected {
			ChatConnectedGauge.Set(1)
		} else {
			ChatConnectedGauge.Set(0)
		}
	}
}

// SetActiveViewers records the current active chatter count.
func SetActiveViewers(n int) {
	if ActiveViewersGauge != nil {
		ActiveViewersGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
