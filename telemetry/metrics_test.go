package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init()

	assert.NotNil(t, ChatMessagesSeen)
	assert.NotNil(t, CommandsDispatched)
	assert.NotNil(t, HandlerFailures)
	assert.NotNil(t, HandlerDuration)
	assert.NotNil(t, ActiveViewersGauge)
	assert.NotNil(t, ChatConnectedGauge)
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	assert.True(t, executed)
	assert.GreaterOrEqual(t, duration, 10*time.Millisecond)

	metric := &dto.Metric{}
	require.NoError(t, testHistogram.Write(metric))
	require.NotNil(t, metric.Histogram)
	assert.NotZero(t, metric.Histogram.GetSampleCount())
}

func TestCounterHelpers(t *testing.T) {
	Init()

	IncDispatched(SourceSystem)
	IncDispatched(SourceCustom)
	IncHandlerFailure("firebot:uptime")
	Inc(ChatMessagesSeen)
	Inc(nil)

	metric := &dto.Metric{}
	require.NoError(t, CommandsDispatched.WithLabelValues(SourceSystem).Write(metric))
	assert.GreaterOrEqual(t, metric.GetCounter().GetValue(), float64(1))
}

func TestGauges(t *testing.T) {
	Init()

	UpdateChatGauge(true)
	metric := &dto.Metric{}
	require.NoError(t, ChatConnectedGauge.Write(metric))
	assert.Equal(t, float64(1), metric.GetGauge().GetValue())

	UpdateChatGauge(false)
	require.NoError(t, ChatConnectedGauge.Write(metric))
	assert.Equal(t, float64(0), metric.GetGauge().GetValue())

	SetActiveViewers(7)
	require.NoError(t, ActiveViewersGauge.Write(metric))
	assert.Equal(t, float64(7), metric.GetGauge().GetValue())
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelation(ctx))

	ctx = WithCorrelation(ctx, "abc")
	assert.Equal(t, "abc", GetCorrelation(ctx))
	assert.NotNil(t, LoggerWithCorr(ctx))
}
