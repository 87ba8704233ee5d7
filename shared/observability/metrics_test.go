package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordTokens(ctx, 12, 30)
	m.RecordStream(ctx, "cancelled")
	m.RecordStream(ctx, "completed")
	m.RecordStream(ctx, "completed")
	m.RecordAssembly(ctx, "gpt-4o", 100, 2)
	m.RecordRetrieval(ctx, 20*time.Millisecond, 3, nil)
	m.RecordRetrieval(ctx, time.Millisecond, 0, errors.New("down"))

	got := collect(t, reader)

	tokens := got["llm_tokens_total"].Data.(metricdata.Sum[int64])
	byKind := map[string]int64{}
	for _, dp := range tokens.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		byKind[kind.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"prompt": 12, "completion": 30}, byKind)

	streams := got["chat_streams_total"].Data.(metricdata.Sum[int64])
	byState := map[string]int64{}
	for _, dp := range streams.DataPoints {
		state, _ := dp.Attributes.Value(attribute.Key("state"))
		byState[state.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byState["completed"])
	assert.Equal(t, int64(1), byState["cancelled"])

	dropped := got["context_dropped_messages_total"].Data.(metricdata.Sum[int64])
	require.Len(t, dropped.DataPoints, 1)
	assert.Equal(t, int64(2), dropped.DataPoints[0].Value)

	errs := got["retrieval_query_errors_total"].Data.(metricdata.Sum[int64])
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordTokens(ctx, 1, 1)
		m.RecordStream(ctx, "failed")
		m.RecordAssembly(ctx, "x", 1, 1)
		m.RecordRetrieval(ctx, time.Second, 1, nil)
	})
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	mp, handler, err := SetupPrometheusMetrics("context-engine-test")
	require.NoError(t, err)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	m.RecordStream(context.Background(), "completed")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "chat_streams_total")
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(false, "svc")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
