package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const meterName = "ai-baas/backend"

// Metrics holds the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	contextTokens     otelmetric.Int64Histogram
	droppedMessages   otelmetric.Int64Counter
	llmTokens         otelmetric.Int64Counter
	retrievalDuration otelmetric.Float64Histogram
	retrievalHits     otelmetric.Int64Histogram
	retrievalErrors   otelmetric.Int64Counter
	streams           otelmetric.Int64Counter
}

func NewMetrics(mp otelmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.contextTokens, err = meter.Int64Histogram("context_assembly_tokens",
		otelmetric.WithDescription("Tokens used by assembled context windows")); err != nil {
		return nil, err
	}
	if m.droppedMessages, err = meter.Int64Counter("context_dropped_messages_total",
		otelmetric.WithDescription("Thread messages left out of the context window")); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter("llm_tokens_total",
		otelmetric.WithDescription("Tokens recorded in the usage ledger")); err != nil {
		return nil, err
	}
	if m.retrievalDuration, err = meter.Float64Histogram("retrieval_query_duration_seconds",
		otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.retrievalHits, err = meter.Int64Histogram("retrieval_query_hits"); err != nil {
		return nil, err
	}
	if m.retrievalErrors, err = meter.Int64Counter("retrieval_query_errors_total"); err != nil {
		return nil, err
	}
	if m.streams, err = meter.Int64Counter("chat_streams_total",
		otelmetric.WithDescription("Streamed completions by terminal state")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordAssembly(ctx context.Context, model string, usedTokens, dropped int) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("model", model))
	m.contextTokens.Record(ctx, int64(usedTokens), attrs)
	if dropped > 0 {
		m.droppedMessages.Add(ctx, int64(dropped), attrs)
	}
}

func (m *Metrics) RecordTokens(ctx context.Context, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.llmTokens.Add(ctx, int64(promptTokens), otelmetric.WithAttributes(attribute.String("kind", "prompt")))
	m.llmTokens.Add(ctx, int64(completionTokens), otelmetric.WithAttributes(attribute.String("kind", "completion")))
}

func (m *Metrics) RecordRetrieval(ctx context.Context, d time.Duration, hits int, err error) {
	if m == nil {
		return
	}
	m.retrievalDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.retrievalErrors.Add(ctx, 1)
		return
	}
	m.retrievalHits.Record(ctx, int64(hits))
}

func (m *Metrics) RecordStream(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.streams.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("state", state)))
}
