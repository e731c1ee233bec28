package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	IngestCounter    metric.Int64Counter
	IngestDuration   metric.Float64Histogram
	QueryCounter     metric.Int64Counter
	QueryDuration    metric.Float64Histogram
	GenerationTokens metric.Int64Counter
	IndexOperations  metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("elibrary-rag")

	ingestCounter, err := meter.Int64Counter(
		"book.ingests.total",
		metric.WithDescription("Total book ingestion runs"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"book.ingest.duration",
		metric.WithDescription("Book ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queryCounter, err := meter.Int64Counter(
		"book.queries.total",
		metric.WithDescription("Total book questions answered"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"book.query.duration",
		metric.WithDescription("Book question duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	generationTokens, err := meter.Int64Counter(
		"generation.tokens.used",
		metric.WithDescription("Total chat-completion tokens used"),
	)
	if err != nil {
		return nil, err
	}

	indexOperations, err := meter.Int64Counter(
		"vector_index.operations.total",
		metric.WithDescription("Total vector index operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IngestCounter:    ingestCounter,
		IngestDuration:   ingestDuration,
		QueryCounter:     queryCounter,
		QueryDuration:    queryDuration,
		GenerationTokens: generationTokens,
		IndexOperations:  indexOperations,
	}, nil
}

// RecordIngest records one ingestion run outcome.
func (m *Metrics) RecordIngest(ctx context.Context, seconds float64, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.IngestCounter.Add(ctx, 1, attrs)
	m.IngestDuration.Record(ctx, seconds, attrs)
}

// RecordQuery records one answered (or failed) book question.
func (m *Metrics) RecordQuery(ctx context.Context, seconds float64, success bool, tokens int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.QueryCounter.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, seconds, attrs)
	if tokens > 0 {
		m.GenerationTokens.Add(ctx, int64(tokens))
	}
}
