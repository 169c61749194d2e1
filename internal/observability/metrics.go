package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service metrics, following the golden signals:
// - Latency: request and stage durations
// - Traffic: requests, runs and promotions
// - Errors: failed requests, stages and deliveries
// - Saturation: active variants and notifier queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Pipeline
	RunsTotal          metric.Int64Counter
	StageDuration      metric.Float64Histogram
	StageErrorsTotal   metric.Int64Counter
	ValidationsTotal   metric.Int64Counter
	PromotionsTotal    metric.Int64Counter
	AwaitAttemptsTotal metric.Int64Counter
	AnnouncementsTotal metric.Int64Counter
	VariantsActive     metric.Int64UpDownCounter

	// Notifier
	NotifierDuration  metric.Float64Histogram
	NotifierDelivered metric.Int64Counter
	NotifierFailed    metric.Int64Counter
	NotifierDropped   metric.Int64Counter
	NotifierRequeued  metric.Int64Counter
	NotifierQueueSize metric.Int64Gauge
}

// NewMetrics creates the metrics and a Prometheus handler exposing them.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("modelops"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsTotal, err = meter.Int64Counter(
		"pipeline_runs_total",
		metric.WithDescription("Total number of pipeline runs started"),
	)
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Duration of a pipeline stage for one variant"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.StageErrorsTotal, err = meter.Int64Counter(
		"pipeline_stage_errors_total",
		metric.WithDescription("Total number of failed pipeline stages"),
	)
	if err != nil {
		return nil, err
	}

	m.ValidationsTotal, err = meter.Int64Counter(
		"pipeline_validations_total",
		metric.WithDescription("Total number of candidate validations by result"),
	)
	if err != nil {
		return nil, err
	}

	m.PromotionsTotal, err = meter.Int64Counter(
		"pipeline_promotions_total",
		metric.WithDescription("Total number of candidate promotions"),
	)
	if err != nil {
		return nil, err
	}

	m.AwaitAttemptsTotal, err = meter.Int64Counter(
		"pipeline_await_attempts_total",
		metric.WithDescription("Total number of readiness polls"),
	)
	if err != nil {
		return nil, err
	}

	m.AnnouncementsTotal, err = meter.Int64Counter(
		"pipeline_announcements_total",
		metric.WithDescription("Total number of branch merge announcements by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.VariantsActive, err = meter.Int64UpDownCounter(
		"pipeline_variants_active",
		metric.WithDescription("Number of variants currently being processed (saturation)"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierDuration, err = meter.Float64Histogram(
		"notifier_duration_seconds",
		metric.WithDescription("Event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierDelivered, err = meter.Int64Counter(
		"notifier_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierFailed, err = meter.Int64Counter(
		"notifier_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierDropped, err = meter.Int64Counter(
		"notifier_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierRequeued, err = meter.Int64Counter(
		"notifier_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifierQueueSize, err = meter.Int64Gauge(
		"notifier_queue_size",
		metric.WithDescription("Current number of events in the notifier queue (saturation)"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted records a pipeline run over variants.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	m.RunsTotal.Add(ctx, 1)
}

// RecordVariantStarted marks a variant as being processed.
func (m *Metrics) RecordVariantStarted(ctx context.Context, variant string) {
	m.VariantsActive.Add(ctx, 1, metric.WithAttributes(variantAttr(variant)))
}

// RecordVariantFinished marks a variant as no longer processed.
func (m *Metrics) RecordVariantFinished(ctx context.Context, variant string) {
	m.VariantsActive.Add(ctx, -1, metric.WithAttributes(variantAttr(variant)))
}

// RecordStage records one stage of a variant's run.
func (m *Metrics) RecordStage(ctx context.Context, variant, stage string, success bool, durationSeconds float64) {
	m.StageDuration.Record(ctx, durationSeconds, metric.WithAttributes(variantAttr(variant), stageAttr(stage), successAttr(success)))
	if !success {
		m.StageErrorsTotal.Add(ctx, 1, metric.WithAttributes(variantAttr(variant), stageAttr(stage)))
	}
}

// RecordValidation records a gate decision.
func (m *Metrics) RecordValidation(ctx context.Context, variant string, passed bool) {
	m.ValidationsTotal.Add(ctx, 1, metric.WithAttributes(variantAttr(variant), passedAttr(passed)))
}

// RecordPromotion records a promotion outcome.
func (m *Metrics) RecordPromotion(ctx context.Context, variant, outcome string) {
	m.PromotionsTotal.Add(ctx, 1, metric.WithAttributes(variantAttr(variant), outcomeAttr(outcome)))
}

// RecordAwaitAttempt records one readiness poll.
func (m *Metrics) RecordAwaitAttempt(ctx context.Context, name string, ready bool) {
	m.AwaitAttemptsTotal.Add(ctx, 1, metric.WithAttributes(awaitAttr(name), successAttr(ready)))
}

// RecordAnnouncement records a merge outcome.
func (m *Metrics) RecordAnnouncement(ctx context.Context, outcome string) {
	m.AnnouncementsTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordNotifierDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifierDelivered.Add(ctx, 1)
	m.NotifierDuration.Record(ctx, durationSeconds)
}

// RecordNotifierFailed records a failed event delivery.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped event.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}

// RecordNotifierRequeued records a requeued event.
func (m *Metrics) RecordNotifierRequeued(ctx context.Context) {
	m.NotifierRequeued.Add(ctx, 1)
}

// RecordNotifierQueueSize records the current queue size.
func (m *Metrics) RecordNotifierQueueSize(ctx context.Context, size int64) {
	m.NotifierQueueSize.Record(ctx, size)
}
