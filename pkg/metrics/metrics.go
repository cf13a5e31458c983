package metrics

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// SetupTracing initializes OpenTelemetry tracing with stdout exporter (for demo; replace with OTLP in prod)
func SetupTracing(serviceName string) func() {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Fatalf("failed to initialize stdouttrace exporter: %v", err)
	}
	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return func() { _ = provider.Shutdown(context.Background()) }
}

// SetupPrometheusMetrics initializes the Prometheus metrics exporter and
// exposes /metrics on listenAddr.
func SetupPrometheusMetrics(listenAddr string) *sdkmetric.MeterProvider {
	exp, err := otelprom.New()
	if err != nil {
		log.Fatalf("failed to initialize prometheus exporter: %v", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(listenAddr, mux)
	}()
	return mp
}

// StreamMetrics holds the instruments recorded by the live stream manager.
type StreamMetrics struct {
	Connects      metric.Int64Counter
	Reconnects    metric.Int64Counter
	Heartbeats    metric.Int64Counter
	FramesDropped metric.Int64Counter
	Appended      metric.Int64Counter
	Duplicates    metric.Int64Counter
}

// NewStreamMetrics creates the stream instrument set on the global meter.
func NewStreamMetrics() *StreamMetrics {
	meter := otel.Meter("chatkit/stream")
	m := &StreamMetrics{}
	m.Connects, _ = meter.Int64Counter("chat_stream_connects_total",
		metric.WithDescription("Stream channels successfully opened"))
	m.Reconnects, _ = meter.Int64Counter("chat_stream_reconnects_total",
		metric.WithDescription("Reconnect attempts after transport errors"))
	m.Heartbeats, _ = meter.Int64Counter("chat_stream_heartbeats_total",
		metric.WithDescription("Heartbeat frames received and ignored"))
	m.FramesDropped, _ = meter.Int64Counter("chat_stream_frames_dropped_total",
		metric.WithDescription("Malformed frames silently discarded"))
	m.Appended, _ = meter.Int64Counter("chat_stream_messages_appended_total",
		metric.WithDescription("Messages appended to the displayed thread"))
	m.Duplicates, _ = meter.Int64Counter("chat_stream_duplicates_filtered_total",
		metric.WithDescription("Messages dropped by the dedupe filter"))
	return m
}

// ComposerMetrics holds the instruments recorded by the message composer.
type ComposerMetrics struct {
	Sends        metric.Int64Counter
	SendFailures metric.Int64Counter
	Uploads      metric.Int64Counter
	UploadErrors metric.Int64Counter
}

// NewComposerMetrics creates the composer instrument set on the global meter.
func NewComposerMetrics() *ComposerMetrics {
	meter := otel.Meter("chatkit/composer")
	m := &ComposerMetrics{}
	m.Sends, _ = meter.Int64Counter("chat_sends_total",
		metric.WithDescription("Text messages accepted by the backend"))
	m.SendFailures, _ = meter.Int64Counter("chat_send_failures_total",
		metric.WithDescription("Text sends rejected or failed in transport"))
	m.Uploads, _ = meter.Int64Counter("chat_uploads_total",
		metric.WithDescription("Attachment uploads accepted by the backend"))
	m.UploadErrors, _ = meter.Int64Counter("chat_upload_failures_total",
		metric.WithDescription("Attachment uploads rejected or failed in transport"))
	return m
}
