package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "embrace-sync/api"
	streamSpanName    = "embrace.stream.session"
	streamEventName   = "stream.session"
	streamEventDomain = "embrace-sync"
)

// streamMetrics accumulates one stream session's observability data and
// emits it as an otel span plus a structured log record when the session
// ends.
type streamMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	loadDuration time.Duration
	eventsMerged int
	framesSent   int
	reseeds      int
	errorStage   string
}

func newStreamMetrics(ctx context.Context, logger *log.Logger) (*streamMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, streamSpanName)
	return &streamMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *streamMetrics) ObserveLoad(d time.Duration) {
	if d <= 0 {
		return
	}
	m.loadDuration = d
}

func (m *streamMetrics) AddEventsMerged(n int) {
	if n > 0 {
		m.eventsMerged += n
	}
}

func (m *streamMetrics) AddFrame() { m.framesSent++ }

func (m *streamMetrics) AddReseed() { m.reseeds++ }

func (m *streamMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Finish ends the span and writes the observability event. Safe on a nil
// receiver so error paths can call it unconditionally.
func (m *streamMetrics) Finish(status int, err error) {
	if m == nil {
		return
	}
	totalMs := durationToMillis(time.Since(m.start))

	attrs := []attribute.KeyValue{
		attribute.String("http.route", "/stream"),
		attribute.Int("http.status_code", status),
		attribute.Float64("embrace.stream.total_ms", totalMs),
		attribute.Int("embrace.stream.events_merged", m.eventsMerged),
		attribute.Int("embrace.stream.frames_sent", m.framesSent),
		attribute.Int("embrace.stream.reseeds", m.reseeds),
	}
	if m.loadDuration > 0 {
		attrs = append(attrs, attribute.Float64("embrace.stream.load_ms", durationToMillis(m.loadDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("embrace.stream.error_stage", m.errorStage))
	}

	severityText, severityNumber := "INFO", 9
	if err != nil {
		severityText, severityNumber = "ERROR", 17
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", streamEventName),
			attribute.String("event.domain", streamEventDomain),
			attribute.String("severity_text", severityText),
		}, attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      streamEventName,
		"event.domain":    streamEventDomain,
		"http.route":      "/stream",
		"status":          status,
		"total_ms":        totalMs,
		"events_merged":   m.eventsMerged,
		"frames_sent":     m.framesSent,
		"reseeds":         m.reseeds,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.loadDuration > 0 {
		fields["load_ms"] = durationToMillis(m.loadDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.Error("observability.event")
	} else {
		entry.Info("observability.event")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
