package board

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jayanth920/taskfront/domain"
)

const (
	tracerName      = "github.com/jayanth920/taskfront/board"
	moveSpanName    = "board.move"
	moveEventName   = "taskfront.move"
	moveEventDomain = "taskfront"
)

// moveMetrics collects one move's timings and outcome and emits them as a
// span plus a mirrored structured log entry.
type moveMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	sendDuration time.Duration
	fromGroup    domain.Group
	toGroup      domain.Group
	taskCount    int
	channelUsed  bool
	fallbackUsed bool
	refetched    bool
	errorStage   string
}

func newMoveMetrics(ctx context.Context, logger *log.Logger) (*moveMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, moveSpanName)
	return &moveMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *moveMetrics) ObserveSend(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.sendDuration = duration
}

func (m *moveMetrics) SetGroups(from, to domain.Group) {
	m.fromGroup = from
	m.toGroup = to
}

func (m *moveMetrics) SetTaskCount(count int) {
	if count < 0 {
		count = 0
	}
	m.taskCount = count
}

func (m *moveMetrics) SetChannelUsed(used bool)  { m.channelUsed = used }
func (m *moveMetrics) SetFallbackUsed(used bool) { m.fallbackUsed = used }
func (m *moveMetrics) SetRefetched(refetched bool) {
	m.refetched = refetched
}

func (m *moveMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log closes the span and mirrors the outcome to the structured log. It must
// be called exactly once per move.
func (m *moveMetrics) Log(err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForOutcome(err)
	attrs := []attribute.KeyValue{
		attribute.Float64("taskfront.move.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("taskfront.move.tasks", m.taskCount),
		attribute.Bool("taskfront.move.channel_used", m.channelUsed),
		attribute.Bool("taskfront.move.fallback_used", m.fallbackUsed),
		attribute.Bool("taskfront.move.refetched", m.refetched),
	}
	if m.sendDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskfront.move.send_ms", durationToMillis(m.sendDuration)))
	}
	if m.fromGroup != "" {
		attrs = append(attrs, attribute.String("taskfront.move.from_group", string(m.fromGroup)))
	}
	if m.toGroup != "" {
		attrs = append(attrs, attribute.String("taskfront.move.to_group", string(m.toGroup)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskfront.move.error_stage", m.errorStage))
	}

	eventAttrs := make([]attribute.KeyValue, 0, len(attrs)+4)
	eventAttrs = append(eventAttrs,
		attribute.String("event.name", moveEventName),
		attribute.String("event.domain", moveEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	)
	eventAttrs = append(eventAttrs, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"attributes":      attributesToFields(attrs),
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

// severityForOutcome maps a move outcome to OTel log severity. Commands
// rejected for caller mistakes rank WARN; transport failures rank ERROR.
func severityForOutcome(err error) (string, int) {
	switch {
	case err == nil:
		return "INFO", 9
	case errors.Is(err, ErrUnknownTask),
		errors.Is(err, domain.ErrUnknownGroup),
		errors.Is(err, domain.ErrEmptyTitle):
		return "WARN", 13
	}
	return "ERROR", 17
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
