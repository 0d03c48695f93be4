package tracing

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/shared/id"
)

// TraceID identifies one request end to end, across the gateway and
// any daemon work it triggers.
type TraceID string

// SpanID identifies a single operation within a trace.
type SpanID string

// Span records one timed operation.
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	Duration   time.Duration
	Tags       map[string]string
	Error      error
	StatusCode int
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	spanIDKey
)

// Tracer collects spans and writes them through zap. Submission
// never blocks the request path; when the buffer is full the span
// is dropped.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	slow    time.Duration
}

// New creates a tracer for one service name.
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1024),
		slow:    time.Second,
	}
	go t.drain()
	return t
}

// StartSpan opens a span, inheriting the trace from ctx or starting
// a fresh one. The returned context carries the span for children.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	parentID, _ := ctx.Value(spanIDKey).(SpanID)

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.NewRequestID()),
		ParentID:  parentID,
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Finish stamps the span duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag annotates the span.
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records a failure on the span.
func (s *Span) SetError(err error) {
	s.Error = err
}

// SetStatus records the HTTP status the span resolved to.
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// Submit queues a finished span for logging.
func (t *Tracer) Submit(span *Span) {
	select {
	case t.spans <- span:
	default:
	}
}

func (t *Tracer) drain() {
	for span := range t.spans {
		t.log(span)
	}
}

func (t *Tracer) log(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.String("service", span.Service),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.StatusCode != 0 {
		fields = append(fields, zap.Int("status", span.StatusCode))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	switch {
	case span.Error != nil:
		t.logger.Warn("span failed", append(fields, zap.Error(span.Error))...)
	case span.Duration >= t.slow:
		t.logger.Info("slow span", fields...)
	default:
		t.logger.Debug("span", fields...)
	}
}

// ExtractTraceContext pulls trace identifiers from request headers.
func ExtractTraceContext(headers map[string]string) (TraceID, SpanID) {
	return TraceID(headers["X-Trace-ID"]), SpanID(headers["X-Span-ID"])
}

// InjectTraceContext writes the current trace identifiers into
// outgoing headers so downstream services can join the trace.
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	if traceID, ok := ctx.Value(traceIDKey).(TraceID); ok && traceID != "" {
		headers["X-Trace-ID"] = string(traceID)
	}
	if spanID, ok := ctx.Value(spanIDKey).(SpanID); ok && spanID != "" {
		headers["X-Span-ID"] = string(spanID)
	}
}

// StatusTag formats a status code for span tags.
func StatusTag(code int) string {
	return strconv.Itoa(code)
}
