package tracing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/shared/id"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// DefaultBufferSize is the number of finished spans held for the collector.
const DefaultBufferSize = 1000

// Span is one served HTTP request.
type Span struct {
	RequestID  string
	Name       string
	Method     string
	Path       string
	ClientIP   string
	StartTime  time.Time
	Duration   time.Duration
	StatusCode int
	Size       int
	Error      error
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// Tracer logs finished spans from a single collector goroutine. Submit never
// blocks: when the buffer is full the span is dropped.
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// New creates a tracer and starts its collector
func New(service string, logger *logging.Logger, bufferSize int) *Tracer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	t := &Tracer{
		service: service,
		logger:  logger.Component("tracing"),
		spans:   make(chan *Span, bufferSize),
		done:    make(chan struct{}),
	}
	go t.collectSpans()
	return t
}

// StartSpan creates a span and returns a context carrying its request id.
// An empty requestID gets a fresh one.
func (t *Tracer) StartSpan(ctx context.Context, name, requestID string) (*Span, context.Context) {
	if requestID == "" {
		requestID = id.NewRequestID().String()
	}
	span := &Span{
		RequestID: requestID,
		Name:      name,
		StartTime: time.Now(),
	}
	return span, WithRequestID(ctx, requestID)
}

// Submit sends a span to the collector
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.dropped.Add(1)
		t.logger.Warn("span buffer full, dropping span",
			zap.String("request_id", span.RequestID),
			zap.String("operation", span.Name),
		)
	}
}

// Dropped returns how many spans were dropped on a full buffer
func (t *Tracer) Dropped() uint64 {
	return t.dropped.Load()
}

// Close stops accepting spans and waits for the collector to drain.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()

	<-t.done
}

// collectSpans processes completed spans
func (t *Tracer) collectSpans() {
	defer close(t.done)
	for span := range t.spans {
		t.processSpan(span)
	}
}

// processSpan logs one span
func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("request_id", span.RequestID),
		zap.String("operation", span.Name),
		zap.String("method", span.Method),
		zap.String("path", span.Path),
		zap.Int("status", span.StatusCode),
		zap.Int("size", span.Size),
		zap.Duration("duration", span.Duration),
		zap.String("service", t.service),
	}
	if span.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", span.ClientIP))
	}

	switch {
	case span.Error != nil:
		fields = append(fields, zap.Error(span.Error))
		t.logger.Error("span completed with error", fields...)
	case span.StatusCode >= 500:
		t.logger.Warn("span completed", fields...)
	default:
		t.logger.Debug("span completed", fields...)
	}
}

// Context keys for request id propagation
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns ctx carrying requestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request id from ctx
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
