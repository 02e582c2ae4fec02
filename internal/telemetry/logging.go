package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// protocolVersion tags every log line and trace resource with the settlement
// protocol revision the process implements.
const protocolVersion = "v1.0"

// TracingHandler is a slog.Handler that stamps records with the active span's
// trace and span ids, so journal writes, settlement events and HTTP logs can
// be joined against the trace backend.
type TracingHandler struct {
	handler slog.Handler
}

// NewTracingHandler wraps a JSON handler writing to w.
func NewTracingHandler(w io.Writer, opts *slog.HandlerOptions) *TracingHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &TracingHandler{
		handler: slog.NewJSONHandler(w, opts),
	}
}

func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.handler.Handle(ctx, record)
}

func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{handler: h.handler.WithGroup(name)}
}

// Logger is the process-wide structured logger. Nil until InitLogger runs.
var Logger *slog.Logger

// logLevel reads LOG_LEVEL from the environment; unset or unknown means info.
func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger builds the trace-aware JSON logger, tags it with the service
// name and protocol version, and installs it as the slog default.
func InitLogger(serviceName string) {
	handler := NewTracingHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	})

	Logger = slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("protocol_version", protocolVersion),
	)

	slog.SetDefault(Logger)
}
