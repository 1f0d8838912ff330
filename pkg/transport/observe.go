package transport

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() { logger.Store(zap.NewNop()) }

// SetLogger installs the logger used for transport events. The package never
// configures logging on its own; the default discards everything.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l.Named("transport"))
}

func lg() *zap.Logger { return logger.Load() }

// tracer follows whatever provider is installed globally, no-op by default.
var tracer = otel.Tracer("github.com/MichaAI/multidustry/pkg/transport")

func startSpan(ctx context.Context, name string, key Key) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("transport.service", key.Service.String()),
		attribute.String("transport.request", key.Request),
		attribute.String("transport.response", key.Response),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func keyFields(key Key) []zap.Field {
	return []zap.Field{
		zap.Stringer("service", key.Service),
		zap.String("request", key.Request),
		zap.String("response", key.Response),
		zap.String("digest", key.Digest()),
	}
}
