// Package shared holds small cross-cutting helpers used by every layer of
// the render farm backend: context-carried trace ids and log redaction.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// WithTraceID attaches a trace id to ctx for correlating a request across
// the API handler, store, and renderer log lines.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried on ctx, or "-" if none was attached.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID mints a fresh trace id for a request that doesn't already
// carry one.
func NewTraceID() string {
	return uuid.NewString()
}
