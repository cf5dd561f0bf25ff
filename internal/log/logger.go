// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Logger is the interface the rest of the module logs through. Both
// StdLogger and StructuredLogger satisfy it.
type Logger interface {
	DebugContext(ctx context.Context, msg string, keysAndValues ...any)
	InfoContext(ctx context.Context, msg string, keysAndValues ...any)
	WarnContext(ctx context.Context, msg string, keysAndValues ...any)
	ErrorContext(ctx context.Context, msg string, keysAndValues ...any)
	SlogLogger() *slog.Logger
}

// NewValueTextHandler returns a slog.Handler that renders records as
// space-separated key=value pairs, annotated with the active trace
// span when the logging context carries one.
func NewValueTextHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	return handlerWithSpanContext(slog.NewTextHandler(w, opts))
}

// spanContextHandler wraps a slog.Handler and attaches the trace and
// span ids of the active OpenTelemetry span, if any, to every record.
type spanContextHandler struct {
	slog.Handler
}

// handlerWithSpanContext wraps inner so records emitted through it
// carry the calling context's trace and span ids, letting log lines
// be correlated with traces in Cloud Logging/Trace.
func handlerWithSpanContext(inner slog.Handler) slog.Handler {
	return &spanContextHandler{Handler: inner}
}

func (h *spanContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		r.AddAttrs(
			slog.String("logging.googleapis.com/trace", span.TraceID().String()),
			slog.String("logging.googleapis.com/spanId", span.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *spanContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *spanContextHandler) WithGroup(name string) slog.Handler {
	return &spanContextHandler{Handler: h.Handler.WithGroup(name)}
}
