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

// Package telemetry wires up the OpenTelemetry tracer used to span
// each stage of the inference pipeline (spec §4.12): one span per
// stage, nested under a root span for the whole request, so a single
// trace shows context resolution, ranking, the LLM round trip,
// validation, and compilation as a waterfall.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name stages use when calling
// Start, matching the module's import path so spans are attributable
// to this library in a multi-service trace.
const InstrumentationName = "github.com/googleapis/nl2sql-pipeline"

// Config selects how traces are exported.
type Config struct {
	// GoogleCloudProject, if set, exports spans to Cloud Trace in this
	// project. If empty, NewTracerProvider returns a no-op provider.
	GoogleCloudProject string
	// ServiceName labels the resource attached to every span.
	ServiceName string
}

// NewTracerProvider builds a TracerProvider per cfg. Its Shutdown
// method must be called before process exit to flush buffered spans.
func NewTracerProvider(ctx context.Context, cfg Config) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg.GoogleCloudProject == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := texporter.New(texporter.WithProjectID(cfg.GoogleCloudProject))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create cloud trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceNameOrDefault(cfg.ServiceName))),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}

func serviceNameOrDefault(name string) string {
	if name == "" {
		return "nl2sql-pipeline"
	}
	return name
}

// StartStage starts a child span for one named pipeline stage (e.g.
// "ranker.Rank", "llm.GenerateJSON", "compiler.Compile"), tagging it
// with the conversation id when known so stages for the same
// conversation can be correlated across requests.
func StartStage(ctx context.Context, tracer trace.Tracer, stage, conversationID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, stage)
	if conversationID != "" {
		span.SetAttributes(attribute.String("nl2sql.conversation_id", conversationID))
	}
	return ctx, span
}

// EndStage records err on span, if non-nil, and ends it. Call via
// defer immediately after StartStage.
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
