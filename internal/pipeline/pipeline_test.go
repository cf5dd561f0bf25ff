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

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/googleapis/nl2sql-pipeline/internal/config"
	"github.com/googleapis/nl2sql-pipeline/internal/llm"
	"github.com/googleapis/nl2sql-pipeline/internal/pipelineerr"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Dialect:         "postgres",
		TopK:            config.DefaultTopK,
		LLMTimeout:      time.Second,
		RankerTimeout:   time.Second,
		PipelineTimeout: 2 * time.Second,
		Store:           config.StoreConfig{Backend: config.StoreBackendMemory},
	}
}

func testSchema() *schema.Schema {
	s := schema.New("shop")
	s.AddTable("orders", schema.Table{Columns: []schema.Column{
		{Name: "id", Type: "int", PrimaryKey: true},
		{Name: "status", Type: "string"},
	}})
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validIRResponse() map[string]any {
	return map[string]any{
		"select":     []any{"orders.id"},
		"from_table": "orders",
		"where": []any{
			map[string]any{
				"left":     "orders.status",
				"operator": "=",
				"right":    map[string]any{"type": "literal", "value": "active"},
			},
		},
		"confidence": 0.9,
	}
}

func invalidIRResponse() map[string]any {
	return map[string]any{
		"select":     []any{"orders.id"},
		"from_table": "does_not_exist",
		"where":      []any{},
		"confidence": 0.5,
	}
}

// scriptedCaller returns one response per call, in order, repeating the
// last entry once exhausted.
type scriptedCaller struct {
	responses []map[string]any
	errs      []error
	calls     int
}

func (c *scriptedCaller) GenerateJSON(ctx context.Context, prompt string, opts llm.Options) (map[string]any, error) {
	i := c.calls
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return c.responses[i], nil
}

type blockingCaller struct{}

func (blockingCaller) GenerateJSON(ctx context.Context, prompt string, opts llm.Options) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestPipeline(caller llm.Caller) (*Pipeline, store.ConversationStore) {
	convos := store.NewInMemoryConversationStore(0, 0)
	p := New(testConfig(), nil, caller, store.NewInMemorySchemaCache(), convos, nil, noop.NewTracerProvider().Tracer("test"), testLogger())
	return p, convos
}

func TestExecuteHappyPathProducesSQL(t *testing.T) {
	caller := &scriptedCaller{responses: []map[string]any{validIRResponse()}}
	p, _ := newTestPipeline(caller)

	result, err := p.Execute(context.Background(), Request{
		Question:   "which orders are active?",
		Schema:     testSchema(),
		DatabaseID: "shop",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(strings.ToLower(result.SQL), "orders") {
		t.Errorf("SQL = %q, want it to reference orders", result.SQL)
	}
	if result.Params == nil {
		t.Error("Params = nil, want a (possibly empty) binding map")
	}
	if caller.calls != 1 {
		t.Errorf("calls = %d, want 1 (no correction round needed)", caller.calls)
	}
}

func TestExecuteCorrectsInvalidIRThenSucceeds(t *testing.T) {
	caller := &scriptedCaller{responses: []map[string]any{invalidIRResponse(), validIRResponse()}}
	p, _ := newTestPipeline(caller)

	result, err := p.Execute(context.Background(), Request{
		Question: "which orders are active?",
		Schema:   testSchema(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if caller.calls != 2 {
		t.Errorf("calls = %d, want 2 (one correction round)", caller.calls)
	}
	if result.SQL == "" {
		t.Error("SQL is empty after a successful correction round")
	}
}

func TestExecuteReturnsIRInvalidAfterFailedCorrection(t *testing.T) {
	caller := &scriptedCaller{responses: []map[string]any{invalidIRResponse(), invalidIRResponse()}}
	p, _ := newTestPipeline(caller)

	_, err := p.Execute(context.Background(), Request{
		Question: "which orders are active?",
		Schema:   testSchema(),
	})
	if err == nil {
		t.Fatal("expected an error when both attempts fail validation")
	}
	var perr *pipelineerr.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want a *pipelineerr.Error", err)
	}
	if perr.Kind != pipelineerr.IRInvalid {
		t.Errorf("Kind = %v, want IRInvalid", perr.Kind)
	}
	if caller.calls != 2 {
		t.Errorf("calls = %d, want exactly one correction round (2 total)", caller.calls)
	}
}

func TestExecuteLLMUnavailable(t *testing.T) {
	caller := &scriptedCaller{
		responses: []map[string]any{nil},
		errs:      []error{errors.New("upstream refused the connection")},
	}
	p, _ := newTestPipeline(caller)

	_, err := p.Execute(context.Background(), Request{
		Question: "which orders are active?",
		Schema:   testSchema(),
	})
	if err == nil {
		t.Fatal("expected an error when the LLM call fails")
	}
	var perr *pipelineerr.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want a *pipelineerr.Error", err)
	}
	if perr.Kind != pipelineerr.LLMUnavailable {
		t.Errorf("Kind = %v, want LLMUnavailable", perr.Kind)
	}
	if !perr.Retryable() {
		t.Error("LLMUnavailable should be retryable per the error taxonomy")
	}
}

func TestExecuteMintsConversationIDWhenEmpty(t *testing.T) {
	caller := &scriptedCaller{responses: []map[string]any{validIRResponse()}}
	p, _ := newTestPipeline(caller)

	result, err := p.Execute(context.Background(), Request{
		Question: "which orders are active?",
		Schema:   testSchema(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil result")
	}
}

func TestExecuteAppendsConversationHistory(t *testing.T) {
	caller := &scriptedCaller{responses: []map[string]any{validIRResponse()}}
	p, convos := newTestPipeline(caller)

	req := Request{
		Question:       "which orders are active?",
		Schema:         testSchema(),
		ConversationID: "conv-1",
	}
	if _, err := p.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	turns, err := convos.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if len(turns[0].Tables) == 0 || turns[0].Tables[0] != "orders" {
		t.Errorf("Tables = %v, want [orders]", turns[0].Tables)
	}
}

func TestExecutePipelineTimeoutExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.PipelineTimeout = 20 * time.Millisecond
	cfg.LLMTimeout = time.Second

	p := New(cfg, nil, blockingCaller{}, store.NewInMemorySchemaCache(), store.NewInMemoryConversationStore(0, 0), nil, noop.NewTracerProvider().Tracer("test"), testLogger())

	_, err := p.Execute(context.Background(), Request{
		Question: "which orders are active?",
		Schema:   testSchema(),
	})
	if err == nil {
		t.Fatal("expected an error once the pipeline deadline is exceeded")
	}
	var perr *pipelineerr.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want a *pipelineerr.Error", err)
	}
	if perr.Kind != pipelineerr.PipelineTimeout {
		t.Errorf("Kind = %v, want PipelineTimeout", perr.Kind)
	}
}
