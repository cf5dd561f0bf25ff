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

// Package pipeline implements the Orchestrator (spec §4.12): it
// composes every stage in order, propagates cancellation, and maps
// each stage's failure onto the error taxonomy of §7.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/googleapis/nl2sql-pipeline/internal/compiler"
	"github.com/googleapis/nl2sql-pipeline/internal/complexity"
	"github.com/googleapis/nl2sql-pipeline/internal/config"
	"github.com/googleapis/nl2sql-pipeline/internal/contextresolver"
	"github.com/googleapis/nl2sql-pipeline/internal/corrector"
	"github.com/googleapis/nl2sql-pipeline/internal/graph"
	"github.com/googleapis/nl2sql-pipeline/internal/ir"
	"github.com/googleapis/nl2sql-pipeline/internal/llm"
	"github.com/googleapis/nl2sql-pipeline/internal/pipelineerr"
	"github.com/googleapis/nl2sql-pipeline/internal/promptassembler"
	"github.com/googleapis/nl2sql-pipeline/internal/ranker"
	"github.com/googleapis/nl2sql-pipeline/internal/sanitizer"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
	"github.com/googleapis/nl2sql-pipeline/internal/telemetry"
	"github.com/googleapis/nl2sql-pipeline/internal/validator"
	"go.opentelemetry.io/otel/trace"
)

// Request is the input to Execute, mirroring spec §4.12's
// execute(question, conversation_id, database_id, schema, history,
// rag_examples) signature. History and RAGExamples are resolved by
// the orchestrator itself from the configured stores, not supplied by
// the caller; they are named here only for documentation parity with
// the spec's signature.
type Request struct {
	Question       string
	ConversationID string
	DatabaseID     string
	Schema         *schema.Schema
}

// Result is the orchestrator's output, matching spec §4.12's return
// shape.
type Result struct {
	OriginalQuestion string
	ResolvedQuestion string
	SQL              string
	Params           map[string]any
	IR               map[string]any
	Confidence       float64
	Ambiguities      []string
	Explanations     []string
	SuggestedFixes   []string
	ExecutionTime    time.Duration
}

// Pipeline holds every collaborator the orchestrator composes. All
// fields are immutable after construction and safe for concurrent use
// across goroutines; per-conversation ordering is enforced internally
// via convLock.
type Pipeline struct {
	cfg      *config.Config
	dialect  compiler.Dialect
	ranker   *ranker.Model // nil disables ranking; pipeline runs unpruned
	caller   llm.Caller
	schemas  store.SchemaCache
	convos   store.ConversationStore
	feedback store.FeedbackStore
	tracer   trace.Tracer
	logger   *slog.Logger

	convMu   sync.Mutex
	convLock map[string]*sync.Mutex
}

// New builds a Pipeline from its resolved collaborators. cfg selects
// timeouts, top_k, and the SQL dialect; model may be nil (ranker
// disabled per spec §6.3's failure semantics).
func New(cfg *config.Config, model *ranker.Model, caller llm.Caller, schemas store.SchemaCache, convos store.ConversationStore, feedback store.FeedbackStore, tracer trace.Tracer, logger *slog.Logger) *Pipeline {
	if feedback == nil {
		feedback = store.NoopFeedbackStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		dialect:  compiler.Lookup(cfg.Dialect),
		ranker:   model,
		caller:   caller,
		schemas:  schemas,
		convos:   convos,
		feedback: feedback,
		tracer:   tracer,
		logger:   logger,
		convLock: make(map[string]*sync.Mutex),
	}
}

// lockConversation returns the mutex for a conversation id, creating
// it on first use. Per spec §5: turn N's write happens-before turn
// N+1's read, for the same conversation; no ordering is promised
// across different conversations, so they never contend on this map
// beyond the brief lookup.
func (p *Pipeline) lockConversation(conversationID string) func() {
	p.convMu.Lock()
	mu, ok := p.convLock[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		p.convLock[conversationID] = mu
	}
	p.convMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Execute runs the full nine-step order of operations of spec §4.12,
// surfacing any failure past the whole-pipeline deadline as
// PipelineTimeout regardless of which stage was in flight when the
// deadline struck.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.ConversationID == "" {
		// A caller with no conversation to resume still needs a stable
		// key for the per-conversation lock and history store; mint one
		// for the lifetime of this single-turn request.
		req.ConversationID = uuid.NewString()
	}

	pipelineTimeout := p.cfg.PipelineTimeout
	if pipelineTimeout <= 0 {
		pipelineTimeout = config.DefaultPipelineTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()

	result, err := p.execute(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, pipelineerr.New(pipelineerr.PipelineTimeout, "pipeline execution exceeded its deadline", err)
	}
	return result, err
}

func (p *Pipeline) execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	unlock := p.lockConversation(req.ConversationID)
	defer unlock()

	ctx, rootSpan := telemetry.StartStage(ctx, p.tracer, "pipeline.Execute", req.ConversationID)
	defer rootSpan.End()

	fingerprint, err := req.Schema.Fingerprint()
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.SchemaMissing, "unable to fingerprint schema", err)
	}
	reqSchema := p.resolveSchema(ctx, fingerprint, req.Schema)

	history, err := p.convos.Get(ctx, req.ConversationID)
	if err != nil {
		p.logger.WarnContext(ctx, "pipeline: conversation history unavailable, proceeding without it", "error", err)
		history = nil
	}
	ragExamples, err := p.feedback.Similar(ctx, req.Question, fingerprint, ragExampleCount)
	if err != nil {
		p.logger.WarnContext(ctx, "pipeline: RAG feedback unavailable, proceeding without examples", "error", err)
		ragExamples = nil
	}

	// 1. Context resolve.
	resolved := p.resolveContext(ctx, req.Question, history)

	canonical := schema.ToCanonical(ctx, reqSchema, p.logger)
	g := graph.Build(canonical)

	// 2. GAT ranker (best-effort), then intelligent fallback.
	ranked := p.rankSchema(ctx, resolved, canonical, g)

	// 3. Prompt assemble.
	prompt := promptassembler.Assemble(promptassembler.Input{
		ResolvedQuestion: resolved,
		Ranked:           ranked,
		Schema:           reqSchema,
		Canonical:        canonical,
		Graph:            g,
		RAGExamples:      ragExamples,
		History:          history,
	})

	// 4. LLM JSON call. 5. Sanitize. 6. Validate, with one correction
	// round on failure.
	validIR, err := p.generateValidIR(ctx, prompt, canonical)
	if err != nil {
		return nil, err
	}

	// 7. Compile.
	ctx, compileSpan := telemetry.StartStage(ctx, p.tracer, "compiler.Compile", req.ConversationID)
	compiled, err := compiler.Compile(validIR, p.dialect)
	telemetry.EndStage(compileSpan, err)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.CompilerError, "unable to compile validated IR", err)
	}

	// 8. Complexity + corrector hints.
	complexityResult := complexity.Analyze(validIR)
	finalSQL, hints := corrector.Correct(compiled.SQL, validIR)

	irJSON, err := irToMap(validIR)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.CompilerError, "unable to render IR for response", err)
	}

	result := &Result{
		OriginalQuestion: req.Question,
		ResolvedQuestion: resolved,
		SQL:              finalSQL,
		Params:           compiled.Params,
		IR:               irJSON,
		Confidence:       validIR.Confidence,
		Ambiguities:      validIR.Ambiguities,
		Explanations:     append(complexityResult.Warnings, string(complexityResult.Level)),
		SuggestedFixes:   hints,
		ExecutionTime:    time.Since(start),
	}

	// 9. Append to conversation history. Cancellation must not leave
	// partial state here (spec §5); ctx is still live at this point
	// because the timeout/cancel above would have already short-
	// circuited the stages preceding this one.
	turnTables := tablesTouched(validIR)
	if err := p.convos.Append(ctx, req.ConversationID, store.Turn{
		Question: resolved,
		SQL:      result.SQL,
		Tables:   turnTables,
		At:       time.Now(),
	}); err != nil {
		p.logger.WarnContext(ctx, "pipeline: failed to append conversation history", "error", err)
	}

	return result, nil
}

// ragExampleCount is the number of RAG examples requested per turn.
const ragExampleCount = 3

// resolveSchema checks the schema cache for fingerprint before trusting
// the caller-supplied schema, and writes it back through on a miss.
// This lets a second pipeline instance serving the next turn of the
// same conversation reuse the already-cached schema object rather than
// re-deriving it from the ingestion collaborator (spec §5's "schema
// cache (fingerprint-keyed)").
func (p *Pipeline) resolveSchema(ctx context.Context, fingerprint string, supplied *schema.Schema) *schema.Schema {
	if p.schemas == nil {
		return supplied
	}
	if cached, ok, err := p.schemas.Get(ctx, fingerprint); err == nil && ok {
		return cached
	}
	if err := p.schemas.Put(ctx, fingerprint, supplied, schemaCacheTTL); err != nil {
		p.logger.WarnContext(ctx, "pipeline: failed to populate schema cache", "error", err)
	}
	return supplied
}

// schemaCacheTTL bounds how long a cached schema is trusted before the
// orchestrator prefers a freshly supplied one again.
const schemaCacheTTL = time.Hour

func (p *Pipeline) resolveContext(ctx context.Context, question string, history []store.Turn) string {
	_, span := telemetry.StartStage(ctx, p.tracer, "contextresolver.Resolve", "")
	defer span.End()
	return contextresolver.Resolve(question, history)
}

// rankSchema runs the GAT ranker under its advisory timeout and then
// the intelligent fallback, degrading to "no pruning" (nil) on any
// failure, per spec §4.2/§6.3.
func (p *Pipeline) rankSchema(ctx context.Context, question string, c *schema.Canonical, g *graph.Graph) []ranker.RankedNode {
	if p.ranker == nil {
		return nil
	}

	rankerTimeout := p.cfg.RankerTimeout
	if rankerTimeout <= 0 {
		rankerTimeout = config.DefaultRankerTimeout
	}
	rankCtx, cancel := context.WithTimeout(ctx, rankerTimeout)
	defer cancel()

	rankCtx, span := telemetry.StartStage(rankCtx, p.tracer, "ranker.ScoreNodes", "")
	topK := p.cfg.TopK
	if topK <= 0 {
		topK = config.DefaultTopK
	}
	initial, err := p.ranker.ScoreNodes(rankCtx, question, c, g, topK)
	telemetry.EndStage(span, err)
	if err != nil {
		p.logger.WarnContext(ctx, "pipeline: ranker unavailable, proceeding unpruned", "error", err)
		return nil
	}

	return ranker.Augment(question, initial, c, g)
}

// generateValidIR performs steps 4-6: call the LLM, sanitize its
// output, validate it, and retry once with a correction prompt if
// invalid, per spec §4.12.
func (p *Pipeline) generateValidIR(ctx context.Context, prompt string, c *schema.Canonical) (*ir.Query, error) {
	raw, err := p.callLLM(ctx, prompt)
	if err != nil {
		return nil, err
	}
	clean := sanitizer.Sanitize(raw)
	result := validator.Validate(clean, c)
	if result.Valid {
		return result.IR, nil
	}

	correctionPrompt := buildCorrectionPrompt(prompt, result.Diagnostics)
	raw2, err := p.callLLM(ctx, correctionPrompt)
	if err != nil {
		return nil, err
	}
	clean2 := sanitizer.Sanitize(raw2)
	result2 := validator.Validate(clean2, c)
	if result2.Valid {
		return result2.IR, nil
	}

	return nil, pipelineerr.New(pipelineerr.IRInvalid, "IR failed validation after one correction round", nil).
		WithDetail("diagnostics", result2.Diagnostics)
}

func (p *Pipeline) callLLM(ctx context.Context, prompt string) (map[string]any, error) {
	llmTimeout := p.cfg.LLMTimeout
	if llmTimeout <= 0 {
		llmTimeout = config.DefaultLLMTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	ctx, span := telemetry.StartStage(ctx, p.tracer, "llm.GenerateJSON", "")
	raw, err := p.caller.GenerateJSON(ctx, prompt, llm.Options{
		TimeoutMS:      int(llmTimeout.Milliseconds()),
		ResponseFormat: "json_object",
	})
	telemetry.EndStage(span, err)
	if err != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, pipelineerr.New(pipelineerr.LLMUnavailable, "LLM call timed out", err)
		case errors.Is(err, llm.ErrParse):
			return nil, pipelineerr.New(pipelineerr.LLMParseError, "LLM response could not be parsed as JSON", err)
		case errors.Is(err, llm.ErrRefusal):
			return nil, pipelineerr.New(pipelineerr.LLMRefusal, "LLM refused or returned an empty response", err)
		default:
			return nil, pipelineerr.New(pipelineerr.LLMUnavailable, "LLM call failed", err)
		}
	}
	return raw, nil
}

func buildCorrectionPrompt(original string, diags []validator.Diagnostic) string {
	msg := "## Correction\nThe previous response produced an invalid query. Fix the following issues and return a corrected JSON object:\n"
	for _, d := range diags {
		msg += fmt.Sprintf("- [%s] %s (%s)\n", d.Kind, d.Message, d.Path)
	}
	return original + "\n" + msg
}

// irToMap round-trips the validated IR through its JSON wire shape so
// the response can carry it as a plain map without exposing the
// internal ir.Query struct to callers outside the module.
func irToMap(q *ir.Query) (map[string]any, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// tablesTouched collects the distinct table names a query reads from,
// recorded on the conversation turn so the Context Resolver can
// reference "those tables" on a later back-referencing question.
func tablesTouched(q *ir.Query) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	add(q.From)
	for _, j := range q.Joins {
		add(j.Table)
	}
	for _, cte := range q.CTEs {
		if cte.Query != nil {
			for _, t := range tablesTouched(cte.Query) {
				add(t)
			}
		}
	}
	return out
}
