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

// Package cmd's infer.go is adapted from the teacher's
// internal/cli/invoke/command.go: same "parse args, build resources,
// invoke, marshal result" body shape, retargeted from invoking a named
// MCP tool to running the inference pipeline for one natural-language
// question.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/googleapis/nl2sql-pipeline/internal/config"
	"github.com/googleapis/nl2sql-pipeline/internal/embeddingmodels"
	"github.com/googleapis/nl2sql-pipeline/internal/llm"
	"github.com/googleapis/nl2sql-pipeline/internal/pipeline"
	"github.com/googleapis/nl2sql-pipeline/internal/ranker"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
	"github.com/googleapis/nl2sql-pipeline/internal/store/rediskv"
)

// inferOptions holds the invoke-time flags, separate from the
// persistent root-command flags.
type inferOptions struct {
	schemaPath     string
	conversationID string
	databaseID     string
	llmName        string
	embeddingName  string
}

func newInferCommand(root RootCommand) *cobra.Command {
	opts := &inferOptions{}

	cmd := &cobra.Command{
		Use:   "infer <question>",
		Short: "Resolve a natural-language question into SQL",
		Long: `Run the full inference pipeline for one question: resolve
conversational context, rank and prune the schema, call the configured
LLM for a structured query, validate and compile it to SQL.

Example:
  nl2sql --config pipeline.yaml infer "how many orders shipped last week"`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runInfer(c, args[0], opts, root)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.schemaPath, "schema", "", "path to a JSON schema document (required)")
	flags.StringVar(&opts.conversationID, "conversation-id", "", "conversation id to resume; a new one is minted if omitted")
	flags.StringVar(&opts.databaseID, "database-id", "", "database id, set on the pipeline request; not recorded in the result or history")
	flags.StringVar(&opts.llmName, "llm", "", "named LLM config to use; defaults to the only configured entry")
	flags.StringVar(&opts.embeddingName, "embedding-model", "", "named embedding model config to use for the ranker's encoder")

	return cmd
}

func runInfer(cmd *cobra.Command, question string, opts *inferOptions, root RootCommand) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx, shutdown, err := root.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(ctx)
	}()

	if err := root.LoadConfig(ctx); err != nil {
		return err
	}
	cfg := root.Config()

	if opts.schemaPath == "" {
		errMsg := fmt.Errorf("--schema is required")
		root.Logger().ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	sch, err := loadSchema(opts.schemaPath)
	if err != nil {
		root.Logger().ErrorContext(ctx, err.Error())
		return err
	}

	p, err := buildPipeline(ctx, cfg, opts, root)
	if err != nil {
		root.Logger().ErrorContext(ctx, err.Error())
		return err
	}

	result, err := p.Execute(ctx, pipeline.Request{
		Question:       question,
		ConversationID: opts.conversationID,
		DatabaseID:     opts.databaseID,
		Schema:         sch,
	})
	if err != nil {
		errMsg := fmt.Errorf("inference failed: %w", err)
		root.Logger().ErrorContext(ctx, errMsg.Error())
		return errMsg
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		errMsg := fmt.Errorf("failed to marshal result: %w", err)
		root.Logger().ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	fmt.Fprintln(root.Out(), string(output))
	return nil
}

func loadSchema(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read schema file %q: %w", path, err)
	}
	var sch schema.Schema
	if err := json.Unmarshal(data, &sch); err != nil {
		return nil, fmt.Errorf("unable to parse schema file %q: %w", path, err)
	}
	return &sch, nil
}

// buildPipeline resolves every named collaborator cfg describes
// (store backend, LLM provider, embedding model, GAT ranker weights)
// into a ready-to-run *pipeline.Pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, opts *inferOptions, root RootCommand) (*pipeline.Pipeline, error) {
	caller, err := resolveLLM(cfg, opts.llmName)
	if err != nil {
		return nil, err
	}

	schemaCache, convos, err := resolveStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model, err := resolveRanker(cfg, opts.embeddingName)
	if err != nil {
		// A missing or misconfigured ranker disables ranking rather than
		// failing the whole pipeline (spec §6.3's failure semantics).
		root.Logger().WarnContext(ctx, "ranker unavailable, proceeding unranked", "error", err)
		model = nil
	}

	slogLogger := root.Logger().SlogLogger()
	return pipeline.New(cfg, model, caller, schemaCache, convos, store.NoopFeedbackStore{}, root.Tracer(), slogLogger), nil
}

func resolveLLM(cfg *config.Config, name string) (llm.Caller, error) {
	llmCfg, err := pickNamed("llm", name, cfg.LLM)
	if err != nil {
		return nil, err
	}
	return llmCfg.Initialize()
}

func resolveRanker(cfg *config.Config, embeddingName string) (*ranker.Model, error) {
	if cfg.RankerWeightsPath == "" {
		return nil, fmt.Errorf("rankerWeightsPath not configured")
	}
	embCfg, err := pickNamed("embeddingModel", embeddingName, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	encoder, err := embCfg.Initialize()
	if err != nil {
		return nil, fmt.Errorf("unable to initialize embedding model: %w", err)
	}
	return ranker.Load(cfg.RankerWeightsPath, encoder)
}

func resolveStores(ctx context.Context, cfg *config.Config) (store.SchemaCache, store.ConversationStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		client, err := rediskv.New(ctx, rediskv.Config{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			MaxTurns: cfg.Store.MaxTurns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to redis store: %w", err)
		}
		return client.SchemaCache(), client.ConversationStore(), nil
	default:
		return store.NewInMemorySchemaCache(), store.NewInMemoryConversationStore(cfg.Store.MaxTurns, cfg.Store.TTL), nil
	}
}

// pickNamed resolves a named collaborator config: the caller-supplied
// name if given, else the sole entry if there is exactly one.
func pickNamed[T any](kind, name string, configs map[string]T) (T, error) {
	var zero T
	if name != "" {
		cfg, ok := configs[name]
		if !ok {
			return zero, fmt.Errorf("%s %q not found in configuration", kind, name)
		}
		return cfg, nil
	}
	if len(configs) == 1 {
		for _, cfg := range configs {
			return cfg, nil
		}
	}
	return zero, fmt.Errorf("no %s specified and configuration does not have exactly one entry to default to", kind)
}
