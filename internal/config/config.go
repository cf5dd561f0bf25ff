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

// Package config decodes the single YAML file that wires together a
// running pipeline: which LLM and embedding model to call, which
// store backend to persist conversation/schema state to, which SQL
// dialect to compile for, and the timeout/top_k knobs spec §9 leaves
// as an open, documented default rather than a fixed constant.
package config

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "github.com/goccy/go-yaml"

	"github.com/googleapis/nl2sql-pipeline/internal/embeddingmodels"
	"github.com/googleapis/nl2sql-pipeline/internal/llm"
)

// DefaultTopK is the middle of the source's observed top_k range
// (15/25/50); see DESIGN.md Open Question 2.
const DefaultTopK = 25

const (
	DefaultLLMTimeout      = 30 * time.Second
	DefaultRankerTimeout   = 5 * time.Second
	DefaultPipelineTimeout = 60 * time.Second
)

// StoreBackend selects the conversation/schema-cache implementation.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

// RedisConfig configures the Redis-backed store, used only when
// Store.Backend is StoreBackendRedis.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required_if=Backend redis"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// StoreConfig selects and configures conversation/schema persistence.
type StoreConfig struct {
	Backend  StoreBackend  `yaml:"backend" validate:"required,oneof=memory redis"`
	MaxTurns int           `yaml:"maxTurns,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
	Redis    RedisConfig   `yaml:"redis,omitempty"`
}

// Config is the top-level pipeline configuration, decoded from a
// single YAML document.
type Config struct {
	// Dialect names a registered compiler.Dialect ("postgres", "mysql",
	// "mssql", "sqlite", "ansi").
	Dialect string `yaml:"dialect" validate:"required"`

	// TopK is the number of schema nodes score_nodes keeps before the
	// intelligent fallback augments the set (spec §4.2/§4.3).
	TopK int `yaml:"topK,omitempty"`

	// RankerWeightsPath, if set, is loaded at startup into the GAT
	// ranker. If empty, the orchestrator runs every request through
	// the no-ranker fallback rendering path.
	RankerWeightsPath string `yaml:"rankerWeightsPath,omitempty"`

	LLMTimeout      time.Duration `yaml:"llmTimeout,omitempty"`
	RankerTimeout   time.Duration `yaml:"rankerTimeout,omitempty"`
	PipelineTimeout time.Duration `yaml:"pipelineTimeout,omitempty"`

	Store StoreConfig `yaml:"store"`

	// LLM and EmbeddingModel are keyed by a user-chosen name, each
	// entry decoded against the provider registered under its "kind"
	// field (mirrors the teacher's sources/tools YAML shape).
	LLM            LLMConfigs            `yaml:"llm"`
	EmbeddingModel EmbeddingModelConfigs `yaml:"embeddingModel"`
}

// LLMConfigs is a named map of decoded llm.Config entries.
type LLMConfigs map[string]llm.Config

// EmbeddingModelConfigs is a named map of decoded
// embeddingmodels.EmbeddingModelConfig entries.
type EmbeddingModelConfigs map[string]embeddingmodels.EmbeddingModelConfig

// kindOnly is decoded first from each map entry to discover which
// registered factory should decode the rest of the fields.
type kindOnly struct {
	Kind string `yaml:"kind"`
}

// UnmarshalYAML decodes each named entry twice: once to read its Kind,
// then again through the factory the corresponding package registered
// in its init(). This mirrors the two-pass decode the teacher's
// sources/tools YAML loader uses to support a polymorphic map of
// differently-shaped configs under one field.
func (c *LLMConfigs) UnmarshalYAML(ctx context.Context, b []byte) error {
	var raw map[string]yaml.MapSlice
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(LLMConfigs, len(raw))
	for name, node := range raw {
		entry, err := yaml.Marshal(node)
		if err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
		var k kindOnly
		if err := yaml.Unmarshal(entry, &k); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(entry))
		cfg, err := llm.DecodeConfig(ctx, k.Kind, name, decoder)
		if err != nil {
			return err
		}
		out[name] = cfg
	}
	*c = out
	return nil
}

func (c *EmbeddingModelConfigs) UnmarshalYAML(ctx context.Context, b []byte) error {
	var raw map[string]yaml.MapSlice
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(EmbeddingModelConfigs, len(raw))
	for name, node := range raw {
		entry, err := yaml.Marshal(node)
		if err != nil {
			return fmt.Errorf("embeddingModel %q: %w", name, err)
		}
		var k kindOnly
		if err := yaml.Unmarshal(entry, &k); err != nil {
			return fmt.Errorf("embeddingModel %q: %w", name, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(entry))
		cfg, err := embeddingmodels.DecodeConfig(ctx, k.Kind, name, decoder)
		if err != nil {
			return err
		}
		out[name] = cfg
	}
	*c = out
	return nil
}

// Load decodes and validates a pipeline configuration document,
// filling in the spec's documented defaults for any knob left zero.
func Load(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.DecodeContext(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse pipeline config: %w", err)
	}

	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.RankerTimeout == 0 {
		cfg.RankerTimeout = DefaultRankerTimeout
	}
	if cfg.PipelineTimeout == 0 {
		cfg.PipelineTimeout = DefaultPipelineTimeout
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	// The required_if tag on RedisConfig.Addr cannot see StoreConfig.Backend,
	// so the redis address requirement is checked here.
	if cfg.Store.Backend == StoreBackendRedis && cfg.Store.Redis.Addr == "" {
		return nil, fmt.Errorf("invalid pipeline config: store.redis.addr is required when store.backend is redis")
	}
	return &cfg, nil
}
