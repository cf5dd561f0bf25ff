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

// Package embeddingmodels provides the sentence-encoder collaborator
// (spec §6.2): a pluggable Encoder producing a fixed-dimensional
// vector for a piece of text. The GAT ranker uses an Encoder both for
// the question embedding and for each node's text embedding.
package embeddingmodels

import (
	"context"
	"fmt"

	yaml "github.com/goccy/go-yaml"
)

// Encoder is the narrow interface the ranker depends on. encode(text)
// must be deterministic for a given model and safe for concurrent use.
type Encoder interface {
	// Encode returns a fixed-dimension vector for text.
	Encode(ctx context.Context, text string) ([]float32, error)
	// Dimension reports the fixed output dimension.
	Dimension() int
}

// EmbeddingModelConfigFactory creates and decodes a specific provider's
// configuration from YAML, mirroring the teacher's ToolConfigFactory idiom.
type EmbeddingModelConfigFactory func(ctx context.Context, name string, decoder *yaml.Decoder) (EmbeddingModelConfig, error)

var registry = make(map[string]EmbeddingModelConfigFactory)

// Register associates a "kind" string with a factory function. Called
// from each provider package's init(). Returns false if kind is
// already registered.
func Register(kind string, factory EmbeddingModelConfigFactory) bool {
	if _, exists := registry[kind]; exists {
		return false
	}
	registry[kind] = factory
	return true
}

// DecodeConfig looks up the registered factory for kind and decodes
// the provider configuration from the YAML decoder.
func DecodeConfig(ctx context.Context, kind, name string, decoder *yaml.Decoder) (EmbeddingModelConfig, error) {
	factory, found := registry[kind]
	if !found {
		return nil, fmt.Errorf("unknown embedding model kind: %q", kind)
	}
	cfg, err := factory(ctx, name, decoder)
	if err != nil {
		return nil, fmt.Errorf("unable to parse embedding model %q as kind %q: %w", name, kind, err)
	}
	return cfg, nil
}

// EmbeddingModelConfig is the decoded, provider-specific configuration
// for one named embedding model.
type EmbeddingModelConfig interface {
	EmbeddingModelConfigKind() string
	Initialize() (Encoder, error)
}
