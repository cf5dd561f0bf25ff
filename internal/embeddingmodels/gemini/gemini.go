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

// Package gemini implements embeddingmodels.Encoder against the Gemini
// embeddings API.
package gemini

import (
	"context"
	"fmt"

	yaml "github.com/goccy/go-yaml"
	"google.golang.org/genai"

	"github.com/googleapis/nl2sql-pipeline/internal/embeddingmodels"
)

const EmbeddingModelKind string = "gemini"

func init() {
	if !embeddingmodels.Register(EmbeddingModelKind, newConfig) {
		panic(fmt.Sprintf("embedding model kind %q already registered", EmbeddingModelKind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (embeddingmodels.EmbeddingModelConfig, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	if actual.Model == "" {
		return nil, fmt.Errorf("embedding model %q: missing required field: model", name)
	}
	return actual, nil
}

// Config is the YAML configuration for a Gemini embedding model.
type Config struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Model     string `yaml:"model" validate:"required"`
	ApiKey    string `yaml:"apiKey,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

var _ embeddingmodels.EmbeddingModelConfig = Config{}

func (c Config) EmbeddingModelConfigKind() string { return EmbeddingModelKind }

func (c Config) Initialize() (embeddingmodels.Encoder, error) {
	dim := c.Dimension
	if dim == 0 {
		dim = 768
	}
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if c.ApiKey != "" {
		cc.APIKey = c.ApiKey
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: unable to create client: %w", err)
	}
	return &encoder{client: client, model: c.Model, dim: dim}, nil
}

var _ embeddingmodels.Encoder = (*encoder)(nil)

type encoder struct {
	client *genai.Client
	model  string
	dim    int
}

func (e *encoder) Dimension() int { return e.dim }

func (e *encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	outputDim := int32(e.dim)
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini: empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}
