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

// Package gemini implements llm.Caller against the Gemini
// text-generation API, with JSON response-mode enabled when available.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	yaml "github.com/goccy/go-yaml"
	"google.golang.org/genai"

	"github.com/googleapis/nl2sql-pipeline/internal/llm"
)

const ProviderKind string = "gemini"

func init() {
	if !llm.Register(ProviderKind, newConfig) {
		panic(fmt.Sprintf("llm provider kind %q already registered", ProviderKind))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (llm.Config, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	if actual.Model == "" {
		return nil, fmt.Errorf("llm provider %q: missing required field: model", name)
	}
	return actual, nil
}

// Config is the YAML configuration for a Gemini LLM provider.
type Config struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Model  string `yaml:"model" validate:"required"`
	ApiKey string `yaml:"apiKey,omitempty"`
	// MaxAttempts bounds the transport-level retry count on
	// LLMUnavailable (spec §7: "up to 2 attempts"); default 2.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

var _ llm.Config = Config{}

func (c Config) ProviderKind() string { return ProviderKind }

func (c Config) Initialize() (llm.Caller, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if c.ApiKey != "" {
		cc.APIKey = c.ApiKey
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: unable to create client: %w", err)
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &caller{client: client, model: c.Model, maxAttempts: uint(maxAttempts)}, nil
}

var _ llm.Caller = (*caller)(nil)

type caller struct {
	client      *genai.Client
	model       string
	maxAttempts uint
}

func (c *caller) GenerateJSON(ctx context.Context, prompt string, opts llm.Options) (map[string]any, error) {
	timeout := 30 * time.Second
	if opts.TimeoutMS > 0 {
		timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	genConfig := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if opts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	operation := func() (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.model,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(fmt.Errorf("%w: %v", llm.ErrUnavailable, err))
			}
			return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
		}
		text := resp.Text()
		if text == "" {
			return "", backoff.Permanent(fmt.Errorf("%w: empty response", llm.ErrRefusal))
		}
		return text, nil
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return nil, err
	}

	return llm.ExtractJSONObject(text)
}
