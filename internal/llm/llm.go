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

// Package llm defines the provider-agnostic LLM JSON caller contract
// of spec §4.5/§6.4 and a registry of named provider implementations,
// mirroring the teacher's Register/DecodeConfig idiom for pluggable
// backends.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	yaml "github.com/goccy/go-yaml"
)

// Sentinel errors the orchestrator maps to the §7 error taxonomy.
var (
	ErrUnavailable = errors.New("llm: unavailable")
	ErrParse       = errors.New("llm: parse error")
	ErrRefusal     = errors.New("llm: refusal")
)

// Options configures a single generate_json call (spec §6.4).
type Options struct {
	TimeoutMS      int
	MaxTokens      int
	ResponseFormat string // e.g. "json_object"; providers that support it must enable it
}

// Caller is the generate_json(prompt) -> dict contract of spec §4.5.
// Implementations must be safe for concurrent use and must abort the
// outgoing HTTP request if ctx is cancelled.
type Caller interface {
	GenerateJSON(ctx context.Context, prompt string, opts Options) (map[string]any, error)
}

// ConfigFactory decodes a provider's YAML config block.
type ConfigFactory func(ctx context.Context, name string, decoder *yaml.Decoder) (Config, error)

// Config is a decoded, named LLM provider configuration.
type Config interface {
	ProviderKind() string
	Initialize() (Caller, error)
}

var registry = make(map[string]ConfigFactory)

// Register adds a provider kind to the registry. Returns false if kind
// is already registered, matching the teacher's tools.Register idiom.
func Register(kind string, factory ConfigFactory) bool {
	if _, exists := registry[kind]; exists {
		return false
	}
	registry[kind] = factory
	return true
}

// DecodeConfig decodes a single provider's YAML block via its
// registered factory.
func DecodeConfig(ctx context.Context, kind, name string, decoder *yaml.Decoder) (Config, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider kind %q", kind)
	}
	return factory(ctx, name, decoder)
}

// ExtractJSONObject implements the fallback extraction rule of spec
// §4.5: when a provider has no structured-output mode, pull the first
// balanced {...} substring out of the raw response and parse it.
func ExtractJSONObject(raw string) (map[string]any, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrParse)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var out map[string]any
				if err := json.Unmarshal([]byte(raw[start:i+1]), &out); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrParse, err)
				}
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: unbalanced JSON object in response", ErrParse)
}
