// Copyright 2026 Google LLC
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

package gemini_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/googleapis/nl2sql-pipeline/internal/config"
	"github.com/googleapis/nl2sql-pipeline/internal/embeddingmodels/gemini"
)

func TestParseFromYamlGemini(t *testing.T) {
	tcs := []struct {
		desc string
		in   string
		want config.EmbeddingModelConfigs
	}{
		{
			desc: "basic example",
			in: `
my-gemini-model:
  kind: gemini
  model: text-embedding-004
`,
			want: config.EmbeddingModelConfigs{
				"my-gemini-model": gemini.Config{
					Name:  "my-gemini-model",
					Kind:  gemini.EmbeddingModelKind,
					Model: "text-embedding-004",
				},
			},
		},
		{
			desc: "full example with optional fields",
			in: `
complex-gemini:
  kind: gemini
  model: text-embedding-004
  apiKey: "test-api-key"
  dimension: 768
`,
			want: config.EmbeddingModelConfigs{
				"complex-gemini": gemini.Config{
					Name:      "complex-gemini",
					Kind:      gemini.EmbeddingModelKind,
					Model:     "text-embedding-004",
					ApiKey:    "test-api-key",
					Dimension: 768,
				},
			},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			var got config.EmbeddingModelConfigs
			if err := got.UnmarshalYAML(context.Background(), []byte(tc.in)); err != nil {
				t.Fatalf("unable to unmarshal: %s", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("incorrect parse (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailParseFromYamlGemini(t *testing.T) {
	tcs := []struct {
		desc      string
		in        string
		wantError string
	}{
		{
			desc: "missing required model field",
			in: `
bad-model:
  kind: gemini
`,
			wantError: "missing required field: model",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			var got config.EmbeddingModelConfigs
			err := got.UnmarshalYAML(context.Background(), []byte(tc.in))
			if err == nil {
				t.Fatal("expected parsing to fail")
			}
			if !strings.Contains(err.Error(), tc.wantError) {
				t.Fatalf("unexpected error:\ngot:  %q\nwant substring: %q", err.Error(), tc.wantError)
			}
		})
	}
}
