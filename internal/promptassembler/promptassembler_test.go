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

package promptassembler

import (
	"context"
	"strings"
	"testing"

	"github.com/googleapis/nl2sql-pipeline/internal/graph"
	"github.com/googleapis/nl2sql-pipeline/internal/ranker"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New("shop")
	s.AddTable("orders", schema.Table{Columns: []schema.Column{
		{Name: "id", Type: "int", PrimaryKey: true},
		{Name: "customer_id", Type: "int"},
		{Name: "status", Type: "varchar"},
		{Name: "total", Type: "decimal"},
	}})
	s.AddTable("customers", schema.Table{Columns: []schema.Column{
		{Name: "id", Type: "int", PrimaryKey: true},
		{Name: "name", Type: "varchar"},
	}})
	return s
}

func TestAssembleIncludesQuestionAndOutputFormat(t *testing.T) {
	s := testSchema(t)
	out := Assemble(Input{ResolvedQuestion: "how many orders shipped", Schema: s})
	if !strings.Contains(out, "## Question") || !strings.Contains(out, "how many orders shipped") {
		t.Error("expected the resolved question to be rendered")
	}
	if !strings.Contains(out, "## Output format") || !strings.Contains(out, `"select"`) {
		t.Error("expected the IR structural description to be rendered")
	}
}

func TestAssembleFallsBackToCompactSchemaWithoutRanker(t *testing.T) {
	s := testSchema(t)
	out := Assemble(Input{ResolvedQuestion: "q", Schema: s})
	if !strings.Contains(out, "CREATE TABLE orders") || !strings.Contains(out, "CREATE TABLE customers") {
		t.Errorf("expected every table to be rendered in the compact fallback: %s", out)
	}
}

func TestAssemblePrunedSchemaOnlyRendersRankedTables(t *testing.T) {
	s := testSchema(t)
	c := schema.ToCanonical(context.Background(), s, nil)
	g := graph.Build(c)

	ranked := []ranker.RankedNode{
		{NodeID: graph.TableNodeID("orders"), Score: 0.9},
		{NodeID: graph.ColumnNodeID("orders", "id"), Score: 0.8},
		{NodeID: graph.ColumnNodeID("orders", "status"), Score: 0.7},
	}

	out := Assemble(Input{
		ResolvedQuestion: "q",
		Ranked:           ranked,
		Schema:           s,
		Canonical:        c,
		Graph:            g,
	})
	if !strings.Contains(out, "CREATE TABLE orders") {
		t.Errorf("expected orders to be rendered: %s", out)
	}
	if strings.Contains(out, "CREATE TABLE customers") {
		t.Errorf("expected customers to be pruned out: %s", out)
	}
	if !strings.Contains(out, "id") || !strings.Contains(out, "status") {
		t.Errorf("expected ranked columns id and status to be rendered: %s", out)
	}
	if strings.Contains(out, "customer_id") || strings.Contains(out, "total") {
		t.Errorf("expected unranked columns to be pruned out: %s", out)
	}
}

func TestAssembleIncludesExamplesAndHistory(t *testing.T) {
	s := testSchema(t)
	out := Assemble(Input{
		ResolvedQuestion: "q",
		Schema:           s,
		RAGExamples:      []store.RAGExample{{Question: "how many customers", SQL: "SELECT COUNT(*) FROM customers"}},
		History:          []store.Turn{{Question: "prior question", SQL: "SELECT 1"}},
	})
	if !strings.Contains(out, "## Examples") || !strings.Contains(out, "how many customers") {
		t.Error("expected RAG examples to be rendered")
	}
	if !strings.Contains(out, "## Conversation") || !strings.Contains(out, "prior question") {
		t.Error("expected conversation history to be rendered")
	}
}

func TestAssembleCompactColumnsCap(t *testing.T) {
	s := testSchema(t)
	out := Assemble(Input{ResolvedQuestion: "q", Schema: s, CompactColumns: 2})
	if !strings.Contains(out, "CREATE TABLE orders (id INT, customer_id INT);") {
		t.Errorf("expected orders to be capped to its first 2 prioritized columns: %s", out)
	}
}
