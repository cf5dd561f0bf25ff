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

package complexity

import "testing"

import "github.com/googleapis/nl2sql-pipeline/internal/ir"

func TestAnalyzeSimpleQuery(t *testing.T) {
	q := &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}}, From: "orders"}
	result := Analyze(q)
	if result.Level != Simple {
		t.Errorf("Level = %q, want %q (score %d)", result.Level, Simple, result.Score)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
}

func TestAnalyzeJoinsRaiseScore(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Joins: []ir.Join{
			{Type: ir.JoinInner, Table: "customers"},
			{Type: ir.JoinInner, Table: "products"},
			{Type: ir.JoinInner, Table: "shipments"},
		},
	}
	result := Analyze(q)
	if result.Score < 6 {
		t.Errorf("Score = %d, want at least 6 for 3 joins", result.Score)
	}
	for _, w := range result.Warnings {
		if w == "" {
			t.Error("empty warning string")
		}
	}
}

func TestAnalyzeWarnsOnManyTables(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Joins: []ir.Join{
			{Type: ir.JoinInner, Table: "a"},
			{Type: ir.JoinInner, Table: "b"},
			{Type: ir.JoinInner, Table: "c"},
		},
	}
	result := Analyze(q)
	found := false
	for _, w := range result.Warnings {
		if w == "query touches 4 tables" {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want a 4-table warning", result.Warnings)
	}
}

func TestAnalyzeDetectsSubqueryInWhere(t *testing.T) {
	inner := &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}}, From: "customers"}
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Where: []ir.Predicate{{
			Left:     ir.Expression{Kind: ir.ExprColumn, Column: "orders.customer_id"},
			Operator: ir.OpIn,
			Right:    &ir.Expression{Kind: ir.ExprSubquery, Subquery: inner},
		}},
	}
	base := Analyze(&ir.Query{Select: q.Select, From: q.From}).Score
	withSub := Analyze(q).Score
	if withSub-base < 10 {
		t.Errorf("subquery should add at least 10 to the score: base=%d withSub=%d", base, withSub)
	}
}

func TestAnalyzeVeryComplexQuery(t *testing.T) {
	q := &ir.Query{
		CTEs: []ir.CTE{
			{Name: "a", Query: &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}}, From: "x"}},
			{Name: "b", Query: &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}}, From: "y"}},
			{Name: "c", Query: &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}}, From: "z"}},
		},
		Select: []ir.Expression{
			{Kind: ir.ExprColumn, Column: "orders.customer_id"},
			{Kind: ir.ExprAggregate, Name: ir.AggSum},
		},
		From:    "orders",
		GroupBy: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.customer_id"}},
		Having:  []ir.Predicate{{Left: ir.Expression{Kind: ir.ExprAggregate, Name: ir.AggSum}, Operator: ir.OpGt, Right: &ir.Expression{Kind: ir.ExprLiteral, Value: float64(10)}}},
		Where: []ir.Predicate{{
			Left:     ir.Expression{Kind: ir.ExprColumn, Column: "orders.customer_id"},
			Operator: ir.OpIn,
			Right:    &ir.Expression{Kind: ir.ExprSubquery, Subquery: &ir.Query{Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}}, From: "vip"}},
		}},
		Joins: []ir.Join{
			{Type: ir.JoinInner, Table: "a"}, {Type: ir.JoinInner, Table: "b"},
			{Type: ir.JoinInner, Table: "c"}, {Type: ir.JoinInner, Table: "d"},
			{Type: ir.JoinInner, Table: "e"}, {Type: ir.JoinInner, Table: "f"},
			{Type: ir.JoinInner, Table: "g"}, {Type: ir.JoinInner, Table: "h"},
		},
	}
	result := Analyze(q)
	if result.Level != VeryComplex {
		t.Errorf("Level = %q, want %q (score %d)", result.Level, VeryComplex, result.Score)
	}
}
