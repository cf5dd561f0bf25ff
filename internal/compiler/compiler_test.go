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

package compiler

import (
	"strings"
	"testing"

	"github.com/googleapis/nl2sql-pipeline/internal/ir"
)

func TestCompileSimpleSelect(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Where: []ir.Predicate{{
			Left:     ir.Expression{Kind: ir.ExprColumn, Column: "orders.status"},
			Operator: ir.OpEq,
			Right:    &ir.Expression{Kind: ir.ExprLiteral, Value: "shipped"},
		}},
	}
	result, err := Compile(q, Lookup("postgres"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(result.SQL, `"orders"."id"`) || !strings.Contains(result.SQL, `"orders"."status"`) {
		t.Errorf("SQL = %q, want quoted orders.id and orders.status", result.SQL)
	}
	if !strings.Contains(result.SQL, ":p_0") {
		t.Errorf("SQL = %q, want a :p_0 placeholder", result.SQL)
	}
	if result.Params["p_0"] != "shipped" {
		t.Errorf("Params = %v, want p_0=shipped", result.Params)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	build := func() *ir.Query {
		return &ir.Query{
			Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
			From:   "orders",
			Where: []ir.Predicate{{
				Left:     ir.Expression{Kind: ir.ExprColumn, Column: "orders.total"},
				Operator: ir.OpGt,
				Right:    &ir.Expression{Kind: ir.ExprLiteral, Value: float64(10)},
			}},
		}
	}
	r1, err := Compile(build(), Lookup("postgres"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	r2, err := Compile(build(), Lookup("postgres"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r1.SQL != r2.SQL {
		t.Errorf("SQL differs across identical compiles: %q vs %q", r1.SQL, r2.SQL)
	}
}

func TestCompileCountStar(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{
			Kind: ir.ExprAggregate,
			Name: ir.AggCount,
			Args: []ir.Expression{{Kind: ir.ExprColumn, Column: "*"}},
		}},
		From: "orders",
	}
	result, err := Compile(q, Lookup("postgres"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(result.SQL, "COUNT(*)") {
		t.Errorf("SQL = %q, want COUNT(*)", result.SQL)
	}
}

func TestCompileBetweenRequiresTwoBounds(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Where: []ir.Predicate{{
			Left:      ir.Expression{Kind: ir.ExprColumn, Column: "orders.total"},
			Operator:  ir.OpBetween,
			RightList: []ir.Expression{{Kind: ir.ExprLiteral, Value: float64(1)}},
		}},
	}
	if _, err := Compile(q, Lookup("postgres")); err == nil {
		t.Fatal("expected an error for BETWEEN with one bound")
	}
}

func TestCompileCTE(t *testing.T) {
	q := &ir.Query{
		CTEs: []ir.CTE{{
			Name: "recent",
			Query: &ir.Query{
				Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "id"}},
				From:   "orders",
			},
		}},
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "recent.id"}},
		From:   "recent",
	}
	result, err := Compile(q, Lookup("postgres"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.HasPrefix(result.SQL, `WITH "recent" AS (`) {
		t.Errorf("SQL = %q, want a leading WITH clause", result.SQL)
	}
}

func TestCompileUnknownDialectFallsBackToANSI(t *testing.T) {
	d := Lookup("does-not-exist")
	if d.Name() != "ansi" {
		t.Errorf("Lookup(unknown) = %q, want ansi", d.Name())
	}
}

func TestQuoteIdentEscapesDoubledDelimiter(t *testing.T) {
	d := Lookup("mysql")
	got := d.QuoteIdent("weird`name")
	want := "`weird``name`"
	if got != want {
		t.Errorf("QuoteIdent = %q, want %q", got, want)
	}
}

func TestToBoundSQLRebindsPlaceholders(t *testing.T) {
	q := &ir.Query{
		Select: []ir.Expression{{Kind: ir.ExprColumn, Column: "orders.id"}},
		From:   "orders",
		Where: []ir.Predicate{{
			Left:     ir.Expression{Kind: ir.ExprColumn, Column: "orders.status"},
			Operator: ir.OpEq,
			Right:    &ir.Expression{Kind: ir.ExprLiteral, Value: "shipped"},
		}},
	}
	d := Lookup("postgres")
	result, err := Compile(q, d)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	sql, args, err := ToBoundSQL(d, result.SQL, result.Params)
	if err != nil {
		t.Fatalf("ToBoundSQL: %v", err)
	}
	if !strings.Contains(sql, "$1") {
		t.Errorf("sql = %q, want a $1 placeholder", sql)
	}
	if len(args) != 1 || args[0] != "shipped" {
		t.Errorf("args = %v, want [shipped]", args)
	}
}
