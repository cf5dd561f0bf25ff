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

// Package validator rejects any IR that violates the invariants of
// spec §3.4, attaching diagnostics to every violation (spec §4.7). It
// never mutates the IR it is given.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/googleapis/nl2sql-pipeline/internal/ir"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
)

// Diagnostic is one validation failure: a kind, a human message, and a
// JSON-pointer-ish path into the IR tree.
type Diagnostic struct {
	Kind    string
	Message string
	Path    string
}

// Result is the Validate outcome of spec §4.7: either
// (valid, sanitized_ir, []) or (invalid, ir_as_submitted, diagnostics).
type Result struct {
	Valid       bool
	IR          *ir.Query
	Diagnostics []Diagnostic
}

// Validate runs the 8 ordered checks of spec §4.7 against a sanitized
// raw IR dict and a canonical schema view.
func Validate(raw map[string]any, c *schema.Canonical) Result {
	q, err := decodeQuery(raw)
	if err != nil {
		return Result{Valid: false, Diagnostics: []Diagnostic{{
			Kind: "IRInvalid", Message: fmt.Sprintf("IR does not conform to the expected shape: %v", err), Path: "$",
		}}}
	}

	tables := make(map[string]bool, len(c.TableNamesOriginal))
	for _, t := range c.TableNamesOriginal {
		tables[t] = true
	}
	cteNames := make(map[string]bool, len(q.CTEs))
	for _, cte := range q.CTEs {
		cteNames[cte.Name] = true
	}
	// aliasTable maps a referenceable name (table name, join alias, CTE
	// name) to the underlying table name, or "" if it is a CTE/unknown.
	aliasTable := map[string]string{q.From: q.From}
	for _, j := range q.Joins {
		key := j.Table
		if j.Alias != "" {
			key = j.Alias
		}
		aliasTable[key] = j.Table
		aliasTable[j.Table] = j.Table
	}

	var diags []Diagnostic
	diags = append(diags, checkNameResolution(q, tables, cteNames)...)
	diags = append(diags, checkColumnResolution(q, c, tables, cteNames, aliasTable)...)
	diags = append(diags, checkGroupBy(q)...)
	diags = append(diags, checkOrderBy(q)...)
	diags = append(diags, checkPredicateArity(q)...)
	diags = append(diags, checkWindowPlacement(q)...)
	diags = append(diags, checkCTEDependencies(q)...)
	diags = append(diags, checkNonNegativity(q)...)

	if len(diags) > 0 {
		return Result{Valid: false, IR: q, Diagnostics: diags}
	}
	return Result{Valid: true, IR: q}
}

func decodeQuery(raw map[string]any) (*ir.Query, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var q ir.Query
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// 1. Name resolution.
func checkNameResolution(q *ir.Query, tables, cteNames map[string]bool) []Diagnostic {
	var diags []Diagnostic
	check := func(name, path string) {
		if name == "" || tables[name] || cteNames[name] {
			return
		}
		diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("unknown table %q", name), Path: path})
	}
	check(q.From, "$.from_table")
	for i, j := range q.Joins {
		check(j.Table, fmt.Sprintf("$.joins[%d].table", i))
	}
	seen := map[string]bool{}
	for i, cte := range q.CTEs {
		if seen[cte.Name] {
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("duplicate CTE name %q", cte.Name), Path: fmt.Sprintf("$.ctes[%d].name", i)})
		}
		seen[cte.Name] = true
	}
	return diags
}

// 2. Column resolution.
func checkColumnResolution(q *ir.Query, c *schema.Canonical, tables, cteNames map[string]bool, aliasTable map[string]string) []Diagnostic {
	var diags []Diagnostic

	columnsOf := make(map[string]map[string]bool, len(c.TableNamesOriginal))
	for idx, ref := range c.ColumnNamesOriginal {
		if ref.TableIndex < 0 {
			continue
		}
		t := c.TableNamesOriginal[ref.TableIndex]
		if columnsOf[t] == nil {
			columnsOf[t] = make(map[string]bool)
		}
		columnsOf[t][ref.Column] = true
		_ = idx
	}

	checkColumn := func(col, path string) {
		if col == "*" {
			return
		}
		parts := strings.SplitN(col, ".", 2)
		if len(parts) != 2 {
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("column reference %q must be qualified as table.column", col), Path: path})
			return
		}
		qualifier, column := parts[0], parts[1]
		table, known := aliasTable[qualifier]
		if !known {
			if cteNames[qualifier] {
				return
			}
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("unknown table/alias %q in column reference %q", qualifier, col), Path: path})
			return
		}
		if column == "*" {
			return
		}
		if cteNames[table] {
			return // CTE output columns are not schema-checked.
		}
		if cols, ok := columnsOf[table]; !ok || !cols[column] {
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("column %q does not exist on table %q", column, table), Path: path})
		}
	}

	walkExpressions(q, func(e ir.Expression, path string) {
		if e.Kind == ir.ExprColumn {
			checkColumn(e.Column, path)
		}
	})

	return diags
}

// 3. GROUP BY.
func checkGroupBy(q *ir.Query) []Diagnostic {
	if !q.HasAggregateSelect() {
		return nil
	}
	var diags []Diagnostic
	for i, e := range q.Select {
		if e.IsAggregate() {
			continue
		}
		// A table.* or * star expression can never be verified against
		// GROUP BY (it stands for every column of the table, known or
		// not), so it is rejected outright rather than checked for
		// membership in GROUP BY.
		if e.IsStar() {
			diags = append(diags, Diagnostic{
				Kind:    "IRInvalid",
				Message: "a star expression cannot appear in SELECT alongside an aggregate",
				Path:    fmt.Sprintf("$.select[%d]", i),
			})
			continue
		}
		if !containsExpr(q.GroupBy, e) {
			diags = append(diags, Diagnostic{
				Kind:    "IRInvalid",
				Message: "non-aggregate select expression is missing from GROUP BY",
				Path:    fmt.Sprintf("$.select[%d]", i),
			})
		}
	}
	return diags
}

// 4. ORDER BY.
func checkOrderBy(q *ir.Query) []Diagnostic {
	var diags []Diagnostic
	selectAliases := make(map[string]bool)
	for _, e := range q.Select {
		if e.Alias != "" {
			selectAliases[e.Alias] = true
		}
	}
	for i, ob := range q.OrderBy {
		path := fmt.Sprintf("$.order_by[%d].column", i)
		col := ob.Column
		switch {
		case col.Kind == ir.ExprLiteral:
			if _, isInt := asInt(col.Value); !isInt {
				diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "ORDER BY positional reference must be an integer literal", Path: path})
			}
		case col.Kind == ir.ExprColumn && selectAliases[col.Column]:
			// resolves to a select alias
		case containsExpr(q.Select, col):
			// appears verbatim in SELECT
		case col.IsAggregate():
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "ORDER BY aggregate must also appear in SELECT", Path: path})
		default:
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "ORDER BY key is not a SELECT column, alias, aggregate, or positional literal", Path: path})
		}
	}
	return diags
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// 5. Predicate arity.
func checkPredicateArity(q *ir.Query) []Diagnostic {
	var diags []Diagnostic
	check := func(preds []ir.Predicate, pathPrefix string) {
		for i, p := range preds {
			path := fmt.Sprintf("%s[%d]", pathPrefix, i)
			switch p.Operator {
			case ir.OpIsNull, ir.OpIsNotNull:
				if p.Right != nil || len(p.RightList) > 0 {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: string(p.Operator) + " must not have a right-hand side", Path: path})
				}
			case ir.OpBetween:
				if len(p.RightList) != 2 {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "BETWEEN requires exactly two literal bounds", Path: path})
				}
			case ir.OpIn, ir.OpNotIn:
				hasSubquery := p.Right != nil && p.Right.Kind == ir.ExprSubquery
				if len(p.RightList) == 0 && !hasSubquery {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: string(p.Operator) + " requires a value list or subquery", Path: path})
				}
			default:
				if p.Right == nil {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: string(p.Operator) + " requires a right-hand side", Path: path})
				}
			}
		}
	}
	check(q.Where, "$.where")
	check(q.Having, "$.having")
	for i, j := range q.Joins {
		check(j.On, fmt.Sprintf("$.joins[%d].on", i))
	}
	return diags
}

// 6. Window functions: allowed only in SELECT and ORDER BY.
func checkWindowPlacement(q *ir.Query) []Diagnostic {
	var diags []Diagnostic
	reject := func(exprs []ir.Expression, pathPrefix string) {
		for i, e := range exprs {
			if hasWindow(e) {
				diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "window function is only allowed in SELECT and ORDER BY", Path: fmt.Sprintf("%s[%d]", pathPrefix, i)})
			}
		}
	}
	for i, p := range q.Where {
		if hasWindow(p.Left) || (p.Right != nil && hasWindow(*p.Right)) {
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "window function is only allowed in SELECT and ORDER BY", Path: fmt.Sprintf("$.where[%d]", i)})
		}
	}
	reject(q.GroupBy, "$.group_by")
	for i, p := range q.Having {
		if hasWindow(p.Left) || (p.Right != nil && hasWindow(*p.Right)) {
			diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "window function is only allowed in SELECT and ORDER BY", Path: fmt.Sprintf("$.having[%d]", i)})
		}
	}
	return diags
}

func hasWindow(e ir.Expression) bool {
	if e.IsWindow() {
		return true
	}
	for _, a := range e.Args {
		if hasWindow(a) {
			return true
		}
	}
	return false
}

// 7. CTE dependencies form a DAG; names unique (uniqueness already
// flagged in checkNameResolution; here we additionally ensure a CTE
// only references earlier CTEs, never itself or a later one).
func checkCTEDependencies(q *ir.Query) []Diagnostic {
	var diags []Diagnostic
	seenSoFar := make(map[string]bool)
	for i, cte := range q.CTEs {
		if cte.Query != nil {
			referenced := referencedTables(cte.Query)
			for _, ref := range referenced {
				if ref == cte.Name {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("CTE %q references itself", cte.Name), Path: fmt.Sprintf("$.ctes[%d]", i)})
					continue
				}
				if isLaterOrSelf(ref, i, q.CTEs) && !seenSoFar[ref] {
					diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: fmt.Sprintf("CTE %q references a later or undefined CTE %q", cte.Name, ref), Path: fmt.Sprintf("$.ctes[%d]", i)})
				}
			}
		}
		seenSoFar[cte.Name] = true
	}
	return diags
}

func isLaterOrSelf(name string, currentIdx int, ctes []ir.CTE) bool {
	for i, c := range ctes {
		if c.Name == name {
			return i >= currentIdx
		}
	}
	return false
}

func referencedTables(q *ir.Query) []string {
	out := []string{q.From}
	for _, j := range q.Joins {
		out = append(out, j.Table)
	}
	return out
}

// 8. Non-negativity.
func checkNonNegativity(q *ir.Query) []Diagnostic {
	var diags []Diagnostic
	if q.Limit != nil && *q.Limit < 0 {
		diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "limit must be >= 0", Path: "$.limit"})
	}
	if q.Offset != nil && *q.Offset < 0 {
		diags = append(diags, Diagnostic{Kind: "IRInvalid", Message: "offset must be >= 0", Path: "$.offset"})
	}
	return diags
}

// walkExpressions visits every expression reachable from q (select,
// where, group_by, having, order_by, join predicates, and recursively
// through function/aggregate/window args and subqueries).
func walkExpressions(q *ir.Query, visit func(e ir.Expression, path string)) {
	var walkExpr func(e ir.Expression, path string)
	walkExpr = func(e ir.Expression, path string) {
		visit(e, path)
		for i, a := range e.Args {
			walkExpr(a, fmt.Sprintf("%s.args[%d]", path, i))
		}
		for i, a := range e.PartitionBy {
			walkExpr(a, fmt.Sprintf("%s.partition_by[%d]", path, i))
		}
		for i, ob := range e.OrderBy {
			walkExpr(ob.Column, fmt.Sprintf("%s.order_by[%d]", path, i))
		}
		if e.Subquery != nil {
			walkExpressions(e.Subquery, visit)
		}
	}
	walkPred := func(p ir.Predicate, path string) {
		walkExpr(p.Left, path+".left")
		if p.Right != nil {
			walkExpr(*p.Right, path+".right")
		}
		for i, r := range p.RightList {
			walkExpr(r, fmt.Sprintf("%s.right_list[%d]", path, i))
		}
	}

	for i, e := range q.Select {
		walkExpr(e, fmt.Sprintf("$.select[%d]", i))
	}
	for i, e := range q.GroupBy {
		walkExpr(e, fmt.Sprintf("$.group_by[%d]", i))
	}
	for i, ob := range q.OrderBy {
		walkExpr(ob.Column, fmt.Sprintf("$.order_by[%d].column", i))
	}
	for i, p := range q.Where {
		walkPred(p, fmt.Sprintf("$.where[%d]", i))
	}
	for i, p := range q.Having {
		walkPred(p, fmt.Sprintf("$.having[%d]", i))
	}
	for i, j := range q.Joins {
		for k, p := range j.On {
			walkPred(p, fmt.Sprintf("$.joins[%d].on[%d]", i, k))
		}
	}
	for i, cte := range q.CTEs {
		if cte.Query != nil {
			walkExpressions(cte.Query, func(e ir.Expression, path string) {
				visit(e, fmt.Sprintf("$.ctes[%d].query%s", i, strings.TrimPrefix(path, "$")))
			})
		}
	}
}

// containsExpr reports whether target is present (structurally equal,
// ignoring alias) in exprs.
func containsExpr(exprs []ir.Expression, target ir.Expression) bool {
	for _, e := range exprs {
		if exprEqual(e, target) {
			return true
		}
	}
	return false
}

func exprEqual(a, b ir.Expression) bool {
	ab, errA := json.Marshal(stripAlias(a))
	bb, errB := json.Marshal(stripAlias(b))
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func stripAlias(e ir.Expression) ir.Expression {
	e.Alias = ""
	return e
}
