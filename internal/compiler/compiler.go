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

// Package compiler deterministically compiles a validated IR query
// into a parameterized SQL string plus an ordered binding map (spec
// §4.11). The compiler performs no I/O; its output is consumed only by
// an external executor.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/googleapis/nl2sql-pipeline/internal/ir"
)

// Dialect describes a target SQL dialect's identifier-quoting rule and
// its driver bind style (for callers that want to rebind the
// :p_k-style SQL this package emits into a driver-native placeholder
// style via sqlx.Rebind).
type Dialect interface {
	Name() string
	QuoteIdent(ident string) string
	BindType() int
}

type dialect struct {
	name      string
	quoteL    byte
	quoteR    byte
	bindType  int
	driverTag string
}

func (d dialect) Name() string { return d.name }
func (d dialect) BindType() int { return d.bindType }
func (d dialect) QuoteIdent(ident string) string {
	return string(d.quoteL) + strings.ReplaceAll(ident, string(d.quoteR), string(d.quoteR)+string(d.quoteR)) + string(d.quoteR)
}

var registry = map[string]dialect{
	"postgres": {name: "postgres", quoteL: '"', quoteR: '"', bindType: sqlx.DOLLAR},
	"mysql":    {name: "mysql", quoteL: '`', quoteR: '`', bindType: sqlx.QUESTION},
	"mssql":    {name: "mssql", quoteL: '[', quoteR: ']', bindType: sqlx.AT},
	"sqlite":   {name: "sqlite", quoteL: '"', quoteR: '"', bindType: sqlx.QUESTION},
	"ansi":     {name: "ansi", quoteL: '"', quoteR: '"', bindType: sqlx.UNKNOWN},
}

// Register adds or overrides a named dialect. Exposed so deployments
// can register a custom dialect without forking this package.
func Register(name string, d Dialect) {
	registry[name] = dialect{name: name, quoteL: firstByte(d.QuoteIdent("x"), 'x'), quoteR: lastByte(d.QuoteIdent("x"), 'x'), bindType: d.BindType()}
}

func firstByte(s string, fallback byte) byte {
	if len(s) == 0 {
		return fallback
	}
	return s[0]
}
func lastByte(s string, fallback byte) byte {
	if len(s) == 0 {
		return fallback
	}
	return s[len(s)-1]
}

// Lookup returns the named dialect, or ansi if unknown.
func Lookup(name string) Dialect {
	if d, ok := registry[strings.ToLower(name)]; ok {
		return d
	}
	return registry["ansi"]
}

// Result is the compiler's output contract: SQL text with :p_k
// placeholders plus the ordered binding map.
type Result struct {
	SQL    string
	Params map[string]any
}

type compilation struct {
	dialect Dialect
	params  map[string]any
	order   int
}

// Compile deterministically renders q to parameterized SQL. Calling
// Compile twice on an identical (q, dialect) pair yields byte-identical
// output (spec §8.1 property 9).
func Compile(q *ir.Query, d Dialect) (Result, error) {
	c := &compilation{dialect: d, params: make(map[string]any)}
	var b strings.Builder

	if len(q.CTEs) > 0 {
		b.WriteString("WITH ")
		for i, cte := range q.CTEs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdent(cte.Name))
			b.WriteString(" AS (")
			sub, err := c.renderQuery(cte.Query)
			if err != nil {
				return Result{}, err
			}
			b.WriteString(sub)
			b.WriteString(")")
		}
		b.WriteString(" ")
	}

	body, err := c.renderQuery(q)
	if err != nil {
		return Result{}, err
	}
	b.WriteString(body)

	return Result{SQL: b.String(), Params: c.params}, nil
}

func (c *compilation) renderQuery(q *ir.Query) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, e := range q.Select {
		if i > 0 {
			b.WriteString(", ")
		}
		rendered, err := c.renderExpr(e)
		if err != nil {
			return "", err
		}
		b.WriteString(rendered)
		if e.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(c.dialect.QuoteIdent(e.Alias))
		}
	}

	b.WriteString(" FROM ")
	b.WriteString(c.renderTableRef(q.From))

	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(joinKeyword(j.Type))
		b.WriteString(" ")
		b.WriteString(c.renderTableRef(j.Table))
		if j.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(c.dialect.QuoteIdent(j.Alias))
		}
		if j.Type != ir.JoinCross {
			b.WriteString(" ON ")
			rendered, err := c.renderPredicateList(j.On, " AND ")
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
		}
	}

	if len(q.Where) > 0 {
		rendered, err := c.renderPredicateList(q.Where, " AND ")
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(rendered)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, e := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			rendered, err := c.renderExpr(e)
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
		}
	}

	if len(q.Having) > 0 {
		rendered, err := c.renderPredicateList(q.Having, " AND ")
		if err != nil {
			return "", err
		}
		b.WriteString(" HAVING ")
		b.WriteString(rendered)
	}

	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, ob := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			rendered, err := c.renderExpr(ob.Column)
			if err != nil {
				return "", err
			}
			b.WriteString(rendered)
			b.WriteString(" ")
			b.WriteString(string(ob.Direction))
		}
	}

	if q.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.Offset)
	}

	return b.String(), nil
}

func (c *compilation) renderTableRef(table string) string {
	return c.dialect.QuoteIdent(table)
}

func joinKeyword(t ir.JoinType) string {
	switch t {
	case ir.JoinLeft:
		return "LEFT JOIN"
	case ir.JoinRight:
		return "RIGHT JOIN"
	case ir.JoinFull:
		return "FULL JOIN"
	case ir.JoinCross:
		return "CROSS JOIN"
	default:
		return "INNER JOIN"
	}
}

func (c *compilation) renderPredicateList(preds []ir.Predicate, sep string) (string, error) {
	var b strings.Builder
	for i, p := range preds {
		if i > 0 {
			b.WriteString(sep)
		}
		rendered, err := c.renderPredicate(p)
		if err != nil {
			return "", err
		}
		b.WriteString(rendered)
	}
	return b.String(), nil
}

func (c *compilation) renderPredicate(p ir.Predicate) (string, error) {
	left, err := c.renderExpr(p.Left)
	if err != nil {
		return "", err
	}
	switch p.Operator {
	case ir.OpIsNull, ir.OpIsNotNull:
		return left + " " + string(p.Operator), nil
	case ir.OpBetween:
		if len(p.RightList) != 2 {
			return "", fmt.Errorf("compiler: BETWEEN requires two bounds")
		}
		lo, err := c.renderExpr(p.RightList[0])
		if err != nil {
			return "", err
		}
		hi, err := c.renderExpr(p.RightList[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", left, lo, hi), nil
	case ir.OpIn, ir.OpNotIn:
		if p.Right != nil && p.Right.Kind == ir.ExprSubquery {
			sub, err := c.renderExpr(*p.Right)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s %s", left, p.Operator, sub), nil
		}
		parts := make([]string, len(p.RightList))
		for i, r := range p.RightList {
			rendered, err := c.renderExpr(r)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		return fmt.Sprintf("%s %s (%s)", left, p.Operator, strings.Join(parts, ", ")), nil
	default:
		if p.Right == nil {
			return "", fmt.Errorf("compiler: operator %s requires a right-hand side", p.Operator)
		}
		right, err := c.renderExpr(*p.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", left, p.Operator, right), nil
	}
}

func (c *compilation) renderExpr(e ir.Expression) (string, error) {
	switch e.Kind {
	case ir.ExprColumn:
		return c.renderColumnRef(e.Column), nil
	case ir.ExprLiteral:
		return c.bind(e.Value), nil
	case ir.ExprFunction:
		args, err := c.renderArgs(e.Args)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", ")), nil
	case ir.ExprAggregate:
		if e.Name == ir.AggCount && len(e.Args) == 1 && e.Args[0].IsStar() {
			return "COUNT(*)", nil
		}
		args, err := c.renderArgs(e.Args)
		if err != nil {
			return "", err
		}
		distinct := ""
		if e.Distinct {
			distinct = "DISTINCT "
		}
		return fmt.Sprintf("%s(%s%s)", e.Name, distinct, strings.Join(args, ", ")), nil
	case ir.ExprWindow:
		args, err := c.renderArgs(e.Args)
		if err != nil {
			return "", err
		}
		var over strings.Builder
		over.WriteString("OVER (")
		if len(e.PartitionBy) > 0 {
			parts, err := c.renderArgs(e.PartitionBy)
			if err != nil {
				return "", err
			}
			over.WriteString("PARTITION BY ")
			over.WriteString(strings.Join(parts, ", "))
			over.WriteString(" ")
		}
		if len(e.OrderBy) > 0 {
			over.WriteString("ORDER BY ")
			for i, ob := range e.OrderBy {
				if i > 0 {
					over.WriteString(", ")
				}
				rendered, err := c.renderExpr(ob.Column)
				if err != nil {
					return "", err
				}
				over.WriteString(rendered)
				over.WriteString(" ")
				over.WriteString(string(ob.Direction))
			}
		}
		over.WriteString(")")
		return fmt.Sprintf("%s(%s) %s", e.Name, strings.Join(args, ", "), over.String()), nil
	case ir.ExprSubquery:
		sub, err := c.renderQuery(e.Subquery)
		if err != nil {
			return "", err
		}
		return "(" + sub + ")", nil
	default:
		return "", fmt.Errorf("compiler: unreachable: unknown expression kind %q on validated IR", e.Kind)
	}
}

func (c *compilation) renderArgs(args []ir.Expression) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		rendered, err := c.renderExpr(a)
		if err != nil {
			return nil, err
		}
		out[i] = rendered
	}
	return out, nil
}

func (c *compilation) renderColumnRef(col string) string {
	if col == "*" {
		return "*"
	}
	parts := strings.SplitN(col, ".", 2)
	if len(parts) == 1 {
		return c.dialect.QuoteIdent(parts[0])
	}
	if parts[1] == "*" {
		return c.dialect.QuoteIdent(parts[0]) + ".*"
	}
	return c.dialect.QuoteIdent(parts[0]) + "." + c.dialect.QuoteIdent(parts[1])
}

// bind records a literal value under the next placeholder name and
// returns the :p_k reference for it (spec §4.11: "collected into the
// binding map in encounter order").
func (c *compilation) bind(value any) string {
	name := "p_" + strconv.Itoa(c.order)
	c.params[name] = value
	c.order++
	return ":" + name
}

// ToBoundSQL rebinds the :p_k-style SQL this package emits into the
// target dialect's native placeholder style (e.g. $1, ?, @p1), for an
// executor that wants driver-ready SQL and positional args instead of
// the named binding map.
func ToBoundSQL(d Dialect, sql string, params map[string]any) (string, []any, error) {
	query, args, err := sqlx.Named(sql, params)
	if err != nil {
		return "", nil, fmt.Errorf("compiler: named rebind: %w", err)
	}
	return sqlx.Rebind(d.BindType(), query), args, nil
}
