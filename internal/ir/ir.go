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

// Package ir defines the typed intermediate representation that sits
// between the LLM and the SQL compiler. It is a closed algebraic
// description of a single SELECT query: no stage downstream of the
// Validator may mutate a Query once it has been validated.
package ir

import (
	"encoding/json"
	"fmt"
)

// ExprKind discriminates the Expression union.
type ExprKind string

const (
	ExprColumn    ExprKind = "column"
	ExprLiteral   ExprKind = "literal"
	ExprFunction  ExprKind = "function"
	ExprAggregate ExprKind = "aggregate"
	ExprWindow    ExprKind = "window"
	ExprSubquery  ExprKind = "subquery"
)

// Well-known aggregate names the compiler and complexity analyzer
// treat specially. Not a closed set: an LLM may emit an aggregate name
// we don't recognize and it is still compiled as AGG(args...).
const (
	AggCount = "COUNT"
	AggSum   = "SUM"
	AggAvg   = "AVG"
	AggMin   = "MIN"
	AggMax   = "MAX"
)

// Expression is a discriminated union over {column, literal, function,
// aggregate, window, subquery}. Only the fields relevant to Kind are
// meaningful; MarshalJSON/UnmarshalJSON encode exactly the wire shape
// described in spec §3.4, not a flat struct dump.
type Expression struct {
	Kind ExprKind

	Column string // ExprColumn: "table.column", "table.*", or "*"
	Value  any    // ExprLiteral: string, float64, bool, or nil

	Name     string       // ExprFunction / ExprAggregate / ExprWindow
	Distinct bool         // ExprAggregate only
	Args     []Expression // ExprFunction / ExprAggregate / ExprWindow

	PartitionBy []Expression // ExprWindow only
	OrderBy     []OrderBy    // ExprWindow only

	Subquery *Query // ExprSubquery only

	// Alias is the "AS alias" for this expression when it appears in a
	// SELECT list. Absent means no alias is emitted.
	Alias string
}

// IsAggregate reports whether the expression is an aggregate function call.
func (e Expression) IsAggregate() bool { return e.Kind == ExprAggregate }

// IsWindow reports whether the expression is a window function.
func (e Expression) IsWindow() bool { return e.Kind == ExprWindow }

// IsStar reports whether the expression is `*` or `table.*`.
func (e Expression) IsStar() bool {
	if e.Kind != ExprColumn {
		return false
	}
	if e.Column == "*" {
		return true
	}
	n := len(e.Column)
	return n >= 2 && e.Column[n-2] == '.' && e.Column[n-1] == '*'
}

type exprWire struct {
	Type        ExprKind        `json:"type"`
	Value       json.RawMessage `json:"value,omitempty"`
	Name        string          `json:"name,omitempty"`
	Distinct    bool            `json:"distinct,omitempty"`
	Args        []Expression    `json:"args,omitempty"`
	PartitionBy []Expression    `json:"partition_by,omitempty"`
	OrderBy     []OrderBy       `json:"order_by,omitempty"`
	Subquery    *Query          `json:"subquery,omitempty"`
	Alias       string          `json:"alias,omitempty"`
}

// MarshalJSON renders the expression as the tagged-union wire shape.
func (e Expression) MarshalJSON() ([]byte, error) {
	w := exprWire{
		Type:     e.Kind,
		Name:     e.Name,
		Distinct: e.Distinct,
		Args:     e.Args,
		Alias:    e.Alias,
	}
	switch e.Kind {
	case ExprColumn:
		raw, err := json.Marshal(e.Column)
		if err != nil {
			return nil, err
		}
		w.Value = raw
	case ExprLiteral:
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		w.Value = raw
	case ExprWindow:
		w.PartitionBy = e.PartitionBy
		w.OrderBy = e.OrderBy
	case ExprSubquery:
		w.Subquery = e.Subquery
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the tagged-union wire shape back into an
// Expression. Unknown/missing "type" is rejected: the Sanitizer is
// responsible for coercing untyped LLM output into this shape before
// it ever reaches an Expression.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var w exprWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("ir: expression missing %q field", "type")
	}
	e.Kind = w.Type
	e.Name = w.Name
	e.Distinct = w.Distinct
	e.Args = w.Args
	e.Alias = w.Alias
	switch w.Type {
	case ExprColumn:
		var s string
		if len(w.Value) > 0 {
			if err := json.Unmarshal(w.Value, &s); err != nil {
				return fmt.Errorf("ir: column expression value: %w", err)
			}
		}
		e.Column = s
	case ExprLiteral:
		if len(w.Value) > 0 {
			var v any
			if err := json.Unmarshal(w.Value, &v); err != nil {
				return fmt.Errorf("ir: literal expression value: %w", err)
			}
			e.Value = v
		}
	case ExprWindow:
		e.PartitionBy = w.PartitionBy
		e.OrderBy = w.OrderBy
	case ExprSubquery:
		e.Subquery = w.Subquery
	case ExprFunction, ExprAggregate:
		// Name + Args already populated above.
	default:
		return fmt.Errorf("ir: unknown expression type %q", w.Type)
	}
	return nil
}

// Operator enumerates the predicate operators the IR supports.
type Operator string

const (
	OpEq        Operator = "="
	OpNeq       Operator = "!="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT IN"
	OpLike      Operator = "LIKE"
	OpNotLike   Operator = "NOT LIKE"
	OpBetween   Operator = "BETWEEN"
	OpIsNull    Operator = "IS NULL"
	OpIsNotNull Operator = "IS NOT NULL"
)

// Predicate is a single comparison. BETWEEN carries exactly two literal
// values in RightList; IN/NOT IN carry either a literal list in
// RightList or a single subquery expression in Right; IS NULL/IS NOT
// NULL carry neither.
type Predicate struct {
	Left      Expression   `json:"left"`
	Operator  Operator     `json:"operator"`
	Right     *Expression  `json:"right,omitempty"`
	RightList []Expression `json:"right_list,omitempty"`
}

// JoinType enumerates the supported join kinds.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
	JoinCross JoinType = "CROSS"
)

// Join describes a single join clause. CROSS joins carry no On
// predicates and the compiler omits the ON clause entirely.
type Join struct {
	Type  JoinType    `json:"type"`
	Table string      `json:"table"`
	Alias string      `json:"alias,omitempty"`
	On    []Predicate `json:"on,omitempty"`
}

// Direction is the ORDER BY sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderBy is one ORDER BY key.
type OrderBy struct {
	Column    Expression `json:"column"`
	Direction Direction  `json:"direction"`
}

// CTE is a single named subquery in the WITH clause. CTEs may
// reference earlier CTEs in the same Query but never themselves (no
// recursion in this IR).
type CTE struct {
	Name  string `json:"name"`
	Query *Query `json:"query"`
}

// Query is the top-level IR: a closed description of one SELECT
// statement, optionally preceded by CTEs.
type Query struct {
	CTEs    []CTE        `json:"ctes,omitempty"`
	Select  []Expression `json:"select"`
	From    string       `json:"from_table"`
	Joins   []Join       `json:"joins,omitempty"`
	Where   []Predicate  `json:"where,omitempty"`
	GroupBy []Expression `json:"group_by,omitempty"`
	Having  []Predicate  `json:"having,omitempty"`
	OrderBy []OrderBy    `json:"order_by,omitempty"`
	Limit   *int         `json:"limit,omitempty"`
	Offset  *int         `json:"offset,omitempty"`

	// Confidence is the producer's (LLM's) self-reported confidence in
	// [0,1] that this IR correctly answers the question.
	Confidence float64 `json:"confidence"`

	// Ambiguities and Questions are clarification signals: phrases the
	// LLM found ambiguous, and clarifying questions it would like
	// answered before committing to this interpretation.
	Ambiguities []string `json:"ambiguities,omitempty"`
	Questions   []string `json:"questions,omitempty"`
}

// HasAggregateSelect reports whether any top-level SELECT expression
// is an aggregate.
func (q *Query) HasAggregateSelect() bool {
	for _, e := range q.Select {
		if e.IsAggregate() {
			return true
		}
	}
	return false
}
