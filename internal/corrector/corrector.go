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

// Package corrector scans a compiled SQL statement and its source IR
// for high-signal issues and attaches hints, never rewrites (spec
// §4.10). It never blocks the response.
package corrector

import (
	"strings"

	"github.com/googleapis/nl2sql-pipeline/internal/ir"
)

// Correct returns sql unchanged alongside any hints raised by
// inspecting q. It never errors and never blocks.
func Correct(sqlText string, q *ir.Query) (string, []string) {
	var hints []string

	if q.Limit != nil && len(q.OrderBy) == 0 {
		hints = append(hints, "LIMIT without ORDER BY produces a non-deterministic result set")
	}

	if ambiguousUnqualifiedColumn(q) {
		hints = append(hints, "multi-table query has an unqualified column reference; consider qualifying it with a table name")
	}

	if q.HasAggregateSelect() && hasNonAggregateSelect(q) && len(q.GroupBy) == 0 {
		hints = append(hints, "aggregate used without GROUP BY alongside a non-aggregate select expression")
	}

	return sqlText, hints
}

func hasNonAggregateSelect(q *ir.Query) bool {
	for _, e := range q.Select {
		if !e.IsAggregate() {
			return true
		}
	}
	return false
}

// ambiguousUnqualifiedColumn reports whether a multi-table query
// (a FROM plus at least one JOIN) contains a select expression whose
// column reference is bare (no "table." qualifier).
func ambiguousUnqualifiedColumn(q *ir.Query) bool {
	if len(q.Joins) == 0 {
		return false
	}
	for _, e := range q.Select {
		if e.Kind == ir.ExprColumn && e.Column != "*" && !strings.Contains(e.Column, ".") {
			return true
		}
	}
	return false
}
