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

// Package complexity classifies a validated IR query into a coarse
// complexity band by counting structural features (spec §4.9).
package complexity

import (
	"fmt"

	"github.com/googleapis/nl2sql-pipeline/internal/ir"
)

// Level is the complexity classification.
type Level string

const (
	Simple      Level = "simple"
	Moderate    Level = "moderate"
	Complex     Level = "complex"
	VeryComplex Level = "very_complex"
)

// Result is the classification plus the warnings spec §4.9 requires
// for unusually large queries.
type Result struct {
	Level    Level
	Score    int
	Warnings []string
}

// Analyze scores q per the weighted feature counts of spec §4.9 and
// maps the cumulative score onto a Level.
func Analyze(q *ir.Query) Result {
	score := 0
	score += 2 * len(q.Joins)
	if q.HasAggregateSelect() {
		score += 5
	}
	score += 5 * len(q.CTEs)
	if hasSubquery(q) {
		score += 10
	}
	score += len(q.GroupBy)
	if len(q.Having) > 0 {
		score += 3
	}

	var warnings []string
	tableCount := 1 + len(q.Joins)
	if tableCount >= 4 {
		warnings = append(warnings, fmt.Sprintf("query touches %d tables", tableCount))
	}
	if len(q.CTEs) >= 2 {
		warnings = append(warnings, fmt.Sprintf("query defines %d CTEs", len(q.CTEs)))
	}

	return Result{Level: levelFor(score), Score: score, Warnings: warnings}
}

func levelFor(score int) Level {
	switch {
	case score < 10:
		return Simple
	case score < 25:
		return Moderate
	case score < 50:
		return Complex
	default:
		return VeryComplex
	}
}

func hasSubquery(q *ir.Query) bool {
	for _, e := range q.Select {
		if exprHasSubquery(e) {
			return true
		}
	}
	for _, p := range q.Where {
		if exprHasSubquery(p.Left) || (p.Right != nil && exprHasSubquery(*p.Right)) {
			return true
		}
		for _, r := range p.RightList {
			if exprHasSubquery(r) {
				return true
			}
		}
	}
	return false
}

func exprHasSubquery(e ir.Expression) bool {
	if e.Kind == ir.ExprSubquery {
		return true
	}
	for _, a := range e.Args {
		if exprHasSubquery(a) {
			return true
		}
	}
	return false
}
