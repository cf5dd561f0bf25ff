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

// Package contextresolver rewrites a question that contains
// back-references against the recent conversation history (spec §4.8).
// It is a pure function: no network I/O, no shared state.
package contextresolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

var backReferencePattern = regexp.MustCompile(`(?i)\b(their|those|them|it|this|that|these)\b`)
var connectiveOpenerPattern = regexp.MustCompile(`(?i)^\s*(and|now|also)\b`)

// HasBackReference reports whether q contains a pronoun or connective
// opener that the resolver would act on.
func HasBackReference(q string) bool {
	return backReferencePattern.MatchString(q) || connectiveOpenerPattern.MatchString(q)
}

// Resolve rewrites current against the last turn of history, if
// current contains a back-reference marker. If no marker is found, the
// resolved question is returned unchanged, per spec §4.8.
func Resolve(current string, history []store.Turn) string {
	if !HasBackReference(current) || len(history) == 0 {
		return current
	}
	last := history[len(history)-1]

	var preamble strings.Builder
	preamble.WriteString(fmt.Sprintf("Regarding the prior question %q", last.Question))
	if len(last.Tables) > 0 {
		preamble.WriteString(fmt.Sprintf(" (involving %s)", strings.Join(last.Tables, ", ")))
	}
	preamble.WriteString(": ")
	preamble.WriteString(current)
	return preamble.String()
}
