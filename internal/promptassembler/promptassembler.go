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

// Package promptassembler renders the single text prompt sent to the
// LLM (spec §4.4): a pruned schema, optional RAG examples, optional
// conversation context, the resolved question, and a structural
// description of the expected IR JSON. Everything here is a pure
// function of its inputs — byte-for-byte deterministic.
package promptassembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/googleapis/nl2sql-pipeline/internal/graph"
	"github.com/googleapis/nl2sql-pipeline/internal/ranker"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

// DefaultCompactColumns is the default column cap per table for the
// no-ranker-output compact rendering (spec §4.4: "typical 8").
const DefaultCompactColumns = 8

// Input bundles everything the assembler needs to produce a prompt.
type Input struct {
	ResolvedQuestion string
	Ranked           []ranker.RankedNode // nil/empty means "no ranker output"
	Schema           *schema.Schema
	Canonical        *schema.Canonical
	Graph            *graph.Graph
	RAGExamples      []store.RAGExample
	History          []store.Turn
	// CompactColumns overrides DefaultCompactColumns when positive.
	CompactColumns int
}

// Assemble renders the full prompt text.
func Assemble(in Input) string {
	var b strings.Builder

	b.WriteString("## Schema\n")
	b.WriteString(renderSchema(in))
	b.WriteString("\n")

	if len(in.RAGExamples) > 0 {
		b.WriteString("## Examples\n")
		for _, ex := range in.RAGExamples {
			fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", ex.Question, ex.SQL)
		}
		b.WriteString("\n")
	}

	if len(in.History) > 0 {
		b.WriteString("## Conversation\n")
		for _, t := range in.History {
			fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", t.Question, t.SQL)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Question\n")
	b.WriteString(in.ResolvedQuestion)
	b.WriteString("\n\n")

	b.WriteString("## Output format\n")
	b.WriteString(irStructuralDescription)

	return b.String()
}

// renderSchema picks between the pruned (ranker-driven) rendering and
// the compact fallback, per spec §4.4.
func renderSchema(in Input) string {
	if len(in.Ranked) == 0 {
		return renderCompact(in.Schema, in.CompactColumns)
	}
	return renderPruned(in)
}

// renderPruned emits one CREATE TABLE line per table in the augmented
// node set, columns in canonical order, types upper-cased.
func renderPruned(in Input) string {
	tableCols := make(map[string][]int) // table -> sorted column indices present
	tableSeen := make(map[string]bool)

	for _, rn := range in.Ranked {
		idx := in.Graph.NodeIndex(rn.NodeID)
		if idx < 0 {
			continue
		}
		node := in.Graph.Nodes[idx]
		switch node.Kind {
		case graph.NodeTable:
			tableSeen[node.Table] = true
			if _, ok := tableCols[node.Table]; !ok {
				tableCols[node.Table] = nil
			}
		case graph.NodeColumn:
			if node.Column == "*" {
				tableSeen[node.Table] = true
				continue
			}
			tableSeen[node.Table] = true
			tableCols[node.Table] = append(tableCols[node.Table], node.ColumnIdx)
		}
	}

	tables := make([]string, 0, len(tableSeen))
	for t := range tableSeen {
		tables = append(tables, t)
	}
	sortByCanonicalOrder(tables, in.Canonical)

	var b strings.Builder
	for _, t := range tables {
		cols := tableCols[t]
		sort.Ints(cols)
		schemaTable, _ := in.Schema.Table(t)
		b.WriteString("CREATE TABLE " + t + " (")
		for i, colIdx := range cols {
			ref := in.Canonical.ColumnNamesOriginal[colIdx]
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ref.Column)
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(columnSQLType(schemaTable, ref.Column)))
		}
		b.WriteString(");\n")
	}
	return b.String()
}

// renderCompact is the fallback rendering used when no ranker output
// is available: every table, at most maxCols columns, preferring
// primary and foreign-key columns (spec §4.4).
func renderCompact(s *schema.Schema, maxCols int) string {
	if maxCols <= 0 {
		maxCols = DefaultCompactColumns
	}
	var b strings.Builder
	for _, tableName := range s.TableOrder {
		t := s.Tables[tableName]
		cols := prioritizedColumns(t, maxCols)
		b.WriteString("CREATE TABLE " + tableName + " (")
		for i, col := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(col.Type))
		}
		b.WriteString(");\n")
	}
	return b.String()
}

// prioritizedColumns returns up to maxCols columns from t, preferring
// primary keys, then foreign-key columns, then remaining columns in
// declared order.
func prioritizedColumns(t schema.Table, maxCols int) []schema.Column {
	fkCols := make(map[string]bool)
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.ConstrainedColumns {
			fkCols[c] = true
		}
	}

	var pk, fk, rest []schema.Column
	for _, c := range t.Columns {
		switch {
		case c.PrimaryKey:
			pk = append(pk, c)
		case fkCols[c.Name]:
			fk = append(fk, c)
		default:
			rest = append(rest, c)
		}
	}

	ordered := append(append(pk, fk...), rest...)
	if len(ordered) > maxCols {
		ordered = ordered[:maxCols]
	}
	return ordered
}

func columnSQLType(t schema.Table, column string) string {
	for _, c := range t.Columns {
		if c.Name == column {
			return c.Type
		}
	}
	return "TEXT"
}

func sortByCanonicalOrder(tables []string, c *schema.Canonical) {
	order := make(map[string]int, len(c.TableNamesOriginal))
	for i, name := range c.TableNamesOriginal {
		order[name] = i
	}
	sort.Slice(tables, func(i, j int) bool { return order[tables[i]] < order[tables[j]] })
}

// irStructuralDescription is the fixed English + JSON-shape
// description of spec §3.4, with the hard rules spec §4.4 requires be
// stated explicitly to the LLM.
const irStructuralDescription = `Respond with a single JSON object describing a SELECT query, using exactly these field names (no synonyms):

{
  "select": [expression, ...],
  "from_table": "table_name",
  "joins": [{"type": "INNER|LEFT|RIGHT|FULL|CROSS", "table": "...", "alias": "...", "on": [predicate, ...]}],
  "where": [predicate, ...],
  "group_by": [expression, ...],
  "having": [predicate, ...],
  "order_by": [{"column": expression, "direction": "ASC|DESC"}],
  "limit": integer or null,
  "offset": integer or null,
  "ctes": [{"name": "...", "query": <query>}],
  "confidence": number between 0 and 1,
  "ambiguities": ["..."],
  "questions": ["..."]
}

An expression is one of:
  {"type": "column", "value": "table.column"}        (use {"type": "column", "value": "*"} or "table.*" for stars)
  {"type": "literal", "value": <json literal>}
  {"type": "function", "name": "...", "args": [expression, ...]}
  {"type": "aggregate", "name": "COUNT|SUM|AVG|MIN|MAX", "distinct": bool, "args": [expression, ...]}
  {"type": "window", "name": "...", "args": [...], "partition_by": [...], "order_by": [...]}
  {"type": "subquery", "subquery": <query>}

Aggregates are always objects, never bare strings. COUNT(*) must use {"type": "aggregate", "name": "COUNT", "args": [{"type": "column", "value": "*"}]}. Any aggregate that appears in order_by must also appear in select.

A predicate is {"left": expression, "operator": "=|!=|<|<=|>|>=|IN|NOT IN|LIKE|NOT LIKE|BETWEEN|IS NULL|IS NOT NULL", "right": expression or null, "right_list": [expression, ...] or null}.
`
