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

package ranker

import (
	"regexp"

	"github.com/googleapis/nl2sql-pipeline/internal/graph"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
)

// Fallback augmentation reasons, surfaced on RankedNode.Reason for
// observability (spec §4.3).
const (
	ReasonFKClosure        = "fk_closure"
	ReasonDurationColumn   = "duration_column"
	ReasonAggregateColumn  = "aggregation_column"
	ReasonGroupingColumn   = "grouping_dimension"
	ReasonJoinKey          = "join_key"
)

// Synthetic scores assigned to augmented nodes, within the [0.80,0.88]
// band spec §4.3 requires.
const (
	scoreFKClosure       float32 = 0.82
	scoreCalculationCol  float32 = 0.84
	scoreGroupingCol     float32 = 0.86
	scoreJoinKey         float32 = 0.82
)

var (
	durationMarkers    = regexp.MustCompile(`(?i)\b(duration|length|stay|period|interval|days|hours|time)\b`)
	aggregationMarkers = regexp.MustCompile(`(?i)\b(average|avg|sum|total|count|mean|median|min|max)\b`)
	groupingMarkers    = regexp.MustCompile(`(?i)\b(per|by|each|group|categor\w*)\b`)
	dimensionNamePat   = regexp.MustCompile(`(?i)(name|title|type|category|label|department)`)
)

// Augment applies the three automatic augmentation rules of spec §4.3
// to the ranker's initial top-K node set, returning a superset that
// retains the original scores and tags every newly added node with its
// reason. The result is monotone: Augment(s) ⊇ s for any input s
// (spec §8.1 property 4).
func Augment(question string, initial []RankedNode, c *schema.Canonical, g *graph.Graph) []RankedNode {
	result := make([]RankedNode, len(initial))
	copy(result, initial)

	present := make(map[string]bool, len(initial))
	for _, n := range initial {
		present[n.NodeID] = true
	}

	add := func(nodeID string, score float32, reason string) {
		if present[nodeID] {
			return
		}
		present[nodeID] = true
		result = append(result, RankedNode{NodeID: nodeID, Score: score, Reason: reason})
	}

	tableColumns := indexColumnsByTable(g)
	tablesInSet := tablesPresent(present, g)

	// Rule 1: FK closure. Rules 2 and 3 then see the tables it added.
	fkClosure(c, g, tablesInSet, add)
	tablesInSet = tablesPresent(present, g)

	// Rule 2: calculation columns.
	if durationMarkers.MatchString(question) {
		for t := range tablesInSet {
			for _, col := range tableColumns[t] {
				if col.ColumnType == schema.TypeTime {
					add(col.ID, scoreCalculationCol, ReasonDurationColumn)
				}
			}
		}
	}
	if aggregationMarkers.MatchString(question) {
		for t := range tablesInSet {
			for _, col := range tableColumns[t] {
				if col.ColumnType == schema.TypeNumber {
					add(col.ID, scoreCalculationCol, ReasonAggregateColumn)
				}
			}
		}
	}

	// Rule 3: grouping and join keys.
	if groupingMarkers.MatchString(question) {
		for t := range tablesInSet {
			if dim := pickDimensionColumn(tableColumns[t]); dim != nil {
				add(dim.ID, scoreGroupingCol, ReasonGroupingColumn)
			}
		}
		// tablesInSet was recomputed after rule 1 and dimension columns
		// add no new tables, so this recompute leaves it unchanged.
		tablesInSet = tablesPresent(present, g)
		ensureFKPairsWithinSet(c, g, tablesInSet, add)
	}

	return result
}

func tablesPresent(present map[string]bool, g *graph.Graph) map[string]bool {
	tables := make(map[string]bool)
	for id := range present {
		idx := g.NodeIndex(id)
		if idx < 0 {
			continue
		}
		n := g.Nodes[idx]
		if n.Table != "" {
			tables[n.Table] = true
		}
	}
	return tables
}

func indexColumnsByTable(g *graph.Graph) map[string][]graph.Node {
	out := make(map[string][]graph.Node)
	for _, n := range g.Nodes {
		if n.Kind == graph.NodeColumn && n.Column != "*" {
			out[n.Table] = append(out[n.Table], n)
		}
	}
	return out
}

func pickDimensionColumn(cols []graph.Node) *graph.Node {
	for i := range cols {
		if dimensionNamePat.MatchString(cols[i].Column) {
			return &cols[i]
		}
	}
	for i := range cols {
		if cols[i].ColumnType == schema.TypeText {
			return &cols[i]
		}
	}
	return nil
}

// fkClosure adds, for every table in tables, the peer table and both
// column sides of every foreign key incident to it.
func fkClosure(c *schema.Canonical, g *graph.Graph, tables map[string]bool, add func(string, float32, string)) {
	for _, pair := range c.ForeignKeys {
		childTable := c.TableOf(pair.Child)
		parentTable := c.TableOf(pair.Parent)
		if !tables[childTable] && !tables[parentTable] {
			continue
		}
		addFKPair(c, g, pair, add)
		add(graph.TableNodeID(childTable), scoreFKClosure, ReasonFKClosure)
		add(graph.TableNodeID(parentTable), scoreFKClosure, ReasonFKClosure)
	}
}

// ensureFKPairsWithinSet adds both sides of every FK whose two tables
// are already both present in tables (spec §4.3 rule 3's join-key clause).
func ensureFKPairsWithinSet(c *schema.Canonical, g *graph.Graph, tables map[string]bool, add func(string, float32, string)) {
	for _, pair := range c.ForeignKeys {
		childTable := c.TableOf(pair.Child)
		parentTable := c.TableOf(pair.Parent)
		if tables[childTable] && tables[parentTable] {
			addFKPairWithReason(c, g, pair, ReasonJoinKey, scoreJoinKey, add)
		}
	}
}

func addFKPair(c *schema.Canonical, g *graph.Graph, pair schema.FKPair, add func(string, float32, string)) {
	addFKPairWithReason(c, g, pair, ReasonFKClosure, scoreFKClosure, add)
}

func addFKPairWithReason(c *schema.Canonical, g *graph.Graph, pair schema.FKPair, reason string, score float32, add func(string, float32, string)) {
	childRef := c.ColumnNamesOriginal[pair.Child]
	parentRef := c.ColumnNamesOriginal[pair.Parent]
	childTable := c.TableNamesOriginal[childRef.TableIndex]
	parentTable := c.TableNamesOriginal[parentRef.TableIndex]
	add(graph.ColumnNodeID(childTable, childRef.Column), score, reason)
	add(graph.ColumnNodeID(parentTable, parentRef.Column), score, reason)
}
