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

// Package graph builds the in-memory graph view (spec §3.3) of a
// canonical schema: the node/edge structure the GAT ranker runs its
// forward pass over.
package graph

import (
	"fmt"

	"github.com/googleapis/nl2sql-pipeline/internal/schema"
)

// NodeKind distinguishes the three node families.
type NodeKind string

const (
	NodeGlobal NodeKind = "global"
	NodeTable  NodeKind = "table"
	NodeColumn NodeKind = "column"
)

// Node is one vertex of the schema graph. ColumnIdx is only meaningful
// for NodeColumn nodes that correspond to a real (non-star) column; it
// indexes into the Canonical view's ColumnNamesOriginal/ColumnTypes.
type Node struct {
	ID         string
	Kind       NodeKind
	Table      string // table name, for NodeTable and NodeColumn
	Column     string // column name (or "*"), for NodeColumn
	ColumnIdx  int    // index into Canonical.ColumnNamesOriginal, or -1
	IsPK       bool
	IsFK       bool
	ColumnType schema.ColumnType
}

// Text renders the node's text per spec §4.2: "global" for the
// sentinel, "T" for tables, "T.C (type)" for columns.
func (n Node) Text() string {
	switch n.Kind {
	case NodeGlobal:
		return "global"
	case NodeTable:
		return n.Table
	case NodeColumn:
		return fmt.Sprintf("%s.%s (%s)", n.Table, n.Column, n.ColumnType)
	default:
		return ""
	}
}

// Graph is the full schema graph: a global node, one node per table,
// one node per column (including an implicit star column per table),
// and undirected edges global-table, table-column, column-column (for
// each foreign key relation).
type Graph struct {
	Nodes []Node
	// Adjacency maps a node index to the indices of its neighbors.
	// Edges are stored symmetrically (both directions) so any stage
	// can walk the graph without special-casing direction.
	Adjacency [][]int

	// index helpers
	byID        map[string]int
	tableNode   map[string]int
	columnNode  map[string]int // key: "table.column" or "table.*"
}

// NodeIndex returns the index of the node with the given id, or -1.
func (g *Graph) NodeIndex(id string) int {
	if idx, ok := g.byID[id]; ok {
		return idx
	}
	return -1
}

// TableNodeID returns the node id for a table.
func TableNodeID(table string) string { return "table:" + table }

// ColumnNodeID returns the node id for a column ("*" included).
func ColumnNodeID(table, column string) string { return "column:" + table + "." + column }

func (g *Graph) addNode(n Node) int {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	g.Adjacency = append(g.Adjacency, nil)
	g.byID[n.ID] = idx
	return idx
}

func (g *Graph) addEdge(a, b int) {
	g.Adjacency[a] = append(g.Adjacency[a], b)
	g.Adjacency[b] = append(g.Adjacency[b], a)
}

// Build constructs the graph view of a canonical schema.
func Build(c *schema.Canonical) *Graph {
	g := &Graph{
		byID:       make(map[string]int),
		tableNode:  make(map[string]int),
		columnNode: make(map[string]int),
	}

	globalIdx := g.addNode(Node{ID: "global", Kind: NodeGlobal, ColumnIdx: -1})

	pkSet := make(map[int]bool, len(c.PrimaryKeys))
	for _, idx := range c.PrimaryKeys {
		pkSet[idx] = true
	}
	fkSet := make(map[int]bool)
	for _, pair := range c.ForeignKeys {
		fkSet[pair.Child] = true
		fkSet[pair.Parent] = true
	}

	tableIdxByName := make(map[string]int, len(c.TableNamesOriginal))
	for i, name := range c.TableNamesOriginal {
		tableIdxByName[name] = i
	}

	// Table nodes, and a star column node per table.
	for _, tableName := range c.TableNamesOriginal {
		tNodeID := TableNodeID(tableName)
		tIdx := g.addNode(Node{ID: tNodeID, Kind: NodeTable, Table: tableName, ColumnIdx: -1})
		g.tableNode[tableName] = tIdx
		g.addEdge(globalIdx, tIdx)

		starID := ColumnNodeID(tableName, "*")
		starIdx := g.addNode(Node{ID: starID, Kind: NodeColumn, Table: tableName, Column: "*", ColumnIdx: -1})
		g.columnNode[tableName+".*"] = starIdx
		g.addEdge(tIdx, starIdx)
	}

	// Column nodes (skip index 0, the global star sentinel, which has
	// no single owning table).
	for colIdx := 1; colIdx < len(c.ColumnNamesOriginal); colIdx++ {
		ref := c.ColumnNamesOriginal[colIdx]
		tableName := c.TableNamesOriginal[ref.TableIndex]
		cNodeID := ColumnNodeID(tableName, ref.Column)
		cIdx := g.addNode(Node{
			ID:         cNodeID,
			Kind:       NodeColumn,
			Table:      tableName,
			Column:     ref.Column,
			ColumnIdx:  colIdx,
			IsPK:       pkSet[colIdx],
			IsFK:       fkSet[colIdx],
			ColumnType: c.ColumnTypes[colIdx],
		})
		g.columnNode[tableName+"."+ref.Column] = cIdx
		g.addEdge(g.tableNode[tableName], cIdx)
	}

	// column-column edges for each foreign key relation.
	for _, pair := range c.ForeignKeys {
		childNode := g.nodeForColumnIndex(c, pair.Child)
		parentNode := g.nodeForColumnIndex(c, pair.Parent)
		if childNode >= 0 && parentNode >= 0 {
			g.addEdge(childNode, parentNode)
		}
	}

	return g
}

func (g *Graph) nodeForColumnIndex(c *schema.Canonical, colIdx int) int {
	ref := c.ColumnNamesOriginal[colIdx]
	if ref.TableIndex < 0 {
		return -1
	}
	tableName := c.TableNamesOriginal[ref.TableIndex]
	idx, ok := g.columnNode[tableName+"."+ref.Column]
	if !ok {
		return -1
	}
	return idx
}

// TableNode returns the node index for a table, or -1.
func (g *Graph) TableNode(table string) int {
	if idx, ok := g.tableNode[table]; ok {
		return idx
	}
	return -1
}

// ColumnNode returns the node index for a table.column (or table.*), or -1.
func (g *Graph) ColumnNode(table, column string) int {
	if idx, ok := g.columnNode[table+"."+column]; ok {
		return idx
	}
	return -1
}
