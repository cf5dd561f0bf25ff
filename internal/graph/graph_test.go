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

package graph

import (
	"context"
	"testing"

	"github.com/googleapis/nl2sql-pipeline/internal/schema"
)

func testCanonical(t *testing.T) *schema.Canonical {
	t.Helper()
	s := schema.New("shop")
	s.AddTable("customers", schema.Table{Columns: []schema.Column{
		{Name: "id", Type: "int", PrimaryKey: true},
		{Name: "name", Type: "varchar"},
	}})
	s.AddTable("orders", schema.Table{
		Columns: []schema.Column{
			{Name: "id", Type: "int", PrimaryKey: true},
			{Name: "customer_id", Type: "int"},
		},
		ForeignKeys: []schema.ForeignKey{{
			ConstrainedColumns: []string{"customer_id"},
			ReferredTable:      "customers",
			ReferredColumns:    []string{"id"},
		}},
	})
	return schema.ToCanonical(context.Background(), s, nil)
}

func TestBuildCreatesGlobalTableAndColumnNodes(t *testing.T) {
	g := Build(testCanonical(t))

	if idx := g.NodeIndex("global"); idx != 0 {
		t.Errorf("global node index = %d, want 0", idx)
	}
	if idx := g.TableNode("orders"); idx < 0 {
		t.Fatal("expected an orders table node")
	}
	if idx := g.ColumnNode("orders", "customer_id"); idx < 0 {
		t.Fatal("expected an orders.customer_id column node")
	}
	if idx := g.ColumnNode("orders", "*"); idx < 0 {
		t.Fatal("expected an implicit orders.* star column node")
	}
}

func TestBuildConnectsGlobalToEveryTable(t *testing.T) {
	g := Build(testCanonical(t))

	globalIdx := g.NodeIndex("global")
	ordersIdx := g.TableNode("orders")
	customersIdx := g.TableNode("customers")

	neighbors := g.Adjacency[globalIdx]
	if !containsInt(neighbors, ordersIdx) || !containsInt(neighbors, customersIdx) {
		t.Errorf("global adjacency = %v, want to include both table nodes", neighbors)
	}
}

func TestBuildConnectsForeignKeyColumns(t *testing.T) {
	g := Build(testCanonical(t))

	childIdx := g.ColumnNode("orders", "customer_id")
	parentIdx := g.ColumnNode("customers", "id")
	if childIdx < 0 || parentIdx < 0 {
		t.Fatal("expected both foreign key endpoint nodes to exist")
	}

	if !containsInt(g.Adjacency[childIdx], parentIdx) {
		t.Errorf("orders.customer_id not connected to customers.id; adjacency = %v", g.Adjacency[childIdx])
	}
	if !containsInt(g.Adjacency[parentIdx], childIdx) {
		t.Errorf("customers.id not connected back to orders.customer_id; adjacency = %v", g.Adjacency[parentIdx])
	}
}

func TestNodeTextRendersByKind(t *testing.T) {
	g := Build(testCanonical(t))

	globalNode := g.Nodes[g.NodeIndex("global")]
	if globalNode.Text() != "global" {
		t.Errorf("global node Text() = %q, want %q", globalNode.Text(), "global")
	}

	tableNode := g.Nodes[g.TableNode("orders")]
	if tableNode.Text() != "orders" {
		t.Errorf("table node Text() = %q, want %q", tableNode.Text(), "orders")
	}

	colNode := g.Nodes[g.ColumnNode("orders", "customer_id")]
	want := "orders.customer_id (number)"
	if colNode.Text() != want {
		t.Errorf("column node Text() = %q, want %q", colNode.Text(), want)
	}
}

func TestNodeIndexUnknownIDReturnsNegativeOne(t *testing.T) {
	g := Build(testCanonical(t))
	if idx := g.NodeIndex("nonexistent"); idx != -1 {
		t.Errorf("NodeIndex(unknown) = %d, want -1", idx)
	}
	if idx := g.TableNode("ghost"); idx != -1 {
		t.Errorf("TableNode(unknown) = %d, want -1", idx)
	}
	if idx := g.ColumnNode("orders", "ghost"); idx != -1 {
		t.Errorf("ColumnNode(unknown) = %d, want -1", idx)
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
