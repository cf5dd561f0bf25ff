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

package schema

import (
	"context"
	"log/slog"
	"strings"
)

// ColumnType classifies a SQL type string into one of the five Spider
// buckets (spec §3.2).
type ColumnType string

const (
	TypeNumber  ColumnType = "number"
	TypeText    ColumnType = "text"
	TypeTime    ColumnType = "time"
	TypeBoolean ColumnType = "boolean"
	TypeOthers  ColumnType = "others"
)

// ColumnRef is a (table_index, column_name) pair. The sentinel star
// column is (-1, "*") at index 0.
type ColumnRef struct {
	TableIndex int    `json:"table_index"`
	Column     string `json:"column_name"`
}

// FKPair is a pair of column indices (child, parent) into
// ColumnNamesOriginal.
type FKPair struct {
	Child  int `json:"child"`
	Parent int `json:"parent"`
}

// Canonical is the Spider-style schema view consumed by the GAT ranker
// (spec §3.2). Column indices are stable across conversion and
// ranking: index i of ColumnNamesOriginal and ColumnTypes always
// describe the same column.
type Canonical struct {
	DBID                string       `json:"db_id"`
	TableNamesOriginal  []string     `json:"table_names_original"`
	ColumnNamesOriginal []ColumnRef  `json:"column_names_original"`
	ColumnTypes         []ColumnType `json:"column_types"`
	PrimaryKeys         []int        `json:"primary_keys"`
	ForeignKeys         []FKPair     `json:"foreign_keys"`
}

// ClassifyType maps a raw SQL type string to a Spider column-type
// bucket per the mapping rules of spec §3.2. Matching is prefix-based
// and case-insensitive; an unrecognized type string maps to "others".
func ClassifyType(sqlType string) ColumnType {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	switch {
	case hasAnyPrefix(t, "int", "dec", "num", "float", "double", "real", "bigint", "smallint"):
		return TypeNumber
	case hasAnyPrefix(t, "date", "time", "year"):
		return TypeTime
	case hasAnyPrefix(t, "bool", "bit"):
		return TypeBoolean
	case hasAnyPrefix(t, "varchar", "char", "text", "enum", "set", "json", "blob"):
		return TypeText
	default:
		return TypeOthers
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ToCanonical converts a Schema into its canonical (Spider-style) view
// deterministically: table and column order follow the schema's own
// insertion order, and the sentinel star column is always index 0
// (spec §4.1). The function is pure and total over well-formed
// schemas; it never returns an error — malformed references are
// dropped with a logged warning rather than failing the conversion.
func ToCanonical(ctx context.Context, s *Schema, logger *slog.Logger) *Canonical {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Canonical{DBID: s.DBID}
	c.ColumnNamesOriginal = append(c.ColumnNamesOriginal, ColumnRef{TableIndex: -1, Column: "*"})
	c.ColumnTypes = append(c.ColumnTypes, TypeOthers)

	// colIndex[table][column] -> index into ColumnNamesOriginal, built
	// while emitting columns so FK resolution is a single linear pass.
	colIndex := make(map[string]map[string]int)

	for tIdx, tableName := range s.TableOrder {
		c.TableNamesOriginal = append(c.TableNamesOriginal, tableName)
		table := s.Tables[tableName]
		colIndex[tableName] = make(map[string]int, len(table.Columns))

		for _, col := range table.Columns {
			idx := len(c.ColumnNamesOriginal)
			c.ColumnNamesOriginal = append(c.ColumnNamesOriginal, ColumnRef{TableIndex: tIdx, Column: col.Name})
			c.ColumnTypes = append(c.ColumnTypes, ClassifyType(col.Type))
			colIndex[tableName][col.Name] = idx
			if col.PrimaryKey {
				c.PrimaryKeys = append(c.PrimaryKeys, idx)
			}
		}
	}

	for _, tableName := range s.TableOrder {
		table := s.Tables[tableName]
		for _, fk := range table.ForeignKeys {
			if len(fk.ConstrainedColumns) != len(fk.ReferredColumns) {
				logger.WarnContext(ctx, "schema: foreign key column count mismatch, dropping",
					"table", tableName, "referred_table", fk.ReferredTable)
				continue
			}
			for i, childCol := range fk.ConstrainedColumns {
				parentCol := fk.ReferredColumns[i]
				childIdx, ok := colIndex[tableName][childCol]
				if !ok {
					logger.WarnContext(ctx, "schema: foreign key references unknown child column, dropping",
						"table", tableName, "column", childCol)
					continue
				}
				parentIdx, ok := colIndex[fk.ReferredTable][parentCol]
				if !ok {
					logger.WarnContext(ctx, "schema: foreign key references unknown parent column, dropping",
						"referred_table", fk.ReferredTable, "column", parentCol)
					continue
				}
				c.ForeignKeys = append(c.ForeignKeys, FKPair{Child: childIdx, Parent: parentIdx})
			}
		}
	}

	return c
}

// TableOf returns the table name a column index belongs to, or "" for
// the sentinel star column.
func (c *Canonical) TableOf(colIdx int) string {
	ref := c.ColumnNamesOriginal[colIdx]
	if ref.TableIndex < 0 {
		return ""
	}
	return c.TableNamesOriginal[ref.TableIndex]
}
