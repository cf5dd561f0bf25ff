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

// Package schema models the input schema (spec §3.1): tables, columns,
// foreign keys and the flattened relationship list, plus the
// fingerprinting used as a cache key and version identifier. Schema
// extraction from a live database is an external collaborator; this
// package only consumes the already-extracted, structured form.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Column is a single column definition.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// ForeignKey is a (possibly composite) foreign key constraint.
type ForeignKey struct {
	ConstrainedColumns []string `json:"constrained_columns"`
	ReferredTable      string   `json:"referred_table"`
	ReferredColumns    []string `json:"referred_columns"`
}

// Index is a named index over an ordered set of columns.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Table is a single table definition. Columns preserve insertion
// (ingestion) order; this order is load-bearing for §4.1's determinism
// contract and for the canonical view's column indices.
type Table struct {
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Indexes     []Index      `json:"indexes"`
}

// Relationship is a flattened (from_table, from_columns, to_table,
// to_columns) tuple, redundant with the per-table ForeignKeys but kept
// at the top level for consumers that want a flat join graph without
// walking every table.
type Relationship struct {
	FromTable   string   `json:"from_table"`
	FromColumns []string `json:"from_columns"`
	ToTable     string   `json:"to_table"`
	ToColumns   []string `json:"to_columns"`
}

// Schema is a mapping from database identifier to its table
// definitions. TableOrder preserves the insertion order the converter
// must honor; Tables is keyed by table name for O(1) lookup. The wire
// shape of spec §3.1 ("tables: mapping from table name to ...") is a
// plain JSON object, which encoding/json's map decoding does not
// preserve the key order of; MarshalJSON/UnmarshalJSON below recover
// and re-emit that order explicitly rather than relying on it.
type Schema struct {
	DBID          string
	TableOrder    []string
	Tables        map[string]Table
	Relationships []Relationship
	Version       string
}

// schemaWire is the JSON shape of Schema, with Tables carried as a raw
// object so Marshal/Unmarshal can control its key order by hand.
type schemaWire struct {
	DBID          string          `json:"db_id"`
	Tables        json.RawMessage `json:"tables"`
	Relationships []Relationship  `json:"relationships"`
	Version       string          `json:"version,omitempty"`
}

// MarshalJSON emits Tables as a JSON object whose keys appear in
// TableOrder, so a round trip through JSON does not lose the ordering
// §4.1 depends on.
func (s *Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.TableOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.Tables[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')

	return json.Marshal(schemaWire{
		DBID:          s.DBID,
		Tables:        buf.Bytes(),
		Relationships: s.Relationships,
		Version:       s.Version,
	})
}

// UnmarshalJSON decodes a schema document, recovering the table
// insertion order from the raw token stream of the "tables" object
// before populating Tables/TableOrder via AddTable.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var w schemaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.DBID = w.DBID
	s.Relationships = w.Relationships
	s.Version = w.Version
	s.Tables = make(map[string]Table)
	s.TableOrder = nil

	if len(w.Tables) == 0 {
		return nil
	}
	order, err := objectKeyOrder(w.Tables)
	if err != nil {
		return fmt.Errorf("schema: decoding tables: %w", err)
	}
	var tables map[string]Table
	if err := json.Unmarshal(w.Tables, &tables); err != nil {
		return fmt.Errorf("schema: decoding tables: %w", err)
	}
	for _, name := range order {
		s.AddTable(name, tables[name])
	}
	return nil
}

// objectKeyOrder walks a JSON object's tokens to recover the order its
// keys appeared in the source document, since map decoding in
// encoding/json does not preserve it.
func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string table name, got %v", keyTok)
		}
		order = append(order, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// New constructs an empty Schema for the given database id.
func New(dbID string) *Schema {
	return &Schema{DBID: dbID, Tables: make(map[string]Table)}
}

// AddTable appends a table in insertion order. Calling AddTable twice
// with the same name replaces the definition but keeps the original
// position, matching how a schema re-ingestion would update in place.
func (s *Schema) AddTable(name string, t Table) {
	if _, exists := s.Tables[name]; !exists {
		s.TableOrder = append(s.TableOrder, name)
	}
	s.Tables[name] = t
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// canonicalWire is the JSON shape fingerprinted by Fingerprint: a
// fixed-field-order, table-order-preserving representation that is invariant under
// any re-serialization of an equal schema (spec §3.1 invariant 1).
type canonicalWire struct {
	DBID          string           `json:"db_id"`
	Tables        []canonicalTable `json:"tables"`
	Relationships []Relationship   `json:"relationships"`
}

type canonicalTable struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Indexes     []Index      `json:"indexes"`
}

// canonicalBytes renders the schema into the deterministic byte form
// that Fingerprint hashes. encoding/json marshals struct fields in
// declaration order (not map order) so this is stable without a manual
// sort step, as long as TableOrder is respected.
func (s *Schema) canonicalBytes() ([]byte, error) {
	w := canonicalWire{
		DBID:          s.DBID,
		Relationships: s.Relationships,
	}
	for _, name := range s.TableOrder {
		t := s.Tables[name]
		w.Tables = append(w.Tables, canonicalTable{
			Name:        name,
			Columns:     t.Columns,
			ForeignKeys: t.ForeignKeys,
			Indexes:     t.Indexes,
		})
	}
	return json.Marshal(w)
}

// Fingerprint returns the first 16 hex characters of the SHA-256 hash
// of the schema's canonical JSON encoding (spec §3.1, GLOSSARY). Two
// schemas are semantically equal iff their fingerprints match.
func (s *Schema) Fingerprint() (string, error) {
	b, err := s.canonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16], nil
}
