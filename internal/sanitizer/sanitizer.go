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

// Package sanitizer coerces the raw LLM JSON dict into the shape the
// Validator accepts, without changing its meaning (spec §4.6). It
// operates on untyped map[string]any/[]any trees rather than the typed
// ir package, since its whole job is absorbing shapes the typed
// Expression/Query decoders would reject outright.
package sanitizer

import (
	"regexp"
	"strconv"
	"strings"
)

// Sanitize rewrites a raw LLM response dict toward the canonical IR
// wire shape of spec §3.4. It is best-effort and idempotent:
// Sanitize(Sanitize(x)) == Sanitize(x) for all inputs (spec §8.1
// property 6). Ambiguous structures are passed through unchanged for
// the Validator to catch.
func Sanitize(raw map[string]any) map[string]any {
	out := deepCopyMap(raw)

	renameCTEFields(out)
	renameJoinFields(out)
	renameOrderByFields(out)
	out["select"] = sanitizeSelectList(asList(out["select"]))
	if joins, ok := out["joins"]; ok {
		out["joins"] = sanitizeJoins(asList(joins))
	}
	out["where"] = sanitizePredicateList(asList(out["where"]))
	if having, ok := out["having"]; ok {
		out["having"] = sanitizePredicateList(asList(having))
	}
	if groupBy, ok := out["group_by"]; ok {
		out["group_by"] = sanitizeSelectList(asList(groupBy))
	}
	if orderBy, ok := out["order_by"]; ok {
		out["order_by"] = sanitizeOrderByList(asList(orderBy))
	}
	if ctes, ok := out["ctes"]; ok {
		out["ctes"] = sanitizeCTEList(asList(ctes))
	}
	sanitizeLimitOffset(out, "limit")
	sanitizeLimitOffset(out, "offset")

	return out
}

// renameCTEFields maps cte_name/cte_definition -> name/query on m
// itself. The CTE objects inside the ctes list are renamed by
// sanitizeCTEList.
func renameCTEFields(m map[string]any) {
	rename(m, "cte_name", "name")
	rename(m, "cte_definition", "query")
}

func renameJoinFields(m map[string]any) {
	joins := asList(m["joins"])
	for _, j := range joins {
		jm, ok := j.(map[string]any)
		if !ok {
			continue
		}
		rename(jm, "target_table", "table")
		rename(jm, "condition", "on")
		rename(jm, "join_type", "type")
		if t, ok := jm["type"].(string); ok {
			jm["type"] = strings.ToUpper(t)
		}
		if on, ok := jm["on"].(string); ok {
			if pred, ok := parseEqualityString(on); ok {
				jm["on"] = []any{pred}
			}
		}
	}
}

func renameOrderByFields(m map[string]any) {
	for _, ob := range asList(m["order_by"]) {
		obm, ok := ob.(map[string]any)
		if !ok {
			continue
		}
		rename(obm, "field", "column")
		rename(obm, "col", "column")
	}
}

func rename(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}
}

// sanitizeSelectList applies the SELECT-item rewrite rules: bare
// column strings become {type:"column"}, "COUNT(*)" becomes an
// aggregate object, and aggregate args that are strings are wrapped as
// column expressions.
func sanitizeSelectList(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, sanitizeExpression(item))
	}
	return out
}

var countStarPattern = regexp.MustCompile(`(?i)^\s*COUNT\s*\(\s*\*\s*\)\s*$`)

func sanitizeExpression(item any) any {
	switch v := item.(type) {
	case string:
		if countStarPattern.MatchString(v) {
			return map[string]any{
				"type": "aggregate",
				"name": "COUNT",
				"args": []any{map[string]any{"type": "column", "value": "*"}},
			}
		}
		return map[string]any{"type": "column", "value": v}
	case map[string]any:
		if _, hasAlias := v["alias"]; hasAlias {
			if v["alias"] == nil || v["alias"] == "" {
				delete(v, "alias")
			}
		}
		if args, ok := v["args"]; ok {
			wrapped := make([]any, 0)
			for _, a := range asList(args) {
				if s, ok := a.(string); ok {
					wrapped = append(wrapped, map[string]any{"type": "column", "value": s})
				} else {
					wrapped = append(wrapped, sanitizeExpression(a))
				}
			}
			v["args"] = wrapped
		}
		if sub, ok := v["subquery"].(map[string]any); ok {
			v["subquery"] = sanitizeSubquery(sub)
		}
		if pb, ok := v["partition_by"]; ok {
			v["partition_by"] = sanitizeSelectList(asList(pb))
		}
		if ob, ok := v["order_by"]; ok {
			v["order_by"] = sanitizeOrderByList(asList(ob))
		}
		return v
	default:
		return item
	}
}

func sanitizeSubquery(sub map[string]any) map[string]any {
	return Sanitize(sub)
}

func sanitizeJoins(joins []any) []any {
	out := make([]any, 0, len(joins))
	for _, j := range joins {
		jm, ok := j.(map[string]any)
		if !ok {
			out = append(out, j)
			continue
		}
		if on, ok := jm["on"]; ok {
			jm["on"] = sanitizePredicateList(asList(on))
		}
		out = append(out, jm)
	}
	return out
}

var operatorUpperPattern = regexp.MustCompile(`^[a-zA-Z ]+$`)

func sanitizePredicateList(preds []any) []any {
	out := make([]any, 0, len(preds))
	for _, p := range preds {
		pm, ok := p.(map[string]any)
		if !ok {
			out = append(out, p)
			continue
		}
		if left, ok := pm["left"]; ok {
			pm["left"] = sanitizeExpression(left)
		}
		if right, ok := pm["right"]; ok && right != nil {
			pm["right"] = sanitizeExpression(right)
		}
		if rl, ok := pm["right_list"]; ok {
			pm["right_list"] = sanitizeSelectList(asList(rl))
		}
		if op, ok := pm["operator"].(string); ok && operatorUpperPattern.MatchString(op) {
			pm["operator"] = strings.ToUpper(strings.TrimSpace(op))
		}
		out = append(out, pm)
	}
	return out
}

func sanitizeOrderByList(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		obm, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		rename(obm, "field", "column")
		rename(obm, "col", "column")
		if col, ok := obm["column"]; ok {
			obm["column"] = sanitizeExpression(col)
		}
		if dir, ok := obm["direction"].(string); ok {
			obm["direction"] = strings.ToUpper(strings.TrimSpace(dir))
		}
		out = append(out, obm)
	}
	return out
}

func sanitizeCTEList(ctes []any) []any {
	out := make([]any, 0, len(ctes))
	for _, c := range ctes {
		cm, ok := c.(map[string]any)
		if !ok {
			out = append(out, c)
			continue
		}
		rename(cm, "cte_name", "name")
		rename(cm, "cte_definition", "query")
		if q, ok := cm["query"].(map[string]any); ok {
			cm["query"] = Sanitize(q)
		}
		out = append(out, cm)
	}
	return out
}

// sanitizeLimitOffset parses a string limit/offset into an int when
// purely numeric, and drops the field entirely otherwise.
func sanitizeLimitOffset(m map[string]any, field string) {
	v, ok := m[field]
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		return
	}
	trimmed := strings.TrimSpace(s)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		delete(m, field)
		return
	}
	m[field] = n
}

// equalityPattern splits a bare join condition string "a.col = b.col"
// (or "a.col=b.col") into its two sides.
var equalityPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_.]+)\s*=\s*([A-Za-z0-9_.]+)\s*$`)

func parseEqualityString(s string) (map[string]any, bool) {
	m := equalityPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	return map[string]any{
		"left":     map[string]any{"type": "column", "value": m[1]},
		"operator": "=",
		"right":    map[string]any{"type": "column", "value": m[2]},
	}, true
}

func asList(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return t
	}
}
