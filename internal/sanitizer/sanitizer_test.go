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

package sanitizer

import (
	"reflect"
	"testing"
)

func TestSanitizeBareColumnStrings(t *testing.T) {
	raw := map[string]any{
		"select": []any{"orders.id", "COUNT(*)"},
		"where":  []any{},
	}
	got := Sanitize(raw)
	sel := got["select"].([]any)

	want0 := map[string]any{"type": "column", "value": "orders.id"}
	if !reflect.DeepEqual(sel[0], want0) {
		t.Errorf("select[0] = %#v, want %#v", sel[0], want0)
	}

	count, ok := sel[1].(map[string]any)
	if !ok || count["type"] != "aggregate" || count["name"] != "COUNT" {
		t.Errorf("select[1] = %#v, want a COUNT aggregate expression", sel[1])
	}
}

func TestSanitizeJoinFieldRenames(t *testing.T) {
	raw := map[string]any{
		"select": []any{},
		"where":  []any{},
		"joins": []any{
			map[string]any{
				"target_table": "customers",
				"condition":    "orders.customer_id = customers.id",
				"join_type":    "left",
			},
		},
	}
	got := Sanitize(raw)
	joins := got["joins"].([]any)
	j := joins[0].(map[string]any)

	if j["table"] != "customers" {
		t.Errorf("table = %v, want customers", j["table"])
	}
	if j["type"] != "LEFT" {
		t.Errorf("type = %v, want LEFT", j["type"])
	}
	on, ok := j["on"].([]any)
	if !ok || len(on) != 1 {
		t.Fatalf("on = %#v, want a single parsed predicate", j["on"])
	}
	pred := on[0].(map[string]any)
	if pred["operator"] != "=" {
		t.Errorf("predicate operator = %v, want =", pred["operator"])
	}
}

func TestSanitizeCTERenames(t *testing.T) {
	raw := map[string]any{
		"select": []any{},
		"where":  []any{},
		"ctes": []any{
			map[string]any{
				"cte_name":       "recent_orders",
				"cte_definition": map[string]any{"select": []any{"id"}, "where": []any{}},
			},
		},
	}
	got := Sanitize(raw)
	ctes := got["ctes"].([]any)
	cte := ctes[0].(map[string]any)
	if cte["name"] != "recent_orders" {
		t.Errorf("name = %v, want recent_orders", cte["name"])
	}
	if _, ok := cte["query"].(map[string]any); !ok {
		t.Errorf("query = %#v, want a sanitized nested query", cte["query"])
	}
}

func TestSanitizeLimitOffsetStrings(t *testing.T) {
	raw := map[string]any{
		"select": []any{},
		"where":  []any{},
		"limit":  "10",
		"offset": "not-a-number",
	}
	got := Sanitize(raw)
	if got["limit"] != 10 {
		t.Errorf("limit = %#v, want int 10", got["limit"])
	}
	if _, ok := got["offset"]; ok {
		t.Errorf("offset = %#v, want it dropped when not numeric", got["offset"])
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	raw := map[string]any{
		"select": []any{"a.id", "COUNT(*)"},
		"where": []any{
			map[string]any{"left": "a.status", "operator": "  = ", "right": "active"},
		},
		"joins": []any{
			map[string]any{"target_table": "b", "condition": "a.id = b.a_id", "join_type": "inner"},
		},
		"limit": "5",
	}
	once := Sanitize(raw)
	twice := Sanitize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Sanitize is not idempotent:\nonce:  %#v\ntwice: %#v", once, twice)
	}
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	raw := map[string]any{
		"select": []any{"a.id"},
		"where":  []any{},
	}
	_ = Sanitize(raw)
	if _, ok := raw["select"].([]any)[0].(string); !ok {
		t.Error("Sanitize must not mutate its input in place")
	}
}
