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

package rediskv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

func TestNewFailsOnUnreachableAddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected an error dialing an unreachable address")
	}
}

// testClient connects to a Redis instance named by REDIS_TEST_ADDR,
// skipping the test when it isn't configured or reachable. These
// stores are exercised against a real server since the client issues
// an eager Ping at construction by design.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping Redis-backed store test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := New(ctx, Config{Addr: addr, MaxTurns: 3})
	if err != nil {
		t.Skipf("could not reach Redis at %s: %v", addr, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSchemaCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	cache := c.SchemaCache()
	ctx := context.Background()
	s := schema.New("shop")
	s.AddTable("orders", schema.Table{Columns: []schema.Column{{Name: "id", Type: "int"}}})

	if err := cache.Put(ctx, "fp-test", s, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := cache.Get(ctx, "fp-test")
	if err != nil || !ok {
		t.Fatalf("Get = (_, %v, %v), want a cached schema", ok, err)
	}
	if got.DBID != "shop" {
		t.Errorf("DBID = %q, want shop", got.DBID)
	}
}

func TestSchemaCacheMissReturnsFalse(t *testing.T) {
	c := testClient(t)
	cache := c.SchemaCache()
	_, ok, err := cache.Get(context.Background(), "does-not-exist")
	if err != nil || ok {
		t.Errorf("Get = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestConversationStoreAppendTrimsToMaxTurns(t *testing.T) {
	c := testClient(t)
	conv := c.ConversationStore()
	ctx := context.Background()
	convID := "conv-test-trim"
	t.Cleanup(func() { conv.Clear(ctx, convID) })

	for i := 0; i < 5; i++ {
		if err := conv.Append(ctx, convID, store.Turn{Question: "q", SQL: "SELECT 1"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	turns, err := conv.Get(ctx, convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 3 {
		t.Errorf("len(turns) = %d, want 3 (bounded by MaxTurns)", len(turns))
	}
}

func TestConversationStoreClear(t *testing.T) {
	c := testClient(t)
	conv := c.ConversationStore()
	ctx := context.Background()
	convID := "conv-test-clear"

	if err := conv.Append(ctx, convID, store.Turn{Question: "q"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := conv.Clear(ctx, convID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	turns, err := conv.Get(ctx, convID)
	if err != nil || len(turns) != 0 {
		t.Errorf("Get after Clear = (%v, %v), want (empty, nil)", turns, err)
	}
}
