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

// Package rediskv implements store.SchemaCache and
// store.ConversationStore against Redis, for deployments that need the
// conversation history and schema cache to survive process restarts or
// be shared across replicas.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/googleapis/nl2sql-pipeline/internal/schema"
	"github.com/googleapis/nl2sql-pipeline/internal/store"
)

// Config is the YAML configuration for the Redis-backed stores.
type Config struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	// MaxTurns bounds the per-conversation deque length kept in Redis.
	MaxTurns int `yaml:"maxTurns,omitempty"`
}

// Client wraps a connected Redis client and hands out narrow views
// implementing store.SchemaCache and store.ConversationStore — kept as
// separate types rather than one struct implementing both interfaces,
// since Get on a schema cache and Get on a conversation store take
// unrelated argument/result shapes.
type Client struct {
	raw      *redis.Client
	maxTurns int
}

// New dials Redis eagerly (a Ping is issued) so configuration mistakes
// surface at startup rather than on the first request.
func New(ctx context.Context, cfg Config) (*Client, error) {
	c := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediskv: ping: %w", err)
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Client{raw: c, maxTurns: maxTurns}, nil
}

func (c *Client) Close() error { return c.raw.Close() }

// SchemaCache returns a store.SchemaCache backed by this client.
func (c *Client) SchemaCache() *SchemaCache { return &SchemaCache{client: c.raw} }

// ConversationStore returns a store.ConversationStore backed by this client.
func (c *Client) ConversationStore() *ConversationStore {
	return &ConversationStore{client: c.raw, maxTurns: c.maxTurns}
}

// SchemaCache implements store.SchemaCache against Redis string keys.
type SchemaCache struct {
	client *redis.Client
}

var _ store.SchemaCache = (*SchemaCache)(nil)

func schemaKey(fingerprint string) string { return "nl2sql:schema:" + fingerprint }

func (c *SchemaCache) Get(ctx context.Context, fingerprint string) (*schema.Schema, bool, error) {
	raw, err := c.client.Get(ctx, schemaKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediskv: get schema: %w", err)
	}
	var sch schema.Schema
	if err := json.Unmarshal(raw, &sch); err != nil {
		return nil, false, fmt.Errorf("rediskv: decode schema: %w", err)
	}
	return &sch, true, nil
}

func (c *SchemaCache) Put(ctx context.Context, fingerprint string, sch *schema.Schema, ttl time.Duration) error {
	raw, err := json.Marshal(sch)
	if err != nil {
		return fmt.Errorf("rediskv: encode schema: %w", err)
	}
	if err := c.client.Set(ctx, schemaKey(fingerprint), raw, ttl).Err(); err != nil {
		return fmt.Errorf("rediskv: set schema: %w", err)
	}
	return nil
}

// ConversationStore implements store.ConversationStore against a Redis
// list per conversation id.
type ConversationStore struct {
	client   *redis.Client
	maxTurns int
}

var _ store.ConversationStore = (*ConversationStore)(nil)

func conversationKey(conversationID string) string { return "nl2sql:conv:" + conversationID }

// Get returns the conversation's turns oldest-first.
func (c *ConversationStore) Get(ctx context.Context, conversationID string) ([]store.Turn, error) {
	raw, err := c.client.LRange(ctx, conversationKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rediskv: lrange: %w", err)
	}
	turns := make([]store.Turn, 0, len(raw))
	for _, item := range raw {
		var t store.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("rediskv: decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (c *ConversationStore) Append(ctx context.Context, conversationID string, turn store.Turn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("rediskv: encode turn: %w", err)
	}
	key := conversationKey(conversationID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-c.maxTurns), -1)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediskv: append turn: %w", err)
	}
	return nil
}

func (c *ConversationStore) Clear(ctx context.Context, conversationID string) error {
	if err := c.client.Del(ctx, conversationKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("rediskv: clear conversation: %w", err)
	}
	return nil
}
