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
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/googleapis/nl2sql-pipeline/internal/embeddingmodels"
	"github.com/googleapis/nl2sql-pipeline/internal/graph"
	"github.com/googleapis/nl2sql-pipeline/internal/schema"
)

// ErrUnavailable is returned by ScoreNodes whenever the ranker cannot
// produce a ranking — missing/invalid weights, a failed question
// embedding, or a node-text embedding that is not 384-dim. Per spec §4.2, the orchestrator must treat this as "no
// pruning" and fall back to the full schema, never as a hard failure.
var ErrUnavailable = errors.New("ranker: unavailable")

// RankedNode is one scored schema-graph node.
type RankedNode struct {
	NodeID string
	Score  float32
	// Reason is empty for nodes scored directly by the model; the
	// Intelligent Fallback tags augmented nodes with why they were added.
	Reason string
}

// Model couples the loaded GAT weights with the sentence encoder used
// for both the question and node-text embeddings (spec §4.2, §6.2).
// A Model loaded once at startup is immutable and safe for concurrent
// forward passes: it holds no per-call mutable state.
type Model struct {
	weights *Weights
	encoder embeddingmodels.Encoder
}

// Load builds a Model from a persisted weights file and an encoder.
// It never panics: a missing file, decode error, or shape mismatch is
// returned as an error so the caller can disable the ranker and
// continue unpruned, per the failure semantics of spec §4.2 and §6.3.
func Load(path string, encoder embeddingmodels.Encoder) (*Model, error) {
	w, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	if encoder != nil && encoder.Dimension() != w.Q {
		return nil, fmt.Errorf("ranker: encoder dimension %d does not match trained weights' question dimension %d", encoder.Dimension(), w.Q)
	}
	return &Model{weights: w, encoder: encoder}, nil
}

// ScoreNodes implements the score_nodes(question, canonical_schema,
// top_k) operation of spec §4.2: compute the question embedding and
// every node's feature vector, run the GAT forward pass with dropout
// off and gradients disabled, apply sigmoid, and return the top_k
// nodes by descending score (ties broken by node index).
func (m *Model) ScoreNodes(ctx context.Context, question string, c *schema.Canonical, g *graph.Graph, topK int) ([]RankedNode, error) {
	if m == nil {
		return nil, ErrUnavailable
	}

	q, err := m.encoder.Encode(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: question embedding failed: %v", ErrUnavailable, err)
	}
	if len(q) != m.weights.Q {
		return nil, fmt.Errorf("%w: question embedding has dim %d, want %d", ErrUnavailable, len(q), m.weights.Q)
	}

	features := make([][]float32, len(g.Nodes))
	for i, node := range g.Nodes {
		textVec, err := m.encoder.Encode(ctx, node.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: node text embedding failed: %v", ErrUnavailable, err)
		}
		if len(textVec) != TextEmbeddingDim {
			return nil, fmt.Errorf("%w: node text embedding has dim %d, want %d", ErrUnavailable, len(textVec), TextEmbeddingDim)
		}
		features[i] = assembleNodeFeature(node, q, textVec)
	}

	logits := forward(m.weights, features, g.Adjacency)

	ranked := make([]RankedNode, len(g.Nodes))
	for i, node := range g.Nodes {
		ranked[i] = RankedNode{NodeID: node.ID, Score: sigmoid(logits[i])}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return i < j // node index tiebreak; ranked is built in node-index order
	})

	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// assembleNodeFeature builds the 5+Q+384 raw feature vector for a
// node: the sparse [is_global, is_table, is_column, is_pk, is_fk]
// indicator, the question embedding replicated to this node, and the
// node's own 384-dim text embedding.
func assembleNodeFeature(n graph.Node, question, text []float32) []float32 {
	out := make([]float32, 0, NodeFeatureDim+len(question)+len(text))
	var indicator [NodeFeatureDim]float32
	switch n.Kind {
	case graph.NodeGlobal:
		indicator[0] = 1
	case graph.NodeTable:
		indicator[1] = 1
	case graph.NodeColumn:
		indicator[2] = 1
		if n.IsPK {
			indicator[3] = 1
		}
		if n.IsFK {
			indicator[4] = 1
		}
	}
	out = append(out, indicator[:]...)
	out = append(out, question...)
	out = append(out, text...)
	return out
}
