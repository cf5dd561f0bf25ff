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

// Package ranker implements the GAT schema ranker (spec §4.2) and its
// intelligent fallback (spec §4.3). No third-party tensor or graph
// library in the example pack models GNN inference, so the forward
// pass below is deliberately plain float32-slice arithmetic: there is
// no idiomatic ecosystem shortcut to learn here, only the math spec §6.3
// pins down.
package ranker

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

const (
	// NumHeads is the number of attention heads per layer, averaged
	// (not concatenated) as required by spec §4.2.
	NumHeads = 4
	// NumLayers is the number of stacked graph attention layers.
	NumLayers = 3
	// NodeFeatureDim is the sparse indicator width:
	// [is_global, is_table, is_column, is_pk, is_fk].
	NodeFeatureDim = 5
	// TextEmbeddingDim is the fixed dimension of the node-text embedding.
	TextEmbeddingDim = 384
)

// DropoutSchedule is documented for completeness (spec §4.2); this
// package only ever runs in inference mode, where dropout is always
// disabled, so the schedule is never applied.
var DropoutSchedule = [NumLayers]float32{0.3, 0.3, 0.2}

// LayerWeights holds one graph-attention layer's per-head parameters.
// Wh[h] is a flattened H x H row-major matrix; A[h] is a 2H attention
// vector (applied to the concatenation of a node's and its neighbor's
// projected features).
type LayerWeights struct {
	Wh [][]float32
	A  [][]float32
}

// Weights is the full persisted state dict (spec §6.3). Q is the
// question-embedding dimension actually baked into InputProjW's shape;
// implementations must use whichever Q the loaded weights encode
// rather than assuming a fixed 384 or 768 (spec §9 open question).
type Weights struct {
	Q int
	H int

	InputProjW []float32 // H x (5+Q+384), row-major
	InputProjB []float32 // H

	Layers [NumLayers]LayerWeights

	ClassifierW []float32 // 1 x H
	ClassifierB float32
}

// InputDim returns the expected raw per-node feature width (5 + Q + 384).
func (w *Weights) InputDim() int {
	return NodeFeatureDim + w.Q + TextEmbeddingDim
}

// Validate checks that every tensor in w has the shape its declared
// Q/H imply, per the contract of spec §6.3.
func (w *Weights) Validate() error {
	inDim := w.InputDim()
	if len(w.InputProjW) != w.H*inDim {
		return fmt.Errorf("ranker: input_proj.weight shape mismatch: got %d floats, want %d (H=%d, in=%d)",
			len(w.InputProjW), w.H*inDim, w.H, inDim)
	}
	if len(w.InputProjB) != w.H {
		return fmt.Errorf("ranker: input_proj.bias shape mismatch: got %d, want %d", len(w.InputProjB), w.H)
	}
	for i, layer := range w.Layers {
		if len(layer.Wh) != NumHeads || len(layer.A) != NumHeads {
			return fmt.Errorf("ranker: conv%d: expected %d heads, got Wh=%d A=%d", i+1, NumHeads, len(layer.Wh), len(layer.A))
		}
		for h := 0; h < NumHeads; h++ {
			if len(layer.Wh[h]) != w.H*w.H {
				return fmt.Errorf("ranker: conv%d head %d: weight shape mismatch: got %d, want %d", i+1, h, len(layer.Wh[h]), w.H*w.H)
			}
			if len(layer.A[h]) != 2*w.H {
				return fmt.Errorf("ranker: conv%d head %d: attention vector shape mismatch: got %d, want %d", i+1, h, len(layer.A[h]), 2*w.H)
			}
		}
	}
	if len(w.ClassifierW) != w.H {
		return fmt.Errorf("ranker: classifier.weight shape mismatch: got %d, want %d", len(w.ClassifierW), w.H)
	}
	return nil
}

// LoadWeights reads a gob-encoded Weights state dict from path and
// validates its tensor shapes. Per spec §6.3/§4.2, a missing file or a
// shape mismatch is reported as an error, not a panic: the caller
// (Model.Load) is responsible for treating this as "ranker disabled".
func LoadWeights(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ranker: open weights: %w", err)
	}
	defer f.Close()
	return DecodeWeights(f)
}

// DecodeWeights gob-decodes a Weights state dict from r and validates it.
func DecodeWeights(r io.Reader) (*Weights, error) {
	var w Weights
	if err := gob.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("ranker: decode weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWeights gob-encodes w to path, for tooling that trains/exports
// weights outside of this package.
func SaveWeights(path string, w *Weights) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ranker: create weights file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(w); err != nil {
		return fmt.Errorf("ranker: encode weights: %w", err)
	}
	return nil
}
