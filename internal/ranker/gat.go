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

import "math"

// forward runs the full GAT stack (input projection, 3 attention
// layers, classifier) over a fixed set of node features and an
// adjacency list, with dropout disabled, and returns one logit per
// node. Gradients are never computed: this package has no training
// path (spec Non-goals: "online training or fine-tuning of the GAT").
func forward(w *Weights, nodeFeatures [][]float32, adjacency [][]int) []float32 {
	n := len(nodeFeatures)
	h := make([][]float32, n)
	for i := range nodeFeatures {
		h[i] = linear(w.InputProjW, w.InputProjB, nodeFeatures[i], w.H)
	}

	for l := 0; l < NumLayers; l++ {
		h = gatLayer(w.Layers[l], h, adjacency, w.H)
		for i := range h {
			relu(h[i])
		}
	}

	logits := make([]float32, n)
	for i := range h {
		logits[i] = dot(w.ClassifierW, h[i]) + w.ClassifierB
	}
	return logits
}

// linear computes W*x + b where W is a flattened (outDim x len(x))
// row-major matrix.
func linear(W, b, x []float32, outDim int) []float32 {
	inDim := len(x)
	out := make([]float32, outDim)
	for o := 0; o < outDim; o++ {
		var sum float32
		row := W[o*inDim : (o+1)*inDim]
		for i, xi := range x {
			sum += row[i] * xi
		}
		out[o] = sum + b[o]
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func relu(v []float32) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func leakyReLU(x float32) float32 {
	if x >= 0 {
		return x
	}
	return 0.2 * x
}

// gatLayer runs one multi-head graph-attention layer. Each node
// attends over itself and its adjacency-list neighbors; per-head
// outputs are averaged (not concatenated), per spec §4.2.
func gatLayer(lw LayerWeights, h [][]float32, adjacency [][]int, hiddenDim int) [][]float32 {
	n := len(h)
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, hiddenDim)
	}

	for head := 0; head < NumHeads; head++ {
		Wh := lw.Wh[head]
		a := lw.A[head]

		// Project every node once per head.
		proj := make([][]float32, n)
		for i := range h {
			proj[i] = linear(Wh, zeros(hiddenDim), h[i], hiddenDim)
		}

		for i := 0; i < n; i++ {
			neighbors := append([]int{i}, adjacency[i]...) // self-loop included

			scores := make([]float32, len(neighbors))
			maxScore := float32(math.Inf(-1))
			for k, j := range neighbors {
				e := leakyReLU(attentionLogit(a, proj[i], proj[j], hiddenDim))
				scores[k] = e
				if e > maxScore {
					maxScore = e
				}
			}
			var sumExp float32
			weights := make([]float32, len(neighbors))
			for k, e := range scores {
				we := float32(math.Exp(float64(e - maxScore)))
				weights[k] = we
				sumExp += we
			}

			agg := make([]float32, hiddenDim)
			for k, j := range neighbors {
				alpha := weights[k] / sumExp
				for d := 0; d < hiddenDim; d++ {
					agg[d] += alpha * proj[j][d]
				}
			}
			for d := 0; d < hiddenDim; d++ {
				out[i][d] += agg[d] / float32(NumHeads)
			}
		}
	}
	return out
}

func attentionLogit(a, projI, projJ []float32, hiddenDim int) float32 {
	var sum float32
	for d := 0; d < hiddenDim; d++ {
		sum += a[d] * projI[d]
	}
	for d := 0; d < hiddenDim; d++ {
		sum += a[hiddenDim+d] * projJ[d]
	}
	return sum
}

func zeros(n int) []float32 { return make([]float32, n) }

// sigmoid maps a logit to a probability in [0,1]. It is applied
// exactly once, at inference time, never during training (spec §4.2:
// "Implementations must not apply sigmoid twice").
func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}
