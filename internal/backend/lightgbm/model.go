// Package lightgbm implements a pure-Go gradient boosting engine with
// leaf-wise tree growth and LightGBM-style hyperparameters. Models are
// JSON-serializable and predict in-process; no external runtime is involved.
package lightgbm

import (
	"math"

	"nova-ml/internal/mlerr"
)

// Objective selects the loss driving gradient computation and the output
// transform applied at prediction time.
type Objective string

const (
	ObjectiveRegression Objective = "regression"
	ObjectiveBinary     Objective = "binary"
	ObjectiveMulticlass Objective = "multiclass"
)

// Node is one node of a decision tree. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value,omitempty"`
}

// IsLeaf reports whether the node is terminal.
func (n *Node) IsLeaf() bool { return n.Left == -1 }

// Tree is a single decision tree of the ensemble. Leaf values are raw; the
// shrinkage rate is applied when the tree is evaluated.
type Tree struct {
	Shrinkage float64 `json:"shrinkage"`
	Nodes     []Node  `json:"nodes"`
}

// Predict evaluates the tree for one feature vector.
func (t *Tree) Predict(features []float64) float64 {
	idx := 0
	for idx >= 0 && idx < len(t.Nodes) {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return node.Value * t.Shrinkage
		}
		if features[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return 0
}

// Model is a trained ensemble. For multiclass models trees are interleaved
// by class: tree i belongs to class i % NumClass.
type Model struct {
	Objective   Objective `json:"objective"`
	NumClass    int       `json:"num_class"`
	NumFeatures int       `json:"num_features"`
	InitScore   float64   `json:"init_score"`
	Trees       []Tree    `json:"trees"`
}

// Name identifies the backend for dispatch and error reporting.
func (m *Model) Name() string { return "lightgbm" }

// Predict runs the ensemble over one aligned feature vector and returns the
// raw output contract: a single value for regression, P(class=1) for binary
// classification, or a softmax probability vector for multiclass.
func (m *Model) Predict(features []float64) ([]float64, error) {
	if len(features) != m.NumFeatures {
		return nil, mlerr.Newf("lightgbm: expected %d features, got %d", m.NumFeatures, len(features))
	}

	if m.Objective == ObjectiveMulticlass {
		scores := make([]float64, m.NumClass)
		for i := range m.Trees {
			scores[i%m.NumClass] += m.Trees[i].Predict(features)
		}
		return softmax(scores), nil
	}

	score := m.InitScore
	for i := range m.Trees {
		score += m.Trees[i].Predict(features)
	}
	if m.Objective == ObjectiveBinary {
		score = sigmoid(score)
	}
	return []float64{score}, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(scores []float64) []float64 {
	maxVal := scores[0]
	for _, v := range scores[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, v := range scores {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
