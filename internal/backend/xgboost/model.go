// Package xgboost implements a pure-Go gradient boosting engine with
// depth-wise tree growth and XGBoost-style regularization (lambda on leaf
// weights plus a per-split gamma penalty). It exposes the same prediction
// surface as the lightgbm package so engines are interchangeable at serve
// time.
package xgboost

import (
	"math"

	"nova-ml/internal/mlerr"
)

// Objective names follow the XGBoost convention.
type Objective string

const (
	ObjectiveSquaredError Objective = "reg:squarederror"
	ObjectiveLogistic     Objective = "binary:logistic"
	ObjectiveSoftprob     Objective = "multi:softprob"
)

// Tree is a binary decision tree stored as parallel arrays indexed by node
// id, the way XGBoost dumps its boosters. LeftChildren[i] == -1 marks a leaf.
type Tree struct {
	Features      []int     `json:"split_indices"`
	Thresholds    []float64 `json:"split_conditions"`
	LeftChildren  []int     `json:"left_children"`
	RightChildren []int     `json:"right_children"`
	Weights       []float64 `json:"base_weights"`
}

// Predict evaluates the tree for one feature vector. Leaf weights already
// include the learning rate.
func (t *Tree) Predict(features []float64) float64 {
	idx := 0
	for t.LeftChildren[idx] != -1 {
		if features[t.Features[idx]] < t.Thresholds[idx] {
			idx = t.LeftChildren[idx]
		} else {
			idx = t.RightChildren[idx]
		}
	}
	return t.Weights[idx]
}

func (t *Tree) addLeaf(weight float64) int {
	id := len(t.Weights)
	t.Features = append(t.Features, 0)
	t.Thresholds = append(t.Thresholds, 0)
	t.LeftChildren = append(t.LeftChildren, -1)
	t.RightChildren = append(t.RightChildren, -1)
	t.Weights = append(t.Weights, weight)
	return id
}

// Model is a trained booster. For multi:softprob the tree at index i belongs
// to class i % NumClass.
type Model struct {
	Objective   Objective `json:"objective"`
	NumClass    int       `json:"num_class"`
	NumFeatures int       `json:"num_features"`
	BaseScore   float64   `json:"base_score"`
	Trees       []Tree    `json:"trees"`
}

// Name identifies the backend for dispatch and error reporting.
func (m *Model) Name() string { return "xgboost" }

// Predict runs the booster over one aligned feature vector. Output shape
// matches the serving contract: one value for regression, P(class=1) for
// binary, a probability vector for multiclass.
func (m *Model) Predict(features []float64) ([]float64, error) {
	if len(features) != m.NumFeatures {
		return nil, mlerr.Newf("xgboost: expected %d features, got %d", m.NumFeatures, len(features))
	}

	if m.Objective == ObjectiveSoftprob {
		margins := make([]float64, m.NumClass)
		for i := range margins {
			margins[i] = m.BaseScore
		}
		for i := range m.Trees {
			margins[i%m.NumClass] += m.Trees[i].Predict(features)
		}
		return softmax(margins), nil
	}

	margin := m.BaseScore
	for i := range m.Trees {
		margin += m.Trees[i].Predict(features)
	}
	if m.Objective == ObjectiveLogistic {
		margin = sigmoid(margin)
	}
	return []float64{margin}, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(margins []float64) []float64 {
	maxVal := margins[0]
	for _, v := range margins[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float64, len(margins))
	sum := 0.0
	for i, v := range margins {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
