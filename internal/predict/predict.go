// Package predict routes aligned feature vectors to a trained engine and
// normalizes the raw output into task-shaped results.
package predict

import (
	"math"

	"nova-ml/internal/mlerr"
	"nova-ml/internal/schema"
)

// Backend is the capability every prediction engine implements. Predict
// takes one aligned feature vector and returns the raw output: a single
// value for regression, P(class=1) for binary classification, or a
// per-class probability vector for multiclass. Implementations must be safe
// for concurrent use; trained models are read-only.
type Backend interface {
	Name() string
	Predict(features []float64) ([]float64, error)
}

// Dispatcher issues backend calls and checks the returned shape against the
// schema. It performs no numeric transformation and never retries.
type Dispatcher struct {
	backend Backend
	schema  *schema.Schema
}

// NewDispatcher pairs an engine with the schema it was trained under.
func NewDispatcher(b Backend, s *schema.Schema) *Dispatcher {
	return &Dispatcher{backend: b, schema: s}
}

// Dispatch runs one prediction. Backend failures and shape mismatches are
// wrapped in an InferenceError carrying the engine name.
func (d *Dispatcher) Dispatch(vec []float64) ([]float64, error) {
	raw, err := d.backend.Predict(vec)
	if err != nil {
		return nil, mlerr.NewInferenceError(d.backend.Name(), err)
	}
	want := 1
	if d.schema.Task() == schema.TaskClassification && d.schema.NumClasses() > 2 {
		want = d.schema.NumClasses()
	}
	if len(raw) != want {
		return nil, mlerr.NewInferenceError(d.backend.Name(),
			mlerr.Newf("expected %d output values, got %d", want, len(raw)))
	}
	return raw, nil
}

// Result is the normalized prediction for one record, tagged by task type.
// Classification fills ClassLabel plus Probability (binary) or
// ClassProbabilities (multiclass); regression fills Value.
type Result struct {
	Task               schema.TaskType
	ClassLabel         int
	Probability        float64
	ClassProbabilities []float64
	Value              float64
}

// Confidence is the caller-facing certainty figure: the probability of the
// predicted class for classification, absent (NaN) for regression.
func (r Result) Confidence() float64 {
	switch r.Task {
	case schema.TaskClassification:
		if r.ClassProbabilities != nil {
			return r.ClassProbabilities[r.ClassLabel]
		}
		if r.ClassLabel == 1 {
			return r.Probability
		}
		return 1 - r.Probability
	default:
		return math.NaN()
	}
}

// Normalize converts raw backend output into a Result. Raw values are
// validated rather than trusted: non-finite outputs, probabilities outside
// [0,1], or vectors not summing to ~1 fail with an InferenceError.
func Normalize(raw []float64, s *schema.Schema) (Result, error) {
	if s.Task() == schema.TaskRegression {
		if !isFinite(raw[0]) {
			return Result{}, mlerr.NewInferenceError(string(s.Backend()),
				mlerr.Newf("non-finite regression output %v", raw[0]))
		}
		return Result{Task: schema.TaskRegression, Value: raw[0]}, nil
	}

	if s.NumClasses() > 2 {
		sum := 0.0
		argmax := 0
		for i, p := range raw {
			if !isFinite(p) || p < 0 || p > 1 {
				return Result{}, mlerr.NewInferenceError(string(s.Backend()),
					mlerr.Newf("invalid class probability %v at index %d", p, i))
			}
			sum += p
			// ties resolve to the lowest index
			if p > raw[argmax] {
				argmax = i
			}
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return Result{}, mlerr.NewInferenceError(string(s.Backend()),
				mlerr.Newf("class probabilities sum to %v, want 1", sum))
		}
		probs := make([]float64, len(raw))
		copy(probs, raw)
		return Result{
			Task:               schema.TaskClassification,
			ClassLabel:         argmax,
			ClassProbabilities: probs,
		}, nil
	}

	p := raw[0]
	if !isFinite(p) || p < 0 || p > 1 {
		return Result{}, mlerr.NewInferenceError(string(s.Backend()),
			mlerr.Newf("invalid binary probability %v", p))
	}
	label := 0
	if p > 0.5 { // exactly 0.5 stays class 0
		label = 1
	}
	return Result{
		Task:        schema.TaskClassification,
		ClassLabel:  label,
		Probability: p,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
