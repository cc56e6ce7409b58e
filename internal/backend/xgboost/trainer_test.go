package xgboost

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func smallParams() Params {
	p := DefaultParams()
	p.NumRound = 30
	p.MaxDepth = 3
	return p
}

func TestTrainerSquaredError(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 200
	data := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := rng.Float64() * 10
		data[i] = x
		y[i] = 2*x - 5 + rng.NormFloat64()*0.01
	}
	x := mat.NewDense(n, 1, data)

	tr, err := NewTrainer(smallParams(), ObjectiveSquaredError, 0)
	require.NoError(t, err)
	model, err := tr.Fit(x, y)
	require.NoError(t, err)

	out, err := model.Predict([]float64{4.0})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 3.0, out[0], 1.0)
}

func TestTrainerLogistic(t *testing.T) {
	n := 100
	data := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = float64(i) / 10.0
		if data[i] > 5 {
			y[i] = 1
		}
	}
	x := mat.NewDense(n, 1, data)

	tr, err := NewTrainer(smallParams(), ObjectiveLogistic, 0)
	require.NoError(t, err)
	model, err := tr.Fit(x, y)
	require.NoError(t, err)

	low, err := model.Predict([]float64{1.0})
	require.NoError(t, err)
	high, err := model.Predict([]float64{9.0})
	require.NoError(t, err)

	assert.Less(t, low[0], 0.5)
	assert.Greater(t, high[0], 0.5)
}

func TestTrainerSoftprob(t *testing.T) {
	n := 150
	data := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = float64(i) / 10.0
		switch {
		case data[i] < 5:
			y[i] = 0
		case data[i] < 10:
			y[i] = 1
		default:
			y[i] = 2
		}
	}
	x := mat.NewDense(n, 1, data)

	tr, err := NewTrainer(smallParams(), ObjectiveSoftprob, 3)
	require.NoError(t, err)
	model, err := tr.Fit(x, y)
	require.NoError(t, err)

	for _, tc := range []struct {
		input float64
		want  int
	}{{2.0, 0}, {7.0, 1}, {13.0, 2}} {
		probs, err := model.Predict([]float64{tc.input})
		require.NoError(t, err)
		require.Len(t, probs, 3)

		sum := 0.0
		argmax := 0
		for i, p := range probs {
			sum += p
			if p > probs[argmax] {
				argmax = i
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Equal(t, tc.want, argmax, "input %v", tc.input)
	}
}

func TestModelJSONRoundTrip(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []float64{2, 4, 6, 8, 10, 12}

	p := smallParams()
	p.MinChildWeight = 0
	tr, err := NewTrainer(p, ObjectiveSquaredError, 0)
	require.NoError(t, err)
	model, err := tr.Fit(x, y)
	require.NoError(t, err)

	raw, err := json.Marshal(model)
	require.NoError(t, err)

	var restored Model
	require.NoError(t, json.Unmarshal(raw, &restored))

	for _, v := range []float64{1.5, 3, 5.5} {
		a, err := model.Predict([]float64{v})
		require.NoError(t, err)
		b, err := restored.Predict([]float64{v})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestPredictFeatureCountMismatch(t *testing.T) {
	model := &Model{Objective: ObjectiveSquaredError, NumClass: 1, NumFeatures: 3}
	_, err := model.Predict([]float64{1, 2})
	require.Error(t, err)
}

func TestTrainerValidation(t *testing.T) {
	_, err := NewTrainer(Params{}, ObjectiveSquaredError, 0)
	assert.Error(t, err)

	_, err = NewTrainer(smallParams(), ObjectiveSoftprob, 2)
	assert.Error(t, err)

	_, err = NewTrainer(smallParams(), Objective("rank:pairwise"), 0)
	assert.Error(t, err)
}
