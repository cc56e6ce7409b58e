package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nova-ml/internal/mlerr"
	"nova-ml/internal/schema"
)

type stubBackend struct {
	name string
	out  []float64
	err  error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Predict([]float64) ([]float64, error) {
	return s.out, s.err
}

func binarySchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(schema.Spec{
		FeatureNames: []string{"a", "b"},
		Encodings: map[string]schema.Encoding{
			"b": {Codes: map[string]int{"x": 0, "y": 1}, Fallback: 0},
		},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskClassification,
		NumClasses:   2,
		TargetColumn: "label",
	})
	require.NoError(t, err)
	return s
}

func multiclassSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(schema.Spec{
		FeatureNames: []string{"a"},
		Backend:      schema.BackendXGBoost,
		Task:         schema.TaskClassification,
		NumClasses:   3,
		TargetColumn: "label",
	})
	require.NoError(t, err)
	return s
}

func regressionSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(schema.Spec{
		FeatureNames: []string{"a"},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "price",
	})
	require.NoError(t, err)
	return s
}

func TestDispatchWrapsBackendFailure(t *testing.T) {
	d := NewDispatcher(&stubBackend{name: "lightgbm", err: mlerr.New("boom")}, binarySchema(t))
	_, err := d.Dispatch([]float64{1, 0})
	require.Error(t, err)

	var infErr *mlerr.InferenceError
	require.True(t, mlerr.As(err, &infErr))
	assert.Equal(t, "lightgbm", infErr.Backend)
}

func TestDispatchShapeMismatch(t *testing.T) {
	d := NewDispatcher(&stubBackend{name: "xgboost", out: []float64{0.2, 0.8}}, binarySchema(t))
	_, err := d.Dispatch([]float64{1, 0})
	require.Error(t, err)

	var infErr *mlerr.InferenceError
	assert.True(t, mlerr.As(err, &infErr))
}

func TestDispatchMulticlassShape(t *testing.T) {
	d := NewDispatcher(&stubBackend{name: "xgboost", out: []float64{0.1, 0.2, 0.7}}, multiclassSchema(t))
	raw, err := d.Dispatch([]float64{1})
	require.NoError(t, err)
	assert.Len(t, raw, 3)
}

func TestNormalizeBinary(t *testing.T) {
	s := binarySchema(t)

	res, err := Normalize([]float64{0.73}, s)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClassLabel)
	assert.Equal(t, 0.73, res.Probability)
	assert.InDelta(t, 0.73, res.Confidence(), 1e-12)

	res, err = Normalize([]float64{0.2}, s)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ClassLabel)
	assert.InDelta(t, 0.8, res.Confidence(), 1e-12)
}

func TestNormalizeBinaryBoundary(t *testing.T) {
	// Exactly 0.5 resolves to class 0.
	res, err := Normalize([]float64{0.5}, binarySchema(t))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ClassLabel)
}

func TestNormalizeBinaryRejectsInvalid(t *testing.T) {
	s := binarySchema(t)
	for _, raw := range []float64{math.NaN(), math.Inf(1), -0.1, 1.1} {
		_, err := Normalize([]float64{raw}, s)
		require.Error(t, err, "raw %v", raw)

		var infErr *mlerr.InferenceError
		assert.True(t, mlerr.As(err, &infErr))
	}
}

func TestNormalizeMulticlass(t *testing.T) {
	s := multiclassSchema(t)

	res, err := Normalize([]float64{0.1, 0.2, 0.7}, s)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ClassLabel)
	assert.Equal(t, []float64{0.1, 0.2, 0.7}, res.ClassProbabilities)
	assert.InDelta(t, 0.7, res.Confidence(), 1e-12)
}

func TestNormalizeMulticlassTieBreak(t *testing.T) {
	// Argmax ties resolve to the lowest index.
	res, err := Normalize([]float64{0.4, 0.4, 0.2}, multiclassSchema(t))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ClassLabel)
}

func TestNormalizeMulticlassRejectsBadVector(t *testing.T) {
	s := multiclassSchema(t)

	_, err := Normalize([]float64{0.5, 0.4, 0.4}, s)
	assert.Error(t, err, "sum above 1")

	_, err = Normalize([]float64{math.NaN(), 0.5, 0.5}, s)
	assert.Error(t, err, "non-finite entry")
}

func TestNormalizeRegression(t *testing.T) {
	s := regressionSchema(t)

	res, err := Normalize([]float64{42.5}, s)
	require.NoError(t, err)
	assert.Equal(t, 42.5, res.Value)
	assert.True(t, math.IsNaN(res.Confidence()))

	_, err = Normalize([]float64{math.Inf(-1)}, s)
	assert.Error(t, err)
}
