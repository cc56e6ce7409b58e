package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nova-ml/internal/mlerr"
	"nova-ml/internal/schema"
)

func newSchema(t *testing.T, spec schema.Spec) *schema.Schema {
	t.Helper()
	s, err := schema.New(spec)
	require.NoError(t, err)
	return s
}

func TestEncodeCategorical_KnownValue(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"color"},
		Encodings: map[string]schema.Encoding{
			"color": {Codes: map[string]int{"red": 0, "green": 1, "blue": 2}, Fallback: 0},
		},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})
	bank := NewBank(s)

	code, err := bank.EncodeCategorical("color", "green")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestEncodeCategorical_UnseenUsesFallback(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"color"},
		Encodings: map[string]schema.Encoding{
			"color": {Codes: map[string]int{"red": 0, "green": 1}, Fallback: 1},
		},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})

	var seenFeature, seenValue string
	bank := NewBank(s).WithUnseenHook(func(feature, value string) {
		seenFeature, seenValue = feature, value
	})

	code, err := bank.EncodeCategorical("color", "magenta")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, "color", seenFeature)
	assert.Equal(t, "magenta", seenValue)
}

func TestEncodeCategorical_NumericCoercion(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"zip"},
		Encodings: map[string]schema.Encoding{
			"zip": {Codes: map[string]int{"94110": 3, "true": 7}, Fallback: 0},
		},
		Backend:      schema.BackendXGBoost,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})
	bank := NewBank(s)

	// A JSON payload delivers numbers as float64.
	code, err := bank.EncodeCategorical("zip", float64(94110))
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = bank.EncodeCategorical("zip", true)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestEncodeCategorical_EmptyTable(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"color"},
		Encodings: map[string]schema.Encoding{
			"color": {Codes: map[string]int{}, Fallback: 0},
		},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})
	bank := NewBank(s)

	_, err := bank.EncodeCategorical("color", "red")
	require.Error(t, err)

	var ee *mlerr.EncodingError
	assert.True(t, mlerr.As(err, &ee))
}

func TestScale_AppliesMeanAndScale(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"a", "b"},
		Scaling:      &schema.Scaling{Mean: []float64{10, 0}, Scale: []float64{2, 4}},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})
	bank := NewBank(s)

	in := []float64{14, 8}
	out := bank.Scale(in)
	assert.Equal(t, []float64{2, 2}, out)
	assert.Equal(t, []float64{14, 8}, in, "input must not be modified")
}

func TestScale_IdentityWithoutParams(t *testing.T) {
	s := newSchema(t, schema.Spec{
		FeatureNames: []string{"a", "b"},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskRegression,
		TargetColumn: "y",
	})
	bank := NewBank(s)

	out := bank.Scale([]float64{1.5, -2.5})
	assert.Equal(t, []float64{1.5, -2.5}, out)
}
