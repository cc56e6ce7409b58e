package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nova-ml/internal/mlerr"
)

func validSpec() Spec {
	return Spec{
		FeatureNames: []string{"age", "income", "state"},
		Encodings: map[string]Encoding{
			"state": {Codes: map[string]int{"CA": 0, "NY": 1, "TX": 2}, Fallback: 0},
		},
		Backend:      BackendLightGBM,
		Task:         TaskClassification,
		NumClasses:   2,
		TargetColumn: "churned",
	}
}

func TestLoad_RequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"not json", `{`, "document"},
		{"no features", `{"model_type":"lightgbm","task_type":"regression","target_column":"y"}`, "feature_names"},
		{"no backend", `{"feature_names":["a"],"task_type":"regression","target_column":"y"}`, "model_type"},
		{"bad backend", `{"feature_names":["a"],"model_type":"catboost","task_type":"regression","target_column":"y"}`, "model_type"},
		{"no task", `{"feature_names":["a"],"model_type":"lightgbm","target_column":"y"}`, "task_type"},
		{"bad task", `{"feature_names":["a"],"model_type":"lightgbm","task_type":"ranking","target_column":"y"}`, "task_type"},
		{"no target", `{"feature_names":["a"],"model_type":"lightgbm","task_type":"regression"}`, "target_column"},
		{"classes missing", `{"feature_names":["a"],"model_type":"lightgbm","task_type":"classification","target_column":"y"}`, "num_classes"},
		{"encoding for unknown feature", `{"feature_names":["a"],"model_type":"lightgbm","task_type":"regression","target_column":"y","categorical_encodings":{"b":{"codes":{"x":0},"fallback":0}}}`, "categorical_encodings"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.doc))
			require.Error(t, err)

			var sfe *mlerr.SchemaFormatError
			require.True(t, mlerr.As(err, &sfe))
			assert.Equal(t, tc.field, sfe.Field)
		})
	}
}

func TestLoad_ValidDocument(t *testing.T) {
	doc := `{
		"feature_names": ["a", "b"],
		"categorical_encodings": {"b": {"codes": {"x": 0, "y": 1}, "fallback": 0}},
		"model_type": "xgboost",
		"task_type": "classification",
		"num_classes": 2,
		"target_column": "label"
	}`
	s, err := Load([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, s.FeatureOrder())
	assert.Equal(t, BackendXGBoost, s.Backend())
	assert.Equal(t, TaskClassification, s.Task())
	assert.False(t, s.IsCategorical("a"))
	assert.True(t, s.IsCategorical("b"))

	enc, ok := s.EncodingFor("b")
	require.True(t, ok)
	assert.Equal(t, 1, enc.Codes["y"])
	assert.Equal(t, 0, enc.Fallback)
}

func TestSchema_ScalingLengthMismatch(t *testing.T) {
	spec := validSpec()
	spec.Scaling = &Scaling{Mean: []float64{0}, Scale: []float64{1}}
	_, err := New(spec)
	require.Error(t, err)

	var sfe *mlerr.SchemaFormatError
	require.True(t, mlerr.As(err, &sfe))
	assert.Equal(t, "scaling", sfe.Field)
}

func TestSchema_RoundTrip(t *testing.T) {
	spec := validSpec()
	spec.Scaling = &Scaling{Mean: []float64{30, 50000, 0}, Scale: []float64{10, 20000, 1}}
	spec.ModelVersion = "1.0.0"
	spec.TrainedAt = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	spec.Metrics = map[string]float64{"accuracy": 0.91}

	original, err := New(spec)
	require.NoError(t, err)

	data, err := original.Marshal()
	require.NoError(t, err)

	reloaded, err := Load(data)
	require.NoError(t, err)

	assert.Equal(t, original.FeatureOrder(), reloaded.FeatureOrder())
	assert.Equal(t, original.Backend(), reloaded.Backend())
	assert.Equal(t, original.Task(), reloaded.Task())
	assert.Equal(t, original.NumClasses(), reloaded.NumClasses())
	assert.Equal(t, original.TargetColumn(), reloaded.TargetColumn())
	assert.Equal(t, original.ScalingParams(), reloaded.ScalingParams())
	assert.Equal(t, original.Metrics(), reloaded.Metrics())
	assert.True(t, original.TrainedAt().Equal(reloaded.TrainedAt()))

	encA, _ := original.EncodingFor("state")
	encB, _ := reloaded.EncodingFor("state")
	assert.Equal(t, encA, encB)
}

func TestSchema_AccessorsReturnCopies(t *testing.T) {
	s, err := New(validSpec())
	require.NoError(t, err)

	order := s.FeatureOrder()
	order[0] = "mutated"
	assert.Equal(t, []string{"age", "income", "state"}, s.FeatureOrder())
}

func TestSchema_FeatureIndex(t *testing.T) {
	s, err := New(validSpec())
	require.NoError(t, err)

	i, ok := s.FeatureIndex("income")
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = s.FeatureIndex("unknown")
	assert.False(t, ok)
}
