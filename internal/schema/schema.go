// Package schema holds the frozen description of the feature space a model
// was trained on: feature order, categorical encodings, optional scaling
// parameters, backend and task identifiers. A Schema is immutable after
// construction; serving shares one instance across all in-flight requests.
package schema

import (
	"encoding/json"
	"time"

	"nova-ml/internal/mlerr"
)

// TaskType selects the inference interpretation path.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskRegression     TaskType = "regression"
)

// BackendID names one of the interchangeable boosting engines.
type BackendID string

const (
	BackendLightGBM BackendID = "lightgbm"
	BackendXGBoost  BackendID = "xgboost"
)

// Encoding is the training-time categorical table for one feature.
// Fallback is the code assigned to values never seen during training,
// by policy the code of the most frequent training category.
type Encoding struct {
	Codes    map[string]int `json:"codes"`
	Fallback int            `json:"fallback"`
}

// Scaling holds per-feature standardization parameters, aligned with the
// schema's feature order.
type Scaling struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Schema is the frozen training-time contract. All fields are unexported;
// read access goes through accessors and nothing mutates after Load.
type Schema struct {
	featureNames []string
	encodings    map[string]Encoding
	scaling      *Scaling
	backend      BackendID
	task         TaskType
	numClasses   int
	targetColumn string
	modelVersion string
	trainedAt    time.Time
	metrics      map[string]float64

	featureIndex map[string]int
}

// document is the JSON wire shape of a schema, matching the keys the
// training pipeline writes into schema.json.
type document struct {
	FeatureNames []string            `json:"feature_names"`
	Encodings    map[string]Encoding `json:"categorical_encodings,omitempty"`
	Scaling      *Scaling            `json:"scaling,omitempty"`
	ModelType    BackendID           `json:"model_type"`
	TaskType     TaskType            `json:"task_type"`
	NumClasses   int                 `json:"num_classes,omitempty"`
	TargetColumn string              `json:"target_column"`
	ModelVersion string              `json:"model_version,omitempty"`
	TrainedAt    time.Time           `json:"training_timestamp,omitempty"`
	Metrics      map[string]float64  `json:"metrics,omitempty"`
}

// Spec carries the fields the training pipeline derived; New validates them
// into an immutable Schema.
type Spec struct {
	FeatureNames []string
	Encodings    map[string]Encoding
	Scaling      *Scaling
	Backend      BackendID
	Task         TaskType
	NumClasses   int
	TargetColumn string
	ModelVersion string
	TrainedAt    time.Time
	Metrics      map[string]float64
}

// New builds a Schema from a training-time spec, applying the same
// validation as Load.
func New(spec Spec) (*Schema, error) {
	s := &Schema{
		featureNames: append([]string(nil), spec.FeatureNames...),
		encodings:    copyEncodings(spec.Encodings),
		scaling:      copyScaling(spec.Scaling),
		backend:      spec.Backend,
		task:         spec.Task,
		numClasses:   spec.NumClasses,
		targetColumn: spec.TargetColumn,
		modelVersion: spec.ModelVersion,
		trainedAt:    spec.TrainedAt,
		metrics:      copyMetrics(spec.Metrics),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.buildIndex()
	return s, nil
}

// Load parses and validates a schema document. Any missing or malformed
// required field fails with a SchemaFormatError before a single request is
// served.
func Load(data []byte) (*Schema, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, mlerr.NewSchemaFormatError("document", "not valid JSON: "+err.Error())
	}
	return New(Spec{
		FeatureNames: doc.FeatureNames,
		Encodings:    doc.Encodings,
		Scaling:      doc.Scaling,
		Backend:      doc.ModelType,
		Task:         doc.TaskType,
		NumClasses:   doc.NumClasses,
		TargetColumn: doc.TargetColumn,
		ModelVersion: doc.ModelVersion,
		TrainedAt:    doc.TrainedAt,
		Metrics:      doc.Metrics,
	})
}

// Marshal serializes the schema back to its JSON document form. Load of the
// result yields an identical registry.
func (s *Schema) Marshal() ([]byte, error) {
	doc := document{
		FeatureNames: s.featureNames,
		Encodings:    s.encodings,
		Scaling:      s.scaling,
		ModelType:    s.backend,
		TaskType:     s.task,
		NumClasses:   s.numClasses,
		TargetColumn: s.targetColumn,
		ModelVersion: s.modelVersion,
		TrainedAt:    s.trainedAt,
		Metrics:      s.metrics,
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (s *Schema) validate() error {
	if len(s.featureNames) == 0 {
		return mlerr.NewSchemaFormatError("feature_names", "must be a non-empty list")
	}
	seen := make(map[string]bool, len(s.featureNames))
	for _, name := range s.featureNames {
		if name == "" {
			return mlerr.NewSchemaFormatError("feature_names", "contains an empty name")
		}
		if seen[name] {
			return mlerr.NewSchemaFormatError("feature_names", "duplicate feature "+name)
		}
		seen[name] = true
	}
	switch s.backend {
	case BackendLightGBM, BackendXGBoost:
	case "":
		return mlerr.NewSchemaFormatError("model_type", "required")
	default:
		return mlerr.NewSchemaFormatError("model_type", "unknown backend "+string(s.backend))
	}
	switch s.task {
	case TaskClassification, TaskRegression:
	case "":
		return mlerr.NewSchemaFormatError("task_type", "required")
	default:
		return mlerr.NewSchemaFormatError("task_type", "unknown task "+string(s.task))
	}
	if s.task == TaskClassification && s.numClasses < 2 {
		return mlerr.NewSchemaFormatError("num_classes", "classification requires at least 2 classes")
	}
	if s.targetColumn == "" {
		return mlerr.NewSchemaFormatError("target_column", "required")
	}
	for name := range s.encodings {
		if !seen[name] {
			return mlerr.NewSchemaFormatError("categorical_encodings", "references unknown feature "+name)
		}
	}
	if s.scaling != nil {
		if len(s.scaling.Mean) != len(s.featureNames) || len(s.scaling.Scale) != len(s.featureNames) {
			return mlerr.NewSchemaFormatError("scaling", "mean/scale length must match feature count")
		}
		for i, sc := range s.scaling.Scale {
			if sc == 0 {
				return mlerr.NewSchemaFormatError("scaling", "zero scale for feature "+s.featureNames[i])
			}
		}
	}
	return nil
}

func (s *Schema) buildIndex() {
	s.featureIndex = make(map[string]int, len(s.featureNames))
	for i, name := range s.featureNames {
		s.featureIndex[name] = i
	}
}

// FeatureOrder returns the column order contract. The returned slice is a
// copy; callers may not alter schema state through it.
func (s *Schema) FeatureOrder() []string {
	return append([]string(nil), s.featureNames...)
}

// NumFeatures returns the trained model's expected input width.
func (s *Schema) NumFeatures() int { return len(s.featureNames) }

// FeatureIndex returns the column index for a feature name.
func (s *Schema) FeatureIndex(name string) (int, bool) {
	i, ok := s.featureIndex[name]
	return i, ok
}

// IsCategorical reports whether the feature carries an encoding table.
func (s *Schema) IsCategorical(name string) bool {
	_, ok := s.encodings[name]
	return ok
}

// EncodingFor returns the encoding table for a categorical feature. The
// table is shared, read-only state.
func (s *Schema) EncodingFor(name string) (Encoding, bool) {
	enc, ok := s.encodings[name]
	return enc, ok
}

// ScalingParams returns the stored standardization parameters, or nil when
// no scaling was recorded at training time.
func (s *Schema) ScalingParams() *Scaling { return s.scaling }

// Backend returns which boosting engine the bundled model belongs to.
func (s *Schema) Backend() BackendID { return s.backend }

// Task returns the task type the model was trained for.
func (s *Schema) Task() TaskType { return s.task }

// NumClasses returns the class count for classification schemas; binary
// models report 2.
func (s *Schema) NumClasses() int { return s.numClasses }

// TargetColumn returns the name of the training target column.
func (s *Schema) TargetColumn() string { return s.targetColumn }

// ModelVersion returns the version stamp written at training time.
func (s *Schema) ModelVersion() string { return s.modelVersion }

// TrainedAt returns the training timestamp.
func (s *Schema) TrainedAt() time.Time { return s.trainedAt }

// Metrics returns a copy of the validation metrics recorded at training time.
func (s *Schema) Metrics() map[string]float64 { return copyMetrics(s.metrics) }

func copyEncodings(in map[string]Encoding) map[string]Encoding {
	out := make(map[string]Encoding, len(in))
	for name, enc := range in {
		codes := make(map[string]int, len(enc.Codes))
		for v, c := range enc.Codes {
			codes[v] = c
		}
		out[name] = Encoding{Codes: codes, Fallback: enc.Fallback}
	}
	return out
}

func copyScaling(in *Scaling) *Scaling {
	if in == nil {
		return nil
	}
	return &Scaling{
		Mean:  append([]float64(nil), in.Mean...),
		Scale: append([]float64(nil), in.Scale...),
	}
}

func copyMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
