// Package artifact persists and restores trained model bundles. A bundle is
// a directory holding schema.json (the frozen feature contract) and
// model.json (the serialized booster); the schema's model_type key decides
// which engine deserializes the model.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"nova-ml/internal/backend/lightgbm"
	"nova-ml/internal/backend/xgboost"
	"nova-ml/internal/mlerr"
	"nova-ml/internal/predict"
	"nova-ml/internal/schema"
)

const (
	schemaFile = "schema.json"
	modelFile  = "model.json"
)

// Bundle is a loaded model artifact: the schema and the engine it selects.
// Bundles are read-only after load and safe to share across requests.
type Bundle struct {
	Schema *schema.Schema
	Model  predict.Backend
}

// Save writes the bundle's two files into dir, creating it if needed. The
// model must be one of the known engine types.
func Save(dir string, s *schema.Schema, model predict.Backend) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return mlerr.Wrap(err, "create bundle directory")
	}

	schemaBytes, err := s.Marshal()
	if err != nil {
		return mlerr.Wrap(err, "marshal schema")
	}
	if err := os.WriteFile(filepath.Join(dir, schemaFile), schemaBytes, 0o600); err != nil {
		return mlerr.Wrap(err, "write schema.json")
	}

	modelBytes, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return mlerr.Wrap(err, "marshal model")
	}
	if err := os.WriteFile(filepath.Join(dir, modelFile), modelBytes, 0o600); err != nil {
		return mlerr.Wrap(err, "write model.json")
	}
	return nil
}

// Load reads a bundle directory and reconstructs the schema plus the engine
// named by its model_type.
func Load(dir string) (*Bundle, error) {
	schemaBytes, err := os.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil {
		return nil, mlerr.Wrap(err, "read schema.json")
	}
	s, err := schema.Load(schemaBytes)
	if err != nil {
		return nil, err
	}

	modelBytes, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, mlerr.Wrap(err, "read model.json")
	}

	var model predict.Backend
	switch s.Backend() {
	case schema.BackendLightGBM:
		m := &lightgbm.Model{}
		if err := json.Unmarshal(modelBytes, m); err != nil {
			return nil, mlerr.Wrap(err, "decode lightgbm model")
		}
		model = m
	case schema.BackendXGBoost:
		m := &xgboost.Model{}
		if err := json.Unmarshal(modelBytes, m); err != nil {
			return nil, mlerr.Wrap(err, "decode xgboost model")
		}
		model = m
	default:
		return nil, mlerr.Newf("unsupported backend %q", s.Backend())
	}

	if w := widthOf(model); w != s.NumFeatures() {
		return nil, mlerr.Newf("model expects %d features, schema declares %d", w, s.NumFeatures())
	}
	return &Bundle{Schema: s, Model: model}, nil
}

func widthOf(model predict.Backend) int {
	switch m := model.(type) {
	case *lightgbm.Model:
		return m.NumFeatures
	case *xgboost.Model:
		return m.NumFeatures
	}
	return -1
}
