// Package train fits a boosting model from a CSV dataset and packages the
// result as a schema+model bundle: encodings are fitted on the training
// data, the matrix is encoded, a holdout split is evaluated, and the schema
// is stamped with version, timestamp and validation metrics.
package train

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"nova-ml/internal/artifact"
	"nova-ml/internal/backend/lightgbm"
	"nova-ml/internal/backend/xgboost"
	"nova-ml/internal/dataset"
	"nova-ml/internal/mlerr"
	"nova-ml/internal/predict"
	"nova-ml/internal/schema"
)

// Config selects the dataset, target and engine for one training run.
type Config struct {
	Target          string
	Task            schema.TaskType
	Backend         schema.BackendID
	ValidationRatio float64
	Seed            int64
	Standardize     bool
	ModelVersion    string
	LightGBM        lightgbm.Params
	XGBoost         xgboost.Params
}

// DefaultConfig fills in the knobs that rarely change.
func DefaultConfig() Config {
	return Config{
		Task:            schema.TaskClassification,
		Backend:         schema.BackendLightGBM,
		ValidationRatio: 0.2,
		Seed:            42,
		ModelVersion:    "1.0.0",
		LightGBM:        lightgbm.DefaultParams(),
		XGBoost:         xgboost.DefaultParams(),
	}
}

// Result is the outcome of a run: the packaged bundle plus the validation
// metrics also stamped into its schema.
type Result struct {
	Bundle      *artifact.Bundle
	Metrics     map[string]float64
	NumClasses  int
	TrainRows   int
	HoldoutRows int
}

// Run trains on the frame and returns a ready-to-serve bundle.
func Run(frame *dataset.Frame, cfg Config) (*Result, error) {
	if cfg.Target == "" {
		return nil, mlerr.New("target column is required")
	}

	featureNames, err := featureColumns(frame, cfg.Target)
	if err != nil {
		return nil, err
	}

	encodings, err := fitEncodings(frame, featureNames)
	if err != nil {
		return nil, err
	}
	if len(encodings) > 0 {
		names := make([]string, 0, len(encodings))
		for name := range encodings {
			names = append(names, name)
		}
		sort.Strings(names)
		log.Info().Strs("columns", names).Msg("encoding categorical columns")
	}

	matrix, err := encodeMatrix(frame, featureNames, encodings)
	if err != nil {
		return nil, err
	}

	var scaling *schema.Scaling
	if cfg.Standardize {
		scaling = fitScaling(matrix)
		applyScaling(matrix, scaling)
	}

	targets, numClasses, err := encodeTarget(frame, cfg.Target, cfg.Task)
	if err != nil {
		return nil, err
	}

	trainIdx, valIdx, err := frame.Split(cfg.ValidationRatio, cfg.Seed)
	if err != nil {
		return nil, err
	}

	xTrain, yTrain := subset(matrix, targets, trainIdx)
	xVal, yVal := subset(matrix, targets, valIdx)

	log.Info().
		Int("train_rows", len(trainIdx)).
		Int("holdout_rows", len(valIdx)).
		Int("features", len(featureNames)).
		Str("backend", string(cfg.Backend)).
		Str("task", string(cfg.Task)).
		Msg("training model")

	model, err := fitModel(cfg, xTrain, yTrain, numClasses)
	if err != nil {
		return nil, err
	}

	metrics, err := evaluate(model, xVal, yVal, cfg.Task, numClasses)
	if err != nil {
		return nil, err
	}
	for name, value := range metrics {
		log.Info().Float64(name, value).Msg("holdout metric")
	}

	s, err := schema.New(schema.Spec{
		FeatureNames: featureNames,
		Encodings:    encodings,
		Scaling:      scaling,
		Backend:      cfg.Backend,
		Task:         cfg.Task,
		NumClasses:   numClasses,
		TargetColumn: cfg.Target,
		ModelVersion: cfg.ModelVersion,
		TrainedAt:    time.Now().UTC(),
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Bundle:      &artifact.Bundle{Schema: s, Model: model},
		Metrics:     metrics,
		NumClasses:  numClasses,
		TrainRows:   len(trainIdx),
		HoldoutRows: len(valIdx),
	}, nil
}

func featureColumns(frame *dataset.Frame, target string) ([]string, error) {
	headers := frame.Headers()
	names := make([]string, 0, len(headers)-1)
	found := false
	for _, h := range headers {
		if h == target {
			found = true
			continue
		}
		names = append(names, h)
	}
	if !found {
		return nil, mlerr.Newf("target column %q not in dataset", target)
	}
	if len(names) == 0 {
		return nil, mlerr.New("dataset has no feature columns")
	}
	return names, nil
}

// fitEncodings builds a categorical table for every non-numeric feature.
// Codes follow sorted category order; the fallback for unseen values is the
// code of the most frequent training category.
func fitEncodings(frame *dataset.Frame, featureNames []string) (map[string]schema.Encoding, error) {
	encodings := make(map[string]schema.Encoding)
	for _, name := range featureNames {
		numeric, err := frame.IsNumeric(name)
		if err != nil {
			return nil, err
		}
		if numeric {
			continue
		}
		col, err := frame.Column(name)
		if err != nil {
			return nil, err
		}

		counts := make(map[string]int)
		for _, v := range col {
			counts[v]++
		}
		categories := make([]string, 0, len(counts))
		for v := range counts {
			categories = append(categories, v)
		}
		sort.Strings(categories)

		codes := make(map[string]int, len(categories))
		for i, v := range categories {
			codes[v] = i
		}

		mostFrequent := categories[0]
		for _, v := range categories[1:] {
			if counts[v] > counts[mostFrequent] {
				mostFrequent = v
			}
		}
		encodings[name] = schema.Encoding{Codes: codes, Fallback: codes[mostFrequent]}
	}
	return encodings, nil
}

// encodeMatrix turns the frame into a dense numeric matrix in feature order.
// Empty numeric cells take the column median; empty categorical cells were
// already counted as their own category by fitEncodings.
func encodeMatrix(frame *dataset.Frame, featureNames []string, encodings map[string]schema.Encoding) (*mat.Dense, error) {
	rows := frame.NumRows()
	matrix := mat.NewDense(rows, len(featureNames), nil)

	for c, name := range featureNames {
		col, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		if enc, ok := encodings[name]; ok {
			for r, cell := range col {
				matrix.Set(r, c, float64(enc.Codes[cell]))
			}
			continue
		}

		values := make([]float64, rows)
		var present []float64
		missing := make([]int, 0)
		for r, cell := range col {
			if cell == "" {
				missing = append(missing, r)
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, mlerr.Wrapf(err, "column %q row %d", name, r)
			}
			values[r] = v
			present = append(present, v)
		}
		if len(missing) > 0 {
			if len(present) == 0 {
				return nil, mlerr.Newf("column %q has no values", name)
			}
			med := median(present)
			for _, r := range missing {
				values[r] = med
			}
		}
		for r, v := range values {
			matrix.Set(r, c, v)
		}
	}
	return matrix, nil
}

func fitScaling(matrix *mat.Dense) *schema.Scaling {
	rows, cols := matrix.Dims()
	scaling := &schema.Scaling{
		Mean:  make([]float64, cols),
		Scale: make([]float64, cols),
	}
	for c := 0; c < cols; c++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			sum += matrix.At(r, c)
		}
		mean := sum / float64(rows)
		variance := 0.0
		for r := 0; r < rows; r++ {
			d := matrix.At(r, c) - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(rows))
		if std == 0 {
			std = 1
		}
		scaling.Mean[c] = mean
		scaling.Scale[c] = std
	}
	return scaling
}

func applyScaling(matrix *mat.Dense, scaling *schema.Scaling) {
	rows, cols := matrix.Dims()
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			matrix.Set(r, c, (matrix.At(r, c)-scaling.Mean[c])/scaling.Scale[c])
		}
	}
}

// encodeTarget maps the target column to float64 labels. Classification
// targets are label-encoded in sorted order; regression targets must parse
// as floats.
func encodeTarget(frame *dataset.Frame, target string, task schema.TaskType) ([]float64, int, error) {
	col, err := frame.Column(target)
	if err != nil {
		return nil, 0, err
	}

	if task == schema.TaskRegression {
		y := make([]float64, len(col))
		for i, cell := range col {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, 0, mlerr.Wrapf(err, "target row %d", i)
			}
			y[i] = v
		}
		return y, 0, nil
	}

	seen := make(map[string]bool)
	for _, v := range col {
		seen[v] = true
	}
	labels := make([]string, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	sort.Strings(labels)
	if len(labels) < 2 {
		return nil, 0, mlerr.New("classification target has fewer than 2 classes")
	}
	codes := make(map[string]float64, len(labels))
	for i, v := range labels {
		codes[v] = float64(i)
	}
	y := make([]float64, len(col))
	for i, v := range col {
		y[i] = codes[v]
	}
	return y, len(labels), nil
}

func subset(matrix *mat.Dense, y []float64, indices []int) (*mat.Dense, []float64) {
	_, cols := matrix.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	targets := make([]float64, len(indices))
	for i, idx := range indices {
		for c := 0; c < cols; c++ {
			out.Set(i, c, matrix.At(idx, c))
		}
		targets[i] = y[idx]
	}
	return out, targets
}

func fitModel(cfg Config, x *mat.Dense, y []float64, numClasses int) (predict.Backend, error) {
	switch cfg.Backend {
	case schema.BackendLightGBM:
		obj := lightgbm.ObjectiveRegression
		if cfg.Task == schema.TaskClassification {
			if numClasses > 2 {
				obj = lightgbm.ObjectiveMulticlass
			} else {
				obj = lightgbm.ObjectiveBinary
			}
		}
		tr, err := lightgbm.NewTrainer(cfg.LightGBM, obj, numClasses)
		if err != nil {
			return nil, err
		}
		return tr.Fit(x, y)
	case schema.BackendXGBoost:
		obj := xgboost.ObjectiveSquaredError
		if cfg.Task == schema.TaskClassification {
			if numClasses > 2 {
				obj = xgboost.ObjectiveSoftprob
			} else {
				obj = xgboost.ObjectiveLogistic
			}
		}
		tr, err := xgboost.NewTrainer(cfg.XGBoost, obj, numClasses)
		if err != nil {
			return nil, err
		}
		return tr.Fit(x, y)
	default:
		return nil, mlerr.Newf("unknown backend %q", cfg.Backend)
	}
}

// evaluate scores the holdout: accuracy for classification, MSE and R² for
// regression.
func evaluate(model predict.Backend, x *mat.Dense, y []float64, task schema.TaskType, numClasses int) (map[string]float64, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return map[string]float64{}, nil
	}

	row := make([]float64, cols)
	if task == schema.TaskClassification {
		correct := 0
		for r := 0; r < rows; r++ {
			mat.Row(row, r, x)
			out, err := model.Predict(row)
			if err != nil {
				return nil, err
			}
			label := 0
			if numClasses > 2 {
				for i, p := range out {
					if p > out[label] {
						label = i
					}
				}
			} else if out[0] > 0.5 {
				label = 1
			}
			if label == int(y[r]) {
				correct++
			}
		}
		return map[string]float64{
			"accuracy":    float64(correct) / float64(rows),
			"num_samples": float64(rows),
		}, nil
	}

	sumSq := 0.0
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(rows)
	totalSq := 0.0
	for r := 0; r < rows; r++ {
		mat.Row(row, r, x)
		out, err := model.Predict(row)
		if err != nil {
			return nil, err
		}
		d := out[0] - y[r]
		sumSq += d * d
		t := y[r] - mean
		totalSq += t * t
	}
	mse := sumSq / float64(rows)
	r2 := 0.0
	if totalSq > 0 {
		r2 = 1 - sumSq/totalSq
	}
	return map[string]float64{
		"mse":         mse,
		"r2":          r2,
		"num_samples": float64(rows),
	}, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
