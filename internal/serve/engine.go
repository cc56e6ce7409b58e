// Package serve hosts the inference engine and its HTTP surface. The engine
// holds one immutable model snapshot behind an atomic pointer: requests in
// flight during a reload see either the fully-old or fully-new bundle, never
// a partially-updated one.
package serve

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"nova-ml/internal/align"
	"nova-ml/internal/artifact"
	"nova-ml/internal/encoding"
	"nova-ml/internal/metrics"
	"nova-ml/internal/mlerr"
	"nova-ml/internal/predict"
	"nova-ml/internal/schema"
	"nova-ml/internal/storage"
)

// snapshot binds one loaded bundle to its alignment and dispatch pipeline.
// It is immutable after construction.
type snapshot struct {
	bundle     *artifact.Bundle
	aligner    *align.Aligner
	dispatcher *predict.Dispatcher
	loadedAt   time.Time
}

// Options tune the engine's optional collaborators.
type Options struct {
	CacheSize int           // 0 disables the prediction cache
	CacheTTL  time.Duration // per-entry expiry when caching
	Audit     *storage.Store
}

// Engine is the shared inference core behind every endpoint. All fields are
// set at construction; per-request state never escapes a single call, so the
// engine is safe for any number of concurrent callers.
type Engine struct {
	current   atomic.Pointer[snapshot]
	registry  *artifact.Registry
	metrics   *metrics.Metrics
	cache     *expirable.LRU[string, predict.Result]
	audit     *storage.Store
	startedAt time.Time
	served    atomic.Int64
}

// NewEngine builds an engine over a model registry. No bundle is loaded yet;
// call Reload (or serve 503s until the first successful reload).
func NewEngine(registry *artifact.Registry, m *metrics.Metrics, opts Options) *Engine {
	e := &Engine{
		registry:  registry,
		metrics:   m,
		audit:     opts.Audit,
		startedAt: time.Now(),
	}
	if opts.CacheSize > 0 {
		e.cache = expirable.NewLRU[string, predict.Result](opts.CacheSize, nil, opts.CacheTTL)
	}
	return e
}

// Reload loads the registry's active bundle and atomically swaps it in.
// On failure the previous snapshot keeps serving.
func (e *Engine) Reload() error {
	bundle, err := e.registry.LoadActive()
	if err != nil {
		return err
	}
	e.install(bundle)
	e.metrics.ModelReloads.Inc()
	log.Info().
		Str("version", bundle.Schema.ModelVersion()).
		Str("backend", string(bundle.Schema.Backend())).
		Str("task", string(bundle.Schema.Task())).
		Int("features", bundle.Schema.NumFeatures()).
		Msg("model bundle loaded")
	return nil
}

func (e *Engine) install(bundle *artifact.Bundle) {
	bank := encoding.NewBank(bundle.Schema).WithUnseenHook(func(feature, value string) {
		e.metrics.UnseenCategories.Inc()
	})
	aligner := align.New(bundle.Schema, bank).WithDroppedHook(func(names []string) {
		e.metrics.DroppedFeatures.Add(float64(len(names)))
	})
	snap := &snapshot{
		bundle:     bundle,
		aligner:    aligner,
		dispatcher: predict.NewDispatcher(bundle.Model, bundle.Schema),
		loadedAt:   time.Now(),
	}
	e.current.Store(snap)
	if e.cache != nil {
		e.cache.Purge()
	}
	e.metrics.ModelLoaded.Set(1)
	if trainedAt := bundle.Schema.TrainedAt(); !trainedAt.IsZero() {
		e.metrics.ModelAge.Set(time.Since(trainedAt).Seconds())
	}
}

// Loaded reports whether a bundle is currently servable.
func (e *Engine) Loaded() bool { return e.current.Load() != nil }

// Schema returns the active bundle's schema, or nil when nothing is loaded.
func (e *Engine) Schema() *schema.Schema {
	snap := e.current.Load()
	if snap == nil {
		return nil
	}
	return snap.bundle.Schema
}

// Uptime reports time since engine construction.
func (e *Engine) Uptime() time.Duration { return time.Since(e.startedAt) }

// PredictionCount reports successful predictions served since startup.
func (e *Engine) PredictionCount() int64 { return e.served.Load() }

// PredictOne serves a single record end to end: align, dispatch, normalize.
// Every error is one of the structured mlerr types and never crashes the
// process.
func (e *Engine) PredictOne(record align.Record, requestID string) (predict.Result, error) {
	start := time.Now()
	res, err := e.predict(record)
	e.observe(res, err, time.Since(start), requestID)
	return res, err
}

// Outcome is one item of a batch response: either a result or that item's
// error, never both.
type Outcome struct {
	Result predict.Result
	Err    error
}

// PredictBatch serves records independently and in order. A failing item
// yields its own error without aborting the rest of the batch.
func (e *Engine) PredictBatch(records []align.Record, requestID string) []Outcome {
	e.metrics.BatchSize.Observe(float64(len(records)))
	outcomes := make([]Outcome, len(records))
	for i, record := range records {
		start := time.Now()
		res, err := e.predict(record)
		e.observe(res, err, time.Since(start), requestID)
		outcomes[i] = Outcome{Result: res, Err: err}
	}
	return outcomes
}

func (e *Engine) predict(record align.Record) (predict.Result, error) {
	snap := e.current.Load()
	if snap == nil {
		return predict.Result{}, mlerr.New("no model loaded")
	}

	key := ""
	if e.cache != nil {
		key = cacheKey(snap.bundle.Schema.ModelVersion(), record)
		if key != "" {
			if res, ok := e.cache.Get(key); ok {
				e.metrics.CacheHits.Inc()
				return res, nil
			}
			e.metrics.CacheMisses.Inc()
		}
	}

	vec, err := snap.aligner.Align(record)
	if err != nil {
		return predict.Result{}, err
	}
	raw, err := snap.dispatcher.Dispatch(vec)
	if err != nil {
		return predict.Result{}, err
	}
	res, err := predict.Normalize(raw, snap.bundle.Schema)
	if err != nil {
		return predict.Result{}, err
	}

	if e.cache != nil && key != "" {
		e.cache.Add(key, res)
	}
	return res, nil
}

func (e *Engine) observe(res predict.Result, err error, elapsed time.Duration, requestID string) {
	e.metrics.PredictionLatency.Observe(elapsed.Seconds())
	if err != nil {
		e.metrics.PredictionErrors.WithLabelValues(errorKind(err)).Inc()
	} else {
		e.metrics.PredictionsTotal.Inc()
		e.served.Add(1)
		if res.Task == schema.TaskClassification {
			e.metrics.PredictionScores.Observe(res.Confidence())
		}
	}
	e.auditEntry(res, err, elapsed, requestID)
}

func (e *Engine) auditEntry(res predict.Result, err error, elapsed time.Duration, requestID string) {
	if e.audit == nil {
		return
	}
	snap := e.current.Load()
	if snap == nil {
		return
	}
	s := snap.bundle.Schema
	entry := storage.Entry{
		Ts:           time.Now().UTC(),
		ModelVersion: s.ModelVersion(),
		Backend:      string(s.Backend()),
		Task:         string(s.Task()),
		RequestID:    requestID,
		LatencyMs:    float64(elapsed.Microseconds()) / 1000.0,
	}
	if err != nil {
		entry.Error = err.Error()
	} else if res.Task == schema.TaskClassification {
		label := res.ClassLabel
		conf := res.Confidence()
		entry.ClassLabel = &label
		entry.Confidence = &conf
	} else {
		value := res.Value
		entry.Value = &value
	}
	if appendErr := e.audit.Append(entry); appendErr != nil {
		log.Warn().Err(appendErr).Msg("audit append failed")
	}
}

// cacheKey builds a deterministic key from the model version and the
// record's canonical JSON form; json.Marshal sorts map keys. Records that
// fail to marshal are simply not cached.
func cacheKey(version string, record align.Record) string {
	data, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	return version + "|" + string(data)
}

// errorKind maps a structured error to its metric label and API error code.
func errorKind(err error) string {
	var schemaErr *mlerr.SchemaFormatError
	var missingErr *mlerr.MissingFeatureError
	var coercionErr *mlerr.TypeCoercionError
	var encodingErr *mlerr.EncodingError
	var inferenceErr *mlerr.InferenceError
	switch {
	case mlerr.As(err, &schemaErr):
		return "schema_format"
	case mlerr.As(err, &missingErr):
		return "missing_feature"
	case mlerr.As(err, &coercionErr):
		return "type_coercion"
	case mlerr.As(err, &encodingErr):
		return "encoding"
	case mlerr.As(err, &inferenceErr):
		return "inference"
	default:
		return "internal"
	}
}
