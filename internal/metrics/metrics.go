// Package metrics provides Prometheus metrics for the model serving daemon:
// prediction throughput, failures by kind, latency, batch sizes, cache
// effectiveness and model lifecycle events. Everything is exposed on the
// /metrics endpoint via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors used by the serving path.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal  prometheus.Counter   // Successful predictions (single items, batch items counted individually)
	PredictionErrors  *prometheus.CounterVec // Failed predictions by error kind
	PredictionLatency prometheus.Histogram // End-to-end latency of one prediction
	PredictionScores  prometheus.Histogram // Distribution of classification probabilities
	BatchSize         prometheus.Histogram // Distribution of batch request sizes

	// Alignment metrics
	UnseenCategories prometheus.Counter // Categorical values remapped to the fallback code
	DroppedFeatures  prometheus.Counter // Extra request features not in the schema

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Model lifecycle
	ModelLoaded  prometheus.Gauge   // 1 when a bundle is loaded and servable
	ModelReloads prometheus.Counter // Successful artifact reloads
	ModelAge     prometheus.Gauge   // Seconds since the active model was trained
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics against a custom registry, which keeps
// tests isolated from the global registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_predictions_total",
			Help: "Total number of successful predictions",
		}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_prediction_errors_total",
			Help: "Total number of failed predictions by error kind",
		}, []string{"kind"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_prediction_scores",
			Help:    "Distribution of classification probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_batch_size",
			Help:    "Distribution of batch request sizes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		}),
		UnseenCategories: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_unseen_categories_total",
			Help: "Categorical values remapped to the fallback code",
		}),
		DroppedFeatures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_dropped_features_total",
			Help: "Request features absent from the schema and dropped",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_prediction_cache_hits_total",
			Help: "Prediction cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_prediction_cache_misses_total",
			Help: "Prediction cache misses",
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nova_model_loaded",
			Help: "1 when a model bundle is loaded and servable",
		}),
		ModelReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_model_reloads_total",
			Help: "Successful model artifact reloads",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nova_model_age_seconds",
			Help: "Seconds elapsed since the active model was trained",
		}),
	}
}
