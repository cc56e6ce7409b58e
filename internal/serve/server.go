package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nova-ml/internal/align"
	"nova-ml/internal/artifact"
	"nova-ml/internal/predict"
	"nova-ml/internal/schema"
)

// maxBatchSize bounds batch requests before they enter the engine.
const maxBatchSize = 1000

// Server exposes the engine over HTTP: single and batch scoring, a
// websocket stream, model lifecycle and health endpoints, and Prometheus
// metrics.
type Server struct {
	engine   *Engine
	registry *artifact.Registry
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer wires all routes. metricsHandler serves GET /metrics and is
// typically promhttp.HandlerFor over the registry the engine's collectors
// live in.
func NewServer(engine *Engine, registry *artifact.Registry, addr string, metricsHandler http.Handler) *Server {
	s := &Server{
		engine:   engine,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/score/batch", s.handleScoreBatch)
	mux.HandleFunc("/score/stream", s.handleScoreStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/model/info", s.handleModelInfo)
	mux.HandleFunc("/model/reload", s.handleModelReload)
	mux.Handle("/metrics", metricsHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving HTTP requests and blocks until shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting model server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type scoreRequest struct {
	Features  align.Record `json:"features"`
	RequestID string       `json:"request_id,omitempty"`
}

type batchScoreRequest struct {
	Features  []align.Record `json:"features"`
	RequestID string         `json:"request_id,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type predictionPayload struct {
	Prediction         interface{} `json:"prediction"`
	Probability        *float64    `json:"probability,omitempty"`
	ClassProbabilities []float64   `json:"class_probabilities,omitempty"`
	Confidence         *float64    `json:"confidence,omitempty"`
	Error              *errorBody  `json:"error,omitempty"`
}

type scoreResponse struct {
	predictionPayload
	RequestID        string    `json:"request_id,omitempty"`
	ModelVersion     string    `json:"model_version"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
}

type batchScoreResponse struct {
	Results          []predictionPayload `json:"results"`
	BatchSize        int                 `json:"batch_size"`
	ErrorCount       int                 `json:"error_count"`
	RequestID        string              `json:"request_id,omitempty"`
	ModelVersion     string              `json:"model_version"`
	Timestamp        time.Time           `json:"timestamp"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireModel(w) {
		return
	}

	start := time.Now()
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "features cannot be empty")
		return
	}

	res, err := s.engine.PredictOne(req.Features, req.RequestID)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("prediction failed")
		status, body := errorResponse(err)
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		predictionPayload: payloadFor(res),
		RequestID:         req.RequestID,
		ModelVersion:      s.engine.Schema().ModelVersion(),
		Timestamp:         time.Now().UTC(),
		ProcessingTimeMs:  msSince(start),
	})
}

func (s *Server) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireModel(w) {
		return
	}

	start := time.Now()
	var req batchScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "features list cannot be empty")
		return
	}
	if len(req.Features) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("batch size %d exceeds limit of %d", len(req.Features), maxBatchSize))
		return
	}

	outcomes := s.engine.PredictBatch(req.Features, req.RequestID)
	results := make([]predictionPayload, len(outcomes))
	errorCount := 0
	for i, out := range outcomes {
		if out.Err != nil {
			errorCount++
			_, body := errorResponse(out.Err)
			results[i] = predictionPayload{Error: body.Error}
			continue
		}
		results[i] = payloadFor(out.Result)
	}

	writeJSON(w, http.StatusOK, batchScoreResponse{
		Results:          results,
		BatchSize:        len(req.Features),
		ErrorCount:       errorCount,
		RequestID:        req.RequestID,
		ModelVersion:     s.engine.Schema().ModelVersion(),
		Timestamp:        time.Now().UTC(),
		ProcessingTimeMs: msSince(start),
	})
}

// handleScoreStream upgrades to a websocket and scores each incoming
// features message in order. Per-message errors are written back on the
// socket; only transport errors end the session.
func (s *Server) handleScoreStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var req scoreRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		start := time.Now()
		var payload predictionPayload
		version := ""
		if !s.engine.Loaded() {
			payload = predictionPayload{Error: &errorBody{Code: "unavailable", Message: "no model loaded"}}
		} else if len(req.Features) == 0 {
			payload = predictionPayload{Error: &errorBody{Code: "bad_request", Message: "features cannot be empty"}}
		} else {
			version = s.engine.Schema().ModelVersion()
			res, err := s.engine.PredictOne(req.Features, req.RequestID)
			if err != nil {
				_, body := errorResponse(err)
				payload = predictionPayload{Error: body.Error}
			} else {
				payload = payloadFor(res)
			}
		}

		resp := scoreResponse{
			predictionPayload: payload,
			RequestID:         req.RequestID,
			ModelVersion:      version,
			Timestamp:         time.Now().UTC(),
			ProcessingTimeMs:  msSince(start),
		}
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn().Err(err).Msg("websocket write failed")
			return
		}
	}
}

type healthResponse struct {
	Status       string    `json:"status"`
	ModelLoaded  bool      `json:"model_loaded"`
	ModelType    string    `json:"model_type,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	Uptime       string    `json:"uptime"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		ModelLoaded: s.engine.Loaded(),
		Uptime:      s.engine.Uptime().Round(time.Second).String(),
		Timestamp:   time.Now().UTC(),
	}
	status := http.StatusOK
	if sc := s.engine.Schema(); sc != nil {
		resp.ModelType = string(sc.Backend())
		resp.ModelVersion = sc.ModelVersion()
	} else {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type modelInfoResponse struct {
	ModelType           string             `json:"model_type"`
	TaskType            string             `json:"task_type"`
	ModelVersion        string             `json:"model_version"`
	NumClasses          int                `json:"num_classes,omitempty"`
	FeatureNames        []string           `json:"feature_names"`
	CategoricalFeatures []string           `json:"categorical_features"`
	TargetColumn        string             `json:"target_column"`
	TrainedAt           time.Time          `json:"training_timestamp,omitempty"`
	Metrics             map[string]float64 `json:"metrics,omitempty"`
	PredictionCount     int64              `json:"prediction_count"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	sc := s.engine.Schema()
	if sc == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no model loaded")
		return
	}

	categorical := make([]string, 0)
	for _, name := range sc.FeatureOrder() {
		if sc.IsCategorical(name) {
			categorical = append(categorical, name)
		}
	}

	writeJSON(w, http.StatusOK, modelInfoResponse{
		ModelType:           string(sc.Backend()),
		TaskType:            string(sc.Task()),
		ModelVersion:        sc.ModelVersion(),
		NumClasses:          sc.NumClasses(),
		FeatureNames:        sc.FeatureOrder(),
		CategoricalFeatures: categorical,
		TargetColumn:        sc.TargetColumn(),
		TrainedAt:           sc.TrainedAt(),
		Metrics:             sc.Metrics(),
		PredictionCount:     s.engine.PredictionCount(),
	})
}

type reloadRequest struct {
	Version string `json:"version,omitempty"`
}

type reloadResponse struct {
	Status       string    `json:"status"`
	ModelVersion string    `json:"model_version"`
	ModelType    string    `json:"model_type"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reloadRequest
	if r.Body != nil {
		// An empty body means "reload whatever is active".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	if req.Version != "" {
		if err := s.registry.Activate(req.Version); err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	}

	if err := s.engine.Reload(); err != nil {
		log.Error().Err(err).Msg("model reload failed")
		writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}

	sc := s.engine.Schema()
	writeJSON(w, http.StatusOK, reloadResponse{
		Status:       "reloaded",
		ModelVersion: sc.ModelVersion(),
		ModelType:    string(sc.Backend()),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) requireModel(w http.ResponseWriter) bool {
	if !s.engine.Loaded() {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no model loaded")
		return false
	}
	return true
}

// payloadFor converts a normalized result to its wire form: classification
// carries an integer label plus probabilities, regression a bare float.
func payloadFor(res predict.Result) predictionPayload {
	if res.Task == schema.TaskClassification {
		conf := res.Confidence()
		p := predictionPayload{
			Prediction: res.ClassLabel,
			Confidence: &conf,
		}
		if res.ClassProbabilities != nil {
			p.ClassProbabilities = res.ClassProbabilities
		} else {
			prob := res.Probability
			p.Probability = &prob
		}
		return p
	}
	return predictionPayload{Prediction: res.Value}
}

type errorResponseBody struct {
	Error *errorBody `json:"error"`
}

// errorResponse maps structured errors to HTTP status codes: caller-
// correctable input problems are 400s, artifact/backend problems are 500s.
func errorResponse(err error) (int, errorResponseBody) {
	kind := errorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "missing_feature", "type_coercion":
		status = http.StatusBadRequest
	case "schema_format":
		status = http.StatusServiceUnavailable
	}
	return status, errorResponseBody{Error: &errorBody{Code: kind, Message: err.Error()}}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponseBody{Error: &errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
