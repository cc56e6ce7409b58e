package serve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"nova-ml/internal/artifact"
	"nova-ml/internal/backend/lightgbm"
	"nova-ml/internal/metrics"
	"nova-ml/internal/schema"
)

// servedBundle trains a tiny separable binary classifier over the features
// {a numeric, b categorical}: label is 1 whenever a > 5. Unlike the stub
// bundles in the engine tests, this one survives the registry's JSON
// round trip.
func servedBundle(t *testing.T, version string) *artifact.Bundle {
	t.Helper()
	n := 60
	data := make([]float64, n*2)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a := float64(i) / 6.0
		data[i*2] = a
		data[i*2+1] = float64(i % 2)
		if a > 5 {
			y[i] = 1
		}
	}

	p := lightgbm.DefaultParams()
	p.NumIterations = 20
	p.NumLeaves = 4
	p.MinDataInLeaf = 2
	tr, err := lightgbm.NewTrainer(p, lightgbm.ObjectiveBinary, 2)
	require.NoError(t, err)
	model, err := tr.Fit(mat.NewDense(n, 2, data), y)
	require.NoError(t, err)

	s, err := schema.New(schema.Spec{
		FeatureNames: []string{"a", "b"},
		Encodings: map[string]schema.Encoding{
			"b": {Codes: map[string]int{"x": 0, "y": 1}, Fallback: 0},
		},
		Backend:      schema.BackendLightGBM,
		Task:         schema.TaskClassification,
		NumClasses:   2,
		TargetColumn: "label",
		ModelVersion: version,
	})
	require.NoError(t, err)
	return &artifact.Bundle{Schema: s, Model: model}
}

func newTestServer(t *testing.T, bundles ...*artifact.Bundle) (*Server, *Engine) {
	t.Helper()
	registry, err := artifact.OpenRegistry(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	engine := NewEngine(registry, m, Options{})

	for _, b := range bundles {
		v, err := registry.Add(b)
		require.NoError(t, err)
		require.NoError(t, registry.Activate(v.Version))
	}
	if len(bundles) > 0 {
		require.NoError(t, engine.Reload())
	}

	return NewServer(engine, registry, ":0", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), engine
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestScoreEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	// "z" was never seen in training and resolves via the fallback code.
	rec := postJSON(t, srv.Handler(), "/score", map[string]interface{}{
		"features":   map[string]interface{}{"a": 9.0, "b": "z"},
		"request_id": "req-42",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp.Prediction)
	require.NotNil(t, resp.Probability)
	assert.Greater(t, *resp.Probability, 0.5)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, "v1", resp.ModelVersion)
}

func TestScoreMissingFeature(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	rec := postJSON(t, srv.Handler(), "/score", map[string]interface{}{
		"features": map[string]interface{}{"a": 1.0},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "missing_feature", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "b")
}

func TestScoreBadPayload(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	req := httptest.NewRequest(http.MethodPost, "/score", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/score", map[string]interface{}{
		"features": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = getPath(t, srv.Handler(), "/score")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestScoreNoModel(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/score", map[string]interface{}{
		"features": map[string]interface{}{"a": 1.0},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScoreBatchPartialSuccess(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	rec := postJSON(t, srv.Handler(), "/score/batch", map[string]interface{}{
		"features": []map[string]interface{}{
			{"a": 1.0, "b": "x"},
			{"a": "junk", "b": "x"},
			{"a": 2.0, "b": "y"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchScoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.BatchSize)
	assert.Equal(t, 1, resp.ErrorCount)
	require.Len(t, resp.Results, 3)

	assert.Nil(t, resp.Results[0].Error)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, "type_coercion", resp.Results[1].Error.Code)
	assert.Nil(t, resp.Results[2].Error)
}

func TestScoreBatchLimit(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	oversized := make([]map[string]interface{}, maxBatchSize+1)
	for i := range oversized {
		oversized[i] = map[string]interface{}{"a": 1.0, "b": "x"}
	}
	rec := postJSON(t, srv.Handler(), "/score/batch", map[string]interface{}{
		"features": oversized,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/score/batch", map[string]interface{}{
		"features": []map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := getPath(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv, _ = newTestServer(t, servedBundle(t, "v3"))
	rec = getPath(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.ModelLoaded)
	assert.Equal(t, "lightgbm", resp.ModelType)
	assert.Equal(t, "v3", resp.ModelVersion)
}

func TestModelInfoEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	rec := getPath(t, srv.Handler(), "/model/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp modelInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "lightgbm", resp.ModelType)
	assert.Equal(t, "classification", resp.TaskType)
	assert.Equal(t, []string{"a", "b"}, resp.FeatureNames)
	assert.Equal(t, []string{"b"}, resp.CategoricalFeatures)
	assert.Equal(t, 2, resp.NumClasses)
	assert.Equal(t, "label", resp.TargetColumn)
	assert.Equal(t, int64(0), resp.PredictionCount)

	postJSON(t, srv.Handler(), "/score", scoreRequest{Features: map[string]interface{}{"a": 9.0, "b": "z"}})
	rec = getPath(t, srv.Handler(), "/model/info")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.PredictionCount)
}

func TestModelReloadEndpoint(t *testing.T) {
	srv, engine := newTestServer(t, servedBundle(t, "v1"), servedBundle(t, "v2"))
	assert.Equal(t, "v2", engine.Schema().ModelVersion())

	// Switch back to v1 by version.
	rec := postJSON(t, srv.Handler(), "/model/reload", reloadRequest{Version: "v1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.ModelVersion)
	assert.Equal(t, "v1", engine.Schema().ModelVersion())

	rec = postJSON(t, srv.Handler(), "/model/reload", reloadRequest{Version: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getPath(t, srv.Handler(), "/model/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	postJSON(t, srv.Handler(), "/score", map[string]interface{}{
		"features": map[string]interface{}{"a": 1.0, "b": "x"},
	})

	rec := getPath(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "nova_predictions_total")
	assert.Contains(t, body, "nova_model_loaded 1")
}

func TestScoreStream(t *testing.T) {
	srv, _ := newTestServer(t, servedBundle(t, "v1"))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/score/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(scoreRequest{
			Features:  map[string]interface{}{"a": float64(i), "b": "x"},
			RequestID: fmt.Sprintf("stream-%d", i),
		}))

		var resp scoreResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.Nil(t, resp.Error)
		assert.Equal(t, float64(0), resp.Prediction, "a=%d is well below the boundary", i)
		assert.Equal(t, fmt.Sprintf("stream-%d", i), resp.RequestID)
	}

	// A bad record gets an error frame, the session stays open.
	require.NoError(t, conn.WriteJSON(scoreRequest{
		Features: map[string]interface{}{"a": 1.0},
	}))
	var resp scoreResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "missing_feature", resp.Error.Code)
}
