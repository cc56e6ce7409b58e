// Package client is a Go client for the nova-ml serving API, used by the
// novactl CLI and by integrations embedding scoring calls.
package client

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

// New builds a client against a serving base URL like "http://localhost:8000".
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	return &Client{base: base, rest: r}
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ScoreRequest struct {
	Features  map[string]interface{} `json:"features"`
	RequestID string                 `json:"request_id,omitempty"`
}

type ScoreResponse struct {
	Prediction         interface{} `json:"prediction"`
	Probability        *float64    `json:"probability,omitempty"`
	ClassProbabilities []float64   `json:"class_probabilities,omitempty"`
	Confidence         *float64    `json:"confidence,omitempty"`
	Error              *ErrorBody  `json:"error,omitempty"`
	RequestID          string      `json:"request_id,omitempty"`
	ModelVersion       string      `json:"model_version"`
	ProcessingTimeMs   float64     `json:"processing_time_ms"`
}

type BatchScoreRequest struct {
	Features  []map[string]interface{} `json:"features"`
	RequestID string                   `json:"request_id,omitempty"`
}

type BatchScoreResponse struct {
	Results          []ScoreResponse `json:"results"`
	BatchSize        int             `json:"batch_size"`
	ErrorCount       int             `json:"error_count"`
	ModelVersion     string          `json:"model_version"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelType    string `json:"model_type,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
	Uptime       string `json:"uptime"`
}

type ModelInfo struct {
	ModelType           string             `json:"model_type"`
	TaskType            string             `json:"task_type"`
	ModelVersion        string             `json:"model_version"`
	NumClasses          int                `json:"num_classes,omitempty"`
	FeatureNames        []string           `json:"feature_names"`
	CategoricalFeatures []string           `json:"categorical_features"`
	TargetColumn        string             `json:"target_column"`
	Metrics             map[string]float64 `json:"metrics,omitempty"`
	PredictionCount     int64              `json:"prediction_count"`
}

type ReloadRequest struct {
	Version string `json:"version,omitempty"`
}

type ReloadResponse struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
	ModelType    string `json:"model_type"`
}

// Score requests a prediction for one feature record.
func (c *Client) Score(features map[string]interface{}, requestID string) (*ScoreResponse, error) {
	result := &ScoreResponse{}
	resp, err := c.rest.R().
		SetBody(ScoreRequest{Features: features, RequestID: requestID}).
		SetResult(result).
		SetError(result).
		Post(c.base + "/score")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		if result.Error != nil {
			return nil, fmt.Errorf("score: %s: %s", result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("score: unexpected status %s", resp.Status())
	}
	return result, nil
}

// ScoreBatch requests predictions for an ordered list of records. Items that
// fail carry their own Error; the call succeeds as long as the batch was
// accepted.
func (c *Client) ScoreBatch(features []map[string]interface{}, requestID string) (*BatchScoreResponse, error) {
	result := &BatchScoreResponse{}
	errBody := &ScoreResponse{}
	resp, err := c.rest.R().
		SetBody(BatchScoreRequest{Features: features, RequestID: requestID}).
		SetResult(result).
		SetError(errBody).
		Post(c.base + "/score/batch")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		if errBody.Error != nil {
			return nil, fmt.Errorf("score batch: %s: %s", errBody.Error.Code, errBody.Error.Message)
		}
		return nil, fmt.Errorf("score batch: unexpected status %s", resp.Status())
	}
	return result, nil
}

// Health fetches the liveness descriptor. A 503 still decodes; the caller
// inspects ModelLoaded.
func (c *Client) Health() (*HealthResponse, error) {
	result := &HealthResponse{}
	_, err := c.rest.R().
		SetResult(result).
		SetError(result).
		Get(c.base + "/health")
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Info fetches the active model's schema descriptor.
func (c *Client) Info() (*ModelInfo, error) {
	result := &ModelInfo{}
	resp, err := c.rest.R().
		SetResult(result).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model info: unexpected status %s", resp.Status())
	}
	return result, nil
}

// Reload activates a version (optional) and reloads the serving bundle.
func (c *Client) Reload(version string) (*ReloadResponse, error) {
	result := &ReloadResponse{}
	errBody := &ScoreResponse{}
	resp, err := c.rest.R().
		SetBody(ReloadRequest{Version: version}).
		SetResult(result).
		SetError(errBody).
		Post(c.base + "/model/reload")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		if errBody.Error != nil {
			return nil, fmt.Errorf("reload: %s: %s", errBody.Error.Code, errBody.Error.Message)
		}
		return nil, fmt.Errorf("reload: unexpected status %s", resp.Status())
	}
	return result, nil
}
