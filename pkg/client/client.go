// Package client provides a Go client for the semdex predict API, plus a
// load generator used by the bench command.
//
// The client handles HTTP communication, JSON serialization, and
// standardized error handling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError represents an error returned by the semdex API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// PredictResult carries the per-query neighbor ids and the batch stage
// latencies reported by the server.
type PredictResult struct {
	Indices       [][]uint32 `json:"indices"`
	ModelLatency  uint64     `json:"model_latency"`
	SearchLatency uint64     `json:"search_latency"`
}

// Stats describes the index the server is holding.
type Stats struct {
	Vectors   int    `json:"vectors"`
	Dim       int    `json:"dim"`
	Metric    string `json:"metric"`
	Quantized bool   `json:"quantized"`
	MaxLayer  int    `json:"max_layer"`
}

// Client talks to a semdex server.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:8080". An empty authToken disables authentication.
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Predict sends queries to the server and returns the k nearest vector ids
// for each, in query order.
func (c *Client) Predict(ctx context.Context, queries []string, k int) (*PredictResult, error) {
	reqs := make([]map[string]string, len(queries))
	for i, q := range queries {
		reqs[i] = map[string]string{"query": q}
	}
	payload := map[string]any{"requests": reqs, "k": k}

	body, err := c.jsonRequest(ctx, http.MethodPost, "/predict", payload)
	if err != nil {
		return nil, err
	}
	var result PredictResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	return &result, nil
}

// Stats fetches the served index description.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	body, err := c.jsonRequest(ctx, http.MethodGet, "/stats", nil)
	if err != nil {
		return nil, err
	}
	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats response: %w", err)
	}
	return &stats, nil
}

// Healthz reports whether the server answers its health endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	_, err := c.jsonRequest(ctx, http.MethodGet, "/healthz", nil)
	return err
}

// jsonRequest executes a request against the API, handling JSON
// serialization and error mapping.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return respBody, nil
}
