// Package client talks to a running telemetry-service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gridwatch/backend/services/telemetry-service/internal/service"
)

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// IngestResponse is the body returned by POST /api/data.
type IngestResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Details   []string  `json:"details,omitempty"`
	RowIndex  int       `json:"rowIndex,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// StatusError is returned when the service rejects a sample.
type StatusError struct {
	Status   int
	Response IngestResponse
}

func (e *StatusError) Error() string {
	msg := e.Response.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Response.Details) > 0 {
		msg += ": " + strings.Join(e.Response.Details, "; ")
	}
	return fmt.Sprintf("ingest rejected (%d): %s", e.Status, msg)
}

// IngestClient posts device samples the way the sensing unit does.
type IngestClient struct {
	baseURL string
	client  HTTPDoer
}

// NewIngestClient builds client with base URL.
func NewIngestClient(baseURL string, client HTTPDoer) *IngestClient {
	if client == nil {
		client = NewDefaultHTTPClient(10 * time.Second)
	}
	return &IngestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Push sends one sample and returns the row it was stored at.
func (c *IngestClient) Push(ctx context.Context, input service.IngestInput) (IngestResponse, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return IngestResponse{}, err
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/api/data", body)
	if err != nil {
		return IngestResponse{}, err
	}

	var resp IngestResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return IngestResponse{}, fmt.Errorf("decode ingest response (%d): %w", status, err)
	}
	if status != http.StatusOK || !resp.Success {
		return resp, &StatusError{Status: status, Response: resp}
	}
	return resp, nil
}

func (c *IngestClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
