package ordersight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Ordersight server
	// (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Ordersight reconciliation API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ordersight: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// IngestEvents submits a batch of raw stage events for a run. The
// server deduplicates and folds them into the run's reconciled state
// and returns the resulting view.
func (c *Client) IngestEvents(ctx context.Context, runID string, req IngestRequest) (*IngestResponse, error) {
	var resp IngestResponse
	if err := c.post(ctx, "/v1/runs/"+runID+"/events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun retrieves the reconciled state of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var resp RunRecord
	if err := c.get(ctx, "/v1/runs/"+runID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns the IDs of all runs the server currently tracks.
func (c *Client) ListRuns(ctx context.Context) ([]string, error) {
	var resp struct {
		RunIDs []string `json:"run_ids"`
	}
	if err := c.get(ctx, "/v1/runs", &resp); err != nil {
		return nil, err
	}
	return resp.RunIDs, nil
}

// GetCompletion retrieves the completion state and extracted order
// summary for a run.
func (c *Client) GetCompletion(ctx context.Context, runID string) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := c.get(ctx, "/v1/runs/"+runID+"/completion", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkShown records that the completion card for a run was displayed,
// blocking further triggers until a reset.
func (c *Client) MarkShown(ctx context.Context, runID string) (*CompletionState, error) {
	var resp CompletionState
	if err := c.post(ctx, "/v1/runs/"+runID+"/completion/shown", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkDismissed records that the user dismissed the completion card.
func (c *Client) MarkDismissed(ctx context.Context, runID string) (*CompletionState, error) {
	var resp CompletionState
	if err := c.post(ctx, "/v1/runs/"+runID+"/completion/dismissed", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset clears all reconciled and completion state for a run.
func (c *Client) Reset(ctx context.Context, runID string) error {
	return c.post(ctx, "/v1/runs/"+runID+"/completion/reset", nil, nil)
}

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ordersight: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ordersight: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ordersight: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ordersight: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ordersight: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("ordersight: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
