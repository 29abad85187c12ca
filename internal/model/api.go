package model

import "time"

// Error codes returned in API error responses.
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternalError = "internal_error"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeRateLimited   = "rate_limited"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries request metadata in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestRequest is the body of POST /v1/runs/{run_id}/events. Besides
// the event batch it can carry run-level facts from the upstream
// engine: its own run status and the declared pipeline shape.
type IngestRequest struct {
	Events      []EventInput `json:"events" validate:"required,min=1,max=1000,dive"`
	RunStatus   string       `json:"run_status" validate:"omitempty,max=64"`
	OrderID     string       `json:"order_id" validate:"omitempty,max=256"`
	TotalStages int          `json:"total_stages" validate:"omitempty,gte=0,lte=10000"`
}

// IngestResponse returns the reconciled run after applying a batch.
type IngestResponse struct {
	Run        RunRecord       `json:"run"`
	Completion CompletionState `json:"completion"`
}

// CompletionResponse is the body of GET /v1/runs/{run_id}/completion.
type CompletionResponse struct {
	State CompletionState `json:"state"`
	Data  CompletionData  `json:"data"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	EventLog  string `json:"event_log"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Runs      int    `json:"runs"`
	Uptime    int64  `json:"uptime_seconds"`
}
