package ordersight

import "time"

// EventInput is one raw stage observation to ingest. All fields are
// optional; the server normalizes whatever arrives.
type EventInput struct {
	StageID   string     `json:"stage_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	Status    string     `json:"status,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Logs      []string   `json:"logs,omitempty"`
}

// IngestRequest is the body of POST /v1/runs/{run_id}/events. Besides
// the event batch it may carry run-level facts from the upstream
// engine.
type IngestRequest struct {
	Events      []EventInput `json:"events"`
	RunStatus   string       `json:"run_status,omitempty"`
	OrderID     string       `json:"order_id,omitempty"`
	TotalStages int          `json:"total_stages,omitempty"`
}

// StageRecord mirrors the server's reconciled stage view.
type StageRecord struct {
	Key       string     `json:"key"`
	StageID   string     `json:"stage_id,omitempty"`
	Name      string     `json:"name"`
	ToolName  string     `json:"tool_name,omitempty"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Logs      []string   `json:"logs,omitempty"`
}

// RunRecord mirrors the server's reconciled run view.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	OrderID     string        `json:"order_id,omitempty"`
	Status      string        `json:"status"`
	Stages      []StageRecord `json:"stages"`
	TotalStages int           `json:"total_stages,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CompletionData is the structured order summary extracted when a run
// completes. Fields the server could not extract hold "unknown".
type CompletionData struct {
	OrderID          string `json:"order_id"`
	BuyerContact     string `json:"buyer_contact"`
	ItemDescription  string `json:"item_description"`
	Quantity         string `json:"quantity"`
	DeliveryLocation string `json:"delivery_location"`
	TotalAmount      string `json:"total_amount"`
	PaymentReference string `json:"payment_reference"`
	LedgerReference  string `json:"ledger_reference"`
}

// CompletionState mirrors the server's per-run completion lifecycle.
type CompletionState struct {
	IsCompleted    bool           `json:"is_completed"`
	Trigger        string         `json:"trigger,omitempty"`
	TriggerStageID string         `json:"trigger_stage_id,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Data           CompletionData `json:"data"`
	HasShownCard   bool           `json:"has_shown_card"`
	CardDismissed  bool           `json:"card_dismissed"`
}

// IngestResponse is returned after applying an event batch.
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
