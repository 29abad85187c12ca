package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ordersight/ordersight/internal/completion"
	"github.com/ordersight/ordersight/internal/model"
	"github.com/ordersight/ordersight/internal/storage"
)

// Engine is the reconciliation engine surface the HTTP layer needs.
// Implemented by the root ordersight.Engine.
type Engine interface {
	ApplyEvent(ctx context.Context, runID string, in model.EventInput) model.RunRecord
	SetRunStatus(runID string, status model.RunStatus) model.RunRecord
	SetRunMeta(runID, orderID string, totalStages int)
	Run(runID string) (model.RunRecord, bool)
	RunIDs() []string
	CheckCompletion(run model.RunRecord) completion.Verdict
	ExtractCompletionData(run model.RunRecord) model.CompletionData
	MarkTrigger(runID string, kind model.TriggerKind, stageID string, data model.CompletionData, onShow func())
	MarkShown(runID string)
	MarkDismissed(runID string)
	Reset(runID string)
	GetState(runID string) model.CompletionState
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              Engine
	db                  *storage.DB
	broker              *Broker
	validate            *validator.Validate
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB, Broker, OpenAPISpec.
type HandlersDeps struct {
	Engine              Engine
	DB                  *storage.DB
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		db:                  d.DB,
		broker:              d.Broker,
		validate:            validator.New(validator.WithRequiredStructEnabled()),
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleIngestEvents handles POST /v1/runs/{run_id}/events.
//
// The batch is appended to the durable event log (when configured),
// folded into the in-memory run record, then re-evaluated for
// completion. Persistence failures degrade to in-memory-only with a
// warning; the dashboard keeps moving even when Postgres is down.
func (h *Handlers) HandleIngestEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	var req model.IngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	ctx := r.Context()
	if h.db != nil {
		if _, err := h.db.AppendEvents(ctx, runID, req.Events); err != nil {
			h.logger.Warn("event log append failed, continuing in-memory",
				"run_id", runID, "error", err,
				"request_id", RequestIDFromContext(ctx))
		}
	}

	if req.OrderID != "" || req.TotalStages > 0 {
		h.engine.SetRunMeta(runID, req.OrderID, req.TotalStages)
	}

	var run model.RunRecord
	for _, ev := range req.Events {
		run = h.engine.ApplyEvent(ctx, runID, ev)
	}
	if req.RunStatus != "" {
		run = h.engine.SetRunStatus(runID, model.NormalizeRunStatus(req.RunStatus))
	}

	h.evaluateCompletion(runID, run)

	if h.broker != nil {
		h.broker.Publish(ctx, runID)
	}

	writeJSON(w, r, http.StatusAccepted, model.IngestResponse{
		Run:        run,
		Completion: h.engine.GetState(runID),
	})
}

// evaluateCompletion runs the detector over the updated record and, on
// a positive verdict, arms the debounced completion trigger. The show
// callback republishes the run so subscribers learn the card became
// visible without polling.
func (h *Handlers) evaluateCompletion(runID string, run model.RunRecord) {
	v := h.engine.CheckCompletion(run)
	if !v.IsCompleted {
		return
	}
	h.engine.MarkTrigger(runID, v.Kind, v.TriggerStageID, v.Data, func() {
		if h.broker != nil {
			// Detached context: the triggering request is long gone when
			// the debounce timer fires.
			h.broker.Publish(context.Background(), runID)
		}
	})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	run, found := h.engine.Run(runID)
	if !found {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown run: "+runID)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleListRuns handles GET /v1/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.RunIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, r, http.StatusOK, map[string][]string{"run_ids": ids})
}

// HandleGetCompletion handles GET /v1/runs/{run_id}/completion.
// Always answers, even for unknown runs: the state is the zero value
// and every data field is the unknown sentinel.
func (h *Handlers) HandleGetCompletion(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	state := h.engine.GetState(runID)
	data := state.Data
	if run, found := h.engine.Run(runID); found {
		data = h.engine.ExtractCompletionData(run)
	} else if !state.IsCompleted {
		data = model.UnknownCompletionData()
	}
	writeJSON(w, r, http.StatusOK, model.CompletionResponse{State: state, Data: data})
}

// HandleMarkShown handles POST /v1/runs/{run_id}/completion/shown.
func (h *Handlers) HandleMarkShown(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	h.engine.MarkShown(runID)
	writeJSON(w, r, http.StatusOK, h.engine.GetState(runID))
}

// HandleMarkDismissed handles POST /v1/runs/{run_id}/completion/dismissed.
func (h *Handlers) HandleMarkDismissed(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	h.engine.MarkDismissed(runID)
	writeJSON(w, r, http.StatusOK, h.engine.GetState(runID))
}

// HandleReset handles POST /v1/runs/{run_id}/completion/reset.
// Drops the run's records and returns its lifecycle to idle; the next
// event starts a fresh cycle.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	h.engine.Reset(runID)
	if h.broker != nil {
		h.broker.Publish(r.Context(), runID)
	}
	writeJSON(w, r, http.StatusOK, h.engine.GetState(runID))
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable,
			"SSE not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError,
			"streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	eventLog := "disabled"
	if h.db != nil {
		eventLog = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			eventLog = "disconnected"
			status = "degraded"
		}
	}

	resp := model.HealthResponse{
		Status:   status,
		Version:  h.version,
		EventLog: eventLog,
		Runs:     len(h.engine.RunIDs()),
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.broker != nil {
		resp.SSEBroker = "running"
	}

	writeJSON(w, r, httpStatus, resp)
}

// maxRunIDLen bounds run ids at the boundary; upstream ids are UUIDs
// or short opaque strings.
const maxRunIDLen = 256

// pathRunID extracts and checks the run_id path value, writing the
// error response itself on failure.
func pathRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := r.PathValue("run_id")
	if runID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return "", false
	}
	if len(runID) > maxRunIDLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id too long")
		return "", false
	}
	return runID, true
}
