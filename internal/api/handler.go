// Package api provides the HTTP API handlers and routing for the modelops service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"modelops/internal/apperrors"
	"modelops/internal/artifact"
	"modelops/internal/compute"
	"modelops/internal/health"
	"modelops/internal/pipeline"
	"modelops/internal/status"
	"modelops/internal/store"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const (
	// maxRequestBodySize limits JSON request bodies to 1MB
	maxRequestBodySize = 1 << 20
	// maxDatasetSize limits CSV uploads to 64MB
	maxDatasetSize = 64 << 20
)

// Handler contains HTTP handlers for the modelops API
type Handler struct {
	pipeline *pipeline.Orchestrator
	store    store.Store
	engine   compute.Engine
	health   *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(p *pipeline.Orchestrator, s store.Store, engine compute.Engine, healthChecker *health.Checker) *Handler {
	return &Handler{
		pipeline: p,
		store:    s,
		engine:   engine,
		health:   healthChecker,
	}
}

// UploadResponse describes a stored dataset.
type UploadResponse struct {
	Variant string `json:"variant"`
	Key     string `json:"key"`
	Rows    int    `json:"rows"`
	RunID   string `json:"runId,omitempty"`
}

// PredictRequest is the body of POST /v1/predict/{variant}.
type PredictRequest struct {
	Features map[string]float64 `json:"features"`
}

// PredictResponse carries the predicted class. Numeric labels are returned as numbers.
type PredictResponse struct {
	Variant    string `json:"variant"`
	Prediction any    `json:"prediction"`
}

// VariantStatus describes one variant.
type VariantStatus struct {
	Variant string         `json:"variant"`
	Status  status.Status  `json:"status"`
	RunID   string         `json:"runId,omitempty"`
	State   pipeline.State `json:"state,omitempty"`
}

// RunRequest is the optional body of POST /v1/runs.
type RunRequest struct {
	Variants []string `json:"variants,omitempty"`
}

// RunResponse acknowledges a started run.
type RunResponse struct {
	RunID    string   `json:"runId"`
	Variants []string `json:"variants"`
}

// PutDataset handles PUT /v1/datasets/{variant}.
// With ?train=true a run for the variant starts once the dataset is stored.
func (h *Handler) PutDataset(w http.ResponseWriter, r *http.Request) {
	variant, ok := h.variant(w, r)
	if !ok {
		return
	}
	train, err := parseBool(r.URL.Query().Get("train"))
	if err != nil {
		h.handleError(w, r, apperrors.Validation("train", "must be a boolean"))
		return
	}

	resp, ok := h.upload(w, r, variant, artifact.RawDataset(variant))
	if !ok {
		return
	}
	if !train {
		h.writeJSON(w, http.StatusCreated, resp)
		return
	}

	runID, err := h.pipeline.Start(r.Context(), []string{variant})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp.RunID = runID
	h.writeJSON(w, http.StatusAccepted, resp)
}

// PutHoldout handles PUT /v1/holdouts/{variant}.
func (h *Handler) PutHoldout(w http.ResponseWriter, r *http.Request) {
	variant, ok := h.variant(w, r)
	if !ok {
		return
	}
	if resp, ok := h.upload(w, r, variant, artifact.Holdout(variant)); ok {
		h.writeJSON(w, http.StatusCreated, resp)
	}
}

// upload checks that the body is a labelled dataset and stores it at loc.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request, variant string, loc artifact.Location) (*UploadResponse, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDatasetSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Dataset too large")
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "Failed to read body: "+err.Error())
		return nil, false
	}

	dataset, err := compute.ParseCSV(data, compute.LabelColumn)
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}

	if err := store.Put(r.Context(), h.store, loc, data); err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	slog.Info("Dataset stored", "variant", variant, "location", loc.String(), "rows", len(dataset.Labels))
	return &UploadResponse{Variant: variant, Key: loc.String(), Rows: len(dataset.Labels)}, true
}

// Predict handles POST /v1/predict/{variant} with the production model.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	variant, ok := h.variant(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Features) == 0 {
		h.handleError(w, r, apperrors.Validation("features", "at least one feature is required"))
		return
	}

	model, err := h.load(r, artifact.ProductionModel(variant))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	scaler, err := h.load(r, artifact.ProductionScaler(variant))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	columns := slices.Sorted(maps.Keys(req.Features))
	row := make([]float64, len(columns))
	for i, name := range columns {
		row[i] = req.Features[name]
	}

	labels, err := h.engine.Predict(r.Context(), model, scaler, compute.Table{Columns: columns, Rows: [][]float64{row}})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if len(labels) != 1 {
		h.handleError(w, r, apperrors.Internal("predict", errors.New("engine returned no prediction")))
		return
	}

	h.writeJSON(w, http.StatusOK, PredictResponse{Variant: variant, Prediction: labelValue(labels[0])})
}

// ListStatus handles GET /v1/status
func (h *Handler) ListStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := make([]VariantStatus, 0, len(statuses))
	for _, variant := range h.pipeline.Variants() {
		resp = append(resp, h.describe(variant, statuses[variant]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"variants": resp})
}

// GetStatus handles GET /v1/status/{variant}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	variant, ok := h.variant(w, r)
	if !ok {
		return
	}

	st, err := h.pipeline.VariantStatus(r.Context(), variant)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.describe(variant, st))
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	for _, v := range req.Variants {
		if err := artifact.ValidateVariant(v); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	runID, err := h.pipeline.Start(r.Context(), req.Variants)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	variants := req.Variants
	if len(variants) == 0 {
		variants = h.pipeline.Variants()
	}
	h.writeJSON(w, http.StatusAccepted, RunResponse{RunID: runID, Variants: variants})
}

// ListRuns handles GET /v1/runs and lists the variants being processed.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"active": h.pipeline.Active()})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when a required dependency (the store, the compute engine) is down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// variant reads and checks the {variant} path value, writing the error response on failure.
func (h *Handler) variant(w http.ResponseWriter, r *http.Request) (string, bool) {
	variant := r.PathValue("variant")
	if err := artifact.ValidateVariant(variant); err != nil {
		h.handleError(w, r, err)
		return "", false
	}
	if !h.pipeline.Known(variant) {
		h.handleError(w, r, apperrors.NotFound("variant", variant))
		return "", false
	}
	return variant, true
}

func (h *Handler) describe(variant string, st status.Status) VariantStatus {
	vs := VariantStatus{Variant: variant, Status: st}
	if active, ok := h.pipeline.ActiveVariant(variant); ok {
		vs.RunID = active.RunID
		vs.State = active.State
	}
	return vs
}

// load reads a production artifact. A missing one means the variant was never promoted.
func (h *Handler) load(r *http.Request, loc artifact.Location) ([]byte, error) {
	data, err := store.Get(r.Context(), h.store, loc)
	if store.IsNotFound(err) {
		return nil, apperrors.NotFound("production artifact", loc.String())
	}
	return data, err
}

// labelValue returns integer labels as numbers.
func labelValue(label string) any {
	if n, err := strconv.Atoi(label); err == nil {
		return n
	}
	return label
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
