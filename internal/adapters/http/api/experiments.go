// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	service "github.com/splitlab/splitlab/internal/app"
	"github.com/splitlab/splitlab/internal/domain/model"
)

// ExperimentsHandler handles experiment lifecycle requests.
type ExperimentsHandler struct {
	deps Dependencies
}

// NewExperimentsHandler creates a new experiments handler.
func NewExperimentsHandler(deps Dependencies) *ExperimentsHandler {
	return &ExperimentsHandler{deps: deps}
}

// variantPayload is the wire shape of a variant in requests and responses.
type variantPayload struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
	URL    string  `json:"url,omitempty"`
}

// createExperimentRequest mirrors the OpenAPI schema for POST /experiments.
type createExperimentRequest struct {
	SubjectID    string           `json:"subject_id"`
	Variants     []variantPayload `json:"variants"`
	Metrics      []string         `json:"metrics,omitempty"`
	DurationDays int              `json:"duration_days,omitempty"`
}

type experimentResponse struct {
	ExperimentID string           `json:"experiment_id"`
	SubjectID    string           `json:"subject_id"`
	Status       string           `json:"status"`
	Variants     []variantPayload `json:"variants"`
	Metrics      []string         `json:"metrics"`
	DurationDays int              `json:"duration_days"`
	Winner       string           `json:"winner,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
}

type createExperimentResponse struct {
	experimentResponse
	TrackingSnippet string `json:"tracking_snippet"`
	DashboardURL    string `json:"dashboard_url"`
}

type resultsResponse struct {
	ExperimentID string   `json:"experiment_id"`
	Status       string   `json:"status"`
	Winner       string   `json:"winner,omitempty"`
	Results      []Result `json:"results"`
}

type snippetResponse struct {
	ExperimentID string `json:"experiment_id"`
	Snippet      string `json:"snippet"`
}

func toExperimentResponse(exp model.Experiment) experimentResponse {
	variants := make([]variantPayload, len(exp.Variants))
	for i, v := range exp.Variants {
		variants[i] = variantPayload{ID: v.ID, Weight: v.Weight, URL: v.URL}
	}
	resp := experimentResponse{
		ExperimentID: exp.ID,
		SubjectID:    exp.SubjectID,
		Status:       string(exp.Status),
		Variants:     variants,
		Metrics:      exp.Metrics,
		DurationDays: exp.DurationDays,
		Winner:       exp.Winner,
		StartedAt:    exp.StartedAt,
	}
	if !exp.EndedAt.IsZero() {
		ended := exp.EndedAt
		resp.EndedAt = &ended
	}
	return resp
}

// HandleCreate handles POST /experiments requests.
func (h *ExperimentsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", Wrap("api.create_experiment", ErrBadRequest, err))
		return
	}

	cfg := service.CreateConfig{
		SubjectID:    req.SubjectID,
		Variants:     make([]service.VariantConfig, len(req.Variants)),
		Metrics:      req.Metrics,
		DurationDays: req.DurationDays,
	}
	for i, v := range req.Variants {
		cfg.Variants[i] = service.VariantConfig{ID: v.ID, Weight: v.Weight, URL: v.URL}
	}

	created, err := h.deps.CreateExperiment(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createExperimentResponse{
		experimentResponse: toExperimentResponse(created.Experiment),
		TrackingSnippet:    created.TrackingSnippet,
		DashboardURL:       created.DashboardURL,
	})
}

// HandleSubresource dispatches /experiments/{id} and its sub-paths:
//
//	GET  /experiments/{id}          experiment record
//	GET  /experiments/{id}/results  current statistical snapshot
//	POST /experiments/{id}/end      finalize and determine the winner
//	GET  /experiments/{id}/snippet  tracking snippet
func (h *ExperimentsHandler) HandleSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/experiments/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch action {
	case "":
		h.handleGet(w, r, id)
	case "results":
		h.handleResults(w, r, id)
	case "end":
		h.handleEnd(w, r, id)
	case "snippet":
		h.handleSnippet(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *ExperimentsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	exp, err := h.deps.Experiment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(exp))
}

func (h *ExperimentsHandler) handleResults(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	exp, err := h.deps.Experiment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	results, err := h.deps.Results(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		ExperimentID: id,
		Status:       string(exp.Status),
		Winner:       exp.Winner,
		Results:      results,
	})
}

func (h *ExperimentsHandler) handleEnd(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	outcome, err := h.deps.End(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		ExperimentID: id,
		Status:       string(model.StatusCompleted),
		Winner:       outcome.Winner,
		Results:      outcome.Results,
	})
}

func (h *ExperimentsHandler) handleSnippet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	snippet, err := h.deps.Snippet(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippetResponse{ExperimentID: id, Snippet: snippet})
}
