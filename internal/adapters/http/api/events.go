// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/splitlab/splitlab/internal/domain/model"
)

// eventRequest mirrors the OpenAPI schema for POST /events. This is the
// payload the tracking snippet emits from visitor browsers.
type eventRequest struct {
	EventID      string `json:"event_id,omitempty"`
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	Type         string `json:"type"`
	Metric       string `json:"metric,omitempty"`
	TS           string `json:"ts,omitempty"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.ExperimentID) == "":
		return errors.New("missing experiment_id")
	case strings.TrimSpace(e.VariantID) == "":
		return errors.New("missing variant_id")
	case strings.TrimSpace(e.Type) == "":
		return errors.New("missing type")
	}
	if e.TS != "" {
		if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
			return errors.New("invalid ts; must be RFC3339")
		}
	}
	return nil
}

func (e eventRequest) toModel() model.Event {
	ev := model.Event{
		EventID:      e.EventID,
		ExperimentID: e.ExperimentID,
		VariantID:    e.VariantID,
		Type:         model.EventType(e.Type),
		Metric:       e.Metric,
	}
	if e.TS != "" {
		// Validated above; parse cannot fail here.
		ev.Timestamp, _ = time.Parse(time.RFC3339, e.TS)
	}
	return ev
}

// EventsHandler handles tracking event requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, ErrBadRequest, err))
		return
	}

	// Idempotency check when the client supplies an event id. Mark as seen
	// first so a concurrent duplicate cannot slip through between check and
	// record.
	if req.EventID != "" && h.deps.SeenAndRecord(r.Context(), req.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if err := h.deps.RecordEvent(r.Context(), req.toModel()); err != nil {
		// Roll back the "seen" mark so the client can retry.
		if req.EventID != "" {
			h.deps.Unrecord(r.Context(), req.EventID)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}
