package api

import (
	"context"
	"net/http"

	"github.com/okian/blitzrec/internal/domain/dedupe"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/types"
)

// ObservationDependencies defines the interface for observation processing dependencies.
type ObservationDependencies interface {
	dedupe.Deduper
	Enqueue(ctx context.Context, obs model.Observation) bool
}

// ObservationsHandler handles observation requests.
type ObservationsHandler struct {
	deps ObservationDependencies
}

// NewObservationsHandler creates a new observations handler.
func NewObservationsHandler(deps ObservationDependencies) *ObservationsHandler {
	return &ObservationsHandler{deps: deps}
}

// HandlePostObservation handles POST /observations requests.
func (h *ObservationsHandler) HandlePostObservation(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_observation"
	var req types.ObservationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	// mark as seen first so concurrent redeliveries collapse
	if h.deps.SeenAndRecord(r.Context(), req.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if ok := h.deps.Enqueue(r.Context(), req.Observation()); !ok {
		h.deps.Unrecord(r.Context(), req.EventID)
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, nil))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}
