package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/blitzrec/internal/domain/types"
)

// VehicleDependencies defines the interface for vehicle model lookups.
type VehicleDependencies interface {
	Vehicle(ctx context.Context, tank uint32) (types.Vehicle, error)
}

// VehiclesHandler handles vehicle requests.
type VehiclesHandler struct {
	deps VehicleDependencies
}

// NewVehiclesHandler creates a new vehicles handler.
func NewVehiclesHandler(deps VehicleDependencies) *VehiclesHandler {
	return &VehiclesHandler{deps: deps}
}

// HandleGetVehicle handles GET /vehicles/{id} requests.
func (h *VehiclesHandler) HandleGetVehicle(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_vehicle"
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	v, err := h.deps.Vehicle(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
