package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/blitzrec/internal/domain/types"
)

// maxPredictTanks bounds the tank_id query parameter list.
const maxPredictTanks = 1000

// AccountDependencies defines the interface for latent factor predictions.
type AccountDependencies interface {
	PredictAccount(ctx context.Context, account uint32, tanks []uint32) (types.AccountPredictions, error)
}

// AccountsHandler handles account prediction requests.
type AccountsHandler struct {
	deps AccountDependencies
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(deps AccountDependencies) *AccountsHandler {
	return &AccountsHandler{deps: deps}
}

// HandleGetPredictions handles GET /accounts/{id}/predictions?tank_id=1&tank_id=2 requests.
func (h *AccountsHandler) HandleGetPredictions(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_account_predictions"
	account, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	raw := r.URL.Query()["tank_id"]
	if len(raw) == 0 || len(raw) > maxPredictTanks {
		writeError(w, http.StatusBadRequest, "bad_request",
			wrapKind(op, ErrBadRequest, errors.New("between 1 and 1000 tank_id values required")))
		return
	}
	tanks := make([]uint32, 0, len(raw))
	for _, s := range raw {
		id, err := parseID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
			return
		}
		tanks = append(tanks, id)
	}

	out, err := h.deps.PredictAccount(r.Context(), account, tanks)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// parseID parses a positive 32-bit identifier.
func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("id must be positive")
	}
	return uint32(id), nil
}
