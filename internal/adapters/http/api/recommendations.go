package api

import (
	"context"
	"net/http"

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/types"
)

// RecommendDependencies defines the interface for similarity recommendations.
type RecommendDependencies interface {
	Recommend(ctx context.Context, req types.RecommendRequest) (types.RecommendResponse, error)
}

// RecommendationsHandler handles recommendation requests.
type RecommendationsHandler struct {
	deps RecommendDependencies
}

// NewRecommendationsHandler creates a new recommendations handler.
func NewRecommendationsHandler(deps RecommendDependencies) *RecommendationsHandler {
	return &RecommendationsHandler{deps: deps}
}

// HandlePostRecommendations handles POST /recommendations requests.
func (h *RecommendationsHandler) HandlePostRecommendations(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_recommendations"
	var req types.RecommendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	resp, err := h.deps.Recommend(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if resp.Predictions == nil {
		resp.Predictions = []model.Prediction{}
	}
	writeJSON(w, http.StatusOK, resp)
}
