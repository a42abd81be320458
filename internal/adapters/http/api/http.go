// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/blitzrec/internal/adapters/repository"
	"github.com/okian/blitzrec/internal/domain/dedupe"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/types"
)

// maxBodyBytes bounds request bodies; 10k given vehicles fit comfortably.
const maxBodyBytes = 4 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper
	StatsProvider

	// Enqueue pushes an observation for async processing. Returns false on backpressure.
	Enqueue(ctx context.Context, obs model.Observation) bool

	Recommend(ctx context.Context, req types.RecommendRequest) (types.RecommendResponse, error)
	PredictAccount(ctx context.Context, account uint32, tanks []uint32) (types.AccountPredictions, error)
	Vehicle(ctx context.Context, tank uint32) (types.Vehicle, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler          *HealthHandler
	statsHandler           *StatsHandler
	observationsHandler    *ObservationsHandler
	recommendationsHandler *RecommendationsHandler
	accountsHandler        *AccountsHandler
	vehiclesHandler        *VehiclesHandler

	rateLimit int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimit caps requests per second per client IP. Zero disables it.
func WithRateLimit(rps int) ServerOption {
	return func(s *Server) { s.rateLimit = rps }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:          NewHealthHandler(),
		statsHandler:           NewStatsHandler(deps),
		observationsHandler:    NewObservationsHandler(deps),
		recommendationsHandler: NewRecommendationsHandler(deps),
		accountsHandler:        NewAccountsHandler(deps),
		vehiclesHandler:        NewVehiclesHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(maxBodyBytes))
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Second))
		}
		r.Post("/observations", MetricsMiddleware(s.observationsHandler.HandlePostObservation, "observations"))
		r.Post("/recommendations", MetricsMiddleware(s.recommendationsHandler.HandlePostRecommendations, "recommendations"))
		r.Get("/accounts/{id}/predictions", MetricsMiddleware(s.accountsHandler.HandleGetPredictions, "account_predictions"))
		r.Get("/vehicles/{id}", MetricsMiddleware(s.vehiclesHandler.HandleGetVehicle, "vehicles"))
	})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeBody decodes a single JSON document into v and validates it.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return validate.Struct(v)
}

// isNotFound translates upstream not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
