package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/blitzrec/internal/adapters/http/api"
	"github.com/okian/blitzrec/internal/adapters/repository"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/types"
)

type mockDeps struct {
	mu       sync.Mutex
	seen     map[string]bool
	enqueued []model.Observation
	full     bool

	lastRecommend types.RecommendRequest
	predictions   []model.Prediction
	recommendErr  error

	lastAccount uint32
	lastTanks   []uint32

	vehicles map[uint32]types.Vehicle
	stats    map[string]interface{}
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		seen:     make(map[string]bool),
		vehicles: make(map[uint32]types.Vehicle),
		stats:    map[string]interface{}{"started": true},
	}
}

func (m *mockDeps) SeenAndRecord(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDeps) Unrecord(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *mockDeps) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *mockDeps) Enqueue(_ context.Context, obs model.Observation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.enqueued = append(m.enqueued, obs)
	return true
}

func (m *mockDeps) Recommend(_ context.Context, req types.RecommendRequest) (types.RecommendResponse, error) {
	m.lastRecommend = req
	if m.recommendErr != nil {
		return types.RecommendResponse{}, m.recommendErr
	}
	return types.RecommendResponse{Predictions: m.predictions}, nil
}

func (m *mockDeps) PredictAccount(_ context.Context, account uint32, tanks []uint32) (types.AccountPredictions, error) {
	m.lastAccount, m.lastTanks = account, tanks
	out := types.AccountPredictions{AccountID: account}
	for _, t := range tanks {
		out.Predictions = append(out.Predictions, model.Prediction{TankID: model.TankID(t), P: 0.5})
	}
	return out, nil
}

func (m *mockDeps) Vehicle(_ context.Context, tank uint32) (types.Vehicle, error) {
	v, ok := m.vehicles[tank]
	if !ok {
		return types.Vehicle{}, fmt.Errorf("vehicle %d: %w", tank, repository.ErrNotFound)
	}
	return v, nil
}

func (m *mockDeps) GetStats() map[string]interface{} {
	return m.stats
}

func newRouter(deps api.Dependencies, opts ...api.ServerOption) http.Handler {
	r := chi.NewRouter()
	api.NewServer(deps, opts...).Register(r)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

const observationBody = `{"event_id":"evt-1","realm":"ru","account_id":42,"tank_id":1,"n_battles":3,"n_wins":2,"ts":"2025-01-02T03:04:05Z"}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newRouter(newMockDeps())

		Convey("When calling the health endpoint", func() {
			w := do(h, http.MethodGet, "/healthz", "")

			Convey("Then it should serve the metrics exposition", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/plain")
			})
		})

		Convey("When calling the stats endpoint", func() {
			w := do(h, http.MethodGet, "/stats", "")

			Convey("Then it should return the provider stats", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"started":true`)
			})
		})

		Convey("When using the wrong method", func() {
			w := do(h, http.MethodGet, "/recommendations", "")

			Convey("Then the router should reject it", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})

		Convey("When requesting an unknown path", func() {
			w := do(h, http.MethodGet, "/rank/1", "")

			Convey("Then it should not be found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestObservationsHandler(t *testing.T) {
	Convey("Given the observations endpoint", t, func() {
		deps := newMockDeps()
		h := newRouter(deps)

		Convey("When posting a valid observation", func() {
			w := do(h, http.MethodPost, "/observations", observationBody)

			Convey("Then it should be accepted and enqueued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"status":"accepted"`)
				So(deps.enqueued, ShouldHaveLength, 1)
				obs := deps.enqueued[0]
				So(obs.AccountID, ShouldEqual, model.AccountID(42))
				So(obs.TankID, ShouldEqual, model.TankID(1))
				So(obs.TS.Year(), ShouldEqual, 2025)
			})

			Convey("And posting it again", func() {
				w := do(h, http.MethodPost, "/observations", observationBody)

				Convey("Then it should be reported as duplicate", func() {
					So(w.Code, ShouldEqual, http.StatusOK)
					So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
					So(deps.enqueued, ShouldHaveLength, 1)
				})
			})
		})

		Convey("When the queue is full", func() {
			deps.full = true
			w := do(h, http.MethodPost, "/observations", observationBody)

			Convey("Then it should apply backpressure and forget the id", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decodeError(w)["code"], ShouldEqual, "backpressure")
				So(deps.Size(), ShouldEqual, 0)
			})
		})

		cases := []struct{ name, body string }{
			{"malformed json", `{"event_id":`},
			{"missing event id", `{"account_id":42,"tank_id":1,"n_battles":1,"ts":"2025-01-02T03:04:05Z"}`},
			{"more wins than battles", `{"event_id":"e","account_id":42,"tank_id":1,"n_battles":1,"n_wins":2,"ts":"2025-01-02T03:04:05Z"}`},
			{"non RFC3339 timestamp", `{"event_id":"e","account_id":42,"tank_id":1,"n_battles":1,"ts":"yesterday"}`},
			{"trailing data", observationBody + `{}`},
		}
		for _, tc := range cases {
			Convey("When posting an observation with "+tc.name, func() {
				w := do(h, http.MethodPost, "/observations", tc.body)

				Convey("Then it should be a bad request", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(decodeError(w)["code"], ShouldEqual, "bad_request")
					So(deps.enqueued, ShouldBeEmpty)
				})
			})
		}
	})
}

func TestRecommendationsHandler(t *testing.T) {
	Convey("Given the recommendations endpoint", t, func() {
		deps := newMockDeps()
		h := newRouter(deps)

		Convey("When posting samples and residuals", func() {
			deps.predictions = []model.Prediction{{TankID: 2, P: 0.61}}
			w := do(h, http.MethodPost, "/recommendations",
				`{"given":[{"tank_id":1,"n_battles":10,"n_wins":6},{"tank_id":3,"residual":-0.05}],"predict":[2,4],"min_prediction":0.5}`)

			Convey("Then the request should reach the recommender", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastRecommend.Given, ShouldHaveLength, 2)
				So(*deps.lastRecommend.Given[1].Residual, ShouldAlmostEqual, -0.05)
				So(*deps.lastRecommend.MinPrediction, ShouldAlmostEqual, 0.5)
				So(deps.lastRecommend.Predict, ShouldResemble, []uint32{2, 4})
			})

			Convey("And the predictions should be returned", func() {
				var resp types.RecommendResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Predictions, ShouldResemble, []model.Prediction{{TankID: 2, P: 0.61}})
			})
		})

		Convey("When nothing can be predicted", func() {
			w := do(h, http.MethodPost, "/recommendations", `{"given":[],"predict":[2]}`)

			Convey("Then an empty list should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"predictions":[]`)
			})
		})

		Convey("When the recommender fails", func() {
			deps.recommendErr = errors.New("boom")
			w := do(h, http.MethodPost, "/recommendations", `{"given":[{"tank_id":1,"n_battles":1}],"predict":[2]}`)

			Convey("Then it should be an internal error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})

		cases := []struct{ name, body string }{
			{"malformed json", `{"given":[`},
			{"a sample without battles", `{"given":[{"tank_id":1}],"predict":[2]}`},
			{"more wins than battles", `{"given":[{"tank_id":1,"n_battles":1,"n_wins":3}],"predict":[2]}`},
			{"a zero tank id", `{"given":[{"tank_id":0,"n_battles":1}],"predict":[2]}`},
			{"a zero target", `{"given":[],"predict":[0]}`},
			{"an out of range residual", `{"given":[{"tank_id":1,"residual":2}],"predict":[2]}`},
			{"an out of range threshold", `{"given":[],"predict":[2],"min_prediction":1.5}`},
			{"wrong field types", `{"given":"x","predict":[2]}`},
		}
		for _, tc := range cases {
			Convey("When posting "+tc.name, func() {
				w := do(h, http.MethodPost, "/recommendations", tc.body)

				Convey("Then it should be a bad request", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
				})
			})
		}
	})
}

func TestAccountsHandler(t *testing.T) {
	Convey("Given the account predictions endpoint", t, func() {
		deps := newMockDeps()
		h := newRouter(deps)

		Convey("When requesting predictions for two tanks", func() {
			w := do(h, http.MethodGet, "/accounts/42/predictions?tank_id=1&tank_id=7", "")

			Convey("Then the account and tanks should be forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastAccount, ShouldEqual, uint32(42))
				So(deps.lastTanks, ShouldResemble, []uint32{1, 7})
				So(w.Body.String(), ShouldContainSubstring, `"account_id":42`)
			})
		})

		cases := []struct{ name, path string }{
			{"no tank ids", "/accounts/42/predictions"},
			{"a non numeric account", "/accounts/abc/predictions?tank_id=1"},
			{"a zero account", "/accounts/0/predictions?tank_id=1"},
			{"a non numeric tank", "/accounts/42/predictions?tank_id=x"},
		}
		for _, tc := range cases {
			Convey("When requesting with "+tc.name, func() {
				w := do(h, http.MethodGet, tc.path, "")

				Convey("Then it should be a bad request", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
				})
			})
		}
	})
}

func TestVehiclesHandler(t *testing.T) {
	Convey("Given the vehicles endpoint", t, func() {
		deps := newMockDeps()
		deps.vehicles[1] = types.Vehicle{TankID: 1, VictoryRatio: 0.52, Similar: []model.Similar{{TankID: 2, Similarity: 0.12}}}
		h := newRouter(deps)

		Convey("When requesting a stored vehicle", func() {
			w := do(h, http.MethodGet, "/vehicles/1", "")

			Convey("Then its model should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var v types.Vehicle
				So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
				So(v.VictoryRatio, ShouldAlmostEqual, 0.52)
				So(v.Similar, ShouldHaveLength, 1)
			})
		})

		Convey("When requesting an unknown vehicle", func() {
			w := do(h, http.MethodGet, "/vehicles/99", "")

			Convey("Then it should not be found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(w)["code"], ShouldEqual, "not_found")
			})
		})

		Convey("When the id is not a number", func() {
			w := do(h, http.MethodGet, "/vehicles/tiger", "")

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a server limited to one request per second", t, func() {
		h := newRouter(newMockDeps(), api.WithRateLimit(1))

		Convey("When the same client calls twice", func() {
			first := do(h, http.MethodGet, "/vehicles/99", "")
			second := do(h, http.MethodGet, "/vehicles/99", "")

			Convey("Then the second call should be throttled", func() {
				So(first.Code, ShouldEqual, http.StatusNotFound)
				So(second.Code, ShouldEqual, http.StatusTooManyRequests)
			})
		})

		Convey("When calling the health endpoint repeatedly", func() {
			for range 3 {
				So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestErrorMetrics(t *testing.T) {
	Convey("Given a handler that fails", t, func() {
		h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, "test")

		Convey("When it is called", func() {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/", nil))

			Convey("Then the status should pass through", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})
}
