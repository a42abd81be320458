package loadgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeService answers like the real API; p is returned for every target.
func fakeService(p float64, observations *int64) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	mux.HandleFunc("POST /observations", func(w http.ResponseWriter, r *http.Request) {
		var o Observation
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil || o.EventID == "" || o.NWins > o.NBattles {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		atomic.AddInt64(observations, 1)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(AckResponse{Status: "accepted"})
	})
	mux.HandleFunc("POST /recommendations", func(w http.ResponseWriter, r *http.Request) {
		var req RecommendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := PredictionsResponse{Predictions: []Prediction{}}
		for _, t := range req.Predict {
			resp.Predictions = append(resp.Predictions, Prediction{TankID: t, P: p})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /accounts/{id}/predictions", func(w http.ResponseWriter, r *http.Request) {
		resp := PredictionsResponse{Predictions: []Prediction{}}
		for range r.URL.Query()["tank_id"] {
			resp.Predictions = append(resp.Predictions, Prediction{TankID: 1, P: p})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func testConfig(url string) *Config {
	return &Config{
		BaseURL:         url,
		Observations:    200,
		Recommendations: 50,
		Accounts:        20,
		Tanks:           10,
		Workers:         4,
		Timeout:         5 * time.Second,
		Seed:            7,
	}
}

func TestRun(t *testing.T) {
	Convey("Given a service that predicts valid probabilities", t, func() {
		var received int64
		srv := fakeService(0.55, &received)
		Reset(srv.Close)

		Convey("When a load run completes", func() {
			stats, err := Run(context.Background(), testConfig(srv.URL))

			Convey("Then every request should be counted and verified", func() {
				So(err, ShouldBeNil)
				So(received, ShouldEqual, 200)
				So(stats.ObservationsSubmitted, ShouldEqual, 200)
				So(stats.ObservationsAccepted, ShouldEqual, 200)
				So(stats.ObservationsFailed, ShouldEqual, 0)
				So(stats.RecommendationsServed, ShouldEqual, 50+20)
				So(stats.PredictionsChecked, ShouldBeGreaterThan, 0)
				So(stats.PredictionsOutOfBounds, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a service that predicts out of range", t, func() {
		var received int64
		srv := fakeService(1.2, &received)
		Reset(srv.Close)

		Convey("When a load run completes", func() {
			stats, err := Run(context.Background(), testConfig(srv.URL))

			Convey("Then verification should fail", func() {
				So(errors.Is(err, ErrOutOfBounds), ShouldBeTrue)
				So(stats.PredictionsOutOfBounds, ShouldEqual, stats.PredictionsChecked)
			})
		})
	})

	Convey("Given no service", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		Convey("When a load run starts", func() {
			_, err := Run(context.Background(), testConfig(srv.URL))

			Convey("Then the health check should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestPopulation(t *testing.T) {
	Convey("Given a seeded population", t, func() {
		cfg := testConfig("")
		p := newPopulation(cfg)

		Convey("When generating observations", func() {
			obs := p.observations(500)

			Convey("Then every observation should be valid and unique", func() {
				ids := make(map[string]struct{}, len(obs))
				for _, o := range obs {
					So(o.AccountID, ShouldBeBetweenOrEqual, 1, cfg.Accounts)
					So(o.TankID, ShouldBeBetweenOrEqual, 1, cfg.Tanks)
					So(o.NBattles, ShouldBeGreaterThan, 0)
					So(o.NWins, ShouldBeLessThanOrEqualTo, o.NBattles)
					ids[o.EventID] = struct{}{}
				}
				So(ids, ShouldHaveLength, len(obs))
			})
		})

		Convey("When generating recommendation requests", func() {
			req := p.recommendation()

			Convey("Then given tanks should be distinct with valid samples", func() {
				So(req.Given, ShouldNotBeEmpty)
				So(req.Predict, ShouldNotBeEmpty)
				seen := map[uint32]bool{}
				for _, k := range req.Given {
					So(seen[k.TankID], ShouldBeFalse)
					seen[k.TankID] = true
					So(k.NWins, ShouldBeLessThanOrEqualTo, k.NBattles)
				}
			})
		})
	})
}
