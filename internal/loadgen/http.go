package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/okian/blitzrec/pkg/logger"
)

type client struct {
	base    string
	http    *http.Client
	verbose bool
	log     logger.Logger
}

func newClient(cfg *Config) *client {
	return &client{
		base:    cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		verbose: cfg.Verbose,
		log:     logger.Named("loadgen"),
	}
}

// do sends a request and decodes a JSON body into out when out is non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) health(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

// submitObservations posts every observation with bounded concurrency.
func (c *client) submitObservations(ctx context.Context, workers int, obs []Observation, stats *Stats) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, o := range obs {
		g.Go(func() error {
			var ack AckResponse
			status, err := c.do(ctx, http.MethodPost, "/observations", o, &ack)
			atomic.AddInt64(&stats.ObservationsSubmitted, 1)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&stats.ObservationsFailed, 1)
				c.debug(ctx, "observation failed", o.EventID, err)
			case status == http.StatusAccepted:
				atomic.AddInt64(&stats.ObservationsAccepted, 1)
			case status == http.StatusOK && ack.Duplicate:
				atomic.AddInt64(&stats.ObservationsDuplicate, 1)
			case status == http.StatusTooManyRequests:
				atomic.AddInt64(&stats.ObservationsRejected, 1)
			default:
				atomic.AddInt64(&stats.ObservationsFailed, 1)
				c.debug(ctx, "observation rejected", o.EventID, fmt.Errorf("status %d", status))
			}
			return nil
		})
	}
	return g.Wait()
}

// recommend posts every request and checks the returned probabilities.
func (c *client) recommend(ctx context.Context, workers int, reqs []RecommendRequest, stats *Stats) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range reqs {
		g.Go(func() error {
			var resp PredictionsResponse
			status, err := c.do(ctx, http.MethodPost, "/recommendations", r, &resp)
			if err != nil || status != http.StatusOK {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&stats.RecommendationsFailed, 1)
				c.debug(ctx, "recommendation failed", strconv.Itoa(i), err)
				return nil
			}
			atomic.AddInt64(&stats.RecommendationsServed, 1)
			checkPredictions(resp.Predictions, stats)
			return nil
		})
	}
	return g.Wait()
}

// predictAccounts asks the latent factor endpoint about each account.
func (c *client) predictAccounts(ctx context.Context, workers int, accounts []uint32, tanks []uint32, stats *Stats) error {
	query := ""
	for i, t := range tanks {
		if i > 0 {
			query += "&"
		}
		query += "tank_id=" + strconv.FormatUint(uint64(t), 10)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, a := range accounts {
		g.Go(func() error {
			var resp PredictionsResponse
			path := "/accounts/" + strconv.FormatUint(uint64(a), 10) + "/predictions?" + query
			status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
			if err != nil || status != http.StatusOK {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&stats.RecommendationsFailed, 1)
				c.debug(ctx, "account prediction failed", path, err)
				return nil
			}
			atomic.AddInt64(&stats.RecommendationsServed, 1)
			checkPredictions(resp.Predictions, stats)
			return nil
		})
	}
	return g.Wait()
}

func checkPredictions(ps []Prediction, stats *Stats) {
	for _, p := range ps {
		atomic.AddInt64(&stats.PredictionsChecked, 1)
		if p.P < 0 || p.P > 1 {
			atomic.AddInt64(&stats.PredictionsOutOfBounds, 1)
		}
	}
}

func (c *client) debug(ctx context.Context, msg, id string, err error) {
	if !c.verbose {
		return
	}
	fields := []logger.Field{logger.String("id", id)}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	c.log.Warn(ctx, msg, fields...)
}
