package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/matchengine/pkg/logger"
)

// HTTPClient wraps http.Client with JSON helpers.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// getJSON performs a GET request and decodes a 200 body into dst.
func (c *HTTPClient) getJSON(ctx context.Context, path string, dst any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(dst)
}

// postJSON performs a POST request with a JSON body.
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, dst any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if dst != nil {
		_ = json.NewDecoder(resp.Body).Decode(dst)
	}
	return resp.StatusCode, nil
}

// submitMutations posts every mutation with cfg.Workers concurrent senders.
func submitMutations(ctx context.Context, cfg *Config, client *HTTPClient, mutations []Mutation, stats *Stats) error {
	log := logger.Get().Named("loadgen")
	log.Info(ctx, "submitting mutations", logger.Int("count", len(mutations)), logger.Int("workers", cfg.Workers))

	var submitted, accepted, duplicate, rejected, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range mutations {
		m := mutations[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			var ack AckResponse
			status, err := client.postJSON(gctx, "/mutations", m, &ack)
			submitted.Add(1)
			switch {
			case err != nil:
				failed.Add(1)
				if cfg.Verbose {
					log.Warn(gctx, "mutation failed", logger.String("event_id", m.EventID), logger.Error(err))
				}
			case status == http.StatusAccepted:
				accepted.Add(1)
			case status == http.StatusOK && ack.Duplicate:
				duplicate.Add(1)
			case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
				rejected.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Rejected = int(rejected.Load())
	stats.Failed = int(failed.Load())

	log.Info(ctx, "mutation submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed))
	return err
}
