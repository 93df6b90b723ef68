package client

import (
	"context"
	"net/http"
	"time"
)

// WaitForHealthy polls /health until it answers 200 or ctx ends.
func (c *Client) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.NewTicker(interval, "client", "health")
	defer ticker.Stop()

	for {
		if c.healthy(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
