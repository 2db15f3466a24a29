// Package httpclient provides basic http functions
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Client wraps an http.Client with the retry policy used by the realtime
// feed pollers: a bounded per-request timeout and a small number of
// fast retries with a short delay between attempts.
type Client struct {
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
}

// NewClient creates a Client. timeout bounds every request, retries is the
// number of additional attempts made after a failed request.
func NewClient(timeout time.Duration, retries int, retryDelay time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// GetBytes retrieves the body at url with a simple GET request.
// Non-2xx responses are treated as errors so the caller's retry applies.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetBytesWithRetry performs GetBytes, retrying on error up to the
// configured number of additional attempts. The last error is returned
// when every attempt fails.
func (c *Client) GetBytesWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		data, err := c.GetBytes(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
