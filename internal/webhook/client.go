// Package webhook posts rendered card payloads to chat webhook endpoints.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts JSON payloads to webhook endpoints. Delivery is
// fire-and-forget from the dispatcher's point of view: the client reports
// failures but never retries.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client with a pooled transport and the given timeout.
func NewClient(timeout time.Duration) *Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100
	t.ResponseHeaderTimeout = timeout
	t.IdleConnTimeout = time.Minute

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

// Send posts payload to url. Success is exactly HTTP 200; any other status
// returns an error carrying the status line and response body so the caller
// can log the reason.
func (c *Client) Send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", "apm-notifier")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("webhook failed: %s (read body: %v)", resp.Status, readErr)
		}
		return fmt.Errorf("webhook failed: %s: %s", resp.Status, string(body))
	}
	return nil
}
