package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/metrics"
	"github.com/j-veylop/mosoblgaz-tui/internal/version"
)

const (
	maxErrorBody  = 64 << 10
	maxBody       = 8 << 20
	maxScriptBody = 32 << 20
)

// send waits for the rate limiter, performs the request and records its latency.
// A limiter delay that would outlast the context deadline fails as
// context.DeadlineExceeded.
func (c *Client) send(hc *http.Client, endpoint string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if req.Context().Err() == nil {
			return nil, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	start := time.Now()
	resp, err := hc.Do(req)
	result := metrics.ResultSuccess
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		result = metrics.ResultError
	}
	metrics.ObserveRequest(endpoint, result, time.Since(start))

	return resp, err
}

func newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := newRequest(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// snippet returns the start of an error body for logs and error reasons.
func snippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isJSONContent(resp *http.Response) bool {
	contentType := resp.Header.Get("Content-Type")
	return contentType == "" || strings.Contains(contentType, "json")
}
