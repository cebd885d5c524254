package portal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/query"
)

// Request is one GraphQL operation of a batch.
type Request struct {
	Variables map[string]any
	Query     string
}

type batchItem struct {
	OperationName *string        `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

type batchResult struct {
	Data json.RawMessage `json:"data"`
}

func newBatch(requests []Request) []batchItem {
	items := make([]batchItem, 0, len(requests))
	for _, r := range requests {
		item := batchItem{Query: r.Query, Variables: r.Variables}
		if name := query.OperationName(r.Query); name != "" {
			item.OperationName = &name
		}
		if item.Variables == nil {
			item.Variables = map[string]any{}
		}
		items = append(items, item)
	}
	return items
}

// PerformQueries sends requests as one batch and returns each element's data in request order.
func (c *Client) PerformQueries(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	bearer := c.bearer()
	if bearer == "" {
		return nil, apierr.AuthenticationFailed("bearer token required")
	}

	payload := newBatch(requests)
	logger.Debug("sending batch", "operations", len(payload))

	req, err := newJSONRequest(ctx, http.MethodPost, c.baseURL+"/graphql/batch", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("token", bearer)

	resp, err := c.send(c.http, "batch", req)
	if err != nil {
		if isTimeout(err) {
			return nil, apierr.QueryFailed("timeout executing query", err)
		}
		return nil, apierr.RequestFailed("executing query", err)
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apierr.AuthenticationFailed(fmt.Sprintf("bearer token rejected (status %d)", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := readBody(resp, maxErrorBody)
		return nil, apierr.QueryFailed(fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(body)), nil)
	}

	body, err := readBody(resp, maxBody)
	if err != nil {
		if isTimeout(err) {
			return nil, apierr.QueryFailed("timeout reading query response", err)
		}
		return nil, apierr.QueryFailed("reading query response", err)
	}
	if !isJSONContent(resp) {
		logger.Debug("non-JSON batch response", "content_type", resp.Header.Get("Content-Type"), "body", snippet(body))
		return nil, apierr.QueryFailed("decoding error: unexpected content type "+resp.Header.Get("Content-Type"), nil)
	}

	var results []batchResult
	if err := json.Unmarshal(body, &results); err != nil {
		logger.Debug("undecodable batch response", "body", snippet(body))
		return nil, apierr.QueryFailed("decoding error", err)
	}
	if len(results) != len(requests) {
		return nil, apierr.QueryFailed(fmt.Sprintf("decoding error: expected %d results, got %d", len(requests), len(results)), nil)
	}

	data := make([]json.RawMessage, len(results))
	for i, r := range results {
		if r.Data == nil {
			return nil, apierr.QueryFailed(fmt.Sprintf("decoding error: result %d has no data", i), nil)
		}
		data[i] = r.Data
	}
	return data, nil
}

// PerformSingleQuery runs one operation as a one-element batch.
func (c *Client) PerformSingleQuery(ctx context.Context, r Request) (json.RawMessage, error) {
	results, err := c.PerformQueries(ctx, []Request{r})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
