package portal

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/query"
)

// FetchOptions control FetchContracts.
type FetchOptions struct {
	// WithData also fetches and reconciles full contract details.
	WithData bool
	// RaiseForStatuses fails with PartialOffline when a service status is off.
	RaiseForStatuses bool
}

// FetchContracts lists the account's contracts and reconciles the tracked set
// against it. Known contracts keep their identity, new ones start with
// placeholder devices and unlisted ones are dropped.
func (c *Client) FetchContracts(ctx context.Context, opts FetchOptions) (map[string]*models.Contract, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	logger.Debug("fetching contracts list", "username", c.username)

	results, err := c.PerformQueries(ctx, []Request{
		{Query: query.MustQuery(query.GetInternalSystemStatuses)},
		{Query: query.MustQuery(query.AccountsList)},
	})
	if err != nil {
		return nil, err
	}

	bad, err := CheckStatusesResponse(results[0], opts.RaiseForStatuses, nil, true)
	if err != nil {
		return nil, err
	}
	if len(bad) > 0 {
		logger.Warn("portal reports degraded statuses", "statuses", bad)
	}

	var list models.AccountsList
	if err := json.Unmarshal(results[1], &list); err != nil {
		return nil, apierr.QueryFailed("decoding accounts list", err)
	}
	if list.Me == nil {
		return nil, apierr.AuthenticationFailed("portal returned no user, bearer token is likely stale")
	}

	c.lastDelta = models.ReconcileContracts(c.contracts, list.Me.Contracts)
	if c.lastDelta.Changed() {
		logger.Info("contracts changed", "username", c.username,
			"added", c.lastDelta.Added, "removed", c.lastDelta.Removed)
	}

	if opts.WithData {
		if err := c.fetchContractData(ctx, slices.Sorted(maps.Keys(c.contracts))); err != nil {
			return nil, err
		}
	}

	return maps.Clone(c.contracts), nil
}

func contractRequest(number string) Request {
	return Request{
		Query:     query.MustQuery(query.ContractDevices),
		Variables: map[string]any{"number": number},
	}
}

func decodeContract(number string, raw json.RawMessage) (*models.ContractData, error) {
	var resp models.ContractDevicesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apierr.QueryFailed("decoding contract "+number, err)
	}
	if resp.Me == nil {
		return nil, apierr.AuthenticationFailed("portal returned no user, bearer token is likely stale")
	}
	if resp.Me.Contract == nil {
		return nil, apierr.QueryFailed(fmt.Sprintf("contract %s missing from response", number), nil)
	}
	return resp.Me.Contract, nil
}

// fetchContractData loads details for numbers in one batch and assigns them in order.
// Callers hold fetchMu.
func (c *Client) fetchContractData(ctx context.Context, numbers []string) error {
	if len(numbers) == 0 {
		return nil
	}

	requests := make([]Request, 0, len(numbers))
	for _, number := range numbers {
		requests = append(requests, contractRequest(number))
	}
	results, err := c.PerformQueries(ctx, requests)
	if err != nil {
		return err
	}

	for i, number := range numbers {
		data, err := decodeContract(number, results[i])
		if err != nil {
			return err
		}
		if err := c.assign(number, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) assign(number string, data *models.ContractData) error {
	contract := c.contracts[number]
	delta, err := contract.SetData(data)
	if err != nil {
		return apierr.QueryFailed("invalid contract data", err)
	}
	if delta.Devices.Changed() {
		logger.Debug("contract devices changed", "contract", number,
			"added", delta.Devices.Added, "removed", delta.Devices.Removed)
	}
	return nil
}

// UpdateContract refreshes the details of one tracked contract.
func (c *Client) UpdateContract(ctx context.Context, number string) (*models.Contract, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	contract, ok := c.contracts[number]
	if !ok {
		return nil, apierr.Newf(apierr.KindGeneric, "contract %s is not tracked", number)
	}

	raw, err := c.PerformSingleQuery(ctx, contractRequest(number))
	if err != nil {
		return nil, err
	}
	data, err := decodeContract(number, raw)
	if err != nil {
		return nil, err
	}
	if err := c.assign(number, data); err != nil {
		return nil, err
	}
	return contract, nil
}
