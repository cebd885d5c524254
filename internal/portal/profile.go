package portal

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/query"
)

// Profile is the account overview the portal loads on its start page.
type Profile struct {
	Name         string
	SupportPhone string
	Contracts    []string
	Messages     []models.MessageData
	// Degraded lists internal statuses that do not hold, as "key =/= value".
	Degraded []string
}

// FetchProfile runs the initialData query.
func (c *Client) FetchProfile(ctx context.Context) (*Profile, error) {
	raw, err := c.PerformSingleQuery(ctx, Request{Query: query.MustQuery(query.InitialData)})
	if err != nil {
		return nil, err
	}

	var data models.InitialDataResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apierr.QueryFailed("decoding initial data", err)
	}
	if data.Me == nil {
		return nil, apierr.AuthenticationFailed("portal returned no user, bearer token is likely stale")
	}

	degraded, err := CheckStatusesResponse(raw, false, nil, true)
	if err != nil {
		return nil, err
	}

	profile := &Profile{
		Name:         string(data.Me.Name),
		SupportPhone: string(data.Metadata.SupportPhone),
		Messages:     data.Messages,
		Degraded:     degraded,
	}
	for _, contract := range data.Me.Contracts {
		profile.Contracts = append(profile.Contracts, string(contract.Number))
	}
	return profile, nil
}

// FetchMessages returns the notices currently shown to the account.
func (c *Client) FetchMessages(ctx context.Context) ([]models.MessageData, error) {
	raw, err := c.PerformSingleQuery(ctx, Request{Query: query.MustQuery(query.MessagesCount)})
	if err != nil {
		return nil, err
	}
	var data models.MessagesResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apierr.QueryFailed("decoding messages", err)
	}
	return data.Messages, nil
}
