package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/metrics"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

// PushOptions control PushMeterIndication.
type PushOptions struct {
	// IgnoreValues skips the check against the last known reading.
	IgnoreValues bool
	// Incremental treats the value as consumption since the last reading.
	Incremental bool
}

type pushResponse struct {
	Error *struct {
		Code *models.Number `json:"code"`
		Text *models.Text   `json:"text"`
	} `json:"error"`
	Success bool `json:"success"`
}

func (r pushResponse) err() *apierr.PushError {
	pushErr := &apierr.PushError{Code: apierr.DefaultPushErrorCode, Text: apierr.DefaultPushErrorText}
	if r.Error != nil {
		if r.Error.Code != nil {
			pushErr.Code = int(r.Error.Code.Int())
		}
		if r.Error.Text != nil {
			pushErr.Text = r.Error.Text.String()
		}
	}
	return pushErr
}

// PushIndication submits a meter reading for date (today in Moscow when zero).
// A rejection by the portal is returned as *apierr.PushError.
func (c *Client) PushIndication(ctx context.Context, contract, meter string, value float64, date time.Time) error {
	tokens := c.Tokens()
	if tokens.HiddenAuth == "" {
		return apierr.AuthenticationFailed("X-SYSTEM-AUTH token required")
	}
	if tokens.Bearer == "" {
		return apierr.AuthenticationFailed("bearer token required")
	}
	if date.IsZero() {
		date = time.Now().In(models.MoscowLocation())
	}

	pushURL := fmt.Sprintf("%s/api/contracts/%s/meters/%s/values", c.baseURL, url.PathEscape(contract), url.PathEscape(meter))
	req, err := newJSONRequest(ctx, http.MethodPost, pushURL, map[string]string{
		"date":  date.Format(time.DateOnly),
		"value": strconv.FormatInt(int64(value), 10),
	})
	if err != nil {
		return err
	}
	req.Header.Set("X-SYSTEM-AUTH", tokens.HiddenAuth)
	req.Header.Set("token", tokens.Bearer)

	resp, err := c.send(c.noRedirect, "push", req)
	if err != nil {
		metrics.IncPush(metrics.ResultError)
		return apierr.RequestFailed("pushing indication", err)
	}
	defer closeBody(resp)

	body, err := readBody(resp, maxErrorBody)
	if err != nil {
		metrics.IncPush(metrics.ResultError)
		return apierr.RequestFailed("reading push response", err)
	}

	var result pushResponse
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.IncPush(metrics.ResultError)
		return apierr.RequestFailed(fmt.Sprintf("decoding push response (status %d)", resp.StatusCode), err)
	}
	logger.Debug("push response", "contract", contract, "meter", meter, "success", result.Success)

	if !result.Success {
		metrics.IncPush(metrics.ResultError)
		return result.err()
	}
	metrics.IncPush(metrics.ResultSuccess)
	return nil
}

// PushMeterIndication resolves and validates a reading against the meter's
// history before submitting it. It returns the absolute reading sent.
func (c *Client) PushMeterIndication(ctx context.Context, meter *models.Meter, value float64, date time.Time, opts PushOptions) (int64, error) {
	reading := meter.ResolveIndication(value, opts.Incremental)
	if err := meter.CheckIndication(float64(reading), opts.IgnoreValues); err != nil {
		return 0, err
	}
	if err := c.PushIndication(ctx, meter.ContractNumber(), meter.ID(), float64(reading), date); err != nil {
		return 0, err
	}
	return reading, nil
}
