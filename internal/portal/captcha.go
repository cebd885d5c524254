package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
)

const (
	captchaValidity = time.Hour
	maxImageBody    = 4 << 20
)

var validUntilLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Captcha is a challenge issued by the CAPTCHA service.
type Captcha struct {
	ValidUntil time.Time
	Token      string
	FileURL    string
}

// Expired reports whether the challenge can no longer be answered.
func (c *Captcha) Expired(now time.Time) bool {
	return !now.Before(c.ValidUntil)
}

// TemporaryToken is either a token usable for Authenticate or a CAPTCHA that must be solved first.
type TemporaryToken struct {
	Captcha *Captcha
	Token   string
}

// NeedsCaptcha reports whether the result is a challenge.
func (t TemporaryToken) NeedsCaptcha() bool {
	return t.Captcha != nil
}

type captchaResponse struct {
	CaptchaToken   *string `json:"captchaToken"`
	FileURL        *string `json:"fileUrl"`
	TemporaryToken *string `json:"temporaryToken"`
	ValidUntil     any     `json:"validUntil"`
	ShowCaptcha    bool    `json:"showCaptcha"`
}

func parseValidUntil(value any, now time.Time) time.Time {
	if text, ok := value.(string); ok {
		for _, layout := range validUntilLayouts {
			if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
				return t
			}
		}
	}
	logger.Warn("could not parse CAPTCHA expiry, assuming one hour", "valid_until", value)
	return now.Add(captchaValidity)
}

func (c *Client) captchaRequest(endpoint string, req *http.Request) (*captchaResponse, error) {
	if siteKey := c.siteKey(); siteKey != "" {
		req.Header.Set("Site-Key", siteKey)
	}
	resp, err := c.send(c.http, endpoint, req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	body, err := readBody(resp, maxErrorBody)
	if err != nil {
		return nil, err
	}
	var data captchaResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s response (status %d): %w", endpoint, resp.StatusCode, err)
	}
	return &data, nil
}

func (c *Client) reissueCaptcha(ctx context.Context, previous *Captcha) (*captchaResponse, error) {
	req, err := newRequest(ctx, http.MethodPut, c.captchaURL+"/api/captchas/reissue", strings.NewReader(previous.Token))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")
	return c.captchaRequest("captcha_reissue", req)
}

func (c *Client) issueCaptcha(ctx context.Context, action string) (*captchaResponse, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, c.captchaURL+"/api/captchas", map[string]string{"action": action})
	if err != nil {
		return nil, err
	}
	return c.captchaRequest("captcha_issue", req)
}

// FetchTemporaryToken asks the CAPTCHA service for a login token. A pending
// challenge is reissued first; the service may answer with a new challenge.
func (c *Client) FetchTemporaryToken(ctx context.Context, action string) (TemporaryToken, error) {
	if action == "" {
		action = DefaultAction
	}
	if c.siteKey() == "" {
		if _, err := c.FetchCSRFToken(ctx); err != nil {
			return TemporaryToken{}, err
		}
		if c.siteKey() == "" {
			return TemporaryToken{}, apierr.AuthenticationFailed("site key not found for temporary token request")
		}
	}

	logger.Debug("fetching temporary token", "action", action)

	var data *captchaResponse
	if previous := c.LastCaptcha(); previous != nil {
		reissued, err := c.reissueCaptcha(ctx, previous)
		switch {
		case err == nil:
			data = reissued
		case errors.Is(err, context.Canceled):
			return TemporaryToken{}, err
		default:
			logger.Error("CAPTCHA reissue failed, requesting a new one", "error", err)
		}
	}

	if data == nil {
		issued, err := c.issueCaptcha(ctx, action)
		if err != nil {
			if isTimeout(err) || errors.Is(err, context.Canceled) {
				return TemporaryToken{}, apierr.RequestFailed("requesting temporary token", err)
			}
			return TemporaryToken{}, authFailed("requesting temporary token", err)
		}
		data = issued
	}

	if data.ShowCaptcha {
		if data.CaptchaToken == nil || data.FileURL == nil {
			return TemporaryToken{}, apierr.AuthenticationFailed("captcha required, but response is unexpected")
		}
		challenge := &Captcha{
			Token:      *data.CaptchaToken,
			FileURL:    *data.FileURL,
			ValidUntil: parseValidUntil(data.ValidUntil, time.Now()),
		}
		c.mu.Lock()
		c.captcha = challenge
		c.mu.Unlock()

		copied := *challenge
		return TemporaryToken{Captcha: &copied}, nil
	}

	c.mu.Lock()
	c.captcha = nil
	c.mu.Unlock()

	if data.TemporaryToken == nil {
		return TemporaryToken{}, apierr.AuthenticationFailed("temporary token not found")
	}
	if *data.TemporaryToken == "" {
		return TemporaryToken{}, apierr.AuthenticationFailed("temporary token is empty")
	}
	return TemporaryToken{Token: *data.TemporaryToken}, nil
}

// SolveCaptcha submits an answer and returns the token to pass to Authenticate.
// A nil challenge means the pending one.
func (c *Client) SolveCaptcha(ctx context.Context, answer string, challenge *Captcha) (string, error) {
	if challenge == nil {
		challenge = c.LastCaptcha()
		if challenge == nil {
			return "", apierr.AuthenticationFailed("attempting to solve unknown captcha")
		}
	}
	if answer == "" {
		return "", apierr.AuthenticationFailed("captcha response cannot be empty")
	}

	req, err := newJSONRequest(ctx, http.MethodPut, c.captchaURL+"/api/captchas/"+url.PathEscape(challenge.Token), map[string]string{"inputValue": answer})
	if err != nil {
		return "", err
	}
	data, err := c.captchaRequest("captcha_solve", req)
	if err != nil {
		return "", authFailed("could not solve captcha", err)
	}

	if data.CaptchaToken == nil {
		return "", apierr.AuthenticationFailed("could not solve captcha")
	}
	if *data.CaptchaToken == "" {
		return "", apierr.AuthenticationFailed("captcha token response is empty")
	}
	return *data.CaptchaToken, nil
}

// FetchCaptchaImage downloads the challenge image. A nil challenge means the pending one.
func (c *Client) FetchCaptchaImage(ctx context.Context, challenge *Captcha) ([]byte, string, error) {
	if challenge == nil {
		challenge = c.LastCaptcha()
		if challenge == nil {
			return nil, "", apierr.AuthenticationFailed("no captcha challenge pending")
		}
	}

	imageURL := challenge.FileURL
	if strings.HasPrefix(imageURL, "/") {
		imageURL = c.captchaURL + imageURL
	}

	req, err := newRequest(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.send(c.http, "captcha_image", req)
	if err != nil {
		return nil, "", apierr.RequestFailed("fetching captcha image", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, "", apierr.RequestFailed(fmt.Sprintf("captcha image status %d", resp.StatusCode), nil)
	}
	image, err := readBody(resp, maxImageBody)
	if err != nil {
		return nil, "", apierr.RequestFailed("reading captcha image", err)
	}
	return image, resp.Header.Get("Content-Type"), nil
}
