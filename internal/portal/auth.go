package portal

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/metrics"
)

var (
	csrfPattern        = regexp.MustCompile(`csrf_token"\s+value="([^"]+)`)
	hiddenTokenPattern = regexp.MustCompile(`['"]X-SYSTEM-AUTH-TOKEN['"]\s*:\s*['"]([^'"]+)['"]`)
)

// AuthState is the outcome of a login step.
type AuthState int

const (
	// NeedsCaptcha means the portal issued a challenge that must be answered.
	NeedsCaptcha AuthState = iota
	// Authenticated means a bearer token is held.
	Authenticated
)

func (s AuthState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "needs_captcha"
}

// AuthResult is returned by Login and ContinueLogin.
type AuthResult struct {
	Captcha     *Captcha
	BearerToken string
	State       AuthState
}

func authFailed(reason string, err error) error {
	if isTimeout(err) {
		reason = "timeout " + reason
	}
	return apierr.Wrap(apierr.KindAuthenticationFailed, reason, err)
}

// FetchCSRFToken loads the login page, caching the CAPTCHA site key when the
// page embeds it, and returns the CSRF token.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	logger.Debug("fetching CSRF token", "username", c.username)

	req, err := newRequest(ctx, http.MethodGet, c.baseURL+"/auth/login", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.send(c.http, "login_page", req)
	if err != nil {
		return "", authFailed("fetching CSRF token", err)
	}
	defer closeBody(resp)

	body, err := readBody(resp, maxBody)
	if err != nil {
		return "", authFailed("reading login page", err)
	}

	if m := c.siteKeyRe.FindSubmatch(body); m != nil {
		siteKey := string(m[1])
		c.mu.Lock()
		c.tokens.SiteKey = siteKey
		c.mu.Unlock()
		logger.Debug("found CAPTCHA site key", "site_key", logger.Mask(siteKey))
	} else {
		logger.Debug("no CAPTCHA site key on login page")
	}

	m := csrfPattern.FindSubmatch(body)
	if m == nil {
		return "", apierr.AuthenticationFailed("no CSRF token found")
	}
	return string(m[1]), nil
}

// FetchHiddenAuthToken scrapes the X-SYSTEM-AUTH token from the portal's JS bundle.
func (c *Client) FetchHiddenAuthToken(ctx context.Context) (string, error) {
	req, err := newRequest(ctx, http.MethodGet, c.baseURL+"/lkk3/asset-manifest.json", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.send(c.noRedirect, "asset_manifest", req)
	if err != nil {
		return "", authFailed("fetching asset manifest", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return "", apierr.AuthenticationFailed(fmt.Sprintf("asset manifest could not be fetched (status %d)", resp.StatusCode))
	}
	body, err := readBody(resp, maxBody)
	if err != nil {
		return "", authFailed("reading asset manifest", err)
	}

	var manifest struct {
		Files map[string]any `json:"files"`
	}
	if err := json.Unmarshal(body, &manifest); err != nil {
		return "", authFailed("decoding asset manifest", err)
	}
	location, ok := manifest.Files["main.js"].(string)
	if !ok || location == "" {
		return "", apierr.AuthenticationFailed("asset manifest does not contain main.js")
	}

	script, err := c.fetchScript(ctx, location)
	if err != nil {
		return "", err
	}

	m := hiddenTokenPattern.FindSubmatch(script)
	if m == nil {
		return "", apierr.AuthenticationFailed("no X-SYSTEM-AUTH token found")
	}
	token := string(m[1])
	logger.Debug("fetched X-SYSTEM-AUTH token", "token", logger.Mask(token))
	return token, nil
}

func (c *Client) fetchScript(ctx context.Context, location string) ([]byte, error) {
	req, err := newRequest(ctx, http.MethodGet, c.baseURL+location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(c.noRedirect, "main_js", req)
	if err != nil {
		return nil, authFailed("fetching main JS bundle", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.AuthenticationFailed(fmt.Sprintf("main JS code could not be fetched (status %d)", resp.StatusCode))
	}
	script, err := readBody(resp, maxScriptBody)
	if err != nil {
		return nil, authFailed("reading main JS bundle", err)
	}
	return script, nil
}

// UpdateHiddenAuthToken refreshes the stored X-SYSTEM-AUTH token.
func (c *Client) UpdateHiddenAuthToken(ctx context.Context) (string, error) {
	token, err := c.FetchHiddenAuthToken(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.tokens.HiddenAuth = token
	c.mu.Unlock()
	return token, nil
}

type loginResponse struct {
	Errors  json.RawMessage `json:"errors"`
	Success bool            `json:"success"`
}

// reason flattens the portal's {field: message} error map.
func (r loginResponse) reason() string {
	var fields map[string]any
	if err := json.Unmarshal(r.Errors, &fields); err != nil || len(fields) == 0 {
		return "unknown error occurred"
	}
	parts := make([]string, 0, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, fmt.Sprintf("%s: %v", key, fields[key]))
	}
	return strings.Join(parts, "; ")
}

// Authenticate logs in with a temporary token (or solved CAPTCHA token) and
// stores the bearer token read from the portal.
func (c *Client) Authenticate(ctx context.Context, temporaryToken, captchaAnswer string) (string, error) {
	var csrfToken, hiddenToken string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		csrfToken, err = c.FetchCSRFToken(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		hiddenToken, err = c.FetchHiddenAuthToken(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.IncAuth("failed")
		return "", err
	}

	c.mu.Lock()
	c.tokens.HiddenAuth = hiddenToken
	c.mu.Unlock()

	if err := c.postLogin(ctx, csrfToken, temporaryToken, captchaAnswer); err != nil {
		metrics.IncAuth("failed")
		return "", err
	}

	bearer, err := c.fetchBearerToken(ctx)
	if err != nil {
		metrics.IncAuth("failed")
		return "", err
	}

	c.mu.Lock()
	c.tokens.Bearer = bearer
	c.captcha = nil
	c.mu.Unlock()

	metrics.IncAuth("success")
	logger.Info("authenticated", "username", c.username, "token", logger.Mask(bearer))
	return bearer, nil
}

func (c *Client) postLogin(ctx context.Context, csrfToken, temporaryToken, captchaAnswer string) error {
	form := url.Values{}
	form.Set("mog_login[username]", c.username)
	form.Set("mog_login[password]", c.password)
	form.Set("mog_login[captcha]", captchaAnswer)
	form.Set("mog-captcha-response", temporaryToken)
	form.Set("_csrf_token", csrfToken)
	form.Set("_remember_me", "on")

	req, err := newRequest(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.send(c.http, "login", req)
	if err != nil {
		return authFailed("executing authentication request", err)
	}
	defer closeBody(resp)

	body, err := readBody(resp, maxErrorBody)
	if err != nil {
		return authFailed("reading authentication response", err)
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return apierr.AuthenticationFailed("server did not return a valid response")
	}
	if !result.Success {
		return apierr.AuthenticationFailed(result.reason())
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
	default:
		logger.Debug("unexpected authentication status", "status", resp.StatusCode, "body", snippet(body))
		return apierr.AuthenticationFailed(fmt.Sprintf("error status (%d)", resp.StatusCode))
	}

	logger.Debug("credentials accepted", "username", c.username)
	return nil
}

func (c *Client) fetchBearerToken(ctx context.Context) (string, error) {
	req, err := newRequest(ctx, http.MethodHead, c.baseURL+"/lkk3/", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.send(c.http, "bearer", req)
	if err != nil {
		return "", authFailed("fetching bearer token", err)
	}
	defer closeBody(resp)

	token := resp.Header.Get("Token")
	if token == "" {
		logger.Debug("no bearer token in response", "status", resp.StatusCode)
		return "", apierr.AuthenticationFailed("failed to grab bearer token")
	}
	return token, nil
}

// Login starts the login state machine. When the portal demands a CAPTCHA the
// result carries the challenge and ContinueLogin must be called with its answer.
func (c *Client) Login(ctx context.Context) (AuthResult, error) {
	temporary, err := c.FetchTemporaryToken(ctx, DefaultAction)
	if err != nil {
		return AuthResult{}, err
	}
	if temporary.NeedsCaptcha() {
		metrics.IncAuth("captcha")
		return AuthResult{State: NeedsCaptcha, Captcha: temporary.Captcha}, nil
	}

	bearer, err := c.Authenticate(ctx, temporary.Token, "")
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{State: Authenticated, BearerToken: bearer}, nil
}

// ContinueLogin answers the pending CAPTCHA and completes authentication.
func (c *Client) ContinueLogin(ctx context.Context, answer string) (AuthResult, error) {
	token, err := c.SolveCaptcha(ctx, answer, nil)
	if err != nil {
		return AuthResult{}, err
	}

	bearer, err := c.Authenticate(ctx, token, answer)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{State: Authenticated, BearerToken: bearer}, nil
}

// Resume restores a session: a held bearer token is checked with a contract
// listing and dropped when rejected, then a fresh login is started if needed.
func (c *Client) Resume(ctx context.Context) (AuthResult, error) {
	if bearer := c.bearer(); bearer != "" {
		_, err := c.FetchContracts(ctx, FetchOptions{RaiseForStatuses: false})
		switch {
		case err == nil:
			return AuthResult{State: Authenticated, BearerToken: bearer}, nil
		case errors.Is(err, apierr.ErrAuthenticationFailed):
			logger.Info("bearer token may be obsolete, ignoring", "username", c.username)
			c.ClearBearerToken()
		default:
			return AuthResult{}, err
		}
	}
	return c.Login(ctx)
}
