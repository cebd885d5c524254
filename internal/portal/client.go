// Package portal implements a session against the Mosoblgaz consumer portal:
// login with CSRF and CAPTCHA handling, batched GraphQL queries, contract
// reconciliation and meter indication pushes.
package portal

import (
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

const (
	// DefaultBaseURL is the portal root.
	DefaultBaseURL = "https://lkk.mosoblgaz.ru"
	// DefaultCaptchaURL is the CAPTCHA service root.
	DefaultCaptchaURL = "https://captcha.mosoblgaz.ru"
	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 30 * time.Second
	// DefaultAction is the CAPTCHA action used for logins.
	DefaultAction = "login"

	defaultRequestsPerSecond = 5
	defaultBurst             = 5
)

// Tokens are the credentials worth persisting between runs.
type Tokens struct {
	Bearer     string
	HiddenAuth string
	SiteKey    string
}

// Options configure a Client. Zero values select the defaults.
type Options struct {
	HTTPClient *http.Client
	Tokens     Tokens
	BaseURL    string
	CaptchaURL string
	Timeout    time.Duration
	RateLimit  rate.Limit
	Burst      int
}

// Client is one authenticated portal session. It is safe for concurrent use,
// and the contracts it hands out may be read while a fetch refreshes them.
type Client struct {
	http       *http.Client
	noRedirect *http.Client
	limiter    *rate.Limiter
	siteKeyRe  *regexp.Regexp
	captcha    *Captcha
	contracts  map[string]*models.Contract
	baseURL    string
	captchaURL string
	username   string
	password   string
	tokens     Tokens
	lastDelta  models.Delta[string]
	mu         sync.RWMutex
	fetchMu    sync.Mutex
}

// New creates a client for one portal login.
func New(username, password string, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.CaptchaURL == "" {
		opts.CaptchaURL = DefaultCaptchaURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = defaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	httpClient := &http.Client{}
	if opts.HTTPClient != nil {
		clone := *opts.HTTPClient
		httpClient = &clone
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = opts.Timeout
	}

	noRedirect := *httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		http:       httpClient,
		noRedirect: &noRedirect,
		limiter:    rate.NewLimiter(opts.RateLimit, opts.Burst),
		siteKeyRe:  regexp.MustCompile(regexp.QuoteMeta(opts.CaptchaURL+"/api.js?site-key=") + `([a-f0-9]+)`),
		contracts:  make(map[string]*models.Contract),
		baseURL:    opts.BaseURL,
		captchaURL: opts.CaptchaURL,
		username:   username,
		password:   password,
		tokens:     opts.Tokens,
	}, nil
}

// Username returns the portal login.
func (c *Client) Username() string { return c.username }

// Tokens returns a snapshot of the session tokens.
func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// IsLoggedIn reports whether a bearer token is held.
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.Bearer != ""
}

// ClearBearerToken drops a stale bearer token.
func (c *Client) ClearBearerToken() {
	c.mu.Lock()
	c.tokens.Bearer = ""
	c.mu.Unlock()
}

// LastCaptcha returns the pending CAPTCHA challenge, if any.
func (c *Client) LastCaptcha() *Captcha {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.captcha == nil {
		return nil
	}
	challenge := *c.captcha
	return &challenge
}

// Contracts returns the tracked contracts by number.
func (c *Client) Contracts() map[string]*models.Contract {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return maps.Clone(c.contracts)
}

// Contract looks up one tracked contract.
func (c *Client) Contract(number string) (*models.Contract, bool) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	contract, ok := c.contracts[number]
	return contract, ok
}

// LastDelta returns the contract-level changes of the latest FetchContracts.
func (c *Client) LastDelta() models.Delta[string] {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return c.lastDelta
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.Bearer
}

func (c *Client) siteKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.SiteKey
}
