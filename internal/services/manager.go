// Package services provides service orchestration for the CLI and TUI.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/j-veylop/mosoblgaz-tui/internal/config"
	"github.com/j-veylop/mosoblgaz-tui/internal/db"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/portal"
	"github.com/j-veylop/mosoblgaz-tui/internal/services/accounts"
	"github.com/j-veylop/mosoblgaz-tui/internal/services/poller"
)

// ErrUnknownAccount is returned for a username that is not configured.
var ErrUnknownAccount = errors.New("account not found")

type (
	// AccountsChangedEvent is emitted when the accounts list changes.
	AccountsChangedEvent struct {
		ActiveAccount *models.Account
		Accounts      []models.Account
	}

	// ContractsUpdatedEvent is emitted after an account was refreshed.
	ContractsUpdatedEvent struct {
		Snapshot *poller.Snapshot
		Delta    models.Delta[string]
		Username string
	}

	// CaptchaRequiredEvent is emitted when an account needs an interactive login.
	CaptchaRequiredEvent struct {
		Captcha  *portal.Captcha
		Username string
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Error    error
		Service  string
		Username string
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent()  {}
func (ContractsUpdatedEvent) isServiceEvent() {}
func (CaptchaRequiredEvent) isServiceEvent()  {}
func (ErrorEvent) isServiceEvent()            {}

// Notifier shows a desktop notification.
type Notifier func(title, body string) error

func beeepNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// Manager orchestrates services and event routing.
type Manager struct {
	mu          sync.RWMutex
	accounts    *accounts.Service
	poller      *poller.Service
	database    *db.DB
	options     *config.Options
	notify      Notifier
	eventChan   chan ServiceEvent
	stopChan    chan struct{}
	subscribers []chan<- ServiceEvent
	// notification state, touched only by routeEvents
	inDebt         map[string]bool
	captchaPending map[string]bool
	offline        map[string]bool
	invert         bool
}

// NewManager creates a new service manager.
func NewManager(cfg *config.Config, opts *config.Options) (*Manager, error) {
	if opts == nil {
		opts = config.DefaultOptions()
	}

	m := &Manager{
		options:        opts,
		notify:         beeepNotify,
		invert:         opts.Invert(cfg.InvertInvoices),
		eventChan:      make(chan ServiceEvent, 100),
		stopChan:       make(chan struct{}),
		inDebt:         make(map[string]bool),
		captchaPending: make(map[string]bool),
		offline:        make(map[string]bool),
	}

	var err error
	m.accounts, err = accounts.New(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	if cfg.Username != "" && m.accounts.GetAccount(cfg.Username) == nil {
		account := models.Account{Username: cfg.Username, Password: cfg.Password}
		if err := m.accounts.AddAccount(account); err != nil {
			_ = m.accounts.Close()
			return nil, fmt.Errorf("failed to add account from environment: %w", err)
		}
	}

	m.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		_ = m.accounts.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	pollerConfig := poller.DefaultConfig()
	if cfg.PollInterval > 0 {
		pollerConfig.PollInterval = cfg.PollInterval
	}
	m.poller = poller.New(m.accounts, m.database, SessionFactory(cfg.RequestTimeout), pollerConfig)

	go m.routeEvents()

	return m, nil
}

// SessionFactory builds portal clients with the given request timeout.
func SessionFactory(timeout time.Duration) poller.SessionFactory {
	return func(account models.Account, tokens portal.Tokens) (poller.Session, error) {
		client, err := portal.New(account.Username, account.Password, portal.Options{
			Tokens:  tokens,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// SetNotifier replaces the desktop notifier; nil disables notifications.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = n
}

// Start begins scheduled polling.
func (m *Manager) Start(ctx context.Context) {
	m.poller.Start(ctx)
}

// routeEvents routes events from individual services to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.accounts.Events():
			m.handleAccountEvent(event)

		case event := <-m.poller.Events():
			m.handlePollerEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

// handleAccountEvent converts and broadcasts account events.
func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventAccountsLoaded, accounts.EventAccountsChanged,
		accounts.EventAccountAdded, accounts.EventAccountUpdated,
		accounts.EventAccountDeleted, accounts.EventActiveAccountChanged:

		m.broadcast(AccountsChangedEvent{
			Accounts:      m.accounts.GetAccounts(),
			ActiveAccount: m.accounts.GetActiveAccount(),
		})

	case accounts.EventError:
		m.broadcast(ErrorEvent{
			Service: "accounts",
			Error:   event.Error,
		})
	}
}

func (m *Manager) handlePollerEvent(event poller.Event) {
	switch event.Type {
	case poller.EventContractsUpdated:
		m.captchaPending[event.Username] = false
		m.offline[event.Username] = false
		m.broadcast(ContractsUpdatedEvent{
			Username: event.Username,
			Snapshot: event.Snapshot,
			Delta:    event.Delta,
		})
		if event.Snapshot != nil {
			m.checkDebt(event.Username, event.Snapshot.Contracts)
		}

	case poller.EventCaptchaRequired:
		var captcha *portal.Captcha
		if event.Snapshot != nil {
			captcha = event.Snapshot.Captcha
		}
		m.broadcast(CaptchaRequiredEvent{Username: event.Username, Captcha: captcha})
		if !m.captchaPending[event.Username] && m.options.Notifications.CaptchaRequired {
			m.sendNotification("Mosoblgaz: login required",
				fmt.Sprintf("%s needs a CAPTCHA. Run `mog login %s`.", event.Username, event.Username))
		}
		m.captchaPending[event.Username] = true

	case poller.EventOffline:
		m.broadcast(ErrorEvent{Service: "poller", Username: event.Username, Error: event.Error})
		if !m.offline[event.Username] && m.options.Notifications.Offline {
			m.sendNotification("Mosoblgaz is offline", "The portal reports a maintenance window.")
		}
		m.offline[event.Username] = true

	case poller.EventPollError:
		m.broadcast(ErrorEvent{Service: "poller", Username: event.Username, Error: event.Error})
	}
}

// checkDebt notifies once per contract when its newest invoices leave a debt.
func (m *Manager) checkDebt(username string, contracts map[string]*models.Contract) {
	for number, contract := range contracts {
		if !m.options.ShowInvoices(number) {
			continue
		}
		last, err := contract.LastInvoices()
		if err != nil {
			continue
		}

		debt := 0.0
		for _, invoice := range last {
			if state := invoice.ChargeState(m.invert); state < 0 {
				debt -= state
			}
		}

		key := username + "/" + number
		wasInDebt := m.inDebt[key]
		m.inDebt[key] = debt > 0
		if debt > 0 && !wasInDebt && m.options.Notifications.Debt {
			m.sendNotification(
				fmt.Sprintf("Debt: %s", m.options.FormatContractName(number)),
				fmt.Sprintf("Outstanding amount %.2f RUB", debt))
		}
	}
}

func (m *Manager) sendNotification(title, body string) {
	m.mu.RLock()
	notify := m.notify
	m.mu.RUnlock()

	if notify == nil {
		return
	}
	if err := notify(title, body); err != nil {
		logger.Warn("failed to send notification", "error", err)
	}
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	// Send to main event channel
	select {
	case m.eventChan <- event:
	default:
	}

	// Send to subscribers
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, waitForEvent(ch)
}

// waitForEvent returns a tea.Cmd that waits for the next event.
func waitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return waitForEvent(ch)
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (m *Manager) account(username string) (models.Account, error) {
	var acc *models.Account
	if username == "" {
		acc = m.accounts.GetActiveAccount()
	} else {
		acc = m.accounts.GetAccount(username)
	}
	if acc == nil {
		return models.Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, username)
	}
	return *acc, nil
}

// Refresh polls one account now; an empty username selects the active account.
func (m *Manager) Refresh(ctx context.Context, username string) (*poller.Snapshot, error) {
	acc, err := m.account(username)
	if err != nil {
		return nil, err
	}
	return m.poller.RefreshAccount(ctx, acc)
}

// RefreshAll polls every enabled account.
func (m *Manager) RefreshAll(ctx context.Context) {
	m.poller.RefreshAll(ctx)
}

// PushIndication submits a meter reading for an account.
func (m *Manager) PushIndication(ctx context.Context, username, contract, meter string, value float64, date time.Time, opts portal.PushOptions) (int64, error) {
	acc, err := m.account(username)
	if err != nil {
		return 0, err
	}
	return m.poller.PushIndication(ctx, acc, contract, meter, value, date, opts)
}

// SaveLogin persists the tokens of a client that completed an interactive login.
func (m *Manager) SaveLogin(client *portal.Client) error {
	tokens := client.Tokens()
	err := m.database.SaveSession(&models.Session{
		Username:        client.Username(),
		BearerToken:     tokens.Bearer,
		HiddenAuthToken: tokens.HiddenAuth,
		SiteKey:         tokens.SiteKey,
	})
	if err != nil {
		return err
	}
	if err := m.accounts.MarkUsed(client.Username()); err != nil {
		logger.Warn("failed to mark account used", "username", client.Username(), "error", err)
	}
	return nil
}

// NewClient builds a portal client for an account seeded with its saved tokens.
func (m *Manager) NewClient(username string, timeout time.Duration) (*portal.Client, error) {
	acc, err := m.account(username)
	if err != nil {
		return nil, err
	}

	var tokens portal.Tokens
	saved, err := m.database.GetSession(acc.Username)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		tokens = portal.Tokens{Bearer: saved.BearerToken, HiddenAuth: saved.HiddenAuthToken, SiteKey: saved.SiteKey}
	}
	return portal.New(acc.Username, acc.Password, portal.Options{Tokens: tokens, Timeout: timeout})
}

// Snapshot returns the latest snapshot of an account.
func (m *Manager) Snapshot(username string) *poller.Snapshot {
	return m.poller.Snapshot(username)
}

// Accounts returns the accounts service.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// Poller returns the poller service.
func (m *Manager) Poller() *poller.Service {
	return m.poller
}

// Options returns the display options.
func (m *Manager) Options() *config.Options {
	return m.options
}

// Invert reports whether invoice charge states are inverted.
func (m *Manager) Invert() bool {
	return m.invert
}

// Database returns the database instance for direct access.
func (m *Manager) Database() *db.DB {
	return m.database
}

// Close closes the manager and all its services.
func (m *Manager) Close() error {
	close(m.stopChan)

	m.mu.Lock()
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.mu.Unlock()

	var errs []error

	if err := m.accounts.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := m.poller.Close(); err != nil {
		errs = append(errs, err)
	}

	if m.database != nil {
		if err := m.database.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
