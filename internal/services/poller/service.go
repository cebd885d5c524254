// Package poller refreshes portal data for every enabled account on a schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/metrics"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
	"github.com/j-veylop/mosoblgaz-tui/internal/portal"
)

// Errors reported in snapshots and events.
var (
	ErrCaptchaRequired = errors.New("captcha required, run `mog login`")
	ErrBlackout        = errors.New("portal maintenance window")
	ErrRetryLater      = errors.New("account is waiting for its next retry")
	ErrUnknownContract = errors.New("contract is not tracked")
)

// Session is the part of portal.Client the poller drives.
type Session interface {
	Resume(ctx context.Context) (portal.AuthResult, error)
	FetchContracts(ctx context.Context, opts portal.FetchOptions) (map[string]*models.Contract, error)
	PushMeterIndication(ctx context.Context, meter *models.Meter, value float64, date time.Time, opts portal.PushOptions) (int64, error)
	UpdateHiddenAuthToken(ctx context.Context) (string, error)
	Tokens() portal.Tokens
	LastDelta() models.Delta[string]
	IsLoggedIn() bool
}

// SessionFactory builds a session for an account seeded with persisted tokens.
type SessionFactory func(account models.Account, tokens portal.Tokens) (Session, error)

// AccountProvider lists the accounts to poll.
type AccountProvider interface {
	EnabledAccounts() []models.Account
}

// Store persists sessions and run history.
type Store interface {
	GetSession(username string) (*models.Session, error)
	SaveSession(session *models.Session) error
	DeleteSession(username string) error
	InsertPollRun(run *models.PollRun) error
	InsertIndicationPush(push *models.IndicationPush) error
}

// Event represents a poller event.
type Event struct {
	Error    error
	Snapshot *Snapshot
	Delta    models.Delta[string]
	Username string
	RunID    string
	Type     EventType
}

// EventType defines the type of poller event.
type EventType int

const (
	// EventPollStarted is emitted before an account is refreshed.
	EventPollStarted EventType = iota
	// EventContractsUpdated is emitted after contracts were fetched.
	EventContractsUpdated
	// EventCaptchaRequired is emitted when the portal asks for a CAPTCHA.
	EventCaptchaRequired
	// EventOffline is emitted when the portal reports a maintenance status.
	EventOffline
	// EventPollError is emitted for any other failure.
	EventPollError
	// EventSkipped is emitted when a run is skipped (blackout or pending retry).
	EventSkipped
)

// Config holds configuration for the poller.
type Config struct {
	Now              func() time.Time
	PollInterval     time.Duration
	RetryBase        time.Duration
	DelayInterval    time.Duration
	BreakerTimeout   time.Duration
	MaxConcurrent    int
	FailureThreshold uint32
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Now:              time.Now,
		PollInterval:     time.Hour,
		RetryBase:        time.Minute,
		DelayInterval:    15 * time.Minute,
		BreakerTimeout:   10 * time.Minute,
		MaxConcurrent:    3,
		FailureThreshold: 3,
	}
}

// Snapshot is the latest known state of one account.
type Snapshot struct {
	UpdatedAt time.Time
	Error     error
	Contracts map[string]*models.Contract
	Captcha   *portal.Captcha
	Username  string
	Action    apierr.Action
}

type accountState struct {
	retryAt  time.Time
	session  Session
	breaker  *gobreaker.CircuitBreaker[pollResult]
	snapshot *Snapshot
	// mu serializes runs of one account.
	mu       sync.Mutex
	failures int
}

type pollResult struct {
	contracts map[string]*models.Contract
	captcha   *portal.Captcha
	delta     models.Delta[string]
}

// Service polls accounts and keeps their latest snapshots.
type Service struct {
	provider   AccountProvider
	store      Store
	factory    SessionFactory
	states     map[string]*accountState
	eventChan  chan Event
	stopChan   chan struct{}
	refreshSem chan struct{}
	config     Config
	mu         sync.RWMutex
	stopOnce   sync.Once
}

// New creates a poller. Call Start to begin scheduled polling.
func New(provider AccountProvider, store Store, factory SessionFactory, config Config) *Service {
	defaults := DefaultConfig()
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBase <= 0 {
		config.RetryBase = defaults.RetryBase
	}
	if config.DelayInterval <= 0 {
		config.DelayInterval = defaults.DelayInterval
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaults.BreakerTimeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}

	return &Service{
		provider:   provider,
		store:      store,
		factory:    factory,
		states:     make(map[string]*accountState),
		eventChan:  make(chan Event, 100),
		stopChan:   make(chan struct{}),
		refreshSem: make(chan struct{}, config.MaxConcurrent),
		config:     config,
	}
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Start runs the polling loop until Close or ctx is done.
func (s *Service) Start(ctx context.Context) {
	go s.pollLoop(ctx)
}

func (s *Service) pollLoop(ctx context.Context) {
	// Initial refresh
	s.RefreshAll(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RefreshAll(ctx)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// RefreshAll refreshes every enabled account, skipping those waiting for a retry.
func (s *Service) RefreshAll(ctx context.Context) {
	if s.provider == nil {
		return
	}

	var wg sync.WaitGroup
	for _, acc := range s.provider.EnabledAccounts() {
		wg.Add(1)
		go func(acc models.Account) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case s.refreshSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.refreshSem }()

			if _, err := s.refresh(ctx, acc, false); err != nil && !errors.Is(err, ErrRetryLater) && !errors.Is(err, ErrBlackout) {
				logger.Error("failed to refresh account", "username", acc.Username, "error", err)
			}
		}(acc)
	}
	wg.Wait()
}

// RefreshAccount refreshes one account now, ignoring any pending retry delay.
func (s *Service) RefreshAccount(ctx context.Context, account models.Account) (*Snapshot, error) {
	return s.refresh(ctx, account, true)
}

func (s *Service) state(username string) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[username]
	if !ok {
		st = &accountState{}
		st.breaker = gobreaker.NewCircuitBreaker[pollResult](gobreaker.Settings{
			Name:    "poll:" + username,
			Timeout: s.config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.config.FailureThreshold
			},
			// Only transport-like failures count against the portal.
			IsSuccessful: func(err error) bool {
				return apierr.ActionFor(err) != apierr.ActionBackoff
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("poll breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
		s.states[username] = st
	}
	return st
}

// session returns the cached session of an account, building one from persisted tokens.
func (s *Service) session(st *accountState, account models.Account) (Session, error) {
	if st.session != nil {
		return st.session, nil
	}

	var tokens portal.Tokens
	if s.store != nil {
		saved, err := s.store.GetSession(account.Username)
		if err != nil {
			logger.Warn("failed to load saved session", "username", account.Username, "error", err)
		} else if saved != nil {
			tokens = portal.Tokens{Bearer: saved.BearerToken, HiddenAuth: saved.HiddenAuthToken, SiteKey: saved.SiteKey}
		}
	}

	session, err := s.factory(account, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	st.session = session
	return session, nil
}

func (s *Service) poll(ctx context.Context, session Session) (pollResult, error) {
	auth, err := session.Resume(ctx)
	if err != nil {
		return pollResult{}, err
	}
	if auth.State == portal.NeedsCaptcha {
		return pollResult{captcha: auth.Captcha}, nil
	}

	contracts, err := session.FetchContracts(ctx, portal.FetchOptions{WithData: true, RaiseForStatuses: true})
	if err != nil {
		return pollResult{}, err
	}
	return pollResult{contracts: contracts, delta: session.LastDelta()}, nil
}

func (s *Service) refresh(ctx context.Context, account models.Account, force bool) (*Snapshot, error) {
	username := account.Username
	st := s.state(username)
	st.mu.Lock()
	defer st.mu.Unlock()

	runID := uuid.NewString()
	started := s.config.Now()

	if models.InBlackout(started) {
		s.recordRun(runID, username, started, models.PollSkipped, 0, ErrBlackout)
		s.sendEvent(Event{Type: EventSkipped, Username: username, RunID: runID, Error: ErrBlackout})
		return st.snapshot, ErrBlackout
	}
	if !force && started.Before(st.retryAt) {
		s.sendEvent(Event{Type: EventSkipped, Username: username, RunID: runID, Error: ErrRetryLater})
		return st.snapshot, ErrRetryLater
	}

	s.sendEvent(Event{Type: EventPollStarted, Username: username, RunID: runID})

	session, err := s.session(st, account)
	var result pollResult
	if err == nil {
		result, err = st.breaker.Execute(func() (pollResult, error) {
			return s.poll(ctx, session)
		})
	}
	duration := s.config.Now().Sub(started)

	snapshot := &Snapshot{Username: username, UpdatedAt: s.config.Now()}
	if st.snapshot != nil {
		snapshot.Contracts = st.snapshot.Contracts
	}

	var outcome models.PollOutcome
	switch {
	case err != nil:
		snapshot.Error = err
		snapshot.Action = s.actionFor(err)
		outcome = s.handleFailure(st, username, snapshot.Action, started)
	case result.captcha != nil:
		snapshot.Captcha = result.captcha
		snapshot.Error = ErrCaptchaRequired
		snapshot.Action = apierr.ActionReauth
		outcome = models.PollNeedsCaptcha
		st.session = nil
	default:
		snapshot.Contracts = maps.Clone(result.contracts)
		outcome = models.PollSuccess
		st.failures = 0
		st.retryAt = time.Time{}
		s.saveSession(username, session.Tokens())
		metrics.SetContracts(username, len(result.contracts))
	}
	st.snapshot = snapshot

	metrics.ObservePoll(string(outcome), duration)
	s.recordRun(runID, username, started, outcome, len(snapshot.Contracts), snapshot.Error)

	event := Event{Username: username, RunID: runID, Snapshot: snapshot, Error: snapshot.Error}
	switch outcome {
	case models.PollSuccess:
		event.Type = EventContractsUpdated
		event.Delta = result.delta
	case models.PollNeedsCaptcha:
		event.Type = EventCaptchaRequired
	case models.PollOffline:
		event.Type = EventOffline
	default:
		event.Type = EventPollError
	}
	s.sendEvent(event)

	return snapshot, snapshot.Error
}

func (s *Service) actionFor(err error) apierr.Action {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apierr.ActionBackoff
	}
	return apierr.ActionFor(err)
}

// handleFailure schedules the next attempt according to the failure's action.
func (s *Service) handleFailure(st *accountState, username string, action apierr.Action, now time.Time) models.PollOutcome {
	switch action {
	case apierr.ActionReauth:
		// Tokens are invalid: start from a clean session next time.
		st.session = nil
		if s.store != nil {
			if err := s.store.DeleteSession(username); err != nil {
				logger.Error("failed to delete session", "username", username, "error", err)
			}
		}
		return models.PollFailed
	case apierr.ActionDelay:
		st.retryAt = now.Add(s.config.DelayInterval)
		return models.PollOffline
	case apierr.ActionBackoff:
		st.failures++
		st.retryAt = now.Add(apierr.Backoff(s.config.RetryBase, s.config.PollInterval, st.failures))
		return models.PollFailed
	default:
		return models.PollFailed
	}
}

func (s *Service) saveSession(username string, tokens portal.Tokens) {
	if s.store == nil {
		return
	}
	err := s.store.SaveSession(&models.Session{
		Username:        username,
		BearerToken:     tokens.Bearer,
		HiddenAuthToken: tokens.HiddenAuth,
		SiteKey:         tokens.SiteKey,
	})
	if err != nil {
		logger.Error("failed to save session", "username", username, "error", err)
	}
}

func (s *Service) recordRun(id, username string, started time.Time, outcome models.PollOutcome, contracts int, runErr error) {
	if s.store == nil {
		return
	}
	run := &models.PollRun{
		ID:         id,
		Username:   username,
		StartedAt:  started,
		DurationMs: s.config.Now().Sub(started).Milliseconds(),
		Outcome:    outcome,
		Contracts:  contracts,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.store.InsertPollRun(run); err != nil {
		logger.Error("failed to record poll run", "username", username, "error", err)
	}
}

// Snapshot returns the latest snapshot of username, or nil before the first run.
func (s *Service) Snapshot(username string) *Snapshot {
	s.mu.RLock()
	st, ok := s.states[username]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot
}

// Snapshots returns the latest snapshot of every polled account.
func (s *Service) Snapshots() map[string]*Snapshot {
	s.mu.RLock()
	states := maps.Clone(s.states)
	s.mu.RUnlock()

	result := make(map[string]*Snapshot, len(states))
	for username, st := range states {
		st.mu.Lock()
		if st.snapshot != nil {
			result[username] = st.snapshot
		}
		st.mu.Unlock()
	}
	return result
}

// PushIndication submits a reading through the account's session and records the attempt.
func (s *Service) PushIndication(ctx context.Context, account models.Account, contract, meter string, value float64, date time.Time, opts portal.PushOptions) (int64, error) {
	st := s.state(account.Username)
	st.mu.Lock()
	defer st.mu.Unlock()

	session, err := s.session(st, account)
	if err != nil {
		return 0, err
	}
	if !session.IsLoggedIn() {
		auth, err := session.Resume(ctx)
		if err != nil {
			return 0, err
		}
		if auth.State == portal.NeedsCaptcha {
			return 0, ErrCaptchaRequired
		}
	}
	if session.Tokens().HiddenAuth == "" {
		if _, err := session.UpdateHiddenAuthToken(ctx); err != nil {
			return 0, fmt.Errorf("failed to refresh X-SYSTEM-AUTH token: %w", err)
		}
	}

	contracts, err := session.FetchContracts(ctx, portal.FetchOptions{WithData: true})
	if err != nil {
		return 0, err
	}
	c, ok := contracts[contract]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	m, err := c.Meter(meter)
	if err != nil {
		return 0, err
	}

	if date.IsZero() {
		date = s.config.Now().In(models.MoscowLocation())
	}
	reading, pushErr := session.PushMeterIndication(ctx, m, value, date, opts)

	record := &models.IndicationPush{
		Username:  account.Username,
		Contract:  contract,
		Meter:     meter,
		Value:     reading,
		PushedFor: date,
		Success:   pushErr == nil,
	}
	if pushErr != nil {
		record.Value = m.ResolveIndication(value, opts.Incremental)
		record.Error = pushErr.Error()
		var rejected *apierr.PushError
		if errors.As(pushErr, &rejected) {
			record.ErrorCode = rejected.Code
		}
	}
	if s.store != nil {
		if err := s.store.InsertIndicationPush(record); err != nil {
			logger.Error("failed to record indication push", "username", account.Username, "error", err)
		}
	}

	if pushErr == nil {
		s.saveSession(account.Username, session.Tokens())
	}
	return reading, pushErr
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the polling loop.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}
