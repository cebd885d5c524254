// Package accounts provides account management with file watching and persistence.
package accounts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

// Event represents an account service event.
type Event struct {
	Type    EventType
	Error   error
	Account *models.Account
}

// EventType defines the type of account event.
type EventType int

const (
	EventAccountsLoaded EventType = iota
	EventAccountsChanged
	EventAccountAdded
	EventAccountUpdated
	EventAccountDeleted
	EventActiveAccountChanged
	EventError
)

// Service manages portal logins with file watching and change notifications.
type Service struct {
	mu            sync.RWMutex
	accounts      []models.Account
	activeAccount string
	filePath      string
	watcher       *fsnotify.Watcher
	onChange      func()
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
}

// defaultAccountsPath returns the default accounts file path.
func defaultAccountsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "accounts.json"
	}
	return filepath.Join(home, ".config", "mosoblgaz-tui", "accounts.json")
}

// New creates a new accounts service and starts file watching.
func New(filePath string) (*Service, error) {
	if filePath == "" {
		filePath = defaultAccountsPath()
	}

	s := &Service{
		accounts:  make([]models.Account, 0),
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Load accounts from file
	if err := s.loadAccounts(); err != nil {
		// If file doesn't exist, create empty accounts file
		if os.IsNotExist(err) {
			if err := s.saveAccounts(); err != nil {
				return nil, fmt.Errorf("failed to create accounts file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
	}

	// Start file watcher
	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountsLoaded})

	return s, nil
}

// Path returns the accounts file path.
func (s *Service) Path() string {
	return s.filePath
}

// OnChange registers a callback run after the file was reloaded from disk.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// GetAccounts returns a copy of all accounts.
func (s *Service) GetAccounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	copy(accounts, s.accounts)
	return accounts
}

// EnabledAccounts returns the accounts that should be polled.
func (s *Service) EnabledAccounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if !acc.Disabled {
			accounts = append(accounts, acc)
		}
	}
	return accounts
}

func matches(acc *models.Account, idOrUsername string) bool {
	return acc.ID == idOrUsername || strings.EqualFold(acc.Username, idOrUsername)
}

// GetActiveAccount returns the currently active account.
func (s *Service) GetActiveAccount() *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if matches(&s.accounts[i], s.activeAccount) {
			acc := s.accounts[i]
			return &acc
		}
	}

	// Return first account if no active account set
	if len(s.accounts) > 0 {
		acc := s.accounts[0]
		return &acc
	}

	return nil
}

// GetActiveAccountID returns the ID of the active account.
func (s *Service) GetActiveAccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAccount
}

// SetActiveAccount sets the active account by ID or username.
func (s *Service) SetActiveAccount(idOrUsername string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.accounts {
		if matches(&s.accounts[i], idOrUsername) {
			found = true
			s.activeAccount = s.accounts[i].ID
			break
		}
	}

	if !found {
		return fmt.Errorf("account not found: %s", idOrUsername)
	}

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventActiveAccountChanged})
	return nil
}

// AddAccount adds a new account.
func (s *Service) AddAccount(account models.Account) error {
	account.Username = strings.TrimSpace(account.Username)
	if account.Username == "" {
		return fmt.Errorf("username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate
	for i := range s.accounts {
		if strings.EqualFold(s.accounts[i].Username, account.Username) {
			return fmt.Errorf("account %s already exists", account.Username)
		}
	}

	// Set defaults
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.AddedAt.IsZero() {
		account.AddedAt = time.Now()
	}

	s.accounts = append(s.accounts, account)

	// Set as active if first account
	if len(s.accounts) == 1 {
		s.activeAccount = account.ID
	}

	if err := s.saveAccountsLocked(); err != nil {
		// Rollback
		s.accounts = s.accounts[:len(s.accounts)-1]
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountAdded, Account: &account})
	return nil
}

// UpdateAccount updates an existing account matched by ID or username.
func (s *Service) UpdateAccount(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.accounts {
		acc := &s.accounts[i]
		if (account.ID != "" && acc.ID == account.ID) || strings.EqualFold(acc.Username, account.Username) {
			// Preserve ID if updating by username
			if account.ID == "" {
				account.ID = acc.ID
			}
			// Preserve AddedAt
			if account.AddedAt.IsZero() {
				account.AddedAt = acc.AddedAt
			}
			s.accounts[i] = account
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("account not found: %s", account.Username)
	}

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountUpdated, Account: &account})
	return nil
}

// DeleteAccount removes an account by ID or username.
func (s *Service) DeleteAccount(idOrUsername string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	var deleted models.Account
	for i := range s.accounts {
		if matches(&s.accounts[i], idOrUsername) {
			idx = i
			deleted = s.accounts[i]
			break
		}
	}

	if idx == -1 {
		return fmt.Errorf("account not found: %s", idOrUsername)
	}

	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)

	// Update active account if deleted
	if matches(&deleted, s.activeAccount) {
		if len(s.accounts) > 0 {
			s.activeAccount = s.accounts[0].ID
		} else {
			s.activeAccount = ""
		}
	}

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountDeleted, Account: &deleted})
	return nil
}

// GetAccount returns an account by ID or username.
func (s *Service) GetAccount(idOrUsername string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if matches(&s.accounts[i], idOrUsername) {
			acc := s.accounts[i]
			return &acc
		}
	}
	return nil
}

// MarkUsed records a successful login of username.
func (s *Service) MarkUsed(username string) error {
	acc := s.GetAccount(username)
	if acc == nil {
		return fmt.Errorf("account not found: %s", username)
	}
	acc.LastUsed = time.Now()
	return s.UpdateAccount(*acc)
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// parseAccounts parses account data handling the file layout and a bare array.
func parseAccounts(data []byte) ([]models.Account, string, error) {
	var accountsFile models.AccountsFile
	if err := json.Unmarshal(data, &accountsFile); err == nil {
		accounts := normalize(accountsFile.Accounts)
		return accounts, resolveActive(accounts, accountsFile.ActiveAccount), nil
	}

	// Bare array of accounts
	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err == nil {
		accounts = normalize(accounts)
		return accounts, resolveActive(accounts, ""), nil
	}

	return nil, "", fmt.Errorf("failed to parse accounts file: invalid format")
}

// normalize drops entries without a username and assigns missing IDs.
func normalize(accounts []models.Account) []models.Account {
	result := make([]models.Account, 0, len(accounts))
	for _, acc := range accounts {
		if strings.TrimSpace(acc.Username) == "" {
			logger.Warn("skipping account without username", "id", acc.ID)
			continue
		}
		if acc.ID == "" {
			acc.ID = uuid.NewString()
		}
		result = append(result, acc)
	}
	return result
}

func resolveActive(accounts []models.Account, active string) string {
	for i := range accounts {
		if active != "" && matches(&accounts[i], active) {
			return accounts[i].ID
		}
	}
	if len(accounts) > 0 {
		return accounts[0].ID
	}
	return ""
}

// loadAccounts loads accounts from the JSON file.
func (s *Service) loadAccounts() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	accounts, activeAccount, err := parseAccounts(data)
	if err != nil {
		return err
	}

	s.accounts = accounts
	s.activeAccount = activeAccount
	return nil
}

// saveAccounts saves accounts to the JSON file (public version).
func (s *Service) saveAccounts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccountsLocked()
}

// saveAccountsLocked saves accounts to the JSON file (must hold lock).
func (s *Service) saveAccountsLocked() error {
	accountsFile := models.AccountsFile{
		Accounts:      s.accounts,
		ActiveAccount: s.activeAccount,
	}

	data, err := json.MarshalIndent(accountsFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			// Only care about our accounts file
			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce rapid changes
				s.mu.Lock()
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, s.handleFileChange)
				s.mu.Unlock()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads accounts from file after external change.
func (s *Service) handleFileChange() {
	if err := s.loadAccountsWithLock(); err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}

	s.sendEvent(Event{Type: EventAccountsChanged})

	s.mu.RLock()
	onChange := s.onChange
	s.mu.RUnlock()

	if onChange != nil {
		onChange()
	}
}

// loadAccountsWithLock loads accounts while holding the lock.
func (s *Service) loadAccountsWithLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAccounts()
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
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

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	close(s.stopChan)

	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.mu.Unlock()

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
