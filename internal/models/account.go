// Package models defines the portal payloads and the domain model built from them.
package models

import "time"

// Account is one portal login tracked by the application.
type Account struct {
	AddedAt  time.Time `json:"addedAt"`
	LastUsed time.Time `json:"lastUsed"`
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Alias    string    `json:"alias,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
}

// DisplayName returns the alias, falling back to the username.
func (a *Account) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Username
}

// Clone returns a copy of the account.
func (a *Account) Clone() Account {
	return *a
}

// AccountsFile is the on-disk layout of the accounts store.
type AccountsFile struct {
	Accounts      []Account `json:"accounts"`
	ActiveAccount string    `json:"activeAccount,omitempty"`
}
