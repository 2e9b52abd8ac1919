package models

import "strings"

// Account is one monitored credential set on the upstream service.
// Accounts are immutable for the duration of a batch run; they are loaded
// from the credentials file and passed to the orchestrator by value.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

// HasAPIKey reports whether the account carries a usable fast-path token.
func (a Account) HasAPIKey() bool {
	return strings.TrimSpace(a.APIKey) != ""
}
