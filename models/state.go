package models

// BalanceRecord is the persisted last-known balance for one account.
// Mutated only by the state store.
type BalanceRecord struct {
	Balance           string `json:"balance"`
	UpdatedAt         string `json:"updated_at"`
	APIKeySyncSuccess *bool  `json:"apikey_sync_success,omitempty"`
	APIKeySyncMessage string `json:"apikey_sync_message"`
}

// BalanceCacheFile is the on-disk shape of balance_cache.json.
type BalanceCacheFile struct {
	Version   int                      `json:"version"`
	UpdatedAt string                   `json:"updated_at"`
	Accounts  map[string]BalanceRecord `json:"accounts"`
}

// CycleStateFile is the on-disk shape of daily_web_login_state.json.
// Accounts maps account id to the "YYYY-MM-DD" cycle day of the last
// successful forced full acquisition.
type CycleStateFile struct {
	Version   int               `json:"version"`
	UpdatedAt string            `json:"updated_at"`
	Accounts  map[string]string `json:"accounts"`
}
