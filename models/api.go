package models

// PoolStats is a snapshot of the worker pool's state.
type PoolStats struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	Busy          int     `json:"busy"`
	Idle          int     `json:"idle"`
	TotalCreated  uint64  `json:"total_created"`
	TotalReused   uint64  `json:"total_reused"`
	TotalRequests uint64  `json:"total_requests"`
	ReuseRatePct  float64 `json:"reuse_rate_pct"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Uptime  string    `json:"uptime"`
	Pool    PoolStats `json:"pool"`
	Version string    `json:"version"`
}

// CheckResponse is the body of POST /api/v1/check and /api/v1/weblogin.
type CheckResponse struct {
	Success        bool          `json:"success"`
	Mode           string        `json:"mode"`
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Results        []CheckResult `json:"results"`
}

// CachedBalance is one row of the cached-results view, built from the state
// store without touching the upstream service.
type CachedBalance struct {
	Username          string `json:"username"`
	Balance           string `json:"balance"`
	UpdatedAt         string `json:"updated_at"`
	APIKeySyncSuccess *bool  `json:"apikey_sync_success,omitempty"`
	APIKeySyncMessage string `json:"apikey_sync_message,omitempty"`
}

// CachedResultsResponse is the body of GET /api/v1/results.
type CachedResultsResponse struct {
	Results      []CachedBalance `json:"results"`
	TotalBalance float64         `json:"total_balance"`
	Counted      int             `json:"counted"`
}

// ActionResponse is the generic body for account mutations.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the generic error body returned by the API layer.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// AccountSummary is the credential list view; passwords and keys never leave
// the process.
type AccountSummary struct {
	Username  string `json:"username"`
	HasAPIKey bool   `json:"has_api_key"`
}

// AccountsResponse is the body of GET /api/v1/accounts.
type AccountsResponse struct {
	Accounts []AccountSummary `json:"accounts"`
	Total    int              `json:"total"`
}
