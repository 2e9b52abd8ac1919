package models

// Source tags identify which path of the fallback chain produced a result.
// The fast probe additionally uses dynamic tags of the form "header:<path>",
// "body:<path>" and "billing:subscription+usage".
const (
	SourceInit    = "init"     // strategy construction failed before any account ran
	SourceTask    = "task"     // pipeline goroutine died unexpectedly
	SourceAPI     = "api"      // fast probe, no more specific sub-path tag
	SourceCache   = "cache"    // last persisted balance served after a probe failure
	SourceWebHook = "web_hook" // browser login flow (Normal mode)
	SourceWebOnly = "web_only" // browser login flow (WebOnly mode)
)

// SystemUsername marks synthetic results that do not belong to one account.
const SystemUsername = "SYSTEM"

// CheckResult is the per-account outcome of one batch run.
type CheckResult struct {
	Username    string `json:"username"`
	Success     bool   `json:"success"`
	BalanceText string `json:"balance_text"`
	Source      string `json:"source"`
	Message     string `json:"message"`
}

// ProgressEvent is the fire-and-forget payload pushed to progress sinks while
// a batch runs. Username is empty for batch-level events.
type ProgressEvent struct {
	Level    string `json:"level"` // "info" / "warn" / "error" / "success"
	Username string `json:"username"`
	Message  string `json:"message"`
}
