// Package monitor orchestrates balance checks across all accounts: bounded
// concurrent fan-out, fast-probe-first with browser fallback, cycle
// enforcement through the state store, and cache fallback when the fast path
// is the only one allowed.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/perf"
	"github.com/use-agent/balancewatch/probe"
	"github.com/use-agent/balancewatch/webcheck"
)

// Mode selects the per-account pipeline.
type Mode int

const (
	// ModeNormal prefers the fast probe and falls back to the browser.
	ModeNormal Mode = iota
	// ModeWebOnly skips the fast path entirely.
	ModeWebOnly
)

func (m Mode) String() string {
	if m == ModeWebOnly {
		return "web_only"
	}
	return "normal"
}

// FastClient is the fast acquisition path (API probe).
type FastClient interface {
	Query(ctx context.Context, apiKey string) probe.Result
}

// SlowChecker is the slow acquisition path (browser login or hook). One call
// is one attempt; the monitor owns retries.
type SlowChecker interface {
	RunOnce(ctx context.Context, acct models.Account) webcheck.Result
}

// StateStore is the durable per-account state the monitor consults.
type StateStore interface {
	ShouldForceFull(username string) bool
	MarkCycleFulfilled(username string) error
	UpdateBalance(username, balance string, syncSuccess *bool, syncMessage string) error
	GetCachedBalance(username string) (string, bool)
}

// ProgressSink receives live per-account progress events.
type ProgressSink func(event models.ProgressEvent)

// Config tunes the orchestration.
type Config struct {
	// MaxWorkers bounds concurrent account checks. Clamped to >= 1.
	MaxWorkers int

	// RetryTimes is the number of slow-path attempts per account. Clamped
	// to >= 1.
	RetryTimes int

	// RetryDelay is the pause between slow-path attempts. Clamped to >= 1s.
	RetryDelay time.Duration

	// FallbackToWeb allows a failed fast probe to escalate to the browser.
	// When false, a failed probe falls back to the cached balance instead.
	FallbackToWeb bool
}

// Monitor runs batch balance checks.
type Monitor struct {
	fastFactory func() (FastClient, error)
	slow        SlowChecker
	state       StateStore
	perf        *perf.Monitor
	progress    ProgressSink
	cfg         Config
}

// New builds a Monitor. fastFactory is invoked once per normal-mode batch so
// a broken probe configuration surfaces as a batch-level init failure.
func New(fastFactory func() (FastClient, error), slow SlowChecker, state StateStore, perfMon *perf.Monitor, progress ProgressSink, cfg Config) *Monitor {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.RetryTimes < 1 {
		cfg.RetryTimes = 1
	}
	if cfg.RetryDelay < time.Second {
		cfg.RetryDelay = time.Second
	}
	return &Monitor{
		fastFactory: fastFactory,
		slow:        slow,
		state:       state,
		perf:        perfMon,
		progress:    progress,
		cfg:         cfg,
	}
}

// CheckAccounts runs a normal-mode batch. target narrows the batch to one
// username when non-empty.
func (m *Monitor) CheckAccounts(ctx context.Context, accounts []models.Account, target string) []models.CheckResult {
	return m.checkByMode(ctx, accounts, target, ModeNormal)
}

// CheckAccountsWebOnly runs a web-only batch: every selected account goes
// through the browser flow regardless of cycle state or API keys.
func (m *Monitor) CheckAccountsWebOnly(ctx context.Context, accounts []models.Account, target string) []models.CheckResult {
	return m.checkByMode(ctx, accounts, target, ModeWebOnly)
}

func (m *Monitor) checkByMode(ctx context.Context, accounts []models.Account, target string, mode Mode) []models.CheckResult {
	batchOp := "batch_check"
	if mode == ModeWebOnly {
		batchOp = "batch_web_login"
	}
	batchTimer := m.perf.StartOperation(batchOp, map[string]string{
		"target": target,
		"mode":   mode.String(),
	})

	started := time.Now()

	var fast FastClient
	if mode == ModeNormal {
		client, err := m.fastFactory()
		if err != nil {
			msg := fmt.Sprintf("probe client init failed: %v", err)
			batchTimer.Finish(false, msg)
			m.emit("error", "", msg)
			return []models.CheckResult{{
				Username:    models.SystemUsername,
				Success:     false,
				BalanceText: "error",
				Source:      models.SourceInit,
				Message:     msg,
			}}
		}
		fast = client
	}

	selected := accounts
	if target != "" {
		selected = nil
		for _, acct := range accounts {
			if acct.Username == target {
				selected = append(selected, acct)
			}
		}
	}

	m.emit("info", "", fmt.Sprintf("starting %s check of %d accounts", mode, len(selected)))

	sem := make(chan struct{}, m.cfg.MaxWorkers)
	resultCh := make(chan models.CheckResult, len(selected))
	var wg sync.WaitGroup
	for _, acct := range selected {
		wg.Add(1)
		go func(acct models.Account) {
			defer wg.Done()

			opName := "check_account"
			if mode == ModeWebOnly {
				opName = "web_login_account"
			}
			timer := m.perf.StartOperation(opName, map[string]string{
				"username": acct.Username,
				"mode":     mode.String(),
			})

			// A panicking check must not take the whole batch down.
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprintf("account task panicked: %v", r)
					timer.Finish(false, msg)
					resultCh <- models.CheckResult{
						Username:    models.SystemUsername,
						Success:     false,
						BalanceText: "error",
						Source:      models.SourceTask,
						Message:     msg,
					}
				}
			}()

			sem <- struct{}{}
			defer func() { <-sem }()

			result := m.checkSingle(ctx, acct, fast, mode)
			if result.Success {
				timer.Finish(true, "")
			} else {
				timer.Finish(false, result.Message)
			}
			resultCh <- result
		}(acct)
	}
	wg.Wait()
	close(resultCh)

	results := make([]models.CheckResult, 0, len(selected))
	for result := range resultCh {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Username < results[j].Username })

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	failed := len(results) - succeeded
	elapsed := time.Since(started).Seconds()
	m.emit("success", "", fmt.Sprintf("check finished: total=%d, succeeded=%d, failed=%d, elapsed=%.2fs",
		len(results), succeeded, failed, elapsed))

	if failed == 0 {
		batchTimer.Finish(true, "")
	} else {
		batchTimer.Finish(false, fmt.Sprintf("%d accounts failed this round", failed))
	}
	return results
}

func (m *Monitor) checkSingle(ctx context.Context, acct models.Account, fast FastClient, mode Mode) models.CheckResult {
	if mode == ModeWebOnly {
		return m.checkSingleWebOnly(ctx, acct)
	}

	username := acct.Username
	m.emit("info", username, "starting check")

	forced := m.state.ShouldForceFull(username)
	if forced {
		m.emit("info", username, "first check of the current cycle, web login required")
	}

	if !forced && acct.HasAPIKey() {
		m.emit("info", username, "trying fast probe...")
		apiResult := fast.Query(ctx, acct.APIKey)
		if apiResult.Success {
			return m.onFastSuccess(username, apiResult)
		}
		m.emit("warn", username, fmt.Sprintf("fast probe failed: %s", apiResult.Message))
		if !m.cfg.FallbackToWeb {
			return m.onFastFailWithoutWebFallback(username, apiResult)
		}
		m.emit("info", username, "falling back to web login...")
	}

	m.emit("info", username, "running web login check...")
	webResult := m.runSlowWithRetry(ctx, acct)

	switch {
	case webResult.Success && webResult.Balance != nil:
		balanceText := formatBalance(*webResult.Balance)
		if err := m.state.MarkCycleFulfilled(username); err != nil {
			slog.Warn("cycle marker update failed", "username", username, "error", err)
		}
		if err := m.state.UpdateBalance(username, balanceText, webResult.SyncSuccess, webResult.SyncMessage); err != nil {
			slog.Warn("balance cache update failed", "username", username, "error", err)
		}

		// A fast re-probe straight after the web login supersedes the web
		// result when it succeeds, so the reported value is the freshest.
		if acct.HasAPIKey() {
			m.emit("info", username, "web login succeeded, refreshing via fast probe...")
			postProbe := fast.Query(ctx, acct.APIKey)
			if postProbe.Success {
				m.emit("success", username, "post-login fast refresh succeeded")
				return m.onFastSuccess(username, postProbe)
			}
			m.emit("warn", username, fmt.Sprintf("post-login fast refresh failed, keeping web result: %s", postProbe.Message))
		}

		m.emit("success", username, fmt.Sprintf("web login succeeded, balance %s", balanceText))
		return models.CheckResult{
			Username:    username,
			Success:     true,
			BalanceText: balanceText,
			Source:      models.SourceWebHook,
			Message:     "web login check succeeded",
		}

	case webResult.Success:
		m.emit("warn", username, "web login succeeded but no balance was extracted")
		if forced {
			return models.CheckResult{
				Username:    username,
				Success:     false,
				BalanceText: "error",
				Source:      models.SourceWebHook,
				Message:     "first check of the cycle requires a web login with an extracted balance",
			}
		}
		if acct.HasAPIKey() {
			m.emit("info", username, "trying fast probe as a balance fallback...")
			apiResult := fast.Query(ctx, acct.APIKey)
			if apiResult.Success {
				return m.onFastSuccess(username, apiResult)
			}
		}
		return models.CheckResult{
			Username:    username,
			Success:     false,
			BalanceText: "error",
			Source:      models.SourceWebHook,
			Message:     "web login succeeded but no balance was extracted",
		}

	default:
		if forced {
			msg := fmt.Sprintf("first-of-cycle web login failed: %s", webResult.Message)
			m.emit("error", username, msg)
			return models.CheckResult{
				Username:    username,
				Success:     false,
				BalanceText: "error",
				Source:      models.SourceWebHook,
				Message:     msg,
			}
		}
		m.emit("error", username, fmt.Sprintf("web login failed: %s", webResult.Message))
		if acct.HasAPIKey() {
			m.emit("info", username, "web login unavailable, trying fast probe...")
			apiResult := fast.Query(ctx, acct.APIKey)
			if apiResult.Success {
				return m.onFastSuccess(username, apiResult)
			}
		}
		return models.CheckResult{
			Username:    username,
			Success:     false,
			BalanceText: "error",
			Source:      models.SourceWebHook,
			Message:     fmt.Sprintf("web login failed: %s", webResult.Message),
		}
	}
}

func (m *Monitor) checkSingleWebOnly(ctx context.Context, acct models.Account) models.CheckResult {
	username := acct.Username
	m.emit("info", username, "starting web-only login")

	webResult := m.runSlowWithRetry(ctx, acct)
	switch {
	case webResult.Success && webResult.Balance != nil:
		balanceText := formatBalance(*webResult.Balance)
		if err := m.state.MarkCycleFulfilled(username); err != nil {
			slog.Warn("cycle marker update failed", "username", username, "error", err)
		}
		if err := m.state.UpdateBalance(username, balanceText, webResult.SyncSuccess, webResult.SyncMessage); err != nil {
			slog.Warn("balance cache update failed", "username", username, "error", err)
		}
		m.emit("success", username, fmt.Sprintf("web-only login succeeded, balance %s", balanceText))
		message := webResult.Message
		if message == "" {
			message = "web-only login succeeded"
		}
		return models.CheckResult{
			Username:    username,
			Success:     true,
			BalanceText: balanceText,
			Source:      models.SourceWebOnly,
			Message:     message,
		}

	case webResult.Success:
		m.emit("warn", username, "web login succeeded but no balance was extracted")
		return models.CheckResult{
			Username:    username,
			Success:     false,
			BalanceText: "error",
			Source:      models.SourceWebOnly,
			Message:     "web login succeeded but no balance was extracted",
		}

	default:
		msg := fmt.Sprintf("web login failed: %s", webResult.Message)
		m.emit("error", username, msg)
		return models.CheckResult{
			Username:    username,
			Success:     false,
			BalanceText: "error",
			Source:      models.SourceWebOnly,
			Message:     msg,
		}
	}
}

// runSlowWithRetry attempts the slow path up to RetryTimes times. A success
// returns immediately; a "successful login without balance" result is not
// retried since the flow itself worked.
func (m *Monitor) runSlowWithRetry(ctx context.Context, acct models.Account) webcheck.Result {
	var last webcheck.Result
	for attempt := 1; attempt <= m.cfg.RetryTimes; attempt++ {
		last = m.slow.RunOnce(ctx, acct)
		if last.Success {
			return last
		}
		slog.Warn("web login attempt failed",
			"username", acct.Username,
			"attempt", fmt.Sprintf("%d/%d", attempt, m.cfg.RetryTimes),
			"error", last.Message)
		if attempt < m.cfg.RetryTimes {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(m.cfg.RetryDelay):
			}
		}
	}
	last.Message = fmt.Sprintf("failed after %d attempts: %s", m.cfg.RetryTimes, last.Message)
	return last
}

func (m *Monitor) onFastSuccess(username string, result probe.Result) models.CheckResult {
	balanceText := formatBalance(result.Balance)
	if err := m.state.UpdateBalance(username, balanceText, nil, ""); err != nil {
		slog.Warn("balance cache update failed", "username", username, "error", err)
	}
	m.emit("success", username, fmt.Sprintf("fast probe succeeded: %s (source=%s)", balanceText, result.Source))
	return models.CheckResult{
		Username:    username,
		Success:     true,
		BalanceText: balanceText,
		Source:      result.Source,
		Message:     result.Message,
	}
}

func (m *Monitor) onFastFailWithoutWebFallback(username string, result probe.Result) models.CheckResult {
	if cached, ok := m.state.GetCachedBalance(username); ok {
		m.emit("warn", username, fmt.Sprintf("fast probe failed, falling back to cache: %s", result.Message))
		return models.CheckResult{
			Username:    username,
			Success:     true,
			BalanceText: cached,
			Source:      models.SourceCache,
			Message:     fmt.Sprintf("probe failed, using cached balance: %s", result.Message),
		}
	}
	m.emit("error", username, fmt.Sprintf("fast probe failed: %s", result.Message))
	return models.CheckResult{
		Username:    username,
		Success:     false,
		BalanceText: "API failed",
		Source:      models.SourceAPI,
		Message:     result.Message,
	}
}

func (m *Monitor) emit(level, username, message string) {
	slog.Info("progress", "level", level, "username", username, "message", message)
	if m.progress != nil {
		m.progress(models.ProgressEvent{Level: level, Username: username, Message: message})
	}
}

func formatBalance(value float64) string {
	return fmt.Sprintf("$%.1f", value)
}
