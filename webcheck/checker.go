// Package webcheck implements the slow balance acquisition path: a real
// Chromium login against the upstream web console, driven through a pooled
// browser worker. One call performs exactly one attempt; retry policy lives
// with the caller.
package webcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/pool"
	"github.com/use-agent/balancewatch/probe"
)

// Result is the outcome of one browser check. A successful login can still
// yield no balance (Balance == nil) when the page never rendered one.
// SyncSuccess is nil unless a quota sync was attempted.
type Result struct {
	Success     bool
	Balance     *float64
	Message     string
	SyncSuccess *bool
	SyncMessage string
}

func failf(format string, args ...interface{}) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Config controls the browser check flow.
type Config struct {
	// ConsoleURL is the upstream web console entry point.
	ConsoleURL string

	// Timeout bounds one whole login-and-extract flow. Clamped to >= 20s.
	Timeout time.Duration

	// AcquireTimeout bounds the wait for a pooled browser worker.
	AcquireTimeout time.Duration // default: 20s

	// ExtractWait bounds the balance extraction poll loop. Clamped to >= 3s.
	ExtractWait time.Duration

	// SyncAPIKeyQuota enables the best-effort quota sync of the account's
	// first API key after a successful balance read.
	SyncAPIKeyQuota bool
}

// Checker runs browser-based balance checks against pooled workers.
type Checker struct {
	pool *pool.BrowserPool
	cfg  Config
}

// New builds a Checker. Zero or too-small durations are raised to their
// minimums.
func New(p *pool.BrowserPool, cfg Config) *Checker {
	if cfg.Timeout < 20*time.Second {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 20 * time.Second
	}
	if cfg.ExtractWait < 3*time.Second {
		cfg.ExtractWait = 3 * time.Second
	}
	return &Checker{pool: p, cfg: cfg}
}

// RunOnce leases a browser worker, performs one login-and-extract flow for
// the account, and releases the worker on every exit path. Failures are
// folded into the Result rather than returned as errors.
func (c *Checker) RunOnce(ctx context.Context, acct models.Account) Result {
	ticket, err := c.pool.AcquireWithin(ctx, c.cfg.AcquireTimeout)
	if err != nil {
		return failf("browser worker unavailable: %v", err)
	}
	defer c.pool.Release(ticket)

	browser := rod.New().ControlURL(ticket.ControlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return failf("connect to browser worker: %v", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return failf("open page: %v", err)
	}
	// Close with the original page reference so cleanup succeeds even after
	// the flow context expired.
	defer func() { _ = page.Close() }()

	// Stealth must be installed before the first navigation.
	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth",
			"username", acct.Username, "error", evalErr)
	}

	flowCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	p := page.Context(flowCtx)

	result, flowErr := c.loginFlow(p, acct)
	if flowErr != nil {
		return failureResult(flowCtx, flowErr, c.cfg.Timeout)
	}
	return result
}

// failureResult folds a flow error into a Result carrying an error-taxonomy
// code: a deadline on the flow context wins over whatever failed underneath,
// and uncoded errors are tagged as internal.
func failureResult(flowCtx context.Context, err error, timeout time.Duration) Result {
	if flowCtx.Err() == context.DeadlineExceeded {
		err = models.NewCheckError(models.ErrCodeTimeout,
			fmt.Sprintf("web flow timed out after %s", timeout), err)
	} else {
		var checkErr *models.CheckError
		if !errors.As(err, &checkErr) {
			err = models.NewCheckError(models.ErrCodeInternal, "web flow failed", err)
		}
	}
	return Result{Success: false, Message: err.Error()}
}

func (c *Checker) loginFlow(p *rod.Page, acct models.Account) (Result, error) {
	if err := p.Navigate(c.cfg.ConsoleURL); err != nil {
		return Result{}, models.NewCheckError(models.ErrCodeNavigation, "navigate to console", err)
	}
	time.Sleep(800 * time.Millisecond)

	if strings.Contains(pageURL(p), "/login") {
		time.Sleep(500 * time.Millisecond)
		evalBool(p, closePopupJS)
		c.switchToEmailLogin(p)
		if err := c.submitLogin(p, acct); err != nil {
			return Result{}, models.NewCheckError(models.ErrCodeLoginFailed, "submit login form", err)
		}
		if err := p.Navigate(c.cfg.ConsoleURL); err != nil {
			return Result{}, models.NewCheckError(models.ErrCodeNavigation, "navigate to console after login", err)
		}
		time.Sleep(800 * time.Millisecond)
	}

	loggedURL := pageURL(p)
	slog.Info("post-login URL", "username", acct.Username, "url", loggedURL)
	if !strings.Contains(loggedURL, "/console") || strings.Contains(loggedURL, "/login") {
		msg := fmt.Sprintf("login failed, current URL: %s", loggedURL)
		if errText := evalString(p, loginErrorJS); errText != "" {
			msg = fmt.Sprintf("login failed: %s (current URL: %s)", errText, loggedURL)
		}
		return Result{}, models.NewCheckError(models.ErrCodeLoginFailed, msg, nil)
	}

	balanceText, err := c.extractBalance(p)
	if err != nil {
		return Result{}, models.NewCheckError(models.ErrCodeExtraction, "balance extraction", err)
	}
	balanceNum, ok := probe.ParseFirstNumber(balanceText)
	if !ok {
		return Result{}, models.NewCheckError(models.ErrCodeExtraction,
			fmt.Sprintf("unparsable balance text: %s", balanceText), nil)
	}

	result := Result{Success: true, Balance: &balanceNum}
	if c.cfg.SyncAPIKeyQuota {
		msg, syncErr := c.syncFirstAPIKeyQuota(p, balanceNum)
		ok := syncErr == nil
		result.SyncSuccess = &ok
		if syncErr != nil {
			slog.Warn("first API key quota sync failed",
				"username", acct.Username, "error", syncErr)
			result.SyncMessage = fmt.Sprintf("quota sync failed: %v", syncErr)
		} else {
			result.SyncMessage = msg
		}
		result.Message = result.SyncMessage
	}

	return result, nil
}

func (c *Checker) switchToEmailLogin(p *rod.Page) {
	elems, err := p.Elements(`button[type="button"] span.semi-icon-mail`)
	if err != nil || len(elems) == 0 {
		return
	}
	if _, err := elems.First().Eval(`() => this.closest('button').click()`); err != nil {
		slog.Debug("email login switch click failed", "error", err)
		return
	}
	time.Sleep(1500 * time.Millisecond)
}

func (c *Checker) submitLogin(p *rod.Page, acct models.Account) error {
	username, err := p.Timeout(5 * time.Second).Element(`input[name="username"]`)
	if err != nil {
		return fmt.Errorf("username input not found: %w", err)
	}
	password, err := p.Timeout(5 * time.Second).Element(`input[name="password"]`)
	if err != nil {
		return fmt.Errorf("password input not found: %w", err)
	}

	if _, err := username.Eval(`() => this.value = ''`); err == nil {
		if err := username.Input(acct.Username); err != nil {
			return fmt.Errorf("type username: %w", err)
		}
	}
	if _, err := password.Eval(`() => this.value = ''`); err == nil {
		if err := password.Input(acct.Password); err != nil {
			return fmt.Errorf("type password: %w", err)
		}
	}

	submit, err := p.Timeout(3 * time.Second).Element(`button[type="submit"]`)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if _, err := submit.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	time.Sleep(2 * time.Second)
	return nil
}

// extractBalance waits for the skeleton screen to disappear, then polls the
// extraction script until it yields a dollar amount or the wait elapses.
func (c *Checker) extractBalance(p *rod.Page) (string, error) {
	skeletonStarted := time.Now()
	for time.Since(skeletonStarted) < 10*time.Second {
		if evalBool(p, skeletonGoneJS) {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	// Skeleton gone does not mean data rendered; give the page a beat.
	time.Sleep(time.Second)

	started := time.Now()
	for {
		if text := evalString(p, extractBalanceJS); text != "" {
			return text, nil
		}
		if time.Since(started) >= c.cfg.ExtractWait {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	// In-page extraction came up empty; sniff the raw HTML server-side.
	htmlText, htmlErr := p.HTML()
	if htmlErr == nil {
		if text, ok := balanceFromHTML(htmlText); ok {
			slog.Debug("balance recovered from raw HTML", "text", text)
			return text, nil
		}
	}

	if diag, err := p.Eval(pageDiagJS); err == nil {
		slog.Warn("balance extraction timed out",
			"url", diag.Value.Get("url").Str(),
			"title", pageTitle(htmlText),
			"pageText", diag.Value.Get("snippet").Str())
	}
	return "", fmt.Errorf("no balance text found")
}

// syncFirstAPIKeyQuota opens the token page, edits the first token, and sets
// its quota to the dollar balance converted at the detected unit rate.
func (c *Checker) syncFirstAPIKeyQuota(p *rod.Page, balance float64) (string, error) {
	if err := c.openTokenPage(p); err != nil {
		return "", err
	}
	if err := c.openFirstTokenEditor(p); err != nil {
		return "", err
	}

	rate := c.detectQuotaUnitRate(p)
	targetQuota := int64(math.Round(balance * rate))
	if targetQuota < 0 {
		targetQuota = 0
	}

	if err := c.setQuotaValue(p, targetQuota); err != nil {
		return "", err
	}
	if err := c.submitQuotaModal(p); err != nil {
		return "", err
	}
	return fmt.Sprintf("first API key quota synced: balance=$%.2f, quota=%d, rate=%.2f",
		balance, targetQuota, rate), nil
}

func (c *Checker) openTokenPage(p *rod.Page) error {
	if !evalBool(p, clickTokenMenuJS) {
		slog.Debug("token menu item not found, navigating directly")
		if err := p.Navigate(c.cfg.ConsoleURL + "/token"); err != nil {
			return fmt.Errorf("navigate to token page: %w", err)
		}
		time.Sleep(1200 * time.Millisecond)
	}

	started := time.Now()
	for time.Since(started) < 8*time.Second {
		if evalBool(p, tokenPageLoadedJS) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("token page did not finish loading")
}

func (c *Checker) openFirstTokenEditor(p *rod.Page) error {
	hasTokenRow := false
	tokenListEmpty := false
	for round := 1; round <= 2; round++ {
		started := time.Now()
		for time.Since(started) < 8*time.Second {
			res, err := p.Eval(tokenRowStateJS)
			if err != nil {
				return fmt.Errorf("inspect token list: %w", err)
			}
			if res.Value.Get("hasTokenRow").Bool() {
				hasTokenRow = true
				break
			}
			tokenListEmpty = res.Value.Get("hasEmptyState").Bool()
			time.Sleep(200 * time.Millisecond)
		}
		if hasTokenRow {
			break
		}
		if round == 1 {
			slog.Debug("no editable token row yet, reloading token page")
			if err := p.Reload(); err != nil {
				slog.Debug("token page reload failed", "error", err)
			}
			time.Sleep(1200 * time.Millisecond)
		}
	}
	if !hasTokenRow {
		if tokenListEmpty {
			return fmt.Errorf("token list is empty, nothing to sync")
		}
		return fmt.Errorf("no editable token row found")
	}

	res, err := p.Eval(clickFirstEditJS)
	if err != nil {
		return fmt.Errorf("click edit on first token row: %w", err)
	}
	if !res.Value.Get("clicked").Bool() {
		return fmt.Errorf("first row edit click missed: %s", res.Value.Get("reason").Str())
	}

	started := time.Now()
	for time.Since(started) < 2*time.Second {
		if evalBool(p, editorOpenJS) {
			return nil
		}
		time.Sleep(180 * time.Millisecond)
	}
	return fmt.Errorf("edit clicked but the editor modal never opened")
}

// detectQuotaUnitRate derives the quota-per-dollar rate from the modal's
// current quota value and its displayed dollar equivalent. Falls back to the
// fixed ratio when either is missing or the derived rate is implausible.
func (c *Checker) detectQuotaUnitRate(p *rod.Page) float64 {
	res, err := p.Eval(detectQuotaRateJS)
	if err != nil {
		return probe.QuotaUnitPerDollar
	}
	quota := res.Value.Get("quotaValue")
	amount := res.Value.Get("amountValue")
	if quota.Nil() || amount.Nil() {
		return probe.QuotaUnitPerDollar
	}
	amountVal := amount.Num()
	if math.Abs(amountVal) < 1e-9 {
		return probe.QuotaUnitPerDollar
	}
	rate := math.Abs(quota.Num() / amountVal)
	if rate < 1000.0 || rate > 10000000.0 {
		return probe.QuotaUnitPerDollar
	}
	return rate
}

func (c *Checker) setQuotaValue(p *rod.Page, quota int64) error {
	res, err := p.Eval(setQuotaValueJS, quota)
	if err != nil {
		return fmt.Errorf("write quota value: %w", err)
	}
	if !res.Value.Get("ok").Bool() {
		return fmt.Errorf("write quota value: %s", res.Value.Get("reason").Str())
	}
	return nil
}

func (c *Checker) submitQuotaModal(p *rod.Page) error {
	if !evalBool(p, submitQuotaModalJS) {
		return fmt.Errorf("submit button not found in editor modal")
	}
	started := time.Now()
	for time.Since(started) < 8*time.Second {
		if !evalBool(p, modalStillOpenJS) {
			return nil
		}
		time.Sleep(220 * time.Millisecond)
	}
	return fmt.Errorf("editor modal still open after submit")
}

// pageURL reads the current URL, swallowing errors (used for flow branching).
func pageURL(p *rod.Page) string {
	return evalString(p, `() => window.location.href`)
}

func evalString(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(res.Value.Str())
}

func evalBool(p *rod.Page, js string) bool {
	res, err := p.Eval(js)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
