// Package probe implements the fast balance acquisition path: direct HTTPS
// calls against the upstream gateway with the account's API key, no browser
// involved. The transport carries a Chrome TLS fingerprint (see transport.go)
// because the gateway fronts API routes with the same anti-bot stack as its
// web console.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Result is the outcome of one fast probe. Balance is only meaningful when
// Success is true. Source records which route yielded the value.
type Result struct {
	Success bool
	Balance float64
	Source  string
	Message string
}

func ok(balance float64, source, message string) Result {
	return Result{Success: true, Balance: balance, Source: source, Message: message}
}

func fail(message string) Result {
	return Result{Success: false, Message: message}
}

// Client queries account balances over the gateway's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient builds a probe client for baseURL. The timeout bounds every
// individual request; it is clamped to at least one second.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout < time.Second {
		timeout = time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: newChromeTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		now: time.Now,
	}
}

// Query resolves the account balance for apiKey. It first computes the
// balance from the billing subscription and usage routes; if that fails it
// walks a list of compatibility routes, accepting the first response that
// carries a recognisable balance in its headers or body. Query never returns
// an error: failures are reported through the Result.
func (c *Client) Query(ctx context.Context, apiKey string) Result {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return fail("missing API key")
	}

	if balance, err := c.queryBillingRoutes(ctx, key); err == nil {
		return ok(balance, "billing:subscription+usage", "balance derived from billing routes")
	} else {
		slog.Debug("billing routes failed, trying compatibility routes", "error", err)
	}

	lastError := "no usable balance route"
	for _, path := range c.candidatePaths() {
		resp, err := c.get(ctx, path, key)
		if err != nil {
			lastError = fmt.Sprintf("request failed (%s): %v", path, err)
			slog.Debug(lastError)
			continue
		}

		if resp.StatusCode >= 400 {
			drain(resp)
			lastError = fmt.Sprintf("HTTP %d (%s)", resp.StatusCode, path)
			slog.Debug(lastError)
			continue
		}

		if v, found := balanceFromHeaders(resp.Header); found {
			drain(resp)
			return ok(v, "header:"+path, "balance read from response headers")
		}

		body, err := readBody(resp)
		if err != nil {
			lastError = fmt.Sprintf("read body failed (%s): %v", path, err)
			slog.Debug(lastError)
			continue
		}
		if v, found := balanceFromBody(body); found {
			return ok(v, "body:"+path, "balance read from response body")
		}

		lastError = fmt.Sprintf("no parsable balance field (%s)", path)
	}

	return fail(lastError)
}

// queryBillingRoutes fetches the subscription limit and month-to-date usage
// concurrently and returns limit minus usage, floored at zero. Usage more
// than twice the limit is assumed to be reported in cents.
func (c *Client) queryBillingRoutes(ctx context.Context, key string) (float64, error) {
	type fetched struct {
		body   string
		status int
		err    error
	}

	fetch := func(path string, out chan<- fetched) {
		resp, err := c.get(ctx, path, key)
		if err != nil {
			out <- fetched{err: err}
			return
		}
		body, err := readBody(resp)
		out <- fetched{body: body, status: resp.StatusCode, err: err}
	}

	subCh := make(chan fetched, 1)
	usageCh := make(chan fetched, 1)
	go fetch("/v1/dashboard/billing/subscription", subCh)
	go fetch(c.usagePath(), usageCh)
	sub, usage := <-subCh, <-usageCh

	if sub.err != nil {
		return 0, fmt.Errorf("subscription route: %w", sub.err)
	}
	if usage.err != nil {
		return 0, fmt.Errorf("usage route: %w", usage.err)
	}
	if sub.status >= 400 || usage.status >= 400 {
		return 0, fmt.Errorf("billing routes returned subscription=%d usage=%d", sub.status, usage.status)
	}

	hardLimit, ok := firstFloatField(sub.body, "hard_limit_usd", "soft_limit_usd")
	if !ok {
		return 0, fmt.Errorf("subscription body lacks hard_limit_usd/soft_limit_usd")
	}
	totalUsage, ok := firstFloatField(usage.body, "total_usage")
	if !ok {
		return 0, fmt.Errorf("usage body lacks total_usage")
	}

	usageUSD := totalUsage
	if hardLimit > 0 && totalUsage > hardLimit*2 {
		usageUSD = totalUsage / 100.0
	}
	remain := max0(hardLimit - usageUSD)

	slog.Debug("billing route balance computed",
		"hardLimitUSD", hardLimit,
		"totalUsageRaw", totalUsage,
		"usageUSD", usageUSD,
		"remain", remain,
	)
	return remain, nil
}

// candidatePaths lists compatibility routes in probe order.
func (c *Client) candidatePaths() []string {
	return []string{
		c.usagePath(),
		"/v1/dashboard/billing/subscription",
		"/v1/dashboard/billing/credit_grants",
		"/dashboard/billing/credit_grants",
		"/api/user/balance",
		"/api/user/self",
		"/api/user/info",
		"/api/token/self",
		"/api/token/info",
		"/v1/models",
	}
}

func (c *Client) usagePath() string {
	today := c.now()
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	return fmt.Sprintf("/v1/dashboard/billing/usage?start_date=%s&end_date=%s",
		monthStart.Format("2006-01-02"), today.Format("2006-01-02"))
}

func (c *Client) get(ctx context.Context, path, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// readBody consumes the response body with a 10 MB cap.
func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	const maxBody = 10 << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
