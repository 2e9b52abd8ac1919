package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/perf"
	"github.com/use-agent/balancewatch/probe"
	"github.com/use-agent/balancewatch/webcheck"
)

type fakeFast struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, apiKey string) probe.Result
}

func (f *fakeFast) Query(_ context.Context, apiKey string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fn(f.calls, apiKey)
}

func (f *fakeFast) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSlow struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, acct models.Account) webcheck.Result
}

func (f *fakeSlow) RunOnce(_ context.Context, acct models.Account) webcheck.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fn(f.calls, acct)
}

func (f *fakeSlow) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeState struct {
	mu       sync.Mutex
	forced   map[string]bool
	marked   map[string]bool
	balances map[string]string
	cached   map[string]string
}

func newFakeState() *fakeState {
	return &fakeState{
		forced:   make(map[string]bool),
		marked:   make(map[string]bool),
		balances: make(map[string]string),
		cached:   make(map[string]string),
	}
}

func (s *fakeState) ShouldForceFull(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced[username]
}

func (s *fakeState) MarkCycleFulfilled(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[username] = true
	s.forced[username] = false
	return nil
}

func (s *fakeState) UpdateBalance(username, balance string, _ *bool, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[username] = balance
	return nil
}

func (s *fakeState) GetCachedBalance(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cached[username]
	return v, ok
}

func fastOK(balance float64, source string) probe.Result {
	return probe.Result{Success: true, Balance: balance, Source: source, Message: "probe ok"}
}

func fastFail(msg string) probe.Result {
	return probe.Result{Success: false, Message: msg}
}

func slowOK(balance float64) webcheck.Result {
	return webcheck.Result{Success: true, Balance: &balance, Message: "web ok"}
}

func newTestMonitor(fast *fakeFast, slow *fakeSlow, state *fakeState, cfg Config) *Monitor {
	factory := func() (FastClient, error) { return fast, nil }
	return New(factory, slow, state, perf.NewMonitor(100, nil), nil, cfg)
}

func one(t *testing.T, results []models.CheckResult) models.CheckResult {
	t.Helper()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(results), results)
	}
	return results[0]
}

func TestFastPathSuccess(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastOK(42.5, "billing:subscription+usage") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { t.Error("slow path must not run"); return webcheck.Result{} }}
	state := newFakeState()
	state.marked["alice"] = true // already fulfilled this cycle

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", Password: "p", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.BalanceText != "$42.5" {
		t.Errorf("result = %+v, want success with $42.5", result)
	}
	if result.Source != "billing:subscription+usage" {
		t.Errorf("source = %q, want the probe's source tag", result.Source)
	}
	if state.balances["alice"] != "$42.5" {
		t.Errorf("cache = %q, want $42.5 persisted", state.balances["alice"])
	}
}

func TestFastFailureFallsBackToCache(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastFail("gateway down") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { t.Error("slow path must not run"); return webcheck.Result{} }}
	state := newFakeState()
	state.cached["alice"] = "$10.0"

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: false})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.BalanceText != "$10.0" || result.Source != models.SourceCache {
		t.Errorf("result = %+v, want cached success", result)
	}
}

func TestFastFailureWithoutCacheFails(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastFail("gateway down") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return webcheck.Result{} }}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: false})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if result.Success || result.Source != models.SourceAPI || result.BalanceText != "API failed" {
		t.Errorf("result = %+v, want hard API failure", result)
	}
	if slow.callCount() != 0 {
		t.Error("slow path ran despite FallbackToWeb=false")
	}
}

func TestFastFailureEscalatesToWeb(t *testing.T) {
	fast := &fakeFast{fn: func(call int, _ string) probe.Result {
		return fastFail("still down") // both the first probe and the post-login refresh fail
	}}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return slowOK(7.0) }}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.BalanceText != "$7.0" || result.Source != models.SourceWebHook {
		t.Errorf("result = %+v, want web success with $7.0", result)
	}
	if !state.marked["alice"] {
		t.Error("cycle marker not set after web success")
	}
	if state.balances["alice"] != "$7.0" {
		t.Errorf("cache = %q, want $7.0", state.balances["alice"])
	}
}

func TestForcedCycleSupersededByPostLoginProbe(t *testing.T) {
	fast := &fakeFast{fn: func(call int, _ string) probe.Result {
		return fastOK(8.0, "header:/api/user/balance")
	}}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return slowOK(7.0) }}
	state := newFakeState()
	state.forced["alice"] = true

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	// Forced cycle must go through the browser first, then the fast
	// refresh supersedes the web value.
	if slow.callCount() != 1 {
		t.Errorf("slow path ran %d times, want 1", slow.callCount())
	}
	if fast.callCount() != 1 {
		t.Errorf("fast probe ran %d times, want only the post-login refresh", fast.callCount())
	}
	if !result.Success || result.BalanceText != "$8.0" || result.Source != "header:/api/user/balance" {
		t.Errorf("result = %+v, want superseding probe value", result)
	}
	if !state.marked["alice"] {
		t.Error("cycle marker not set")
	}
	if state.balances["alice"] != "$8.0" {
		t.Errorf("cache = %q, want the superseding $8.0", state.balances["alice"])
	}
}

func TestForcedWebFailureIsHard(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result {
		t.Error("fast probe must not run on a forced failure")
		return fastOK(1, "x")
	}}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result {
		return webcheck.Result{Success: false, Message: "login rejected"}
	}}
	state := newFakeState()
	state.forced["alice"] = true

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, RetryTimes: 1, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if result.Success || result.Source != models.SourceWebHook {
		t.Errorf("result = %+v, want hard web failure", result)
	}
	if !strings.Contains(result.Message, "first-of-cycle") {
		t.Errorf("message = %q, want the forced-cycle wording", result.Message)
	}
}

func TestWebSuccessWithoutBalanceFallsBackToProbe(t *testing.T) {
	fast := &fakeFast{fn: func(call int, _ string) probe.Result {
		if call == 1 {
			return fastFail("down") // initial probe
		}
		return fastOK(5.5, "body:/api/user/self") // balance fallback
	}}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result {
		return webcheck.Result{Success: true, Message: "hook without balance"}
	}}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.BalanceText != "$5.5" {
		t.Errorf("result = %+v, want probe fallback success", result)
	}
	if state.marked["alice"] {
		t.Error("cycle must not be marked without an extracted web balance")
	}
}

func TestForcedWebSuccessWithoutBalanceFails(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastOK(5.5, "x") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result {
		return webcheck.Result{Success: true, Message: "no balance rendered"}
	}}
	state := newFakeState()
	state.forced["alice"] = true

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if result.Success {
		t.Errorf("result = %+v, want failure on forced cycle without balance", result)
	}
	if fast.callCount() != 0 {
		t.Error("fast probe must not rescue a forced cycle")
	}
}

func TestSlowPathRetries(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastFail("down") }}
	slow := &fakeSlow{fn: func(call int, _ models.Account) webcheck.Result {
		if call == 1 {
			return webcheck.Result{Success: false, Message: "flaky"}
		}
		return slowOK(3.0)
	}}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 1, RetryTimes: 2, RetryDelay: time.Second, FallbackToWeb: true})
	result := one(t, m.CheckAccounts(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.BalanceText != "$3.0" {
		t.Errorf("result = %+v, want success on the second attempt", result)
	}
	if slow.callCount() != 2 {
		t.Errorf("slow attempts = %d, want 2", slow.callCount())
	}
}

func TestWebOnlyMode(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result {
		t.Error("fast probe must not run in web-only mode")
		return fastOK(1, "x")
	}}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return slowOK(9.0) }}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 2, FallbackToWeb: true})
	result := one(t, m.CheckAccountsWebOnly(context.Background(), []models.Account{
		{Username: "alice", APIKey: "sk-1"},
	}, ""))

	if !result.Success || result.Source != models.SourceWebOnly || result.BalanceText != "$9.0" {
		t.Errorf("result = %+v, want web_only success", result)
	}
	if !state.marked["alice"] {
		t.Error("web-only success must mark the cycle")
	}
}

func TestTargetFilterAndSorting(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastOK(1.0, "s") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return slowOK(1.0) }}
	state := newFakeState()

	accounts := []models.Account{
		{Username: "charlie", APIKey: "k"},
		{Username: "alice", APIKey: "k"},
		{Username: "bob", APIKey: "k"},
	}

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 3, FallbackToWeb: true})

	all := m.CheckAccounts(context.Background(), accounts, "")
	if len(all) != 3 {
		t.Fatalf("got %d results, want 3", len(all))
	}
	for i, want := range []string{"alice", "bob", "charlie"} {
		if all[i].Username != want {
			t.Errorf("result %d = %s, want %s (sorted)", i, all[i].Username, want)
		}
	}

	only := m.CheckAccounts(context.Background(), accounts, "bob")
	if len(only) != 1 || only[0].Username != "bob" {
		t.Errorf("targeted batch = %+v, want only bob", only)
	}
}

func TestProbeInitFailureYieldsSystemResult(t *testing.T) {
	factory := func() (FastClient, error) { return nil, errors.New("bad base url") }
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return webcheck.Result{} }}
	m := New(factory, slow, newFakeState(), perf.NewMonitor(10, nil), nil, Config{MaxWorkers: 1})

	result := one(t, m.CheckAccounts(context.Background(), []models.Account{{Username: "alice"}}, ""))
	if result.Username != models.SystemUsername || result.Source != models.SourceInit {
		t.Errorf("result = %+v, want a SYSTEM init failure", result)
	}
}

func TestPanickingTaskYieldsSyntheticResult(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastOK(1, "x") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { panic("boom") }}
	state := newFakeState()

	m := newTestMonitor(fast, slow, state, Config{MaxWorkers: 1})
	result := one(t, m.CheckAccountsWebOnly(context.Background(), []models.Account{{Username: "alice"}}, ""))

	if result.Username != models.SystemUsername || result.Source != models.SourceTask {
		t.Errorf("result = %+v, want a SYSTEM task result", result)
	}
	if !strings.Contains(result.Message, "boom") {
		t.Errorf("message = %q, want the panic value in it", result.Message)
	}
}

func TestProgressEventsEmitted(t *testing.T) {
	fast := &fakeFast{fn: func(int, string) probe.Result { return fastOK(2.0, "s") }}
	slow := &fakeSlow{fn: func(int, models.Account) webcheck.Result { return slowOK(2.0) }}
	state := newFakeState()

	var mu sync.Mutex
	var events []models.ProgressEvent
	sink := func(e models.ProgressEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	factory := func() (FastClient, error) { return fast, nil }
	m := New(factory, slow, state, perf.NewMonitor(10, nil), sink, Config{MaxWorkers: 1, FallbackToWeb: true})
	m.CheckAccounts(context.Background(), []models.Account{{Username: "alice", APIKey: "k"}}, "")

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 3 {
		t.Fatalf("got %d progress events, want at least start, per-account, and summary", len(events))
	}
	last := events[len(events)-1]
	if last.Level != "success" || !strings.Contains(last.Message, "check finished") {
		t.Errorf("last event = %+v, want the batch summary", last)
	}
}
