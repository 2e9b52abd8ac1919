// Package statestore persists the balance cache and the per-account cycle
// marker across runs. Every logical file is rewritten in full to a temporary
// file and atomically renamed over the target, so a crash mid-write can never
// corrupt on-disk state. A single mutex spans each read-modify-persist
// sequence; it is never held across a sleep or network wait.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/ysmood/gson"

	"github.com/use-agent/balancewatch/models"
)

const (
	balanceCacheName = "balance_cache.json"
	cycleStateName   = "daily_web_login_state.json"
	lockFileName     = "balancewatch.lock"

	defaultRolloverHour = 8
)

// Store is the durable state for all accounts. Safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	balanceFile  string
	cycleFile    string
	lock         *flock.Flock
	balances     map[string]models.BalanceRecord
	cycles       map[string]string
	rolloverHour int

	now func() time.Time // injectable for tests
}

// Open loads (or initialises) the state files in dir and takes an exclusive
// lock on the directory so two processes never interleave writes.
func Open(dir string, rolloverHour int) (*Store, error) {
	if rolloverHour < 0 || rolloverHour > 23 {
		rolloverHour = defaultRolloverHour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("statestore: acquire state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("statestore: state directory %s is locked by another instance", dir)
	}

	s := &Store{
		balanceFile:  filepath.Join(dir, balanceCacheName),
		cycleFile:    filepath.Join(dir, cycleStateName),
		lock:         lock,
		balances:     make(map[string]models.BalanceRecord),
		cycles:       make(map[string]string),
		rolloverHour: rolloverHour,
		now:          time.Now,
	}

	if err := s.loadBalances(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := s.loadCycles(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the state directory lock. Idempotent.
func (s *Store) Close() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// CycleDay computes the logical cycle day for now: before the rollover hour
// the cycle day is still yesterday, so one cycle spans
// [rolloverHour today, rolloverHour tomorrow).
func CycleDay(now time.Time, rolloverHour int) time.Time {
	if now.Hour() < rolloverHour {
		now = now.AddDate(0, 0, -1)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// CurrentCycleDay returns the current cycle day as "YYYY-MM-DD".
func (s *Store) CurrentCycleDay() string {
	return CycleDay(s.now(), s.rolloverHour).Format("2006-01-02")
}

// ShouldForceFull reports whether the account still needs its once-per-cycle
// full (browser) acquisition.
func (s *Store) ShouldForceFull(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles[username] != s.CurrentCycleDay()
}

// MarkCycleFulfilled records that the account completed its full acquisition
// for the current cycle and persists the cycle file.
func (s *Store) MarkCycleFulfilled(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.CurrentCycleDay()
	s.cycles[username] = day
	if err := s.saveCyclesLocked(); err != nil {
		return err
	}
	slog.Debug("cycle marked fulfilled", "username", username, "day", day)
	return nil
}

// UpdateBalance upserts the account's balance record with the current
// timestamp and persists the balance cache. syncSuccess/syncMessage carry the
// optional API-key quota sync outcome from the browser flow.
func (s *Store) UpdateBalance(username, balance string, syncSuccess *bool, syncMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.balances[username]
	rec.Balance = balance
	rec.UpdatedAt = s.now().Format(time.RFC3339)
	rec.APIKeySyncSuccess = syncSuccess
	if syncMessage != "" {
		rec.APIKeySyncMessage = syncMessage
	}
	s.balances[username] = rec
	return s.saveBalancesLocked()
}

// GetCachedBalance returns the last persisted non-empty balance text.
func (s *Store) GetCachedBalance(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.balances[username]
	if !ok || strings.TrimSpace(rec.Balance) == "" {
		return "", false
	}
	return rec.Balance, true
}

// GetCachedRecord returns a copy of the account's full balance record.
func (s *Store) GetCachedRecord(username string) (models.BalanceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.balances[username]
	return rec, ok
}

// Balances returns a copy of the whole balance map for the cached view.
func (s *Store) Balances() map[string]models.BalanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.BalanceRecord, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// ── loading ────────────────────────────────────────────────────────────

func (s *Store) loadBalances() error {
	raw, err := os.ReadFile(s.balanceFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("statestore: read %s: %w", s.balanceFile, err)
	}

	root := gson.NewFrom(string(raw))
	for username, item := range accountsOf(root) {
		// Absent keys must stay empty: gson stringifies missing values
		// instead of erroring, so every field needs a Nil check first.
		var rec models.BalanceRecord
		if _, isObj := item.Val().(map[string]interface{}); isObj {
			rec.Balance = stringField(item, "balance")
			rec.UpdatedAt = stringField(item, "updated_at")
			if v := item.Get("apikey_sync_success"); !v.Nil() {
				b := v.Bool()
				rec.APIKeySyncSuccess = &b
			}
			rec.APIKeySyncMessage = stringField(item, "apikey_sync_message")
		} else if !item.Nil() {
			rec.Balance = strings.TrimSpace(item.Str())
		}
		if rec.Balance == "" {
			continue // malformed entry, dropped
		}
		s.balances[username] = rec
	}
	return nil
}

func (s *Store) loadCycles() error {
	raw, err := os.ReadFile(s.cycleFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("statestore: read %s: %w", s.cycleFile, err)
	}

	root := gson.NewFrom(string(raw))
	updatedAt := stringField(root, "updated_at")
	for username, item := range accountsOf(root) {
		day := strings.TrimSpace(item.Str())
		if !isValidDayText(day) {
			continue // malformed entry, dropped
		}
		s.cycles[username] = day
	}

	return s.correctLegacyMidnightEntries(updatedAt)
}

// correctLegacyMidnightEntries reinterprets cycle days recorded by older
// deployments that rolled the cycle at midnight. If the file was saved
// before the configured rollover hour, entries equal to that save's calendar
// date belong to the previous cycle and are moved back one day. Anything
// outside this exact signature is left untouched.
func (s *Store) correctLegacyMidnightEntries(updatedAt string) error {
	if updatedAt == "" {
		return nil
	}
	saved, ok := parseUpdatedTime(updatedAt)
	if !ok || saved.Hour() >= s.rolloverHour {
		return nil
	}

	oldDay := saved.Format("2006-01-02")
	newDay := saved.AddDate(0, 0, -1).Format("2006-01-02")
	corrected := 0
	for username, day := range s.cycles {
		if day == oldDay {
			s.cycles[username] = newDay
			corrected++
		}
	}
	if corrected == 0 {
		return nil
	}
	slog.Warn("corrected legacy midnight-rule cycle entries",
		"rolloverHour", s.rolloverHour,
		"corrected", corrected,
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCyclesLocked()
}

// stringField reads a string member of node, returning "" when the key is
// missing or null rather than gson's stringified placeholder.
func stringField(node gson.JSON, key string) string {
	v := node.Get(key)
	if v.Nil() {
		return ""
	}
	return strings.TrimSpace(v.Str())
}

// accountsOf returns the account map of a state document, accepting both the
// versioned {accounts: {...}} envelope and a bare {id: record} object.
func accountsOf(root gson.JSON) map[string]gson.JSON {
	if accounts := root.Get("accounts"); !accounts.Nil() {
		return accounts.Map()
	}
	return root.Map()
}

func parseUpdatedTime(text string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", text); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func isValidDayText(text string) bool {
	_, err := time.Parse("2006-01-02", text)
	return err == nil
}

// ── persistence ────────────────────────────────────────────────────────

func (s *Store) saveBalancesLocked() error {
	payload := models.BalanceCacheFile{
		Version:   1,
		UpdatedAt: s.now().Format(time.RFC3339),
		Accounts:  s.balances,
	}
	return writeFileAtomic(s.balanceFile, payload)
}

func (s *Store) saveCyclesLocked() error {
	payload := models.CycleStateFile{
		Version:   1,
		UpdatedAt: s.now().Format(time.RFC3339),
		Accounts:  s.cycles,
	}
	return writeFileAtomic(s.cycleFile, payload)
}

// writeFileAtomic serialises v and renames a fully-written temp file over
// path. The reader always sees either the old or the new version.
func writeFileAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("statestore: atomic replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
