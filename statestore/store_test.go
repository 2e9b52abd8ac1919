package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, rolloverHour int) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), rolloverHour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCycleDayRollsAtConfiguredHour(t *testing.T) {
	cases := []struct {
		name     string
		now      time.Time
		rollover int
		want     string
	}{
		{"before rollover belongs to yesterday", time.Date(2026, 3, 10, 7, 59, 0, 0, time.UTC), 8, "2026-03-09"},
		{"at rollover starts the new cycle", time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), 8, "2026-03-10"},
		{"after rollover stays on today", time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), 8, "2026-03-10"},
		{"midnight rollover never shifts", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), 0, "2026-03-10"},
		{"first of month shifts across the boundary", time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), 8, "2026-02-28"},
		{"new year shifts across the boundary", time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC), 8, "2025-12-31"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CycleDay(tc.now, tc.rollover).Format("2006-01-02")
			if got != tc.want {
				t.Errorf("CycleDay(%s, %d) = %s, want %s", tc.now, tc.rollover, got, tc.want)
			}
		})
	}
}

func TestShouldForceFullUntilMarked(t *testing.T) {
	s := newTestStore(t, 8)
	s.now = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	if !s.ShouldForceFull("alice") {
		t.Fatal("unseen account should require a full acquisition")
	}
	if err := s.MarkCycleFulfilled("alice"); err != nil {
		t.Fatalf("MarkCycleFulfilled: %v", err)
	}
	if s.ShouldForceFull("alice") {
		t.Error("marked account should not require another full acquisition this cycle")
	}

	// Next cycle, the force flag comes back.
	s.now = fixedClock(time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC))
	if !s.ShouldForceFull("alice") {
		t.Error("new cycle day should require a full acquisition again")
	}
}

func TestBalanceRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ok := true
	if err := s.UpdateBalance("alice", "$42.5", &ok, "quota synced"); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}
	if err := s.UpdateBalance("bob", "$0.0", nil, ""); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}
	s.Close()

	reopened, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rec, found := reopened.GetCachedRecord("alice")
	if !found {
		t.Fatal("alice missing after reopen")
	}
	if rec.Balance != "$42.5" {
		t.Errorf("balance = %q, want $42.5", rec.Balance)
	}
	if rec.APIKeySyncSuccess == nil || !*rec.APIKeySyncSuccess {
		t.Error("apikey sync flag lost across reopen")
	}
	if rec.APIKeySyncMessage != "quota synced" {
		t.Errorf("sync message = %q", rec.APIKeySyncMessage)
	}
	if balance, found := reopened.GetCachedBalance("bob"); !found || balance != "$0.0" {
		t.Errorf("bob balance = %q found=%v, want $0.0", balance, found)
	}
}

func TestCrashBetweenTempWriteAndRenameKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.UpdateBalance("alice", "$10.0", nil, ""); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}
	s.Close()

	// Simulate a crash after the temp file was written but before rename.
	tmp := filepath.Join(dir, balanceCacheName+".tmp")
	if err := os.WriteFile(tmp, []byte(`{"garbage`), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	reopened, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("reopen after simulated crash: %v", err)
	}
	defer reopened.Close()
	if balance, found := reopened.GetCachedBalance("alice"); !found || balance != "$10.0" {
		t.Errorf("balance after crash = %q found=%v, want $10.0 from the intact file", balance, found)
	}
}

func TestLoadAcceptsBareStringBalances(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]interface{}{
		"version":    1,
		"updated_at": "2026-03-10T12:00:00Z",
		"accounts": map[string]interface{}{
			"legacy":  "$7.5",
			"modern":  map[string]interface{}{"balance": "$3.0", "updated_at": "2026-03-10T12:00:00Z"},
			"minimal": map[string]interface{}{"balance": "$1.0"},
			"broken":  map[string]interface{}{"updated_at": "2026-03-10T12:00:00Z"},
			"nulled":  nil,
			"number":  42,
		},
	}
	writeJSONFile(t, filepath.Join(dir, balanceCacheName), doc)

	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if balance, found := s.GetCachedBalance("legacy"); !found || balance != "$7.5" {
		t.Errorf("legacy entry = %q found=%v", balance, found)
	}
	if balance, found := s.GetCachedBalance("modern"); !found || balance != "$3.0" {
		t.Errorf("modern entry = %q found=%v", balance, found)
	}
	if _, found := s.GetCachedBalance("broken"); found {
		t.Error("entry without a balance should have been dropped")
	}
	if _, found := s.GetCachedBalance("nulled"); found {
		t.Error("null entry should have been dropped")
	}
	// Missing optional fields stay empty rather than picking up a
	// stringified placeholder.
	rec, found := s.GetCachedRecord("minimal")
	if !found || rec.Balance != "$1.0" {
		t.Fatalf("minimal entry = %+v found=%v", rec, found)
	}
	if rec.UpdatedAt != "" || rec.APIKeySyncMessage != "" || rec.APIKeySyncSuccess != nil {
		t.Errorf("minimal entry absorbed placeholder fields: %+v", rec)
	}
}

func TestLoadAcceptsBareAccountMapWithoutEnvelope(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]interface{}{
		"alice": "2026-03-10",
		"bob":   "not-a-date",
	}
	writeJSONFile(t, filepath.Join(dir, cycleStateName), doc)

	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	s.now = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	if s.ShouldForceFull("alice") {
		t.Error("alice's bare-map cycle entry was not loaded")
	}
	if !s.ShouldForceFull("bob") {
		t.Error("bob's malformed cycle entry should have been dropped")
	}
}

func TestLegacyMidnightCorrectionRewritesMatchingEntries(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]interface{}{
		"version":    1,
		"updated_at": "2026-03-10T03:00:00Z", // saved before the 8h rollover
		"accounts": map[string]interface{}{
			"alice": "2026-03-10", // matches the save date: moved back a day
			"bob":   "2026-03-09", // different day: untouched
		},
	}
	writeJSONFile(t, filepath.Join(dir, cycleStateName), doc)

	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.cycles["alice"]; got != "2026-03-09" {
		t.Errorf("alice cycle day = %s, want corrected 2026-03-09", got)
	}
	if got := s.cycles["bob"]; got != "2026-03-09" {
		t.Errorf("bob cycle day = %s, want untouched 2026-03-09", got)
	}

	// The correction is persisted, so a reopen sees the corrected values
	// under a fresh timestamp and does not correct twice.
	s.Close()
	reopened, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.cycles["alice"]; got != "2026-03-09" {
		t.Errorf("alice cycle day after reopen = %s, want 2026-03-09", got)
	}
}

func TestLegacyCorrectionSkippedWhenSavedAfterRollover(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]interface{}{
		"version":    1,
		"updated_at": "2026-03-10T09:00:00Z",
		"accounts":   map[string]interface{}{"alice": "2026-03-10"},
	}
	writeJSONFile(t, filepath.Join(dir, cycleStateName), doc)

	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if got := s.cycles["alice"]; got != "2026-03-10" {
		t.Errorf("alice cycle day = %s, want untouched 2026-03-10", got)
	}
}

func TestSecondOpenOnSameDirIsRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := Open(dir, 8); err == nil {
		t.Fatal("expected the second Open on a locked directory to fail")
	}
}

func writeJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
