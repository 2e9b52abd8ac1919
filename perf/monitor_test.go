package perf

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStatsAggregation(t *testing.T) {
	m := NewMonitor(10, nil)

	m.StartOperation("check", nil).Finish(true, "")
	m.StartOperation("check", nil).Finish(false, "boom")
	m.StartOperation("other", nil).Finish(true, "")

	stats := m.Stats("check")
	stat, ok := stats["check"]
	if !ok {
		t.Fatal("missing check stat")
	}
	if stat.Count != 2 || stat.SuccessCount != 1 || stat.FailCount != 1 {
		t.Errorf("stat = %+v, want count 2, success 1, fail 1", stat)
	}
	if stat.MinDuration < 0 || stat.MaxDuration < stat.MinDuration {
		t.Errorf("duration bounds inconsistent: %+v", stat)
	}
	if len(m.Stats("")) != 2 {
		t.Errorf("want stats for 2 operations, got %d", len(m.Stats("")))
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	m := NewMonitor(10, nil)
	timer := m.StartOperation("check", nil)
	timer.Finish(true, "")
	timer.Finish(false, "should be ignored")

	stat := m.Stats("check")["check"]
	if stat.Count != 1 || stat.FailCount != 0 {
		t.Errorf("double Finish was recorded twice: %+v", stat)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewMonitor(3, nil)
	for i := 0; i < 5; i++ {
		m.StartOperation("op", nil).Finish(true, "")
	}
	if got := len(m.RecentMetrics(10, "")); got != 3 {
		t.Errorf("history size = %d, want 3", got)
	}
}

func TestRecentMetricsFilter(t *testing.T) {
	m := NewMonitor(10, nil)
	m.StartOperation("a", nil).Finish(true, "")
	m.StartOperation("b", nil).Finish(true, "")
	m.StartOperation("a", nil).Finish(false, "x")

	got := m.RecentMetrics(10, "a")
	if len(got) != 2 {
		t.Fatalf("filtered count = %d, want 2", len(got))
	}
	if got[1].Success {
		t.Error("expected the latest metric of operation a to be the failed one")
	}
}

func TestGenerateReportListsOperations(t *testing.T) {
	m := NewMonitor(10, nil)
	m.StartOperation("batch_check", map[string]string{"mode": "normal"}).Finish(true, "")

	report := m.GenerateReport()
	if !strings.Contains(report, "batch_check") {
		t.Errorf("report missing operation name:\n%s", report)
	}
	if !strings.Contains(report, "success rate: 100.0%") {
		t.Errorf("report missing success rate:\n%s", report)
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer rec.Close()

	m := NewMonitor(10, rec)
	m.StartOperation("check", map[string]string{"username": "alice"}).Finish(true, "")

	var count int
	if err := rec.db.QueryRow(`SELECT COUNT(*) FROM operation_metrics`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("persisted %d metrics, want 1", count)
	}

	pruned, err := rec.PruneBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d rows, want 1", pruned)
	}
}
