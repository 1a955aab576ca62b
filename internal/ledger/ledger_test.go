package ledger

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func TestAdvance_SameMonthNoop(t *testing.T) {
	state := MonthState{Month: "2026-03", Providers: map[string]float64{"openai": 1.5}}

	next, archive := advance(state, date(2026, time.March, 28))
	if archive != nil {
		t.Errorf("expected no archive within the same month, got %+v", archive)
	}
	if next.Month != "2026-03" || next.Providers["openai"] != 1.5 {
		t.Errorf("state mutated on same-month write: %+v", next)
	}
}

func TestAdvance_RolloverArchivesExactTotals(t *testing.T) {
	state := MonthState{Month: "2026-03", Providers: map[string]float64{"openai": 1.5, "claude": 2.25}}

	next, archive := advance(state, date(2026, time.April, 1))
	if archive == nil {
		t.Fatal("expected archive entry on rollover")
	}
	if archive.Month != "2026-03" {
		t.Errorf("archive month = %s, want 2026-03", archive.Month)
	}
	if math.Abs(archive.Snapshot.TotalUSD-3.75) > 1e-9 {
		t.Errorf("archive total = %v, want 3.75", archive.Snapshot.TotalUSD)
	}
	if archive.Snapshot.Providers["openai"] != 1.5 || archive.Snapshot.Providers["claude"] != 2.25 {
		t.Errorf("archive providers = %+v", archive.Snapshot.Providers)
	}
	if next.Month != "2026-04" || len(next.Providers) != 0 {
		t.Errorf("fresh state = %+v, want empty 2026-04", next)
	}
}

func TestAdvance_ZeroSpendMonthDropped(t *testing.T) {
	state := MonthState{Month: "2026-03", Providers: map[string]float64{}}

	next, archive := advance(state, date(2026, time.April, 1))
	if archive != nil {
		t.Errorf("zero-spend month must not be archived, got %+v", archive)
	}
	if next.Month != "2026-04" {
		t.Errorf("state month = %s, want 2026-04", next.Month)
	}
}

func TestAdvance_MultiMonthSkipCollapses(t *testing.T) {
	state := MonthState{Month: "2026-01", Providers: map[string]float64{"gemini": 0.5}}

	// No writes during February or March; only January gets archived.
	_, archive := advance(state, date(2026, time.April, 10))
	if archive == nil || archive.Month != "2026-01" {
		t.Fatalf("expected only January archived, got %+v", archive)
	}
}

func TestAdvance_EmptyInitialState(t *testing.T) {
	next, archive := advance(MonthState{Providers: map[string]float64{}}, date(2026, time.May, 3))
	if archive != nil {
		t.Errorf("first-ever write must not archive, got %+v", archive)
	}
	if next.Month != "2026-05" {
		t.Errorf("state month = %s, want 2026-05", next.Month)
	}
}

func TestFileStore_RecordUsageIsAdditive(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()
	at := date(2026, time.March, 10)

	if err := store.RecordUsage(ctx, "openai", 0.25, at); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if err := store.RecordUsage(ctx, "openai", 0.50, at); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	summary, err := store.CurrentMonth(ctx)
	if err != nil {
		t.Fatalf("CurrentMonth failed: %v", err)
	}
	if math.Abs(summary.Providers["openai"]-0.75) > 1e-9 {
		t.Errorf("accumulated cost = %v, want 0.75", summary.Providers["openai"])
	}
	if math.Abs(summary.TotalUSD-0.75) > 1e-9 {
		t.Errorf("total = %v, want 0.75", summary.TotalUSD)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	at := date(2026, time.March, 10)

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.RecordUsage(ctx, "claude", 1.25, at); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore (reopen) failed: %v", err)
	}
	summary, err := reopened.CurrentMonth(ctx)
	if err != nil {
		t.Fatalf("CurrentMonth failed: %v", err)
	}
	if summary.Month != "2026-03" {
		t.Errorf("month = %s, want 2026-03", summary.Month)
	}
	if math.Abs(summary.Providers["claude"]-1.25) > 1e-9 {
		t.Errorf("cost = %v, want 1.25", summary.Providers["claude"])
	}
}

func TestFileStore_Rollover(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.RecordUsage(ctx, "openai", 0.40, date(2026, time.March, 20)); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if err := store.RecordUsage(ctx, "gemini", 0.10, date(2026, time.March, 25)); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	// First write after the boundary triggers the rollover.
	if err := store.RecordUsage(ctx, "claude", 2.00, date(2026, time.April, 2)); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	history, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	snap, ok := history["2026-03"]
	if !ok {
		t.Fatal("expected 2026-03 in history after rollover")
	}
	if math.Abs(snap.TotalUSD-0.50) > 1e-9 {
		t.Errorf("archived total = %v, want 0.50", snap.TotalUSD)
	}
	if math.Abs(snap.Providers["openai"]-0.40) > 1e-9 || math.Abs(snap.Providers["gemini"]-0.10) > 1e-9 {
		t.Errorf("archived providers = %+v", snap.Providers)
	}

	summary, err := store.CurrentMonth(ctx)
	if err != nil {
		t.Fatalf("CurrentMonth failed: %v", err)
	}
	if summary.Month != "2026-04" {
		t.Errorf("current month = %s, want 2026-04", summary.Month)
	}
	if len(summary.Providers) != 1 || math.Abs(summary.Providers["claude"]-2.00) > 1e-9 {
		t.Errorf("current providers = %+v, want only claude=2.00", summary.Providers)
	}
}

func TestFileStore_ZeroSpendMonthNeverArchived(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	// A zero-cost write stamps the month but leaves total at zero.
	if err := store.RecordUsage(ctx, "ollama", 0, date(2026, time.March, 5)); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if err := store.RecordUsage(ctx, "openai", 0.30, date(2026, time.April, 5)); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	history, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if _, ok := history["2026-03"]; ok {
		t.Error("zero-spend month 2026-03 must not appear in history")
	}
}

func TestFileStore_ConcurrentWritesNoLostUpdate(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()
	at := date(2026, time.March, 15)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			if err := store.RecordUsage(ctx, "openai", 0.01, at); err != nil {
				t.Errorf("RecordUsage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	summary, err := store.CurrentMonth(ctx)
	if err != nil {
		t.Fatalf("CurrentMonth failed: %v", err)
	}
	want := 0.01 * writers
	if math.Abs(summary.Providers["openai"]-want) > 1e-9 {
		t.Errorf("accumulated cost = %v, want %v (lost update)", summary.Providers["openai"], want)
	}
}

func TestMonthID_UTC(t *testing.T) {
	// 23:30 on Jan 31 in UTC-5 is already February in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, time.January, 31, 23, 30, 0, 0, loc)
	if got := MonthID(at); got != "2026-02" {
		t.Errorf("MonthID = %s, want 2026-02", got)
	}
}
