// Package ledger accumulates per-provider spend into a rolling monthly state
// with an append-only archive of completed months. Rollover is detected
// lazily, on the first write after a month boundary; nothing runs on a timer.
package ledger

import (
	"context"
	"time"
)

// MonthState is the mutable current-month document: a month identifier and
// the USD accumulated per provider within it.
type MonthState struct {
	Month     string             `json:"month"`
	Providers map[string]float64 `json:"providers"`
}

// Snapshot is a frozen, completed month. Entries are written once at rollover
// and never mutated.
type Snapshot struct {
	Providers map[string]float64 `json:"providers"`
	TotalUSD  float64            `json:"total_usd"`
}

// Summary is the read view of the current month; TotalUSD is computed on
// read, never stored.
type Summary struct {
	Month     string
	Providers map[string]float64
	TotalUSD  float64
}

type Store interface {
	// RecordUsage adds costUSD to providerID's total for the month containing
	// at, rolling the state over first if at has crossed a month boundary.
	// The update is durable before RecordUsage returns.
	RecordUsage(ctx context.Context, providerID string, costUSD float64, at time.Time) error
	CurrentMonth(ctx context.Context) (Summary, error)
	History(ctx context.Context) (map[string]Snapshot, error)
}

// MonthID formats the calendar month containing t. Months are identified in
// UTC so rollover does not depend on host timezone.
func MonthID(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type archiveEntry struct {
	Month    string
	Snapshot Snapshot
}

// advance is the rollover state machine, kept pure so it can be tested
// without storage. Given the loaded state and the write timestamp it returns
// the state the write should apply to, plus the archive entry to persist when
// a nonzero-spend month just closed. Zero-spend months are dropped, and if
// several months elapsed between writes only the loaded (last active) month
// is archived.
func advance(state MonthState, at time.Time) (MonthState, *archiveEntry) {
	month := MonthID(at)
	if state.Month == month {
		return state, nil
	}

	var entry *archiveEntry
	if state.Month != "" {
		total := 0.0
		for _, usd := range state.Providers {
			total += usd
		}
		if total > 0 {
			entry = &archiveEntry{
				Month:    state.Month,
				Snapshot: Snapshot{Providers: state.Providers, TotalUSD: total},
			}
		}
	}

	return MonthState{Month: month, Providers: make(map[string]float64)}, entry
}
