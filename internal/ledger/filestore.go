package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	currentFile = "spend_current.json"
	historyFile = "spend_history.json"
)

// FileStore keeps the current month and the history in two JSON documents
// under dir. A mutex serializes the whole load-modify-save cycle so
// concurrent writes cannot lose updates, and saves go through a temp file
// plus rename so a crash never leaves a half-written document behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) RecordUsage(ctx context.Context, providerID string, costUSD float64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadCurrent()
	if err != nil {
		return err
	}

	state, archive := advance(state, at)
	if archive != nil {
		history, err := s.loadHistory()
		if err != nil {
			return err
		}
		history[archive.Month] = archive.Snapshot
		if err := s.save(historyFile, history); err != nil {
			return fmt.Errorf("archive month %s: %w", archive.Month, err)
		}
	}

	state.Providers[providerID] += costUSD
	if err := s.save(currentFile, state); err != nil {
		return fmt.Errorf("persist current month: %w", err)
	}
	return nil
}

func (s *FileStore) CurrentMonth(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadCurrent()
	if err != nil {
		return Summary{}, err
	}

	total := 0.0
	for _, usd := range state.Providers {
		total += usd
	}
	return Summary{Month: state.Month, Providers: state.Providers, TotalUSD: total}, nil
}

func (s *FileStore) History(ctx context.Context) (map[string]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadHistory()
}

func (s *FileStore) loadCurrent() (MonthState, error) {
	state := MonthState{Providers: make(map[string]float64)}
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read current month: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse current month: %w", err)
	}
	if state.Providers == nil {
		state.Providers = make(map[string]float64)
	}
	return state, nil
}

func (s *FileStore) loadHistory() (map[string]Snapshot, error) {
	history := make(map[string]Snapshot)
	data, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if errors.Is(err, os.ErrNotExist) {
		return history, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return history, nil
}

func (s *FileStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
