// Package ledger records the outcome of every run in a queryable table.
package ledger

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a run has no ledger entry.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row.
type Run struct {
	RunID       string
	State       string
	Reason      string
	RecordCount int
	PrimaryKey  string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Ledger stores run outcomes. Record overwrites an existing entry for the same run.
type Ledger interface {
	Record(ctx context.Context, run Run) error
}

// Reader lists recorded runs, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// Memory is an in-process Ledger used by tests and runs without a database.
type Memory struct {
	mu   sync.Mutex
	runs map[string]Run
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]Run)}
}

func (m *Memory) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID] = run
	return nil
}

func (m *Memory) Get(_ context.Context, runID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// Runs returns every entry, oldest first.
func (m *Memory) Runs() []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Run, error) {
	runs := m.Runs()
	slices.Reverse(runs)
	if limit >= 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = (*Postgres)(nil)
	_ Reader = (*Memory)(nil)
	_ Reader = (*Postgres)(nil)
)
