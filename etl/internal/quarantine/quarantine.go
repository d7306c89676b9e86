// Package quarantine stores payloads that failed validation so they can be
// inspected by hand. Quarantined payloads are never retried.
package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/storage"
)

// Record is the quarantine artifact: the raw response and why it was rejected.
type Record struct {
	Errors   []string        `json:"errors"`
	Response json.RawMessage `json:"response"`
}

// Store is the subset of the storage gateway the queue writes through.
type Store interface {
	Put(ctx context.Context, key string, p storage.Payload) error
}

// Queue writes rejected payloads to the failed/ namespace.
type Queue struct {
	store   Store
	logger  *slog.Logger
	written atomic.Uint64
}

// NewQueue creates a quarantine queue on top of store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger}
}

// Key returns the quarantine key for a run.
func Key(runID string) string {
	return fmt.Sprintf("failed/%s_response.json", runID)
}

// Write stores response and errs under the run's quarantine key and returns
// the key. A response that is not valid JSON is stored as a JSON string.
func (q *Queue) Write(ctx context.Context, runID string, response []byte, errs []string) (string, error) {
	if q == nil {
		return "", nil
	}

	raw := json.RawMessage(response)
	if !json.Valid(response) {
		quoted, err := json.Marshal(string(response))
		if err != nil {
			return "", fmt.Errorf("encode response: %w", err)
		}
		raw = quoted
	}
	if errs == nil {
		errs = []string{}
	}

	key := Key(runID)
	if err := q.store.Put(ctx, key, storage.JSON(Record{Errors: errs, Response: raw})); err != nil {
		q.logger.Error("Failed to write quarantine record", logging.Key(key), logging.Error(err))
		return "", fmt.Errorf("write quarantine record: %w", err)
	}

	q.written.Add(1)
	q.logger.Warn("Quarantined rejected payload", logging.Key(key), logging.Count(len(errs)))
	return key, nil
}

// Written returns how many records this queue has stored.
func (q *Queue) Written() uint64 {
	if q == nil {
		return 0
	}
	return q.written.Load()
}
