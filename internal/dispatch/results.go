// ABOUTME: Concurrent map from correlation ID to the most recently received result.
// ABOUTME: Written by inbound session loops, read by bounded polling in Await.

package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drover-hq/drover/internal/protocol"
)

// ErrTimeout indicates no result arrived within the bounded poll.
var ErrTimeout = errors.New("timed out waiting for result")

// Await defaults used by the script orchestrator; roughly a 30s bound.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxAttempts  = 60
)

// ResultStore holds command results keyed by correlation ID. A duplicate
// reply from an agent overwrites, never appends, so a correlation ID maps to
// at most one result. Results are never removed by readers; late results
// stay available for any other reader for the life of the process.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]protocol.Result
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]protocol.Result),
	}
}

// Put records the result for a correlation ID, overwriting any previous one.
func (rs *ResultStore) Put(correlationID string, result protocol.Result) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.results[correlationID] = result
}

// Get returns the result for a correlation ID, if one has arrived.
func (rs *ResultStore) Get(correlationID string) (protocol.Result, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.results[correlationID]
	return r, ok
}

// Await polls for a result at the given interval, for up to maxAttempts
// tries. It returns the result on first hit and ErrTimeout after exactly
// maxAttempts misses, never earlier. The result is left in the store for
// any late reader. Context cancellation aborts the wait early with the
// context's error.
func (rs *ResultStore) Await(ctx context.Context, correlationID string, interval time.Duration, maxAttempts int) (protocol.Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if r, ok := rs.Get(correlationID); ok {
			return r, nil
		}
	}
	return nil, ErrTimeout
}
