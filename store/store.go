// Package store defines the backend contract for record storage.
//
// A Store holds one record per storage key and must apply updates atomically
// per key: Update reads the current record, hands it to the caller's Op, and
// commits the returned decision such that no other update of the same key
// interleaves between the read and the commit. How a backend achieves that
// (a lock, optimistic concurrency, a conditional write) is its own business.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/tscache/record"
)

// ErrConflict is returned by Update when a backend gives up after repeated
// optimistic-concurrency failures. The op was not committed; callers may
// retry the whole operation.
var ErrConflict = errors.New("tscache: concurrent update conflict")

// Op computes the next state for a key from its current state. found is
// false when no record exists, in which case cur is the zero Record.
//
// Backends that use optimistic concurrency may invoke the op several times
// for one Update call; only the invocation that commits has effect, and it is
// always the last one. Ops must therefore be pure apart from writing to
// captured variables.
type Op func(cur record.Record, found bool) Decision

// Decision is an Op's verdict.
//
// With Write false the store leaves the key untouched; the read the op saw
// stands as the operation's outcome. With Write true the store persists
// Record. TTL > 0 arms physical expiry that far in the future; TTL == 0
// persists without expiry, clearing any previously armed one.
type Decision struct {
	Record record.Record
	Write  bool
	TTL    time.Duration
}

// Store is a record backend. Implementations must be safe for concurrent use.
type Store interface {
	// View returns the current record; missing => zero Record, false.
	// View never mutates the backend.
	View(ctx context.Context, key string) (record.Record, bool, error)
	// Update applies op atomically with respect to other updates of key.
	// If ctx is cancelled mid-flight the outcome is unknown; callers who
	// care must View to observe the resulting state.
	Update(ctx context.Context, key string, op Op) error
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}

// BulkViewer is an optional Store upgrade for batched reads. The returned map
// holds only keys that exist; per-key atomicity is all that is promised, the
// batch as a whole is not a snapshot.
type BulkViewer interface {
	ViewBulk(ctx context.Context, keys []string) (map[string]record.Record, error)
}
