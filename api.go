package tscache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/tscache/codec"
	"github.com/unkn0wn-root/tscache/record"
	st "github.com/unkn0wn-root/tscache/store"
)

// Cache is the high-level, store-agnostic cache API with staleness safety via
// per-key logical timestamps. V is the caller's value type. Serialization is
// handled by a pluggable Codec[V].
//
// Set and Invalidate report acceptance: false means the call carried a
// timestamp older than what the key already recorded and changed nothing.
// Both are idempotent for a fixed (key, value, timestamp) input, so retrying
// after a transient store error is always safe.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Single
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Set(ctx context.Context, key string, value V, ts record.Timestamp) (accepted bool, err error)
	Invalidate(ctx context.Context, key string, ts record.Timestamp) (accepted bool, err error)

	// Bulk (one store call per key; no atomicity across keys)
	GetBulk(ctx context.Context, keys []string) (map[string]V, error)
	SetBulk(ctx context.Context, entries []Entry[V], ts record.Timestamp) ([]bool, error)
	InvalidateBulk(ctx context.Context, keys []string, ts record.Timestamp) ([]bool, error)
}

// Entry is one (key, value) pair of a bulk write. All entries of a SetBulk
// call share a single timestamp, typically the moment their rows were read
// from the source of truth.
type Entry[V any] struct {
	Key   string
	Value V
}

// Options tune the behavior of the generic timestamped cache.
// Only Namespace, Store and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "user", "profile", "order"
	Store     st.Store
	Codec     c.Codec[V]

	Logger       Logger        // if nil, NopLogger is used
	Hooks        Hooks         // if nil, NopHooks is used
	TombstoneTTL time.Duration // retention of invalidation-only records; 0 => 120s
	Disabled     bool          // default false (enabled)
	CloseStore   bool          // Close also closes Store (set when the cache owns it)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
