package tscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tscache/codec"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

const defaultTombstoneTTL = 120 * time.Second

// Miss reasons reported through Hooks.
const (
	MissAbsent      = "absent"      // no record stored for the key
	MissNoValue     = "no_value"    // only invalidations ever happened
	MissInvalidated = "invalidated" // value present but older than the cutoff
)

type cache[V any] struct {
	ns    string
	st    store.Store
	codec codec.Codec[V]
	log   Logger
	hooks Hooks

	enabled      bool
	tombstoneTTL time.Duration
	closeStore   bool
}

var _ Cache[any] = (*cache[any])(nil)

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tscache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tscache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tscache: namespace is required")
	}

	c := &cache[V]{
		ns:         opts.Namespace,
		st:         opts.Store,
		codec:      opts.Codec,
		enabled:    !opts.Disabled,
		closeStore: opts.CloseStore,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.tombstoneTTL = coalesce[time.Duration](opts.TombstoneTTL, defaultTombstoneTTL)

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	if c.closeStore && c.st != nil {
		return c.st.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	k := c.storageKey(key)
	rec, found, err := c.st.View(ctx, k)
	if err != nil {
		return zero, false, c.storeError(k, err)
	}
	return c.fromRecord(k, rec, found)
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, ts record.Timestamp) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	k := c.storageKey(key)
	payload, err := c.codec.Encode(value)
	if err != nil {
		cerr := &CodecError{Key: key, Op: "encode", Err: err}
		c.hooks.CodecFailure(k, cerr)
		return false, cerr
	}

	var (
		accepted bool
		cutoff   record.Timestamp
	)
	err = c.st.Update(ctx, k, func(cur record.Record, found bool) store.Decision {
		next, ok := record.ApplyWrite(cur, found, payload, ts)
		accepted = ok
		if !ok {
			cutoff = record.Max(cur.Write, cur.Invalidate)
			return store.Decision{}
		}
		// TTL 0 persists the record and disarms any tombstone expiry.
		return store.Decision{Record: next, Write: true}
	})
	if err != nil {
		return false, c.storeError(k, err)
	}
	if accepted {
		c.hooks.WriteAccepted(k, ts)
	} else {
		c.hooks.WriteRejected(k, ts, cutoff)
		c.log.Debug("set rejected (older than recorded cutoff)", Fields{"key": key, "ts": ts.String(), "cutoff": cutoff.String()})
	}
	return accepted, nil
}

func (c *cache[V]) Invalidate(ctx context.Context, key string, ts record.Timestamp) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	k := c.storageKey(key)

	var (
		accepted bool
		cutoff   record.Timestamp
	)
	err := c.st.Update(ctx, k, func(cur record.Record, found bool) store.Decision {
		next, ok := record.ApplyInvalidate(cur, found, ts)
		accepted = ok
		if !ok {
			cutoff = cur.Invalidate
			return store.Decision{}
		}
		d := store.Decision{Record: next, Write: true}
		if !next.HasValue() {
			// Tombstone with no value to re-arm it: bound its lifetime so
			// keys that are never rewritten get reclaimed.
			d.TTL = c.tombstoneTTL
		}
		return d
	})
	if err != nil {
		return false, c.storeError(k, err)
	}
	if accepted {
		c.hooks.InvalidateAccepted(k, ts)
	} else {
		c.hooks.InvalidateRejected(k, ts, cutoff)
		c.log.Debug("invalidate rejected (older than recorded cutoff)", Fields{"key": key, "ts": ts.String(), "cutoff": cutoff.String()})
	}
	return accepted, nil
}

func (c *cache[V]) GetBulk(ctx context.Context, keys []string) (map[string]V, error) {
	out := make(map[string]V, len(keys))
	if !c.enabled || len(keys) == 0 {
		return out, nil
	}

	if bv, ok := c.st.(store.BulkViewer); ok {
		storageKeys := make([]string, len(keys))
		for i, k := range keys {
			storageKeys[i] = c.storageKey(k)
		}
		recs, err := bv.ViewBulk(ctx, storageKeys)
		if err != nil {
			return nil, c.storeError("", err)
		}
		for i, k := range keys {
			rec, found := recs[storageKeys[i]]
			v, hit, err := c.fromRecord(storageKeys[i], rec, found)
			if err != nil {
				return nil, err
			}
			if hit {
				out[k] = v
			}
		}
		return out, nil
	}

	// Store has no bulk read; fall back to one View per key.
	for _, k := range keys {
		v, ok, err := c.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetBulk writes each entry under the shared timestamp, one atomic store call
// per key. results[i] reports acceptance of entries[i]. On error the returned
// slice holds the outcomes decided before the failure; later entries were not
// attempted and may be retried with the same timestamp.
func (c *cache[V]) SetBulk(ctx context.Context, entries []Entry[V], ts record.Timestamp) ([]bool, error) {
	results := make([]bool, len(entries))
	if !c.enabled || len(entries) == 0 {
		return results, nil
	}
	for i, e := range entries {
		ok, err := c.Set(ctx, e.Key, e.Value, ts)
		if err != nil {
			return results, err
		}
		results[i] = ok
	}
	return results, nil
}

// InvalidateBulk invalidates each key at the shared timestamp. Error and
// partial-result behavior match SetBulk.
func (c *cache[V]) InvalidateBulk(ctx context.Context, keys []string, ts record.Timestamp) ([]bool, error) {
	results := make([]bool, len(keys))
	if !c.enabled || len(keys) == 0 {
		return results, nil
	}
	for i, k := range keys {
		ok, err := c.Invalidate(ctx, k, ts)
		if err != nil {
			return results, err
		}
		results[i] = ok
	}
	return results, nil
}

// fromRecord turns one store read into the protocol's Get outcome. The only
// error paths are value decoding; staleness and absence are plain misses.
func (c *cache[V]) fromRecord(storageKey string, rec record.Record, found bool) (V, bool, error) {
	var zero V
	if !found {
		c.hooks.Miss(storageKey, MissAbsent)
		return zero, false, nil
	}
	if !rec.HasValue() {
		c.hooks.Miss(storageKey, MissNoValue)
		return zero, false, nil
	}
	if rec.Write.Before(rec.Invalidate) {
		// Hidden, not erased: the bytes stay until a fresher write lands.
		c.hooks.Miss(storageKey, MissInvalidated)
		return zero, false, nil
	}
	v, err := c.codec.Decode(rec.Value)
	if err != nil {
		cerr := &CodecError{Key: storageKey, Op: "decode", Err: err}
		c.hooks.CodecFailure(storageKey, cerr)
		return zero, false, cerr
	}
	c.hooks.Hit(storageKey)
	return v, true, nil
}

// storeError classifies a store failure for hooks and hands it back
// unchanged. Corruption and conflicts are never downgraded to a miss or a
// rejection; both name states the caller must know about.
func (c *cache[V]) storeError(storageKey string, err error) error {
	switch {
	case record.IsCorrupt(err):
		c.hooks.CorruptRecord(storageKey, err)
	case errors.Is(err, store.ErrConflict):
		c.hooks.UpdateConflict(storageKey, err)
	}
	return err
}

func (c *cache[V]) storageKey(userKey string) string {
	// isolate by namespace
	return c.ns + ":" + userKey
}
