// Package pipeline connects a timestamped cache to its source of truth.
//
// The cache protocol decides whether a write is current; the pipeline decides
// when reads and mutations talk to the database and which timestamp each
// cache call carries. The rules are small but easy to get wrong by hand:
//
//   - reads stamp their cache writes with a clock reading taken BEFORE the
//     fetch, so a mutation that commits mid-fetch wins the race through its
//     newer invalidation cutoff;
//   - mutations stamp their invalidations with a clock reading taken AFTER
//     the statement runs, so the cutoff covers everything the statement
//     changed.
//
// Cache failures on the read path degrade to the database and are logged;
// failed invalidations after a mutation are returned to the caller, because
// nothing downstream can detect the staleness they would leave behind.
package pipeline

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/tscache"
	"github.com/unkn0wn-root/tscache/record"
)

// FetchFunc loads rows from the source of truth.
type FetchFunc[V any] func(ctx context.Context) ([]V, error)

// FetchOneFunc loads a single row; ok is false when the row does not exist.
type FetchOneFunc[V any] func(ctx context.Context) (V, bool, error)

// ExecFunc runs a mutation against the source of truth.
type ExecFunc func(ctx context.Context) error

// KeyFunc derives the cache key for a row.
type KeyFunc[V any] func(v V) string

type Options[V any] struct {
	// Cache receives the flow's reads, writes and invalidations. Required.
	Cache tscache.Cache[V]
	// Clock supplies the logical timestamp for each flow. Defaults to
	// record.Now. Override it when the application orders events by
	// something other than wall clock (a transaction commit time, an
	// oplog position mapped onto Timestamp).
	Clock func() record.Timestamp
	// Logger for degraded-path reporting. Defaults to no logging.
	Logger tscache.Logger
}

// Pipeline wires read-through and write-through flows over one Cache.
type Pipeline[V any] struct {
	cache tscache.Cache[V]
	clock func() record.Timestamp
	log   tscache.Logger
}

func New[V any](opts Options[V]) (*Pipeline[V], error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("pipeline: cache is required")
	}
	p := &Pipeline[V]{
		cache: opts.Cache,
		clock: opts.Clock,
		log:   opts.Logger,
	}
	if p.clock == nil {
		p.clock = record.Now
	}
	if p.log == nil {
		p.log = tscache.NopLogger{}
	}
	return p, nil
}

// Populate runs fetch and writes every returned row through the cache under
// a single timestamp taken before the fetch started. Rows are always
// returned; cache write failures are logged and per-key rejections are
// simply stale writes losing the race, which is the protocol working.
func (p *Pipeline[V]) Populate(ctx context.Context, fetch FetchFunc[V], key KeyFunc[V]) ([]V, error) {
	ts := p.clock()
	rows, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	entries := make([]tscache.Entry[V], len(rows))
	for i, row := range rows {
		entries[i] = tscache.Entry[V]{Key: key(row), Value: row}
	}
	if _, err := p.cache.SetBulk(ctx, entries, ts); err != nil {
		p.log.Warn("cache populate failed; rows served uncached", tscache.Fields{
			"rows": len(rows), "err": err.Error(),
		})
	}
	return rows, nil
}

// Lookup is the read-through path for one row: serve from cache when fresh,
// otherwise fetch and write back. A cache read error falls back to the
// source of truth so the request still completes.
func (p *Pipeline[V]) Lookup(ctx context.Context, cacheKey string, fetch FetchOneFunc[V]) (V, bool, error) {
	v, hit, err := p.cache.Get(ctx, cacheKey)
	if err != nil {
		p.log.Warn("cache read failed; falling back to source", tscache.Fields{
			"key": cacheKey, "err": err.Error(),
		})
	} else if hit {
		return v, true, nil
	}

	ts := p.clock()
	v, ok, err := fetch(ctx)
	if err != nil || !ok {
		return v, ok, err
	}
	if _, err := p.cache.Set(ctx, cacheKey, v, ts); err != nil {
		p.log.Warn("cache write after fallback failed", tscache.Fields{
			"key": cacheKey, "err": err.Error(),
		})
	}
	return v, true, nil
}

// LookupMulti serves a batch read-through. When every key is fresh in the
// cache the cached values come back in key order without touching the
// source. Any miss refetches the whole set and repopulates, the same
// all-or-nothing shape the underlying query has anyway; the refetched rows
// come back in fetch order.
func (p *Pipeline[V]) LookupMulti(ctx context.Context, keys []string, fetch FetchFunc[V], key KeyFunc[V]) ([]V, error) {
	cached, err := p.cache.GetBulk(ctx, keys)
	if err != nil {
		p.log.Warn("cache bulk read failed; falling back to source", tscache.Fields{
			"keys": len(keys), "err": err.Error(),
		})
	} else if len(cached) == len(keys) {
		out := make([]V, len(keys))
		for i, k := range keys {
			out[i] = cached[k]
		}
		return out, nil
	}
	return p.Populate(ctx, fetch, key)
}

// Mutate runs exec and then invalidates every named key at a timestamp taken
// after the statement finished. Every key is attempted even when one fails;
// the failures come back joined in an *InvalidateError because a key left
// uninvalidated serves stale data with nothing downstream able to tell.
func (p *Pipeline[V]) Mutate(ctx context.Context, exec ExecFunc, keys ...string) error {
	if err := exec(ctx); err != nil {
		return err
	}

	ts := p.clock()
	var ierr *InvalidateError
	for _, k := range keys {
		if _, err := p.cache.Invalidate(ctx, k, ts); err != nil {
			p.log.Error("invalidate after mutation failed", tscache.Fields{
				"key": k, "ts": ts.String(), "err": err.Error(),
			})
			if ierr == nil {
				ierr = &InvalidateError{Ts: ts}
			}
			ierr.Keys = append(ierr.Keys, k)
			ierr.Errs = append(ierr.Errs, err)
		}
	}
	if ierr != nil {
		return ierr
	}
	return nil
}
