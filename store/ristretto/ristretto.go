// Package ristretto keeps records in a Ristretto cache. Ristretto admits
// writes through a buffered, cost-based policy, so a committed update is
// verified back out of the cache; a refused admission is reported as an
// error rather than silently dropped.
package ristretto

import (
	"bytes"
	"context"
	"errors"
	"sync"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tscache/internal/util"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

// ErrNotAdmitted is returned when Ristretto declines to keep a committed
// record. The update did not become visible; callers may retry or treat the
// key as uncached.
var ErrNotAdmitted = errors.New("ristretto store: entry not admitted")

// baseCost accounts for the timestamps and map bookkeeping of an entry, on
// top of the value bytes.
const baseCost = 48

type Store struct {
	mu sync.Mutex
	c  *rc.Cache
}

var _ store.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto store: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) View(_ context.Context, key string) (record.Record, bool, error) {
	return s.read(key)
}

func (s *Store) Update(_ context.Context, key string, op store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found, err := s.read(key)
	if err != nil {
		return err
	}

	d := op(cur, found)
	if !d.Write {
		return nil
	}

	next := d.Record
	next.Value = util.CloneBytes(next.Value)
	cost := int64(len(next.Value)) + baseCost
	if !s.c.SetWithTTL(key, next, cost, d.TTL) {
		return ErrNotAdmitted
	}
	s.c.Wait()

	got, ok := s.c.Get(key)
	if !ok {
		return ErrNotAdmitted
	}
	if rec, isRec := got.(record.Record); !isRec ||
		!rec.Write.Equal(next.Write) || !rec.Invalidate.Equal(next.Invalidate) || !bytes.Equal(rec.Value, next.Value) {
		return ErrNotAdmitted
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes Ristretto's own counters when enabled in Config.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

func (s *Store) read(key string) (record.Record, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return record.Record{}, false, nil
	}
	rec, isRec := v.(record.Record)
	if !isRec {
		return record.Record{}, false, &record.CorruptError{Cause: errors.New("unexpected entry type")}
	}
	rec.Value = util.CloneBytes(rec.Value)
	return rec, true, nil
}
