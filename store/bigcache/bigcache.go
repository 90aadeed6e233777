// Package bigcache keeps records in a BigCache ring buffer. BigCache has no
// per-key TTL, so physical expiry rides inside the stored frame as a
// deadline; entries past their deadline read as absent until BigCache's own
// LifeWindow evicts the bytes. Size LifeWindow above the longest tombstone
// retention or tombstones may be evicted early.
package bigcache

import (
	"context"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tscache/internal/wire"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

type Store struct {
	// mu serializes updates; BigCache has no conditional write to lean on.
	mu sync.Mutex
	c  *bc.BigCache
}

var _ store.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
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

	var deadlineMS int64
	if d.TTL > 0 {
		deadlineMS = time.Now().Add(d.TTL).UnixMilli()
	}
	return s.c.Set(key, wire.Encode(d.Record, deadlineMS))
}

func (s *Store) Close(context.Context) error { return s.c.Close() }

func (s *Store) read(key string) (record.Record, bool, error) {
	b, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	rec, deadlineMS, err := wire.Decode(b)
	if err != nil {
		return record.Record{}, false, &record.CorruptError{Cause: err}
	}
	if deadlineMS > 0 && time.Now().UnixMilli() > deadlineMS {
		return record.Record{}, false, nil
	}
	return rec, true, nil
}
