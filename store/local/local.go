// Package local keeps records in process memory. Suited to single-process
// deployments and tests; records are lost on restart, which reads as a
// plain miss.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/unkn0wn-root/tscache/internal/util"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

type Store struct {
	// mu serializes updates; reads go straight to the cache.
	mu sync.Mutex
	c  *gocache.Cache
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.BulkViewer = (*Store)(nil)
)

type Config struct {
	// CleanupInterval is how often expired entries are physically swept.
	// Zero disables the sweeper; expired entries still read as absent.
	CleanupInterval time.Duration
}

func New(cfg Config) *Store {
	return &Store{c: gocache.New(gocache.NoExpiration, cfg.CleanupInterval)}
}

func (s *Store) View(_ context.Context, key string) (record.Record, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return record.Record{}, false, nil
	}
	rec, err := asRecord(v)
	if err != nil {
		return record.Record{}, false, err
	}
	rec.Value = util.CloneBytes(rec.Value)
	return rec, true, nil
}

func (s *Store) ViewBulk(_ context.Context, keys []string) (map[string]record.Record, error) {
	out := make(map[string]record.Record, len(keys))
	for _, k := range keys {
		v, ok := s.c.Get(k)
		if !ok {
			continue
		}
		rec, err := asRecord(v)
		if err != nil {
			return nil, err
		}
		rec.Value = util.CloneBytes(rec.Value)
		out[k] = rec
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, key string, op store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur record.Record
	v, found := s.c.Get(key)
	if found {
		rec, err := asRecord(v)
		if err != nil {
			return err
		}
		cur = rec
		cur.Value = util.CloneBytes(cur.Value)
	}

	d := op(cur, found)
	if !d.Write {
		return nil
	}

	next := d.Record
	next.Value = util.CloneBytes(next.Value)
	ttl := gocache.NoExpiration
	if d.TTL > 0 {
		ttl = d.TTL
	}
	s.c.Set(key, next, ttl)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

func asRecord(v any) (record.Record, error) {
	rec, ok := v.(record.Record)
	if !ok {
		return record.Record{}, &record.CorruptError{Cause: errors.New("unexpected entry type")}
	}
	return rec, nil
}
