// Package redis keeps records as Redis hashes, one hash per key with the
// stable field layout from the record package. Updates run under WATCH so
// the read-compute-write cycle commits only if no other client touched the
// key in between; interleavings surface as a retry, then store.ErrConflict.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const (
	maxRetries = 16
	scanCount  = 512
)

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.BulkViewer = (*Store)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Store) View(ctx context.Context, key string) (record.Record, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return record.Record{}, false, err
	}
	if len(fields) == 0 {
		return record.Record{}, false, nil // miss
	}
	rec, err := record.FromFields(fields)
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, true, nil
}

// ViewBulk reads many keys in one round trip via pipelined HGETALLs.
func (s *Store) ViewBulk(ctx context.Context, keys []string) (map[string]record.Record, error) {
	if len(keys) == 0 {
		return map[string]record.Record{}, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	if _, err := s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	out := make(map[string]record.Record, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := record.FromFields(fields)
		if err != nil {
			return nil, err
		}
		out[keys[i]] = rec
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, key string, op store.Op) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			found := len(fields) > 0
			cur, err := record.FromFields(fields)
			if err != nil {
				return err
			}

			d := op(cur, found)
			if !d.Write {
				return nil // nothing to commit, the watched read stands
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.HSet(ctx, key, d.Record.Fields())
				if !d.Record.HasValue() {
					pipe.HDel(ctx, key, record.FieldValue)
				}
				if d.TTL > 0 {
					pipe.PExpire(ctx, key, d.TTL)
				} else {
					pipe.Persist(ctx, key)
				}
				return nil
			})
			return err
		}, key)
		if err == goredis.TxFailedErr {
			continue // key changed under us
		}
		return err
	}
	return store.ErrConflict
}

// Ping reports whether the server currently answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// WaitOnline pings until the server answers, waiting interval between
// attempts, at most retries times. Useful at process start when Redis may
// still be coming up.
func (s *Store) WaitOnline(ctx context.Context, retries int, interval time.Duration) error {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("redis store: not online after %d attempts: %w", retries, lastErr)
}

// Keys returns all keys matching the glob pattern, walking the keyspace with
// SCAN. Intended for diagnostics and cleanup tooling, not hot paths.
func (s *Store) Keys(ctx context.Context, match string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
