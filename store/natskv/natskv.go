// Package natskv keeps records in a NATS JetStream key-value bucket. Records
// travel as wire frames with an embedded deadline, since bucket TTLs apply
// per bucket rather than per key. Updates ride the bucket's revision
// numbers: Create for absent keys, revision-conditioned Update otherwise,
// retried until the swap lands or the attempt budget runs out.
//
// Storage keys are base64-encoded before hitting the bucket because NATS
// restricts the key character set.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/unkn0wn-root/tscache/internal/wire"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

// NATSKeyValue captures the subset of nats.KeyValue used by the store.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
}

var ErrNilKV = errors.New("natskv store: nil key-value bucket")

const maxRetries = 16

type Store struct {
	kv NATSKeyValue
}

var _ store.Store = (*Store)(nil)

type Config struct {
	KV NATSKeyValue
}

func New(cfg Config) (*Store, error) {
	if cfg.KV == nil {
		return nil, ErrNilKV
	}
	return &Store{kv: cfg.KV}, nil
}

func (s *Store) View(_ context.Context, key string) (record.Record, bool, error) {
	st, err := s.read(bucketKey(key))
	if err != nil {
		return record.Record{}, false, err
	}
	if !st.logicalFound {
		return record.Record{}, false, nil
	}
	return st.rec, true, nil
}

func (s *Store) Update(_ context.Context, key string, op store.Op) error {
	bk := bucketKey(key)
	for attempt := 0; attempt < maxRetries; attempt++ {
		st, err := s.read(bk)
		if err != nil {
			return err
		}

		d := op(st.rec, st.logicalFound)
		if !d.Write {
			return nil
		}

		var deadlineMS int64
		if d.TTL > 0 {
			deadlineMS = time.Now().Add(d.TTL).UnixMilli()
		}
		frame := wire.Encode(d.Record, deadlineMS)

		if st.revision == 0 {
			_, err = s.kv.Create(bk, frame)
		} else {
			_, err = s.kv.Update(bk, frame, st.revision)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, nats.ErrKeyExists) || isMiss(err) {
			continue // revision moved under us
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) Close(context.Context) error { return nil }

// entryState is one read of a bucket key. An expired frame keeps its
// revision so a following update still swaps against the physical entry.
type entryState struct {
	rec          record.Record
	revision     uint64
	logicalFound bool
}

func (s *Store) read(bk string) (entryState, error) {
	entry, err := s.kv.Get(bk)
	if isMiss(err) {
		return entryState{}, nil
	}
	if err != nil {
		return entryState{}, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return entryState{}, nil
	}

	rec, deadlineMS, err := wire.Decode(entry.Value())
	if err != nil {
		return entryState{}, &record.CorruptError{Cause: err}
	}
	st := entryState{revision: entry.Revision()}
	if deadlineMS > 0 && time.Now().UnixMilli() > deadlineMS {
		return st, nil // physically present, logically gone
	}
	st.rec = rec
	st.logicalFound = true
	return st, nil
}

func isMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func bucketKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
