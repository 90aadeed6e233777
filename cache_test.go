package tscache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/tscache/codec"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

type memRec struct {
	rec record.Record
	exp time.Time // zero => no expiry
}

// memStore is an in-test Store: one mutex around the read-modify-write,
// per-entry expiry, injectable failures, call counters.
type memStore struct {
	mu      sync.Mutex
	m       map[string]memRec
	corrupt map[string]bool

	viewErr   error
	updateErr error

	viewCalls   int
	updateCalls int
	closed      bool
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{m: make(map[string]memRec), corrupt: make(map[string]bool)}
}

func (s *memStore) View(_ context.Context, key string) (record.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewCalls++
	if s.viewErr != nil {
		return record.Record{}, false, s.viewErr
	}
	return s.lookup(key)
}

func (s *memStore) Update(_ context.Context, key string, op store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	cur, found, err := s.lookup(key)
	if err != nil {
		return err
	}
	d := op(cur, found)
	if !d.Write {
		return nil
	}
	var exp time.Time
	if d.TTL > 0 {
		exp = time.Now().Add(d.TTL)
	}
	s.m[key] = memRec{rec: d.Record, exp: exp}
	return nil
}

func (s *memStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lookup must be called with mu held.
func (s *memStore) lookup(key string) (record.Record, bool, error) {
	if s.corrupt[key] {
		return record.Record{}, false, &record.CorruptError{Cause: errors.New("injected corruption")}
	}
	e, ok := s.m[key]
	if !ok {
		return record.Record{}, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return record.Record{}, false, nil
	}
	return e.rec, true, nil
}

func (s *memStore) entry(key string) (memRec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	return e, ok
}

// bulkMemStore upgrades memStore with a bulk read path.
type bulkMemStore struct{ *memStore }

var _ store.BulkViewer = (*bulkMemStore)(nil)

func (s *bulkMemStore) ViewBulk(_ context.Context, keys []string) (map[string]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]record.Record, len(keys))
	for _, k := range keys {
		rec, ok, err := s.lookup(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = rec
		}
	}
	return out, nil
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T, ns string, backing store.Store, optsOpt func(*Options[user])) Cache[user] {
	t.Helper()
	opts := Options[user]{
		Namespace: ns,
		Store:     backing,
		Codec:     c.JSON[user]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func mustImpl[V any](t *testing.T, cc Cache[V]) *cache[V] {
	t.Helper()
	impl, ok := cc.(*cache[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

func at(sec int64) record.Timestamp { return record.Timestamp{Sec: sec} }

// ==============================
// Ordering properties
// ==============================

// TestTimestampOrderingNotCallOrder: for a < b the value written at b wins
// regardless of which call lands first.
func TestTimestampOrderingNotCallOrder(t *testing.T) {
	ctx := context.Background()
	a, b := at(100), at(200)
	v1 := user{ID: "1", Name: "old"}
	v2 := user{ID: "1", Name: "new"}

	t.Run("ascending", func(t *testing.T) {
		cc := newTestCache(t, "user", newMemStore(), nil)
		if ok, err := cc.Set(ctx, "k", v1, a); err != nil || !ok {
			t.Fatalf("Set a: ok=%v err=%v", ok, err)
		}
		if ok, err := cc.Set(ctx, "k", v2, b); err != nil || !ok {
			t.Fatalf("Set b: ok=%v err=%v", ok, err)
		}
		if got, ok, err := cc.Get(ctx, "k"); err != nil || !ok || got != v2 {
			t.Fatalf("Get = %v ok=%v err=%v, want %v", got, ok, err, v2)
		}
	})

	t.Run("descending", func(t *testing.T) {
		cc := newTestCache(t, "user", newMemStore(), nil)
		if ok, err := cc.Set(ctx, "k", v2, b); err != nil || !ok {
			t.Fatalf("Set b: ok=%v err=%v", ok, err)
		}
		ok, err := cc.Set(ctx, "k", v1, a)
		if err != nil {
			t.Fatalf("Set a: %v", err)
		}
		if ok {
			t.Fatalf("out-of-order Set was accepted")
		}
		if got, ok, err := cc.Get(ctx, "k"); err != nil || !ok || got != v2 {
			t.Fatalf("Get = %v ok=%v err=%v, want %v", got, ok, err, v2)
		}
	})
}

// TestInvalidateSuppressesOlderWrite: a write older than the invalidation
// cutoff is rejected and the key stays a miss.
func TestInvalidateSuppressesOlderWrite(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, "user", newMemStore(), nil)

	if ok, err := cc.Invalidate(ctx, "k", at(200)); err != nil || !ok {
		t.Fatalf("Invalidate: ok=%v err=%v", ok, err)
	}
	ok, err := cc.Set(ctx, "k", user{ID: "1"}, at(100))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok {
		t.Fatalf("write older than cutoff was accepted")
	}
	if _, ok, err := cc.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get after suppressed write: ok=%v err=%v, want miss", ok, err)
	}
}

// TestEqualTimestampBoundary: invalidation is an inclusive lower bound; a
// write at exactly the cutoff survives.
func TestEqualTimestampBoundary(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, "user", newMemStore(), nil)
	v := user{ID: "1", Name: "boundary"}

	if ok, err := cc.Invalidate(ctx, "k", at(150)); err != nil || !ok {
		t.Fatalf("Invalidate: ok=%v err=%v", ok, err)
	}
	if ok, err := cc.Set(ctx, "k", v, at(150)); err != nil || !ok {
		t.Fatalf("Set at cutoff: ok=%v err=%v, want accepted", ok, err)
	}
	if got, ok, err := cc.Get(ctx, "k"); err != nil || !ok || got != v {
		t.Fatalf("Get = %v ok=%v err=%v, want %v", got, ok, err, v)
	}
}

// TestStaleWriteScenario walks the full suppression sequence: populate,
// invalidate, reject a write from before the cutoff, accept one at it.
func TestStaleWriteScenario(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, "user", newMemStore(), nil)
	v1 := user{ID: "a", Name: "v1"}
	v2 := user{ID: "a", Name: "v2"}
	v3 := user{ID: "a", Name: "v3"}

	if ok, _ := cc.Set(ctx, "a", v1, at(100)); !ok {
		t.Fatalf("initial Set rejected")
	}
	if got, ok, _ := cc.Get(ctx, "a"); !ok || got != v1 {
		t.Fatalf("Get = %v ok=%v, want %v", got, ok, v1)
	}

	if ok, _ := cc.Invalidate(ctx, "a", at(150)); !ok {
		t.Fatalf("Invalidate rejected")
	}
	if _, ok, _ := cc.Get(ctx, "a"); ok {
		t.Fatalf("Get after invalidate should miss")
	}

	if ok, _ := cc.Set(ctx, "a", v2, at(120)); ok {
		t.Fatalf("Set at 120 accepted despite cutoff 150")
	}
	if _, ok, _ := cc.Get(ctx, "a"); ok {
		t.Fatalf("suppressed write became visible")
	}

	if ok, _ := cc.Set(ctx, "a", v3, at(150)); !ok {
		t.Fatalf("Set at cutoff rejected")
	}
	if got, ok, _ := cc.Get(ctx, "a"); !ok || got != v3 {
		t.Fatalf("Get = %v ok=%v, want %v", got, ok, v3)
	}
}

// TestIdempotentReplays: repeating a call with identical arguments yields the
// same outcome and the same stored state.
func TestIdempotentReplays(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)
	v := user{ID: "1", Name: "same"}

	for i := 0; i < 2; i++ {
		if ok, err := cc.Set(ctx, "k", v, at(100)); err != nil || !ok {
			t.Fatalf("Set replay %d: ok=%v err=%v", i, ok, err)
		}
	}
	for i := 0; i < 2; i++ {
		if ok, err := cc.Invalidate(ctx, "k", at(150)); err != nil || !ok {
			t.Fatalf("Invalidate replay %d: ok=%v err=%v", i, ok, err)
		}
	}
	first, _ := ms.entry("user:k")
	if !first.rec.Invalidate.Equal(at(150)) {
		t.Fatalf("invalidate timestamp = %v, want 150", first.rec.Invalidate)
	}

	for i := 0; i < 2; i++ {
		if ok, err := cc.Invalidate(ctx, "k", at(90)); err != nil || ok {
			t.Fatalf("stale Invalidate replay %d: ok=%v err=%v, want rejected", i, ok, err)
		}
	}
	after, _ := ms.entry("user:k")
	if after.rec.Write != first.rec.Write || after.rec.Invalidate != first.rec.Invalidate {
		t.Fatalf("rejected replays changed stored state: %+v -> %+v", first.rec, after.rec)
	}
}

// TestInvalidateMonotonicity: after a sequence of invalidations the recorded
// cutoff equals the maximum timestamp seen, never a later-arriving older one.
func TestInvalidateMonotonicity(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	seq := []int64{100, 300, 250, 300, 120}
	for _, sec := range seq {
		wantAccept := sec >= 300 || sec == 100
		ok, err := cc.Invalidate(ctx, "k", at(sec))
		if err != nil {
			t.Fatalf("Invalidate(%d): %v", sec, err)
		}
		if ok != wantAccept {
			t.Fatalf("Invalidate(%d) accepted=%v, want %v", sec, ok, wantAccept)
		}
	}
	if got, _ := ms.entry("user:k"); !got.rec.Invalidate.Equal(at(300)) {
		t.Fatalf("cutoff = %v, want max seen (300)", got.rec.Invalidate)
	}
}

// TestGetUntouchedKey: a read of a key nobody ever wrote is a miss and does
// not create or modify a record.
func TestGetUntouchedKey(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	if _, ok, err := cc.Get(ctx, "ghost"); err != nil || ok {
		t.Fatalf("Get = ok=%v err=%v, want miss", ok, err)
	}
	if ms.updateCalls != 0 {
		t.Fatalf("Get issued %d updates, want 0", ms.updateCalls)
	}
	if len(ms.m) != 0 {
		t.Fatalf("Get created a record: %v", ms.m)
	}
}

// TestConcurrentWritersMaxTimestampWins: under concurrent writes with
// distinct timestamps the final value belongs to the maximum timestamp,
// whatever the completion order.
func TestConcurrentWritersMaxTimestampWins(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			v := user{ID: "1", Name: fmt.Sprintf("w%d", i)}
			if _, err := cc.Set(ctx, "k", v, at(int64(i+1))); err != nil {
				t.Errorf("Set %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, ok, err := cc.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v", ok, err)
	}
	want := user{ID: "1", Name: fmt.Sprintf("w%d", writers-1)}
	if got != want {
		t.Fatalf("winner = %v, want %v", got, want)
	}
}

// ==============================
// Tombstone retention
// ==============================

// TestTombstoneRetention: an invalidation-only record expires after the
// retention window and then behaves as absent, so even an older write is
// accepted again.
func TestTombstoneRetention(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, func(o *Options[user]) {
		o.TombstoneTTL = 20 * time.Millisecond
	})

	if ok, _ := cc.Invalidate(ctx, "k", at(500)); !ok {
		t.Fatalf("Invalidate rejected")
	}
	if e, ok := ms.entry("user:k"); !ok || e.exp.IsZero() {
		t.Fatalf("tombstone record has no expiry armed")
	}
	if ok, _ := cc.Set(ctx, "k", user{ID: "1"}, at(100)); ok {
		t.Fatalf("Set below cutoff accepted before tombstone expiry")
	}

	time.Sleep(40 * time.Millisecond)

	// Expired tombstone reads as absent, cutoff has reset to zero.
	if ok, err := cc.Set(ctx, "k", user{ID: "1"}, at(100)); err != nil || !ok {
		t.Fatalf("Set after tombstone expiry: ok=%v err=%v, want accepted", ok, err)
	}
	if _, ok, _ := cc.Get(ctx, "k"); !ok {
		t.Fatalf("Get after repopulation should hit")
	}
}

// TestInvalidateRetainsValueBytes: invalidating a populated key hides the
// value without erasing it and does not arm expiry on the record.
func TestInvalidateRetainsValueBytes(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	if ok, _ := cc.Set(ctx, "k", user{ID: "1", Name: "kept"}, at(100)); !ok {
		t.Fatalf("Set rejected")
	}
	if ok, _ := cc.Invalidate(ctx, "k", at(200)); !ok {
		t.Fatalf("Invalidate rejected")
	}

	e, ok := ms.entry("user:k")
	if !ok {
		t.Fatalf("record vanished on invalidate")
	}
	if len(e.rec.Value) == 0 {
		t.Fatalf("invalidate erased value bytes")
	}
	if !e.exp.IsZero() {
		t.Fatalf("invalidate armed expiry on a record with a value")
	}
	if _, ok, _ := cc.Get(ctx, "k"); ok {
		t.Fatalf("hidden value served")
	}
}

// TestSetDisarmsTombstoneExpiry: a write accepted over a tombstone clears the
// retention countdown; the record now lives until something above the
// protocol evicts it.
func TestSetDisarmsTombstoneExpiry(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, func(o *Options[user]) {
		o.TombstoneTTL = 25 * time.Millisecond
	})

	if ok, _ := cc.Invalidate(ctx, "k", at(100)); !ok {
		t.Fatalf("Invalidate rejected")
	}
	if ok, _ := cc.Set(ctx, "k", user{ID: "1"}, at(100)); !ok {
		t.Fatalf("Set at cutoff rejected")
	}
	if e, _ := ms.entry("user:k"); !e.exp.IsZero() {
		t.Fatalf("accepted write left tombstone expiry armed")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := cc.Get(ctx, "k"); !ok {
		t.Fatalf("value expired with the tombstone window")
	}
}

// ==============================
// Error handling
// ==============================

// TestCorruptRecordIsErrorNotMiss: a record that fails to parse surfaces as
// an error; treating it as a miss would quietly re-populate over damage.
func TestCorruptRecordIsErrorNotMiss(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	ms.corrupt["user:k"] = true

	_, ok, err := cc.Get(ctx, "k")
	if err == nil {
		t.Fatalf("Get on corrupt record returned no error (ok=%v)", ok)
	}
	if !record.IsCorrupt(err) {
		t.Fatalf("error %v is not a CorruptError", err)
	}

	if _, err := cc.Set(ctx, "k", user{ID: "1"}, at(100)); !record.IsCorrupt(err) {
		t.Fatalf("Set over corrupt record: err=%v, want CorruptError", err)
	}
}

// TestTransientStoreErrorPropagates: transport failures reach the caller
// unchanged; retrying with identical arguments is safe.
func TestTransientStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)
	boom := errors.New("connection reset")

	ms.viewErr = boom
	if _, _, err := cc.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("Get err=%v, want %v", err, boom)
	}
	ms.viewErr = nil

	ms.updateErr = boom
	if _, err := cc.Set(ctx, "k", user{ID: "1"}, at(100)); !errors.Is(err, boom) {
		t.Fatalf("Set err=%v, want %v", err, boom)
	}
	if _, err := cc.Invalidate(ctx, "k", at(100)); !errors.Is(err, boom) {
		t.Fatalf("Invalidate err=%v, want %v", err, boom)
	}
	ms.updateErr = nil

	// Retry with the same arguments succeeds and yields the same outcome.
	if ok, err := cc.Set(ctx, "k", user{ID: "1"}, at(100)); err != nil || !ok {
		t.Fatalf("retried Set: ok=%v err=%v", ok, err)
	}
}

// TestConflictSurfaced: a store that exhausts its retry budget reports
// ErrConflict, which is not folded into a rejection.
func TestConflictSurfaced(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, nil)

	ms.updateErr = store.ErrConflict
	ok, err := cc.Set(ctx, "k", user{ID: "1"}, at(100))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Set err=%v, want ErrConflict", err)
	}
	if ok {
		t.Fatalf("failed Set reported accepted")
	}
}

func TestCodecFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("encode", func(t *testing.T) {
		ms := newMemStore()
		encErr := errors.New("unencodable")
		cc := newTestCache(t, "user", ms, func(o *Options[user]) {
			o.Codec = failCodec{encodeErr: encErr}
		})

		_, err := cc.Set(ctx, "k", user{ID: "1"}, at(100))
		var ce *CodecError
		if !errors.As(err, &ce) || !errors.Is(err, encErr) {
			t.Fatalf("Set err=%v, want CodecError wrapping %v", err, encErr)
		}
		if ce.Op != "encode" {
			t.Fatalf("CodecError.Op = %q, want encode", ce.Op)
		}
		if ms.updateCalls != 0 {
			t.Fatalf("failed encode still reached the store")
		}
	})

	t.Run("decode", func(t *testing.T) {
		ms := newMemStore()
		decErr := errors.New("undecodable")
		cc := newTestCache(t, "user", ms, nil)
		if ok, _ := cc.Set(ctx, "k", user{ID: "1"}, at(100)); !ok {
			t.Fatalf("seed Set rejected")
		}

		bad := newTestCache(t, "user", ms, func(o *Options[user]) {
			o.Codec = failCodec{decodeErr: decErr}
		})
		_, ok, err := bad.Get(ctx, "k")
		var ce *CodecError
		if !errors.As(err, &ce) || !errors.Is(err, decErr) || ok {
			t.Fatalf("Get = ok=%v err=%v, want CodecError wrapping %v", ok, err, decErr)
		}
		if ce.Op != "decode" {
			t.Fatalf("CodecError.Op = %q, want decode", ce.Op)
		}
	})
}

type failCodec struct {
	encodeErr error
	decodeErr error
}

func (f failCodec) Encode(u user) ([]byte, error) {
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	return c.JSON[user]{}.Encode(u)
}

func (f failCodec) Decode(b []byte) (user, error) {
	if f.decodeErr != nil {
		return user{}, f.decodeErr
	}
	return c.JSON[user]{}.Decode(b)
}

// ==============================
// Bulk forms
// ==============================

// TestBulkRoundTrip writes a batch under one timestamp and reads it back via
// the store's bulk path.
func TestBulkRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := &bulkMemStore{newMemStore()}
	cc := newTestCache(t, "user", ms, nil)

	entries := []Entry[user]{
		{Key: "a", Value: user{ID: "a", Name: "A"}},
		{Key: "b", Value: user{ID: "b", Name: "B"}},
		{Key: "c", Value: user{ID: "c", Name: "C"}},
	}
	accepted, err := cc.SetBulk(ctx, entries, at(100))
	if err != nil {
		t.Fatalf("SetBulk: %v", err)
	}
	for i, ok := range accepted {
		if !ok {
			t.Fatalf("entry %d rejected", i)
		}
	}

	got, err := cc.GetBulk(ctx, []string{"a", "b", "c", "ghost"})
	if err != nil {
		t.Fatalf("GetBulk: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetBulk returned %d values, want 3: %v", len(got), got)
	}
	if got["b"] != entries[1].Value {
		t.Fatalf("GetBulk[b] = %v", got["b"])
	}
	if _, ok := got["ghost"]; ok {
		t.Fatalf("GetBulk returned a value for an absent key")
	}
}

// TestBulkInvalidationHidesMembers: invalidating one member of a batch makes
// only that member miss; there is no cross-key coupling.
func TestBulkInvalidationHidesMembers(t *testing.T) {
	ctx := context.Background()
	ms := &bulkMemStore{newMemStore()}
	cc := newTestCache(t, "user", ms, nil)

	entries := []Entry[user]{
		{Key: "a", Value: user{ID: "a"}},
		{Key: "b", Value: user{ID: "b"}},
	}
	if _, err := cc.SetBulk(ctx, entries, at(100)); err != nil {
		t.Fatalf("SetBulk: %v", err)
	}
	if ok, _ := cc.Invalidate(ctx, "b", at(150)); !ok {
		t.Fatalf("Invalidate rejected")
	}

	got, err := cc.GetBulk(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetBulk: %v", err)
	}
	if _, ok := got["a"]; !ok {
		t.Fatalf("untouched member went missing")
	}
	if _, ok := got["b"]; ok {
		t.Fatalf("invalidated member still served")
	}
}

// TestBulkSharedTimestampPerKeyOutcome: one batch timestamp, per-key
// accept/reject decisions.
func TestBulkSharedTimestampPerKeyOutcome(t *testing.T) {
	ctx := context.Background()
	ms := &bulkMemStore{newMemStore()}
	cc := newTestCache(t, "user", ms, nil)

	// "b" already carries a newer cutoff than the batch timestamp.
	if ok, _ := cc.Invalidate(ctx, "b", at(500)); !ok {
		t.Fatalf("Invalidate rejected")
	}

	accepted, err := cc.SetBulk(ctx, []Entry[user]{
		{Key: "a", Value: user{ID: "a"}},
		{Key: "b", Value: user{ID: "b"}},
	}, at(100))
	if err != nil {
		t.Fatalf("SetBulk: %v", err)
	}
	if !accepted[0] || accepted[1] {
		t.Fatalf("accepted = %v, want [true false]", accepted)
	}

	results, err := cc.InvalidateBulk(ctx, []string{"a", "b"}, at(200))
	if err != nil {
		t.Fatalf("InvalidateBulk: %v", err)
	}
	if !results[0] || results[1] {
		t.Fatalf("InvalidateBulk results = %v, want [true false]", results)
	}
}

// TestGetBulkWithoutBulkViewer: a store lacking the bulk upgrade is read one
// key at a time.
func TestGetBulkWithoutBulkViewer(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore() // no ViewBulk
	cc := newTestCache(t, "user", ms, nil)

	if _, err := cc.SetBulk(ctx, []Entry[user]{
		{Key: "a", Value: user{ID: "a"}},
		{Key: "b", Value: user{ID: "b"}},
	}, at(100)); err != nil {
		t.Fatalf("SetBulk: %v", err)
	}

	before := ms.viewCalls
	got, err := cc.GetBulk(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetBulk: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetBulk returned %d values, want 2", len(got))
	}
	if ms.viewCalls-before != 2 {
		t.Fatalf("fallback issued %d views, want 2", ms.viewCalls-before)
	}
}

// ==============================
// Options, disabled mode, lifecycle
// ==============================

func TestOptionsValidation(t *testing.T) {
	ms := newMemStore()

	if _, err := New[user](Options[user]{Namespace: "n", Codec: c.JSON[user]{}}); err == nil {
		t.Fatalf("New accepted missing store")
	}
	if _, err := New[user](Options[user]{Namespace: "n", Store: ms}); err == nil {
		t.Fatalf("New accepted missing codec")
	}
	if _, err := New[user](Options[user]{Store: ms, Codec: c.JSON[user]{}}); err == nil {
		t.Fatalf("New accepted missing namespace")
	}
}

func TestTombstoneTTLDefault(t *testing.T) {
	cc := newTestCache(t, "user", newMemStore(), nil)
	impl := mustImpl(t, cc)
	if impl.tombstoneTTL != defaultTombstoneTTL {
		t.Fatalf("tombstoneTTL = %v, want %v", impl.tombstoneTTL, defaultTombstoneTTL)
	}
}

// TestDisabledCache: a disabled cache reads as all-miss, accepts nothing and
// never touches the store.
func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, "user", ms, func(o *Options[user]) {
		o.Disabled = true
	})

	if cc.Enabled() {
		t.Fatalf("Enabled() = true on disabled cache")
	}
	if ok, err := cc.Set(ctx, "k", user{ID: "1"}, at(100)); err != nil || ok {
		t.Fatalf("disabled Set: ok=%v err=%v", ok, err)
	}
	if ok, err := cc.Invalidate(ctx, "k", at(100)); err != nil || ok {
		t.Fatalf("disabled Invalidate: ok=%v err=%v", ok, err)
	}
	if _, ok, err := cc.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("disabled Get: ok=%v err=%v", ok, err)
	}
	if got, err := cc.GetBulk(ctx, []string{"a"}); err != nil || len(got) != 0 {
		t.Fatalf("disabled GetBulk: got=%v err=%v", got, err)
	}
	if ms.viewCalls != 0 || ms.updateCalls != 0 {
		t.Fatalf("disabled cache touched the store: views=%d updates=%d", ms.viewCalls, ms.updateCalls)
	}
}

func TestCloseStoreOwnership(t *testing.T) {
	ctx := context.Background()

	t.Run("borrowed", func(t *testing.T) {
		ms := newMemStore()
		cc := newTestCache(t, "user", ms, nil)
		if err := cc.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if ms.closed {
			t.Fatalf("Close closed a store it does not own")
		}
	})

	t.Run("owned", func(t *testing.T) {
		ms := newMemStore()
		cc := newTestCache(t, "user", ms, func(o *Options[user]) {
			o.CloseStore = true
		})
		if err := cc.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if !ms.closed {
			t.Fatalf("Close did not close the owned store")
		}
	})
}

// ==============================
// Hooks
// ==============================

type recordingHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHooks) add(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *recordingHooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHooks) Hit(k string)          { h.add("hit:" + k) }
func (h *recordingHooks) Miss(k, reason string) { h.add("miss:" + k + ":" + reason) }
func (h *recordingHooks) WriteAccepted(k string, _ record.Timestamp) {
	h.add("write_ok:" + k)
}
func (h *recordingHooks) WriteRejected(k string, _, _ record.Timestamp) {
	h.add("write_rej:" + k)
}
func (h *recordingHooks) InvalidateAccepted(k string, _ record.Timestamp) {
	h.add("inv_ok:" + k)
}
func (h *recordingHooks) InvalidateRejected(k string, _, _ record.Timestamp) {
	h.add("inv_rej:" + k)
}
func (h *recordingHooks) CorruptRecord(k string, _ error)  { h.add("corrupt:" + k) }
func (h *recordingHooks) CodecFailure(k string, _ error)   { h.add("codec:" + k) }
func (h *recordingHooks) UpdateConflict(k string, _ error) { h.add("conflict:" + k) }

func TestHooksObserveProtocolEvents(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	rh := &recordingHooks{}
	cc := newTestCache(t, "user", ms, func(o *Options[user]) {
		o.Hooks = rh
	})

	_, _, _ = cc.Get(ctx, "k")                       // miss: absent
	_, _ = cc.Set(ctx, "k", user{ID: "1"}, at(100))  // write accepted
	_, _, _ = cc.Get(ctx, "k")                       // hit
	_, _ = cc.Invalidate(ctx, "k", at(150))          // invalidate accepted
	_, _, _ = cc.Get(ctx, "k")                       // miss: invalidated
	_, _ = cc.Set(ctx, "k", user{ID: "1"}, at(120))  // write rejected
	_, _ = cc.Invalidate(ctx, "k", at(100))          // invalidate rejected

	want := []string{
		"miss:user:k:absent",
		"write_ok:user:k",
		"hit:user:k",
		"inv_ok:user:k",
		"miss:user:k:invalidated",
		"write_rej:user:k",
		"inv_rej:user:k",
	}
	got := rh.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestHooksObserveFailures(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	rh := &recordingHooks{}
	cc := newTestCache(t, "user", ms, func(o *Options[user]) {
		o.Hooks = rh
	})

	ms.corrupt["user:k"] = true
	_, _, _ = cc.Get(ctx, "k")
	ms.corrupt = map[string]bool{}

	ms.updateErr = store.ErrConflict
	_, _ = cc.Set(ctx, "k", user{ID: "1"}, at(100))
	ms.updateErr = nil

	got := rh.snapshot()
	want := []string{"corrupt:user:k", "conflict:user:k"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}
