// Package tscache implements a store-agnostic cache coherence protocol
// ordered by caller-supplied logical timestamps. Every write and every
// invalidation carries a (seconds, nanoseconds) timestamp; a key serves a
// value only while the timestamp of the write that produced it is not older
// than the key's latest invalidation. Stale writes are rejected instead of
// resurrecting overwritten data, and stale invalidations are rejected instead
// of rolling a newer cutoff back.
//
// Components:
//   - store.Store: per-key atomic read-modify-write over a backend
//     (Redis, DynamoDB, NATS KV, or in-process).
//   - record: the stored state per key and the pure accept/reject rules.
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - pipeline: read-through / write-through orchestration around a
//     relational source of truth.
//
// Keys:
//
//	<ns>:<key> - one record per key, shared by all writers of the namespace
//
// Ordering pattern:
//
//	ts := record.Now()              // before reading the source of truth
//	v := readFromDB(k)
//	_, _ = cache.Set(ctx, k, v, ts) // accepted iff no newer write/invalidation
//
// Rejected writes and cache misses are ordinary outcomes, not errors; store
// failures are always surfaced as errors and never masked as a miss.
package tscache
