// Package record defines the per-key cache record and the pure transition
// rules every store realization applies inside its atomic region.
//
// A record carries the last written value, the timestamp of the write that
// produced it, and the timestamp of the most recent invalidation. A record is
// only readable while Write >= Invalidate; anything older is hidden, not
// deleted (lazy tombstoning). The transitions never delete a record and never
// let Invalidate move backward.
package record

// Record is the stored state for one cache key. The zero value represents
// "absent": empty value, zero timestamps.
type Record struct {
	Value      []byte
	Write      Timestamp
	Invalidate Timestamp
}

// HasValue reports whether a value was ever written. Codecs that encode to
// zero bytes are indistinguishable from "never written" and read back as a
// miss.
func (r Record) HasValue() bool { return len(r.Value) > 0 }

// Fresh reports whether a read may return the value: a value exists and the
// write that produced it is not older than the latest invalidation.
func (r Record) Fresh() bool {
	return r.HasValue() && !r.Write.Before(r.Invalidate)
}

// ApplyWrite computes the record transition for a conditional set. The write
// is rejected when ts is strictly older than either the recorded invalidation
// cutoff (it would resurrect data a newer invalidation suppressed) or the
// recorded write timestamp (a newer value is already in place). An equal
// timestamp is accepted on both boundaries. On acceptance the invalidation
// timestamp is carried over unchanged.
func ApplyWrite(cur Record, found bool, value []byte, ts Timestamp) (Record, bool) {
	if !found {
		cur = Record{}
	}
	if ts.Before(cur.Invalidate) || ts.Before(cur.Write) {
		return cur, false
	}
	return Record{Value: value, Write: ts, Invalidate: cur.Invalidate}, true
}

// ApplyInvalidate computes the record transition for an invalidation. The
// request is rejected when ts is strictly older than the recorded
// invalidation timestamp: a stale invalidation must not roll back a newer
// one. On acceptance only Invalidate changes; value bytes and write timestamp
// stay as they are, which is what hides (rather than erases) anything older
// than the cutoff.
func ApplyInvalidate(cur Record, found bool, ts Timestamp) (Record, bool) {
	if !found {
		cur = Record{}
	}
	if ts.Before(cur.Invalidate) {
		return cur, false
	}
	cur.Invalidate = ts
	return cur, true
}
