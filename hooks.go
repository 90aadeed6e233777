package tscache

import "github.com/unkn0wn-root/tscache/record"

// Hooks lightweight callbacks for high-signal protocol events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// Get served a value.
	Hit(storageKey string)

	// Get found nothing usable.
	// reason ∈ {"absent", "no_value", "invalidated"}
	Miss(storageKey, reason string)

	// Set stored a value at ts.
	WriteAccepted(storageKey string, ts record.Timestamp)

	// Set carried a timestamp older than the recorded cutoff
	// (latest of write and invalidation timestamps) and changed nothing.
	WriteRejected(storageKey string, ts, cutoff record.Timestamp)

	// Invalidate raised the key's cutoff to ts.
	InvalidateAccepted(storageKey string, ts record.Timestamp)

	// Invalidate carried a timestamp older than the recorded cutoff.
	InvalidateRejected(storageKey string, ts, cutoff record.Timestamp)

	// A stored record failed to decode. Surfaced to the caller as an error,
	// never as a miss. storageKey may be empty when a bulk read fails before
	// the damaged member is known.
	CorruptRecord(storageKey string, err error)

	// A value failed to encode or decode (err is a *CodecError).
	CodecFailure(storageKey string, err error)

	// An update ran out of optimistic-concurrency retries (store.ErrConflict).
	UpdateConflict(storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                                                 {}
func (NopHooks) Miss(string, string)                                        {}
func (NopHooks) WriteAccepted(string, record.Timestamp)                     {}
func (NopHooks) WriteRejected(string, record.Timestamp, record.Timestamp)   {}
func (NopHooks) InvalidateAccepted(string, record.Timestamp)                {}
func (NopHooks) InvalidateRejected(string, record.Timestamp, record.Timestamp) {
}
func (NopHooks) CorruptRecord(string, error)  {}
func (NopHooks) CodecFailure(string, error)   {}
func (NopHooks) UpdateConflict(string, error) {}
