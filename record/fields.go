package record

import (
	"errors"
	"fmt"
	"strconv"
)

// Stable field names for stores that keep records as named fields (hash maps,
// item attributes). These are part of the on-the-wire contract: independent
// writers interoperate only if they agree on them.
const (
	FieldWriteSec       = "ts_sec"
	FieldWriteNsec      = "ts_nsec"
	FieldInvalidateSec  = "inv_sec"
	FieldInvalidateNsec = "inv_nsec"
	FieldValue          = "v"
)

// CorruptError reports a stored record that cannot be decoded back into a
// Record. Corruption is never silently treated as a miss; callers surface it
// so the damaged key can be repaired or purged.
type CorruptError struct {
	Field string
	Cause error
}

func (e *CorruptError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record: corrupt record: %v", e.Cause)
	}
	return fmt.Sprintf("record: corrupt record: field %q: %v", e.Field, e.Cause)
}

func (e *CorruptError) Unwrap() error { return e.Cause }

// IsCorrupt reports whether err (or anything it wraps) is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// Fields flattens a record into store fields. The value field is present only
// when a value exists, so tombstone-only records carry timestamps alone.
func (r Record) Fields() map[string]any {
	m := map[string]any{
		FieldWriteSec:       strconv.FormatInt(r.Write.Sec, 10),
		FieldWriteNsec:      strconv.FormatInt(int64(r.Write.Nsec), 10),
		FieldInvalidateSec:  strconv.FormatInt(r.Invalidate.Sec, 10),
		FieldInvalidateNsec: strconv.FormatInt(int64(r.Invalidate.Nsec), 10),
	}
	if r.HasValue() {
		m[FieldValue] = r.Value
	}
	return m
}

// FromFields rebuilds a record from store fields. Missing timestamp fields
// read as zero, so a bare value written by a non-conforming client still
// round-trips. A timestamp field that is present but unparsable is reported
// as a CorruptError.
func FromFields(fields map[string]string) (Record, error) {
	var r Record
	var err error
	if r.Write.Sec, err = fieldInt64(fields, FieldWriteSec); err != nil {
		return Record{}, err
	}
	if r.Write.Nsec, err = fieldInt32(fields, FieldWriteNsec); err != nil {
		return Record{}, err
	}
	if r.Invalidate.Sec, err = fieldInt64(fields, FieldInvalidateSec); err != nil {
		return Record{}, err
	}
	if r.Invalidate.Nsec, err = fieldInt32(fields, FieldInvalidateNsec); err != nil {
		return Record{}, err
	}
	if v, ok := fields[FieldValue]; ok {
		r.Value = []byte(v)
	}
	return r, nil
}

func fieldInt64(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &CorruptError{Field: name, Cause: err}
	}
	return n, nil
}

func fieldInt32(fields map[string]string, name string) (int32, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, &CorruptError{Field: name, Cause: err}
	}
	return int32(n), nil
}
