package record

import (
	"fmt"
	"time"
)

// Timestamp is a caller-supplied (seconds, nanoseconds) pair. It is the only
// ordering signal between writes and invalidations: the store never assigns
// timestamps itself. Writers on different machines are ordered correctly only
// to the extent their clocks agree; that tolerance is an assumption of the
// protocol, not something it enforces.
type Timestamp struct {
	Sec  int64
	Nsec int32
}

// Compare returns -1 if a < b, 0 if a == b, +1 if a > b.
// Seconds are compared first, then nanoseconds.
func Compare(a, b Timestamp) int {
	switch {
	case a.Sec < b.Sec:
		return -1
	case a.Sec > b.Sec:
		return 1
	case a.Nsec < b.Nsec:
		return -1
	case a.Nsec > b.Nsec:
		return 1
	default:
		return 0
	}
}

func (t Timestamp) Before(o Timestamp) bool { return Compare(t, o) < 0 }
func (t Timestamp) After(o Timestamp) bool  { return Compare(t, o) > 0 }
func (t Timestamp) Equal(o Timestamp) bool  { return t == o }
func (t Timestamp) IsZero() bool            { return t == Timestamp{} }

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

// Max returns the later of a and b.
func Max(a, b Timestamp) Timestamp {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Now derives a Timestamp from the wall clock.
func Now() Timestamp {
	now := time.Now()
	return Timestamp{Sec: now.Unix(), Nsec: int32(now.Nanosecond())}
}
