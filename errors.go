package tscache

import (
	"fmt"
)

// CodecError reports a value that could not be serialized or deserialized.
// It is fatal for the single call that produced it; the stored record, if
// any, is left untouched.
type CodecError struct {
	Key string
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("tscache: %s value for %q: %v", e.Op, e.Key, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }
