// Package wire frames a record as a single opaque blob for stores that hold
// one []byte per key and have no native field or TTL support.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/unkn0wn-root/tscache/record"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("tscache: corrupt frame")
	magic4     = [...]byte{'T', 'S', 'R', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | ts_sec(i64 be) | ts_nsec(i32 be) | inv_sec(i64 be) | inv_nsec(i32 be) | deadline_ms(i64 be) | vlen(u32 be) | v(vlen)
//
// deadline_ms is the unix-millisecond instant after which the frame counts as
// gone; zero means no deadline. It stands in for per-key TTL on backends that
// lack one.
func Encode(rec record.Record, deadlineMS int64) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 8 + 4 + 8 + 4 + 8 + 4 + len(rec.Value))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(rec.Write.Sec))
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(rec.Write.Nsec))
	buf.Write(u4[:])

	binary.BigEndian.PutUint64(u8[:], uint64(rec.Invalidate.Sec))
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(rec.Invalidate.Nsec))
	buf.Write(u4[:])

	binary.BigEndian.PutUint64(u8[:], uint64(deadlineMS))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(rec.Value)))
	buf.Write(u4[:])
	buf.Write(rec.Value)

	return buf.Bytes()
}

// Decode parses a frame. The returned value aliases b; callers that outlive b
// must copy. A frame with trailing bytes is corrupt.
func Decode(b []byte) (record.Record, int64, error) {
	const hdr = 4 + 1 + 8 + 4 + 8 + 4 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return record.Record{}, 0, ErrCorrupt
	}

	off := 5

	var rec record.Record
	rec.Write.Sec = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	rec.Write.Nsec = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	rec.Invalidate.Sec = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	rec.Invalidate.Nsec = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	deadlineMS := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return record.Record{}, 0, ErrCorrupt
	}
	if vlen > 0 {
		rec.Value = b[off : off+vlen]
	}

	return rec, deadlineMS, nil
}
