// Package vlq implements the variable-length integer encoding used
// throughout the on-disk formats: 7 data bits per byte, most-significant
// group first, with the continuation bit (0x80) set on every byte except
// the last.
package vlq

import (
	"errors"
	"io"
)

// MaxBytes bounds how many bytes a single VLQ may occupy before the reader
// gives up and reports corruption; 10 bytes is exactly enough for a full
// 64-bit unsigned value's 7-bit groups.
const MaxBytes = 10

// ErrCorrupt is returned when a VLQ exceeds MaxBytes without terminating.
var ErrCorrupt = errors.New("vlq: value too long, stream is corrupt")

// SizeUvlq returns the number of bytes AppendUvlq would emit for v.
func SizeUvlq(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendUvlq appends the unsigned VLQ encoding of v to dst.
func AppendUvlq(dst []byte, v uint64) []byte {
	var groups [MaxBytes]byte
	i := len(groups)
	i--
	groups[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		groups[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	return append(dst, groups[i:]...)
}

// AppendVlq appends the signed VLQ encoding of v to dst. The sign occupies
// the low bit of the zig-zag-biased unsigned magnitude: non-negative values
// map to 2v, negative values map to 2(-v-1)+1.
func AppendVlq(dst []byte, v int64) []byte {
	var u uint64
	if v < 0 {
		u = uint64(-(v+1))<<1 | 1
	} else {
		u = uint64(v) << 1
	}
	return AppendUvlq(dst, u)
}

// ReadUvlq reads an unsigned VLQ from r.
func ReadUvlq(r io.ByteReader) (uint64, error) {
	var v uint64
	for i := 0; ; i++ {
		if i >= MaxBytes {
			return 0, ErrCorrupt
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// ReadVlq reads a signed VLQ from r.
func ReadVlq(r io.ByteReader) (int64, error) {
	u, err := ReadUvlq(r)
	if err != nil {
		return 0, err
	}
	if u&1 != 0 {
		return -int64(u>>1) - 1, nil
	}
	return int64(u >> 1), nil
}
