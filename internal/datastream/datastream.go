// Package datastream is the typed serialization overlay used by both the
// block-file backend and the packed asset archive: fixed-width primitives
// with endianness conversion, length-prefixed or NUL-terminated strings and
// byte arrays, VLQ integers, and generic container helpers. It is the only
// on-disk vocabulary for non-fixed-offset fields.
package datastream

import (
	"errors"
	"math"

	"github.com/rpcpool/btreedb/internal/byteorder"
	"github.com/rpcpool/btreedb/internal/iodevice"
	"github.com/rpcpool/btreedb/internal/vlq"
)

// StringMode selects how String/Bytes are framed.
type StringMode int

const (
	// LengthPrefixed frames strings and byte arrays with an unsigned VLQ
	// length prefix.
	LengthPrefixed StringMode = iota
	// NulTerminated frames strings with a trailing 0x00 byte. Not valid for
	// arbitrary byte arrays that may themselves contain a NUL.
	NulTerminated
)

// ErrCorrupt is returned when a length-prefixed field claims more bytes than
// remain in the stream, or a NUL terminator is never found.
var ErrCorrupt = errors.New("datastream: corrupt framing")

// NPos is the sentinel "absent" value for VLQ-sized fields: 0 on the wire
// means absent, any other wire value n+1 means present with value n.
const NPos = ^uint64(0)

// Stream is a typed reader/writer bound to an iodevice.Device.
type Stream struct {
	Dev        iodevice.Device
	Order      byteorder.Order
	StringMode StringMode
	Version    int
}

// New returns a Stream over dev with the default big-endian order and
// length-prefixed strings.
func New(dev iodevice.Device) *Stream {
	return &Stream{Dev: dev, Order: byteorder.BigEndian, StringMode: LengthPrefixed}
}

func (s *Stream) byteReader() byteReader { return byteReader{s.Dev} }

// byteReader adapts iodevice.Device to io.ByteReader for the vlq package.
type byteReader struct{ dev iodevice.Device }

func (r byteReader) ReadByte() (byte, error) {
	var b [1]byte
	if err := r.dev.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) writeFixed(buf []byte) error {
	byteorder.ToByteOrder(s.Order, buf)
	return s.Dev.WriteFull(buf)
}

func (s *Stream) readFixed(buf []byte) error {
	if err := s.Dev.ReadFull(buf); err != nil {
		return err
	}
	byteorder.FromByteOrder(s.Order, buf)
	return nil
}

func (s *Stream) WriteU8(v uint8) error { return s.Dev.WriteFull([]byte{v}) }
func (s *Stream) ReadU8() (uint8, error) {
	var b [1]byte
	if err := s.Dev.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) WriteI8(v int8) error { return s.WriteU8(uint8(v)) }
func (s *Stream) ReadI8() (int8, error) {
	v, err := s.ReadU8()
	return int8(v), err
}

func (s *Stream) WriteBool(v bool) error {
	if v {
		return s.WriteU8(1)
	}
	return s.WriteU8(0)
}
func (s *Stream) ReadBool() (bool, error) {
	v, err := s.ReadU8()
	return v != 0, err
}

// writeFixed/readFixed convert between a value's host-order byte layout and
// the stream's configured wire order, so WriteU16/32/64 always assemble the
// host-order bytes here and let writeFixed do the (possible) swap.

func (s *Stream) WriteU16(v uint16) error {
	buf := []byte{byte(v), byte(v >> 8)}
	return s.writeFixed(buf)
}
func (s *Stream) ReadU16() (uint16, error) {
	var buf [2]byte
	if err := s.readFixed(buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (s *Stream) WriteU32(v uint32) error {
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return s.writeFixed(buf)
}
func (s *Stream) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := s.readFixed(buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func (s *Stream) WriteU64(v uint64) error {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return s.writeFixed(buf)
}
func (s *Stream) ReadU64() (uint64, error) {
	var buf [8]byte
	if err := s.readFixed(buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

func (s *Stream) WriteI16(v int16) error { return s.WriteU16(uint16(v)) }
func (s *Stream) ReadI16() (int16, error) {
	v, err := s.ReadU16()
	return int16(v), err
}
func (s *Stream) WriteI32(v int32) error { return s.WriteU32(uint32(v)) }
func (s *Stream) ReadI32() (int32, error) {
	v, err := s.ReadU32()
	return int32(v), err
}
func (s *Stream) WriteI64(v int64) error { return s.WriteU64(uint64(v)) }
func (s *Stream) ReadI64() (int64, error) {
	v, err := s.ReadU64()
	return int64(v), err
}

func (s *Stream) WriteFloat32(v float32) error { return s.WriteU32(math.Float32bits(v)) }
func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadU32()
	return math.Float32frombits(v), err
}
func (s *Stream) WriteFloat64(v float64) error { return s.WriteU64(math.Float64bits(v)) }
func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadU64()
	return math.Float64frombits(v), err
}

func (s *Stream) WriteUvlq(v uint64) error {
	return s.Dev.WriteFull(vlq.AppendUvlq(nil, v))
}
func (s *Stream) ReadUvlq() (uint64, error) { return vlq.ReadUvlq(s.byteReader()) }

func (s *Stream) WriteVlq(v int64) error {
	return s.Dev.WriteFull(vlq.AppendVlq(nil, v))
}
func (s *Stream) ReadVlq() (int64, error) { return vlq.ReadVlq(s.byteReader()) }

// WriteVlqSized writes an "optional length" field: NPos maps to wire value
// 0, any other n maps to wire value n+1.
func (s *Stream) WriteVlqSized(n uint64) error {
	if n == NPos {
		return s.WriteUvlq(0)
	}
	return s.WriteUvlq(n + 1)
}

// ReadVlqSized reads a field written by WriteVlqSized, returning NPos for
// "absent".
func (s *Stream) ReadVlqSized() (uint64, error) {
	v, err := s.ReadUvlq()
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return NPos, nil
	}
	return v - 1, nil
}

// WriteBytes writes a byte array framed per s.StringMode (NUL framing is
// rejected for byte arrays since they may themselves contain 0x00).
func (s *Stream) WriteBytes(b []byte) error {
	if s.StringMode == NulTerminated {
		return errors.New("datastream: byte arrays require length-prefixed framing")
	}
	if err := s.WriteUvlq(uint64(len(b))); err != nil {
		return err
	}
	return s.Dev.WriteFull(b)
}

func (s *Stream) ReadBytes() ([]byte, error) {
	n, err := s.ReadUvlq()
	if err != nil {
		return nil, err
	}
	if size, err := s.Dev.Size(); err == nil && n > uint64(size-s.Dev.Pos()) {
		return nil, ErrCorrupt
	}
	buf := make([]byte, n)
	if err := s.Dev.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes a string framed per s.StringMode.
func (s *Stream) WriteString(str string) error {
	if s.StringMode == NulTerminated {
		if err := s.Dev.WriteFull([]byte(str)); err != nil {
			return err
		}
		return s.WriteU8(0)
	}
	if err := s.WriteUvlq(uint64(len(str))); err != nil {
		return err
	}
	return s.Dev.WriteFull([]byte(str))
}

func (s *Stream) ReadString() (string, error) {
	if s.StringMode == NulTerminated {
		var buf []byte
		for {
			b, err := s.ReadU8()
			if err == iodevice.ErrEndOfStream {
				return "", ErrCorrupt
			}
			if err != nil {
				return "", err
			}
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
	}
	b, err := s.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteContainer writes n as a VLQ length prefix, then invokes write once
// per element index in [0, n).
func (s *Stream) WriteContainer(n int, write func(i int) error) error {
	if err := s.WriteUvlq(uint64(n)); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := write(i); err != nil {
			return err
		}
	}
	return nil
}

// ReadContainer reads a VLQ length prefix, then invokes read once per
// element index in [0, n).
func (s *Stream) ReadContainer(read func(i int) error) (int, error) {
	n, err := s.ReadUvlq()
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		if err := read(i); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// WriteMapContainer writes len(keys) as a VLQ length prefix, then invokes
// write once per key in iteration order.
func (s *Stream) WriteMapContainer(keys []string, write func(key string) error) error {
	if err := s.WriteUvlq(uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.WriteString(k); err != nil {
			return err
		}
		if err := write(k); err != nil {
			return err
		}
	}
	return nil
}

// ReadMapContainer reads a VLQ length prefix, then invokes read once per
// entry with the entry's key already consumed from the stream.
func (s *Stream) ReadMapContainer(read func(key string) error) error {
	n, err := s.ReadUvlq()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		key, err := s.ReadString()
		if err != nil {
			return err
		}
		if err := read(key); err != nil {
			return err
		}
	}
	return nil
}
