// Package bytebuf provides an owning, growable in-memory byte container that
// satisfies the iodevice.Device contract, plus a read-only view over
// externally owned bytes. Adapted from the seekable in-memory buffer used to
// stage compact-index bucket writes before they hit disk.
package bytebuf

import (
	"io"

	"github.com/rpcpool/btreedb/internal/iodevice"
)

// Buffer is an owning, resizable byte container and iodevice.Device.
type Buffer struct {
	buf []byte
	pos int64
}

// New returns an empty, writable Buffer.
func New() *Buffer {
	return &Buffer{}
}

// FromBytes takes ownership of buf without copying.
func FromBytes(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Bytes returns the live contents. The caller must not retain it across
// subsequent mutating calls.
func (b *Buffer) Bytes() []byte { return b.buf }

// Take moves the contents out of the Buffer, leaving it empty.
func (b *Buffer) Take() []byte {
	out := b.buf
	b.buf = nil
	b.pos = 0
	return out
}

// Reserve grows the backing array's capacity without changing length.
func (b *Buffer) Reserve(n int) {
	if cap(b.buf) >= n {
		return
	}
	grown := make([]byte, len(b.buf), n)
	copy(grown, b.buf)
	b.buf = grown
}

// Clear truncates the buffer to zero length and resets the cursor.
func (b *Buffer) Clear() {
	b.buf = b.buf[:0]
	b.pos = 0
}

func (b *Buffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		b.Resize(end)
	}
	n := copy(b.buf[b.pos:end], p)
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) ReadFull(p []byte) error {
	n, err := b.Read(p)
	if n == len(p) {
		return nil
	}
	if err != nil && err != io.EOF {
		return err
	}
	return iodevice.ErrEndOfStream
}

func (b *Buffer) WriteFull(p []byte) error {
	_, err := b.Write(p)
	return err
}

func (b *Buffer) ReadAbsolute(pos int64, p []byte) (int, error) {
	if pos < 0 || pos >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[pos:])
	if n < len(p) {
		return n, iodevice.ErrEndOfStream
	}
	return n, nil
}

func (b *Buffer) WriteAbsolute(pos int64, p []byte) (int, error) {
	end := pos + int64(len(p))
	if end > int64(len(b.buf)) {
		b.Resize(end)
	}
	return copy(b.buf[pos:end], p), nil
}

func (b *Buffer) Pos() int64 { return b.pos }

func (b *Buffer) Seek(pos int64, mode iodevice.SeekMode) (int64, error) {
	switch mode {
	case iodevice.SeekAbsolute:
		b.pos = pos
	case iodevice.SeekRelative:
		b.pos += pos
	case iodevice.SeekEnd:
		b.pos = int64(len(b.buf)) + pos
	}
	if b.pos < 0 {
		b.pos = 0
	}
	return b.pos, nil
}

func (b *Buffer) Size() (int64, error) { return int64(len(b.buf)), nil }

func (b *Buffer) Resize(n int64) error {
	if n < 0 {
		return iodevice.ErrEndOfStream
	}
	if int64(len(b.buf)) == n {
		return nil
	}
	if int64(cap(b.buf)) >= n {
		old := int64(len(b.buf))
		b.buf = b.buf[:n]
		if n > old {
			clear(b.buf[old:n])
		}
		return nil
	}
	grown := make([]byte, n)
	copy(grown, b.buf)
	b.buf = grown
	return nil
}

func (b *Buffer) Sync() error { return nil }

func (b *Buffer) AtEnd() (bool, error) { return b.pos >= int64(len(b.buf)), nil }

func (b *Buffer) Mode() iodevice.Mode { return iodevice.Read | iodevice.Write }

func (b *Buffer) Close() error { return nil }

// ReadOnlyView wraps externally owned bytes and fails every write.
type ReadOnlyView struct {
	buf []byte
	pos int64
}

func NewReadOnlyView(buf []byte) *ReadOnlyView {
	return &ReadOnlyView{buf: buf}
}

func (v *ReadOnlyView) Read(p []byte) (int, error) {
	if v.pos >= int64(len(v.buf)) {
		return 0, io.EOF
	}
	n := copy(p, v.buf[v.pos:])
	v.pos += int64(n)
	return n, nil
}

func (v *ReadOnlyView) Write(p []byte) (int, error) { return 0, iodevice.ErrReadOnly }

func (v *ReadOnlyView) ReadFull(p []byte) error {
	n, err := v.Read(p)
	if n == len(p) {
		return nil
	}
	if err != nil && err != io.EOF {
		return err
	}
	return iodevice.ErrEndOfStream
}

func (v *ReadOnlyView) WriteFull(p []byte) error { return iodevice.ErrReadOnly }

func (v *ReadOnlyView) ReadAbsolute(pos int64, p []byte) (int, error) {
	if pos < 0 || pos >= int64(len(v.buf)) {
		return 0, io.EOF
	}
	n := copy(p, v.buf[pos:])
	if n < len(p) {
		return n, iodevice.ErrEndOfStream
	}
	return n, nil
}

func (v *ReadOnlyView) WriteAbsolute(pos int64, p []byte) (int, error) {
	return 0, iodevice.ErrReadOnly
}

func (v *ReadOnlyView) Pos() int64 { return v.pos }

func (v *ReadOnlyView) Seek(pos int64, mode iodevice.SeekMode) (int64, error) {
	switch mode {
	case iodevice.SeekAbsolute:
		v.pos = pos
	case iodevice.SeekRelative:
		v.pos += pos
	case iodevice.SeekEnd:
		v.pos = int64(len(v.buf)) + pos
	}
	return v.pos, nil
}

func (v *ReadOnlyView) Size() (int64, error) { return int64(len(v.buf)), nil }

func (v *ReadOnlyView) Resize(n int64) error { return iodevice.ErrReadOnly }

func (v *ReadOnlyView) Sync() error { return nil }

func (v *ReadOnlyView) AtEnd() (bool, error) { return v.pos >= int64(len(v.buf)), nil }

func (v *ReadOnlyView) Mode() iodevice.Mode { return iodevice.Read }

func (v *ReadOnlyView) Close() error { return nil }

var (
	_ iodevice.Device = (*Buffer)(nil)
	_ iodevice.Device = (*ReadOnlyView)(nil)
)
