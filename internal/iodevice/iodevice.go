// Package iodevice defines the random-access byte device contract shared by
// the block-file backend and the packed asset archive, plus a filesystem
// implementation. The in-memory devices live in package bytebuf.
package iodevice

import (
	"errors"
	"io"
	"os"
)

// SeekMode selects the reference point for Seek.
type SeekMode int

const (
	SeekAbsolute SeekMode = iota
	SeekRelative
	SeekEnd
)

// Mode gates which operations a Device permits.
type Mode int

const (
	Closed Mode = 0
	Read   Mode = 1 << iota
	Write
	Append
	Truncate
)

func (m Mode) CanRead() bool  { return m&Read != 0 }
func (m Mode) CanWrite() bool { return m&Write != 0 }

// ErrEndOfStream is returned when a ReadFull/WriteFull could not transfer the
// full requested length.
var ErrEndOfStream = errors.New("iodevice: end of stream")

// ErrReadOnly is returned by any mutating call on a device opened Read-only.
var ErrReadOnly = errors.New("iodevice: device is read-only")

// ErrClosed names the closed-device condition. No Device in this module
// returns it: a closed File reports the os package's own error instead.
var ErrClosed = errors.New("iodevice: device is closed")

// Device is a random-access byte device: read, write, seek, size, resize,
// sync, atEnd. Absolute reads/writes do not disturb the cursor.
type Device interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	ReadFull(p []byte) error
	WriteFull(p []byte) error

	ReadAbsolute(pos int64, p []byte) (n int, err error)
	WriteAbsolute(pos int64, p []byte) (n int, err error)

	Pos() int64
	Seek(pos int64, mode SeekMode) (int64, error)
	Size() (int64, error)
	Resize(n int64) error
	Sync() error
	AtEnd() (bool, error)

	Mode() Mode
	Close() error
}

// readFull is the short-transfer-rejecting helper behind File.ReadFull;
// writeFull is its counterpart for File.WriteFull.
func readFull(read func([]byte) (int, error), p []byte) error {
	total := 0
	for total < len(p) {
		n, err := read(p[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(p) {
				return nil
			}
			return ErrEndOfStream
		}
		if n == 0 {
			return ErrEndOfStream
		}
	}
	return nil
}

func writeFull(write func([]byte) (int, error), p []byte) error {
	total := 0
	for total < len(p) {
		n, err := write(p[total:])
		total += n
		if err != nil {
			return ErrEndOfStream
		}
		if n == 0 {
			return ErrEndOfStream
		}
	}
	return nil
}

// File is a filesystem-backed Device.
type File struct {
	f    *os.File
	mode Mode
}

// Open opens path under mode, creating it if Write is set and it does not
// exist. Truncate truncates an existing file to zero length at open time.
func Open(path string, mode Mode) (*File, error) {
	var flag int
	switch {
	case mode.CanRead() && mode.CanWrite():
		flag = os.O_RDWR | os.O_CREATE
	case mode.CanWrite():
		flag = os.O_WRONLY | os.O_CREATE
	default:
		flag = os.O_RDONLY
	}
	if mode&Append != 0 {
		flag |= os.O_APPEND
	}
	if mode&Truncate != 0 {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: f, mode: mode}, nil
}

func (d *File) Read(p []byte) (int, error)  { return d.f.Read(p) }
func (d *File) Write(p []byte) (int, error) {
	if !d.mode.CanWrite() {
		return 0, ErrReadOnly
	}
	return d.f.Write(p)
}
func (d *File) ReadFull(p []byte) error  { return readFull(d.f.Read, p) }
func (d *File) WriteFull(p []byte) error {
	if !d.mode.CanWrite() {
		return ErrReadOnly
	}
	return writeFull(d.f.Write, p)
}

func (d *File) ReadAbsolute(pos int64, p []byte) (int, error) {
	n, err := d.f.ReadAt(p, pos)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n < len(p) {
		return n, ErrEndOfStream
	}
	return n, nil
}

func (d *File) WriteAbsolute(pos int64, p []byte) (int, error) {
	if !d.mode.CanWrite() {
		return 0, ErrReadOnly
	}
	return d.f.WriteAt(p, pos)
}

func (d *File) Pos() int64 {
	p, _ := d.f.Seek(0, io.SeekCurrent)
	return p
}

func (d *File) Seek(pos int64, mode SeekMode) (int64, error) {
	switch mode {
	case SeekAbsolute:
		return d.f.Seek(pos, io.SeekStart)
	case SeekRelative:
		return d.f.Seek(pos, io.SeekCurrent)
	case SeekEnd:
		return d.f.Seek(pos, io.SeekEnd)
	default:
		return 0, errors.New("iodevice: invalid seek mode")
	}
}

func (d *File) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *File) Resize(n int64) error {
	if !d.mode.CanWrite() {
		return ErrReadOnly
	}
	return d.f.Truncate(n)
}
func (d *File) Sync() error          { return d.f.Sync() }

func (d *File) AtEnd() (bool, error) {
	size, err := d.Size()
	if err != nil {
		return false, err
	}
	return d.Pos() >= size, nil
}

func (d *File) Mode() Mode  { return d.mode }
func (d *File) Close() error { return d.f.Close() }
