package asset

import (
	"github.com/rpcpool/btreedb/internal/iodevice"
)

// assetView is a read-only iodevice.Device that maps positions [0, size)
// onto absolute positions [offset, offset+size) of an underlying device,
// with its own independent cursor. Grounded on the reference C++
// PackedAssetSource::open's AssetReader: a windowed, read-only view that
// forwards absolute reads to the backing file.
type assetView struct {
	dev    iodevice.Device
	offset int64
	size   int64
	pos    int64
}

func newAssetView(dev iodevice.Device, offset, size int64) *assetView {
	return &assetView{dev: dev, offset: offset, size: size}
}

var _ iodevice.Device = (*assetView)(nil)

func (v *assetView) Read(p []byte) (int, error) {
	n := int64(len(p))
	if rem := v.size - v.pos; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, nil
	}
	read, err := v.dev.ReadAbsolute(v.offset+v.pos, p[:n])
	v.pos += int64(read)
	return read, err
}

func (v *assetView) Write(p []byte) (int, error) { return 0, iodevice.ErrReadOnly }

func (v *assetView) ReadFull(p []byte) error {
	n, err := v.Read(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return iodevice.ErrEndOfStream
	}
	return nil
}

func (v *assetView) WriteFull(p []byte) error { return iodevice.ErrReadOnly }

func (v *assetView) ReadAbsolute(pos int64, p []byte) (int, error) {
	n := int64(len(p))
	if rem := v.size - pos; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, nil
	}
	return v.dev.ReadAbsolute(v.offset+pos, p[:n])
}

func (v *assetView) WriteAbsolute(pos int64, p []byte) (int, error) {
	return 0, iodevice.ErrReadOnly
}

func (v *assetView) Pos() int64 { return v.pos }

func (v *assetView) Seek(pos int64, mode iodevice.SeekMode) (int64, error) {
	switch mode {
	case iodevice.SeekAbsolute:
		v.pos = clamp(pos, 0, v.size)
	case iodevice.SeekRelative:
		v.pos = clamp(v.pos+pos, 0, v.size)
	case iodevice.SeekEnd:
		v.pos = clamp(v.size-pos, 0, v.size)
	}
	return v.pos, nil
}

func (v *assetView) Size() (int64, error) { return v.size, nil }

func (v *assetView) Resize(n int64) error { return iodevice.ErrReadOnly }

func (v *assetView) Sync() error { return nil }

func (v *assetView) AtEnd() (bool, error) { return v.pos >= v.size, nil }

func (v *assetView) Mode() iodevice.Mode { return iodevice.Read }

func (v *assetView) Close() error { return nil }

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
