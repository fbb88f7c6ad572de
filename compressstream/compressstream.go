// Package compressstream provides the incremental, long-window LZ-family
// compressor/decompressor used for bulk-serialized payloads that live
// outside the B+ tree's per-block layout (for example the snapshot file
// written by btdbtool's "db snapshot" command). It is not used by the block
// backend itself.
package compressstream

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

// Compressor incrementally compresses bytes into a dynamically growing
// output buffer.
type Compressor struct {
	out bytes.Buffer
	enc *zstd.Encoder
}

// NewCompressor returns a Compressor targeting a window log around 24, the
// long-window setting used for bulk payloads.
func NewCompressor() (*Compressor, error) {
	c := &Compressor{}
	enc, err := zstd.NewWriter(&c.out, zstd.WithWindowSize(1<<24))
	if err != nil {
		return nil, err
	}
	c.enc = enc
	return c, nil
}

// Write feeds more uncompressed bytes into the stream.
func (c *Compressor) Write(p []byte) (int, error) { return c.enc.Write(p) }

// Finish flushes and closes the underlying encoder and returns the full
// compressed output collected so far.
func (c *Compressor) Finish() ([]byte, error) {
	if err := c.enc.Close(); err != nil {
		return nil, err
	}
	return c.out.Bytes(), nil
}

// Decompressor decompresses complete compressed payloads, one per call;
// unlike Compressor it does not accept input piece by piece.
type Decompressor struct {
	dec *zstd.Decoder
	out bytes.Buffer
}

// NewDecompressor returns a Decompressor over a long window (window log 25,
// matching the one-step-larger decompression window of the reference
// format).
func NewDecompressor() (*Decompressor, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxWindow(1<<25))
	if err != nil {
		return nil, err
	}
	return &Decompressor{dec: dec}, nil
}

// Decompress decompresses a complete compressed payload in one call.
func (d *Decompressor) Decompress(compressed []byte) ([]byte, error) {
	return d.dec.DecodeAll(compressed, nil)
}

// Close releases the decoder's background resources.
func (d *Decompressor) Close() { d.dec.Close() }

// CompressAll is a convenience one-shot helper equivalent to constructing a
// Compressor, writing p, and calling Finish.
func CompressAll(p []byte) ([]byte, error) {
	c, err := NewCompressor()
	if err != nil {
		return nil, err
	}
	if _, err := c.Write(p); err != nil {
		return nil, err
	}
	return c.Finish()
}

// DecompressAll is a convenience one-shot helper equivalent to constructing
// a Decompressor and calling Decompress once.
func DecompressAll(compressed []byte) ([]byte, error) {
	d, err := NewDecompressor()
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Decompress(compressed)
}
