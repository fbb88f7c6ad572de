package btreedb

import (
	"slices"

	"github.com/rpcpool/btreedb/btree"
	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/byteorder"
	"github.com/rpcpool/btreedb/internal/datastream"
)

const indexMagic = "II"

// indexNode is the in-memory, mutable view of one II block: a level, a
// begin-pointer, and N-1 (key, pointer) entries.
type indexNode struct {
	level    uint8
	pointers []BlockIndex
	keys     [][]byte
}

var _ btree.IndexNode = (*indexNode)(nil)

func (n *indexNode) Level() uint8      { return n.level }
func (n *indexNode) SetLevel(l uint8)  { n.level = l }
func (n *indexNode) Count() int        { return len(n.pointers) }
func (n *indexNode) Pointer(i int) btree.Pointer { return btree.Pointer(n.pointers[i]) }
func (n *indexNode) SetPointer(i int, p btree.Pointer) { n.pointers[i] = BlockIndex(p) }
func (n *indexNode) Key(i int) []byte  { return n.keys[i-1] }
func (n *indexNode) SetKey(i int, key []byte) { n.keys[i-1] = key }

func (n *indexNode) RemoveBefore(i int) {
	n.keys = slices.Delete(n.keys, i-1, i)
	n.pointers = slices.Delete(n.pointers, i, i+1)
}

func (n *indexNode) InsertAfter(i int, key []byte, p btree.Pointer) {
	n.keys = slices.Insert(n.keys, i, key)
	n.pointers = slices.Insert(n.pointers, i+1, BlockIndex(p))
}

// maxIndexPointers is the greatest pointer count N for which an index node
// with the given key size fits in one block.
func maxIndexPointers(blockSize, keySize uint32) int {
	// magic(2) + level(1) + count(4) + beginPointer(4)
	const fixedOverhead = 2 + 1 + 4 + 4
	perEntry := keySize + 4
	avail := int(blockSize) - fixedOverhead
	if avail < 0 {
		return 1
	}
	return avail/int(perEntry) + 1
}

func encodeIndexNode(n *indexNode, blockSize uint32) []byte {
	buf := bytebuf.New()
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	buf.WriteFull([]byte(indexMagic))
	s.WriteU8(n.level)
	s.WriteU32(uint32(len(n.pointers)))
	s.WriteU32(n.pointers[0])
	for i := 1; i < len(n.pointers); i++ {
		buf.WriteFull(n.keys[i-1])
		s.WriteU32(n.pointers[i])
	}
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out
}

func decodeIndexNode(raw []byte, keySize uint32) (*indexNode, error) {
	buf := bytebuf.FromBytes(raw)
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	magic := make([]byte, 2)
	if err := buf.ReadFull(magic); err != nil {
		return nil, &IOError{Op: "read index magic", Err: err}
	}
	if string(magic) != indexMagic {
		return nil, &FormatError{Msg: "index block missing II magic"}
	}
	level, err := s.ReadU8()
	if err != nil {
		return nil, &DataStreamError{Err: err}
	}
	count, err := s.ReadU32()
	if err != nil {
		return nil, &DataStreamError{Err: err}
	}
	begin, err := s.ReadU32()
	if err != nil {
		return nil, &DataStreamError{Err: err}
	}
	n := &indexNode{level: level, pointers: make([]BlockIndex, count), keys: make([][]byte, 0, count)}
	n.pointers[0] = begin
	for i := 1; i < int(count); i++ {
		key := make([]byte, keySize)
		if err := buf.ReadFull(key); err != nil {
			return nil, &IOError{Op: "read index key", Err: err}
		}
		p, err := s.ReadU32()
		if err != nil {
			return nil, &DataStreamError{Err: err}
		}
		n.keys = append(n.keys, key)
		n.pointers[i] = p
	}
	return n, nil
}
