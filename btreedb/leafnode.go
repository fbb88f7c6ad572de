package btreedb

import (
	"slices"

	"github.com/rpcpool/btreedb/btree"
	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/byteorder"
	"github.com/rpcpool/btreedb/internal/datastream"
	"github.com/rpcpool/btreedb/internal/vlq"
)

const leafMagic = "LL"

// leafBlockOverhead is the per-block framing cost: the 2-byte "LL" magic and
// the trailing 4-byte next-block pointer that every block in a leaf's chain
// reserves, whether or not the chain continues.
const leafBlockOverhead = 2 + 4

// leafNode is the in-memory, mutable view of one leaf's elements, held in
// ascending key order. It has no notion of block chaining; that framing is
// applied only at store/load time by the backend.
type leafNode struct {
	keys   [][]byte
	values [][]byte
}

var _ btree.LeafNode = (*leafNode)(nil)

func (n *leafNode) Count() int          { return len(n.keys) }
func (n *leafNode) KeyAt(i int) []byte  { return n.keys[i] }
func (n *leafNode) ValueAt(i int) []byte { return n.values[i] }

func (n *leafNode) InsertAt(i int, key, value []byte) {
	n.keys = slices.Insert(n.keys, i, key)
	n.values = slices.Insert(n.values, i, value)
}

func (n *leafNode) RemoveAt(i int) {
	n.keys = slices.Delete(n.keys, i, i+1)
	n.values = slices.Delete(n.values, i, i+1)
}

// The block backend never persists a next-leaf sibling pointer (see §4.8);
// range scans fall back to the ancestor-based advance in package btree.
func (n *leafNode) NextLeaf() (btree.Pointer, bool)    { return 0, false }
func (n *leafNode) SetNextLeaf(btree.Pointer, bool) {}

// elementSize is the nominal encoded size of one (key, value) pair: a fixed
// key plus a VLQ-length-prefixed value.
func elementSize(key, value []byte) int {
	return len(key) + vlq.SizeUvlq(uint64(len(value))) + len(value)
}

// serializedSize is the total encoded size of the element stream, including
// the leading element-count field.
func serializedSize(n *leafNode) int {
	total := 4
	for i := range n.keys {
		total += elementSize(n.keys[i], n.values[i])
	}
	return total
}

func encodeElements(n *leafNode) []byte {
	buf := bytebuf.New()
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	s.WriteU32(uint32(len(n.keys)))
	for i := range n.keys {
		buf.WriteFull(n.keys[i])
		s.WriteUvlq(uint64(len(n.values[i])))
		buf.WriteFull(n.values[i])
	}
	return buf.Bytes()
}

func decodeElements(raw []byte, keySize uint32) (*leafNode, error) {
	buf := bytebuf.FromBytes(raw)
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	count, err := s.ReadU32()
	if err != nil {
		return nil, &DataStreamError{Err: err}
	}
	n := &leafNode{keys: make([][]byte, 0, count), values: make([][]byte, 0, count)}
	for i := 0; i < int(count); i++ {
		key := make([]byte, keySize)
		if err := buf.ReadFull(key); err != nil {
			return nil, &IOError{Op: "read leaf key", Err: err}
		}
		length, err := s.ReadUvlq()
		if err != nil {
			return nil, &DataStreamError{Err: err}
		}
		value := make([]byte, length)
		if err := buf.ReadFull(value); err != nil {
			return nil, &IOError{Op: "read leaf value", Err: err}
		}
		n.keys = append(n.keys, key)
		n.values = append(n.values, value)
	}
	return n, nil
}

// leafSplitIndex decides whether n's serialized form exceeds one block
// (minus per-block framing) and, if so, at what element index to split so
// the left half fits. The minimum split index is 1, so a split always makes
// progress even when a single oversized element dominates the leaf.
func leafSplitIndex(n *leafNode, blockSize uint32) (int, bool) {
	limit := int(blockSize) - leafBlockOverhead
	total := serializedSize(n)
	if total <= limit {
		return 0, false
	}
	cum := 4
	for i := range n.keys {
		cum += elementSize(n.keys[i], n.values[i])
		if cum > limit {
			if i == 0 {
				return 1, true
			}
			return i, true
		}
	}
	return max(1, len(n.keys)-1), true
}
