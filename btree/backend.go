// Package btree implements the storage-independent B+ tree algorithm:
// lookup, range scan, traversal, recovery, and the recursive insert/remove
// descent with split/merge/shift handling. It owns no I/O; every concrete
// effect is delegated to a Backend implementation (see package btreedb for
// the block-file-backed one).
package btree

import "bytes"

// Pointer identifies a node (index or leaf) within a Backend. Its concrete
// meaning (a block index, an in-memory slice index, ...) is entirely up to
// the Backend.
type Pointer uint32

// InvalidPointer is the sentinel meaning "no node".
const InvalidPointer Pointer = 0xFFFFFFFF

// IndexNode is an in-memory, mutable view of an index node: a level, a
// begin-pointer, and N-1 (key, pointer) entries where pointer(i) covers keys
// less than key(i+1), and pointer(0) covers the open-left range.
type IndexNode interface {
	Level() uint8
	SetLevel(level uint8)

	// Count returns the number of pointers (N). There are Count-1 keys.
	Count() int
	Pointer(i int) Pointer
	SetPointer(i int, p Pointer)
	// Key returns the separating key before pointer i, for i in [1, Count-1].
	Key(i int) []byte
	SetKey(i int, key []byte)

	// RemoveBefore removes the (key, pointer) pair that separates pointer
	// i-1 from pointer i, i.e. deletes key(i) and pointer(i).
	RemoveBefore(i int)
	// InsertAfter inserts a new (key, pointer) pair after slot i, i.e. the
	// new pointer becomes pointer(i+1) and the new key becomes key(i+1).
	InsertAfter(i int, key []byte, p Pointer)
}

// LeafNode is an in-memory, mutable view of one leaf's elements, kept in
// ascending key order.
type LeafNode interface {
	Count() int
	KeyAt(i int) []byte
	ValueAt(i int) []byte
	InsertAt(i int, key, value []byte)
	RemoveAt(i int)

	// NextLeaf returns the sibling leaf pointer and whether the backend
	// tracks one at all. A backend that reports ok=false disables the
	// range-scan "already visited" optimization but does not affect
	// correctness.
	NextLeaf() (p Pointer, ok bool)
	SetNextLeaf(p Pointer, ok bool)
}

// Backend is the capability set the generic algorithm is parameterized
// over: node lifecycle (create/load/store/delete), root bookkeeping, and
// the balance predicates/operations that decide how nodes split, merge, or
// shift elements with a sibling.
type Backend interface {
	Root() Pointer
	RootIsLeaf() bool
	SetRoot(p Pointer, isLeaf bool)

	IndexCreate(begin Pointer) IndexNode
	IndexLoad(p Pointer) (IndexNode, error)
	// IndexStore persists idx, which may have been mutated in place, and
	// returns the (possibly new, copy-on-write) pointer to use in its
	// parent.
	IndexStore(p Pointer, idx IndexNode) (Pointer, error)
	IndexDelete(p Pointer) error

	LeafCreate() LeafNode
	LeafLoad(p Pointer) (LeafNode, error)
	LeafStore(p Pointer, lf LeafNode) (Pointer, error)
	LeafDelete(p Pointer) error

	IndexNeedsShift(idx IndexNode) bool
	// IndexShift merges right into left (returning changed=true, right
	// emptied) when the combined size fits, or moves a single entry across
	// the midKey boundary otherwise. Returns false if neither was possible.
	IndexShift(left, right IndexNode, midKey []byte) (newMidKey []byte, changed bool)
	// IndexSplit splits idx in place (idx keeps the left half) and returns
	// the promoted separating key and the new right sibling.
	IndexSplit(idx IndexNode) (midKey []byte, right IndexNode, ok bool)

	LeafNeedsShift(lf LeafNode) bool
	LeafShift(left, right LeafNode) (changed bool)
	LeafSplit(lf LeafNode) (newKey []byte, right LeafNode, ok bool)
}

func compareKeys(a, b []byte) int { return bytes.Compare(a, b) }

// lowerBound returns the index of the first key >= k among the n keys
// accessed via keyAt, or n if none qualifies.
func lowerBound(n int, keyAt func(int) []byte, k []byte) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(keyAt(mid), k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
