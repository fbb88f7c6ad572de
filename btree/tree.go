package btree

import "bytes"

// Tree is the storage-independent B+ tree algorithm bound to a concrete
// Backend. It owns no I/O of its own.
type Tree struct {
	backend Backend
	count   int64
}

// New wraps backend with the generic algorithm. initialCount is the number
// of distinct keys already present (the backend has no persisted counter;
// callers that open an existing database are expected to compute this once,
// e.g. via ForAll, and pass it in).
func New(backend Backend, initialCount int64) *Tree {
	return &Tree{backend: backend, count: initialCount}
}

// RecordCount returns the number of distinct keys currently present.
func (t *Tree) RecordCount() int64 { return t.count }

// resultKind classifies what a modify step did to the node it touched, and
// therefore what its parent must do in response.
type resultKind int

const (
	kDone resultKind = iota
	kNeedsUpdate
	kSplit
	kNeedsJoin
)

// modifyResult carries a signal from a modified child back to its parent.
// level is the level of the node the result pertains to: -1 for a leaf,
// otherwise the IndexNode's own Level(). It is consumed only by the
// top-level modify() call, to know how to grow or shrink the tree's height.
type modifyResult struct {
	kind         resultKind
	pointer      Pointer
	splitKey     []byte
	splitPointer Pointer
	level        int
}

const leafLevel = -1

type opKind int

const (
	opInsert opKind = iota
	opRemove
)

// findChildIndex returns the pointer index within idx that covers key k:
// the greatest i such that key(i) <= k (or 0 if k is less than every key).
func findChildIndex(idx IndexNode, k []byte) int {
	lo, hi := 1, idx.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(idx.Key(mid), k) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// Contains reports whether key is present.
func (t *Tree) Contains(key []byte) (bool, error) {
	_, ok, err := t.Find(key)
	return ok, err
}

// Find looks up key, descending from the root via lower-bound binary search
// at each index and an exact-match lower-bound search at the leaf.
func (t *Tree) Find(key []byte) ([]byte, bool, error) {
	p := t.backend.Root()
	isLeaf := t.backend.RootIsLeaf()
	for !isLeaf {
		idx, err := t.backend.IndexLoad(p)
		if err != nil {
			return nil, false, err
		}
		p = idx.Pointer(findChildIndex(idx, key))
		isLeaf = idx.Level() == 0
	}
	lf, err := t.backend.LeafLoad(p)
	if err != nil {
		return nil, false, err
	}
	pos := lowerBound(lf.Count(), lf.KeyAt, key)
	if pos < lf.Count() && bytes.Equal(lf.KeyAt(pos), key) {
		return lf.ValueAt(pos), true, nil
	}
	return nil, false, nil
}

// ForEach visits every (key, value) pair with lower <= key < upper, in
// ascending order, pruning subtrees whose key range cannot intersect
// [lower, upper). visit returns false to stop early. The greatest key
// actually visited is returned.
func (t *Tree) ForEach(lower, upper []byte, visit func(key, value []byte) (bool, error)) ([]byte, error) {
	var lastKey []byte

	var rec func(p Pointer, isLeaf bool) (bool, error)
	rec = func(p Pointer, isLeaf bool) (bool, error) {
		if isLeaf {
			lf, err := t.backend.LeafLoad(p)
			if err != nil {
				return false, err
			}
			for pos := lowerBound(lf.Count(), lf.KeyAt, lower); pos < lf.Count(); pos++ {
				k := lf.KeyAt(pos)
				if compareKeys(k, upper) >= 0 {
					return false, nil
				}
				cont, err := visit(k, lf.ValueAt(pos))
				if err != nil {
					return false, err
				}
				lastKey = k
				if !cont {
					return false, nil
				}
			}
			return true, nil
		}
		idx, err := t.backend.IndexLoad(p)
		if err != nil {
			return false, err
		}
		childIsLeaf := idx.Level() == 0
		for i := findChildIndex(idx, lower); i < idx.Count(); i++ {
			if i >= 1 && compareKeys(idx.Key(i), upper) >= 0 {
				return false, nil
			}
			cont, err := rec(idx.Pointer(i), childIsLeaf)
			if err != nil {
				return false, err
			}
			if !cont {
				return false, nil
			}
		}
		return true, nil
	}

	_, err := rec(t.backend.Root(), t.backend.RootIsLeaf())
	return lastKey, err
}

// ForAll visits every (key, value) pair in ascending order.
func (t *Tree) ForAll(visit func(key, value []byte) bool) error {
	var rec func(p Pointer, isLeaf bool) (bool, error)
	rec = func(p Pointer, isLeaf bool) (bool, error) {
		if isLeaf {
			lf, err := t.backend.LeafLoad(p)
			if err != nil {
				return false, err
			}
			for i := 0; i < lf.Count(); i++ {
				if !visit(lf.KeyAt(i), lf.ValueAt(i)) {
					return false, nil
				}
			}
			return true, nil
		}
		idx, err := t.backend.IndexLoad(p)
		if err != nil {
			return false, err
		}
		childIsLeaf := idx.Level() == 0
		for i := 0; i < idx.Count(); i++ {
			cont, err := rec(idx.Pointer(i), childIsLeaf)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	}
	_, err := rec(t.backend.Root(), t.backend.RootIsLeaf())
	return err
}

// ForAllNodes visits every index and leaf node in pre-order. visit returns
// false to stop descending into an index's children (leaves are always
// terminal).
func (t *Tree) ForAllNodes(visit func(isLeaf bool, idx IndexNode, lf LeafNode) bool) error {
	var rec func(p Pointer, isLeaf bool) error
	rec = func(p Pointer, isLeaf bool) error {
		if isLeaf {
			lf, err := t.backend.LeafLoad(p)
			if err != nil {
				return err
			}
			visit(true, nil, lf)
			return nil
		}
		idx, err := t.backend.IndexLoad(p)
		if err != nil {
			return err
		}
		if !visit(false, idx, nil) {
			return nil
		}
		childIsLeaf := idx.Level() == 0
		for i := 0; i < idx.Count(); i++ {
			if err := rec(idx.Pointer(i), childIsLeaf); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(t.backend.Root(), t.backend.RootIsLeaf())
}

// RecoverAll behaves like ForAll, except a node that fails to load is
// reported to onError instead of aborting the whole walk, so as much of the
// tree as possible is salvaged.
func (t *Tree) RecoverAll(visit func(key, value []byte) bool, onError func(context string, err error)) {
	var rec func(p Pointer, isLeaf bool) bool
	rec = func(p Pointer, isLeaf bool) bool {
		if isLeaf {
			lf, err := t.backend.LeafLoad(p)
			if err != nil {
				onError("leaf", err)
				return true
			}
			for i := 0; i < lf.Count(); i++ {
				if !visit(lf.KeyAt(i), lf.ValueAt(i)) {
					return false
				}
			}
			return true
		}
		idx, err := t.backend.IndexLoad(p)
		if err != nil {
			onError("index", err)
			return true
		}
		childIsLeaf := idx.Level() == 0
		for i := 0; i < idx.Count(); i++ {
			if !rec(idx.Pointer(i), childIsLeaf) {
				return false
			}
		}
		return true
	}
	rec(t.backend.Root(), t.backend.RootIsLeaf())
}

// Insert sets key to value, creating or overwriting as needed.
func (t *Tree) Insert(key, value []byte) error {
	found, err := t.modify(key, value, opInsert)
	if err != nil {
		return err
	}
	if !found {
		t.count++
	}
	return nil
}

// Remove deletes key if present, reporting whether it was.
func (t *Tree) Remove(key []byte) (bool, error) {
	found, err := t.modify(key, nil, opRemove)
	if err != nil {
		return false, err
	}
	if found {
		t.count--
	}
	return found, nil
}

// modify is the single recursive-descent entry point for Insert and Remove.
func (t *Tree) modify(key, value []byte, op opKind) (bool, error) {
	root := t.backend.Root()
	rootIsLeaf := t.backend.RootIsLeaf()

	if root == InvalidPointer {
		if op == opRemove {
			return false, nil
		}
		lf := t.backend.LeafCreate()
		lf.InsertAt(0, key, value)
		p, err := t.backend.LeafStore(InvalidPointer, lf)
		if err != nil {
			return false, err
		}
		t.backend.SetRoot(p, true)
		return false, nil
	}

	var res modifyResult
	var found bool
	var err error
	if rootIsLeaf {
		res, found, err = t.modifyLeaf(root, key, value, op)
	} else {
		res, found, err = t.modifyIndex(root, key, value, op)
	}
	if err != nil {
		return false, err
	}

	switch res.kind {
	case kDone:
		return found, nil
	case kNeedsUpdate:
		t.backend.SetRoot(res.pointer, rootIsLeaf)
	case kSplit:
		newRoot := t.backend.IndexCreate(res.pointer)
		newRoot.SetLevel(uint8(res.level + 1))
		newRoot.InsertAfter(0, res.splitKey, res.splitPointer)
		p, err := t.backend.IndexStore(InvalidPointer, newRoot)
		if err != nil {
			return found, err
		}
		t.backend.SetRoot(p, false)
	case kNeedsJoin:
		if rootIsLeaf {
			t.backend.SetRoot(res.pointer, true)
			break
		}
		idx, err := t.backend.IndexLoad(res.pointer)
		if err != nil {
			return found, err
		}
		if idx.Count() == 1 {
			childPtr := idx.Pointer(0)
			childIsLeaf := idx.Level() == 0
			if err := t.backend.IndexDelete(res.pointer); err != nil {
				return found, err
			}
			t.backend.SetRoot(childPtr, childIsLeaf)
		} else {
			t.backend.SetRoot(res.pointer, false)
		}
	}
	return found, nil
}

func (t *Tree) modifyLeaf(p Pointer, key, value []byte, op opKind) (modifyResult, bool, error) {
	lf, err := t.backend.LeafLoad(p)
	if err != nil {
		return modifyResult{}, false, err
	}
	pos := lowerBound(lf.Count(), lf.KeyAt, key)
	found := pos < lf.Count() && bytes.Equal(lf.KeyAt(pos), key)

	switch op {
	case opInsert:
		if found {
			lf.RemoveAt(pos)
		}
		lf.InsertAt(pos, key, value)
	case opRemove:
		if !found {
			return modifyResult{kind: kDone, level: leafLevel}, false, nil
		}
		lf.RemoveAt(pos)
	}

	res, err := t.finishLeafStore(p, lf)
	return res, found, err
}

func (t *Tree) finishLeafStore(p Pointer, lf LeafNode) (modifyResult, error) {
	if t.backend.LeafNeedsShift(lf) {
		newP, err := t.backend.LeafStore(p, lf)
		return modifyResult{kind: kNeedsJoin, pointer: newP, level: leafLevel}, err
	}
	if newKey, right, ok := t.backend.LeafSplit(lf); ok {
		leftP, err := t.backend.LeafStore(p, lf)
		if err != nil {
			return modifyResult{}, err
		}
		rightP, err := t.backend.LeafStore(InvalidPointer, right)
		if err != nil {
			return modifyResult{}, err
		}
		return modifyResult{kind: kSplit, pointer: leftP, splitKey: newKey, splitPointer: rightP, level: leafLevel}, nil
	}
	newP, err := t.backend.LeafStore(p, lf)
	return modifyResult{kind: kNeedsUpdate, pointer: newP, level: leafLevel}, err
}

func (t *Tree) modifyIndex(p Pointer, key, value []byte, op opKind) (modifyResult, bool, error) {
	idx, err := t.backend.IndexLoad(p)
	if err != nil {
		return modifyResult{}, false, err
	}
	ci := findChildIndex(idx, key)
	childIsLeaf := idx.Level() == 0

	var childRes modifyResult
	var found bool
	if childIsLeaf {
		childRes, found, err = t.modifyLeaf(idx.Pointer(ci), key, value, op)
	} else {
		childRes, found, err = t.modifyIndex(idx.Pointer(ci), key, value, op)
	}
	if err != nil {
		return modifyResult{}, false, err
	}

	switch childRes.kind {
	case kDone:
		return modifyResult{kind: kDone}, found, nil
	case kNeedsUpdate:
		idx.SetPointer(ci, childRes.pointer)
	case kSplit:
		idx.SetPointer(ci, childRes.pointer)
		idx.InsertAfter(ci, childRes.splitKey, childRes.splitPointer)
	case kNeedsJoin:
		idx.SetPointer(ci, childRes.pointer)
		if err := t.mergeChild(idx, ci, childIsLeaf); err != nil {
			return modifyResult{}, false, err
		}
	}

	res, err := t.finishIndexStore(p, idx)
	return res, found, err
}

// mergeChild attempts to shift or merge the child at slot ci with a sibling
// in response to a kNeedsJoin signal. Preference is the pair (i-1, i) when
// i is the last slot, otherwise (i, i+1).
func (t *Tree) mergeChild(idx IndexNode, ci int, childIsLeaf bool) error {
	var leftSlot, rightSlot int
	if ci == idx.Count()-1 {
		leftSlot, rightSlot = ci-1, ci
	} else {
		leftSlot, rightSlot = ci, ci+1
	}
	if leftSlot < 0 {
		return nil
	}
	leftPtr := idx.Pointer(leftSlot)
	rightPtr := idx.Pointer(rightSlot)

	if childIsLeaf {
		left, err := t.backend.LeafLoad(leftPtr)
		if err != nil {
			return err
		}
		right, err := t.backend.LeafLoad(rightPtr)
		if err != nil {
			return err
		}
		if !t.backend.LeafShift(left, right) {
			return nil
		}
		if right.Count() == 0 {
			if err := t.backend.LeafDelete(rightPtr); err != nil {
				return err
			}
			newLeft, err := t.backend.LeafStore(leftPtr, left)
			if err != nil {
				return err
			}
			idx.SetPointer(leftSlot, newLeft)
			idx.RemoveBefore(rightSlot)
			return nil
		}
		newLeft, err := t.backend.LeafStore(leftPtr, left)
		if err != nil {
			return err
		}
		newRight, err := t.backend.LeafStore(rightPtr, right)
		if err != nil {
			return err
		}
		idx.SetPointer(leftSlot, newLeft)
		idx.SetPointer(rightSlot, newRight)
		idx.SetKey(rightSlot, right.KeyAt(0))
		return nil
	}

	left, err := t.backend.IndexLoad(leftPtr)
	if err != nil {
		return err
	}
	right, err := t.backend.IndexLoad(rightPtr)
	if err != nil {
		return err
	}
	midKey := idx.Key(rightSlot)
	newMidKey, changed := t.backend.IndexShift(left, right, midKey)
	if !changed {
		return nil
	}
	if right.Count() == 0 {
		if err := t.backend.IndexDelete(rightPtr); err != nil {
			return err
		}
		newLeft, err := t.backend.IndexStore(leftPtr, left)
		if err != nil {
			return err
		}
		idx.SetPointer(leftSlot, newLeft)
		idx.RemoveBefore(rightSlot)
		return nil
	}
	newLeft, err := t.backend.IndexStore(leftPtr, left)
	if err != nil {
		return err
	}
	newRight, err := t.backend.IndexStore(rightPtr, right)
	if err != nil {
		return err
	}
	idx.SetPointer(leftSlot, newLeft)
	idx.SetPointer(rightSlot, newRight)
	idx.SetKey(rightSlot, newMidKey)
	return nil
}

func (t *Tree) finishIndexStore(p Pointer, idx IndexNode) (modifyResult, error) {
	level := int(idx.Level())
	if t.backend.IndexNeedsShift(idx) {
		newP, err := t.backend.IndexStore(p, idx)
		return modifyResult{kind: kNeedsJoin, pointer: newP, level: level}, err
	}
	if midKey, right, ok := t.backend.IndexSplit(idx); ok {
		leftP, err := t.backend.IndexStore(p, idx)
		if err != nil {
			return modifyResult{}, err
		}
		rightP, err := t.backend.IndexStore(InvalidPointer, right)
		if err != nil {
			return modifyResult{}, err
		}
		return modifyResult{kind: kSplit, pointer: leftP, splitKey: midKey, splitPointer: rightP, level: level}, nil
	}
	newP, err := t.backend.IndexStore(p, idx)
	return modifyResult{kind: kNeedsUpdate, pointer: newP, level: level}, err
}
