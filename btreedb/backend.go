package btreedb

import "github.com/rpcpool/btreedb/btree"

func (db *DB) Root() btree.Pointer { return btree.Pointer(db.root) }
func (db *DB) RootIsLeaf() bool    { return db.rootIsLeaf }
func (db *DB) SetRoot(p btree.Pointer, isLeaf bool) {
	db.root = BlockIndex(p)
	db.rootIsLeaf = isLeaf
}

func (db *DB) IndexCreate(begin btree.Pointer) btree.IndexNode {
	return &indexNode{pointers: []BlockIndex{BlockIndex(begin)}}
}

func (db *DB) IndexLoad(p btree.Pointer) (btree.IndexNode, error) {
	b := BlockIndex(p)
	if n, ok := db.cache.get(b); ok {
		return n, nil
	}
	raw, err := db.rawReadBlock(b)
	if err != nil {
		return nil, err
	}
	n, err := decodeIndexNode(raw, db.keySize)
	if err != nil {
		log.Warnw("btreedb: discarding unreadable index block", "block", b, "err", err)
		return nil, err
	}
	db.cache.put(b, n)
	return n, nil
}

func (db *DB) IndexStore(p btree.Pointer, idxIface btree.IndexNode) (btree.Pointer, error) {
	idx := idxIface.(*indexNode)
	if p != btree.InvalidPointer {
		db.freeBlock(BlockIndex(p))
		db.cache.remove(BlockIndex(p))
	}
	b, err := db.reserveBlock()
	if err != nil {
		return btree.InvalidPointer, err
	}
	if err := db.rawWriteBlock(b, encodeIndexNode(idx, db.blockSize)); err != nil {
		return btree.InvalidPointer, err
	}
	db.cache.put(b, idx)
	return btree.Pointer(b), nil
}

func (db *DB) IndexDelete(p btree.Pointer) error {
	db.freeBlock(BlockIndex(p))
	db.cache.remove(BlockIndex(p))
	return nil
}

func (db *DB) LeafCreate() btree.LeafNode { return &leafNode{} }

func (db *DB) LeafLoad(p btree.Pointer) (btree.LeafNode, error) {
	var payload []byte
	cur := BlockIndex(p)
	for cur != InvalidBlockIndex {
		raw, err := db.rawReadBlock(cur)
		if err != nil {
			return nil, err
		}
		if string(raw[:2]) != leafMagic {
			return nil, &FormatError{Msg: "leaf block missing LL magic"}
		}
		payload = append(payload, raw[2:len(raw)-4]...)
		cur = getTrailer(raw)
	}
	return decodeElements(payload, db.keySize)
}

func (db *DB) LeafStore(p btree.Pointer, lfIface btree.LeafNode) (btree.Pointer, error) {
	lf := lfIface.(*leafNode)
	if p != btree.InvalidPointer {
		if err := db.freeLeafChain(BlockIndex(p)); err != nil {
			return btree.InvalidPointer, err
		}
	}

	payload := encodeElements(lf)
	chunkSize := int(db.blockSize) - leafBlockOverhead
	if chunkSize <= 0 {
		return btree.InvalidPointer, &InvalidArgumentError{Msg: "block size too small for leaf framing"}
	}
	var chunks [][]byte
	for off := 0; off < len(payload); off += chunkSize {
		end := min(off+chunkSize, len(payload))
		chunks = append(chunks, payload[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	blocks := make([]BlockIndex, len(chunks))
	for i := range chunks {
		b, err := db.reserveBlock()
		if err != nil {
			return btree.InvalidPointer, err
		}
		blocks[i] = b
	}
	for i, chunk := range chunks {
		buf := make([]byte, db.blockSize)
		copy(buf[:2], leafMagic)
		copy(buf[2:], chunk)
		next := BlockIndex(InvalidBlockIndex)
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		putTrailer(buf, next)
		if err := db.rawWriteBlock(blocks[i], buf); err != nil {
			return btree.InvalidPointer, err
		}
	}
	return btree.Pointer(blocks[0]), nil
}

func (db *DB) LeafDelete(p btree.Pointer) error {
	return db.freeLeafChain(BlockIndex(p))
}

func (db *DB) freeLeafChain(head BlockIndex) error {
	cur := head
	for cur != InvalidBlockIndex {
		raw, err := db.rawReadBlock(cur)
		if err != nil {
			return err
		}
		next := getTrailer(raw)
		db.freeBlock(cur)
		cur = next
	}
	return nil
}

func (db *DB) IndexNeedsShift(idxIface btree.IndexNode) bool {
	idx := idxIface.(*indexNode)
	maxP := maxIndexPointers(db.blockSize, db.keySize)
	minP := maxP / 4
	if minP < 2 {
		minP = 2
	}
	return idx.Count() < minP
}

func (db *DB) IndexShift(leftIface, rightIface btree.IndexNode, midKey []byte) ([]byte, bool) {
	left := leftIface.(*indexNode)
	right := rightIface.(*indexNode)
	maxP := maxIndexPointers(db.blockSize, db.keySize)

	if left.Count()+right.Count() <= maxP {
		left.keys = append(left.keys, midKey)
		left.keys = append(left.keys, right.keys...)
		left.pointers = append(left.pointers, right.pointers...)
		right.keys = nil
		right.pointers = nil
		return nil, true
	}

	if left.Count() > right.Count() && left.Count() >= 2 {
		n := left.Count()
		movedPtr := left.pointers[n-1]
		movedKey := left.keys[n-2]
		left.pointers = left.pointers[:n-1]
		left.keys = left.keys[:n-2]
		right.pointers = append([]BlockIndex{movedPtr}, right.pointers...)
		right.keys = append([][]byte{midKey}, right.keys...)
		return movedKey, true
	}
	if right.Count() > left.Count() && right.Count() >= 2 {
		movedPtr := right.pointers[0]
		movedKey := right.keys[0]
		right.pointers = right.pointers[1:]
		right.keys = right.keys[1:]
		left.pointers = append(left.pointers, movedPtr)
		left.keys = append(left.keys, midKey)
		return movedKey, true
	}
	return nil, false
}

func (db *DB) IndexSplit(idxIface btree.IndexNode) ([]byte, btree.IndexNode, bool) {
	idx := idxIface.(*indexNode)
	maxP := maxIndexPointers(db.blockSize, db.keySize)
	if idx.Count() <= maxP {
		return nil, nil, false
	}
	mid := idx.Count() / 2
	midKey := idx.keys[mid-1]
	right := &indexNode{
		level:    idx.level,
		pointers: append([]BlockIndex(nil), idx.pointers[mid:]...),
		keys:     append([][]byte(nil), idx.keys[mid:]...),
	}
	idx.pointers = idx.pointers[:mid]
	idx.keys = idx.keys[:mid-1]
	return midKey, right, true
}

func (db *DB) LeafNeedsShift(lfIface btree.LeafNode) bool {
	lf := lfIface.(*leafNode)
	limit := int(db.blockSize) - leafBlockOverhead
	return serializedSize(lf) < limit/4
}

func (db *DB) LeafShift(leftIface, rightIface btree.LeafNode) bool {
	left := leftIface.(*leafNode)
	right := rightIface.(*leafNode)
	limit := int(db.blockSize) - leafBlockOverhead

	merged := &leafNode{
		keys:   append(append([][]byte{}, left.keys...), right.keys...),
		values: append(append([][]byte{}, left.values...), right.values...),
	}
	if serializedSize(merged) <= limit {
		left.keys = merged.keys
		left.values = merged.values
		right.keys = nil
		right.values = nil
		return true
	}

	if len(left.keys) > len(right.keys) {
		n := len(left.keys) - 1
		k, v := left.keys[n], left.values[n]
		if serializedSize(right)+elementSize(k, v) > limit {
			return false
		}
		left.keys, left.values = left.keys[:n], left.values[:n]
		right.keys = append([][]byte{k}, right.keys...)
		right.values = append([][]byte{v}, right.values...)
		return true
	}
	if len(right.keys) > len(left.keys) {
		k, v := right.keys[0], right.values[0]
		if serializedSize(left)+elementSize(k, v) > limit {
			return false
		}
		right.keys, right.values = right.keys[1:], right.values[1:]
		left.keys = append(left.keys, k)
		left.values = append(left.values, v)
		return true
	}
	return false
}

func (db *DB) LeafSplit(lfIface btree.LeafNode) ([]byte, btree.LeafNode, bool) {
	lf := lfIface.(*leafNode)
	idx, should := leafSplitIndex(lf, db.blockSize)
	if !should {
		return nil, nil, false
	}
	right := &leafNode{
		keys:   append([][]byte(nil), lf.keys[idx:]...),
		values: append([][]byte(nil), lf.values[idx:]...),
	}
	lf.keys = lf.keys[:idx]
	lf.values = lf.values[:idx]
	return right.keys[0], right, true
}
