package btreedb

import (
	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/byteorder"
	"github.com/rpcpool/btreedb/internal/datastream"
)

const freeListMagic = "FF"

// freeIndexBlock is one link in the on-disk free-index chain: a pointer to
// the next link and the block indices it lists as free.
type freeIndexBlock struct {
	next    BlockIndex
	entries []BlockIndex
}

// maxFreeEntries is the greatest number of block indices an FF block can
// hold: magic(2) + next(4) + count(4), the remainder at 4 bytes each.
func maxFreeEntries(blockSize uint32) int {
	const fixedOverhead = 2 + 4 + 4
	return (int(blockSize) - fixedOverhead) / 4
}

func encodeFreeBlock(ff freeIndexBlock, blockSize uint32) []byte {
	buf := bytebuf.New()
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	buf.WriteFull([]byte(freeListMagic))
	s.WriteU32(ff.next)
	s.WriteU32(uint32(len(ff.entries)))
	for _, b := range ff.entries {
		s.WriteU32(b)
	}
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out
}

func decodeFreeBlock(raw []byte) (freeIndexBlock, error) {
	buf := bytebuf.FromBytes(raw)
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	magic := make([]byte, 2)
	if err := buf.ReadFull(magic); err != nil {
		return freeIndexBlock{}, &IOError{Op: "read free-list magic", Err: err}
	}
	if string(magic) != freeListMagic {
		return freeIndexBlock{}, &FormatError{Msg: "free-index block missing FF magic"}
	}
	next, err := s.ReadU32()
	if err != nil {
		return freeIndexBlock{}, &DataStreamError{Err: err}
	}
	count, err := s.ReadU32()
	if err != nil {
		return freeIndexBlock{}, &DataStreamError{Err: err}
	}
	entries := make([]BlockIndex, count)
	for i := range entries {
		b, err := s.ReadU32()
		if err != nil {
			return freeIndexBlock{}, &DataStreamError{Err: err}
		}
		entries[i] = b
	}
	return freeIndexBlock{next: next, entries: entries}, nil
}

func (db *DB) readFreeBlock(b BlockIndex) (freeIndexBlock, error) {
	raw, err := db.rawReadBlock(b)
	if err != nil {
		return freeIndexBlock{}, err
	}
	return decodeFreeBlock(raw)
}

// reserveBlock implements the allocation protocol: pop from availableBlocks,
// else drain the head free-index block into availableBlocks and retry, else
// grow the file by one block. The returned index is marked uncommitted.
func (db *DB) reserveBlock() (BlockIndex, error) {
	for {
		if n := len(db.availableBlocks); n > 0 {
			b := db.availableBlocks[n-1]
			db.availableBlocks = db.availableBlocks[:n-1]
			db.uncommitted[b] = struct{}{}
			return b, nil
		}
		if db.headFreeIndexBlock != InvalidBlockIndex {
			ff, err := db.readFreeBlock(db.headFreeIndexBlock)
			if err != nil {
				return InvalidBlockIndex, err
			}
			db.availableBlocks = append(db.availableBlocks, ff.entries...)
			db.pendingFree = append(db.pendingFree, db.headFreeIndexBlock)
			db.headFreeIndexBlock = ff.next
			continue
		}
		b, err := db.makeEndBlock()
		if err != nil {
			return InvalidBlockIndex, err
		}
		db.uncommitted[b] = struct{}{}
		return b, nil
	}
}

// freeBlock implements the free protocol: a block allocated this
// transaction returns straight to availableBlocks; anything else (still
// referenced by the previously committed root) joins pendingFree.
func (db *DB) freeBlock(b BlockIndex) {
	if _, ok := db.uncommitted[b]; ok {
		delete(db.uncommitted, b)
		db.availableBlocks = append(db.availableBlocks, b)
		return
	}
	db.pendingFree = append(db.pendingFree, b)
}

// makeEndBlock grows the device by one block and returns its index. The
// caller is responsible for uncommitted bookkeeping.
func (db *DB) makeEndBlock() (BlockIndex, error) {
	maxBlocks := (db.deviceSize - headerSize) / uint64(db.blockSize)
	newIndex := BlockIndex(maxBlocks)
	newSize := db.deviceSize + uint64(db.blockSize)
	if err := db.dev.Resize(int64(newSize)); err != nil {
		return InvalidBlockIndex, &ExhaustedError{Err: err}
	}
	db.deviceSize = newSize
	return newIndex, nil
}

// rebuildFreeList rewrites the entire free-index chain from scratch so it
// represents exactly availableBlocks ∪ pendingFree ∪ the old chain's own
// entries and link blocks. This is a simplification of the reference
// allocator's "reuse the head block if it isn't full" micro-optimization: it
// always rewrites the whole chain, which keeps the accounting invariants
// trivially easy to see are correct at the cost of doing somewhat more I/O
// than strictly necessary on a commit with a large free list.
//
// The new chain's own link blocks may only be hosted in blocks already known
// free under the still-durable, pre-flip root: availableBlocks, and the
// entries the old chain's own FF blocks list as free. pendingFree entries and
// the old chain's own link blocks are themselves still referenced by that
// root until this commit's selector flip supersedes it, so this pass may
// only list them in the new chain, never overwrite them; they become
// available to host future writes starting with the next call to
// reserveBlock/rebuildFreeList, once the flip has happened.
func (db *DB) rebuildFreeList() (BlockIndex, error) {
	reusable := append([]BlockIndex(nil), db.availableBlocks...)
	listOnly := append([]BlockIndex(nil), db.pendingFree...)
	db.pendingFree = nil
	db.availableBlocks = nil

	for cur := db.headFreeIndexBlock; cur != InvalidBlockIndex; {
		ff, err := db.readFreeBlock(cur)
		if err != nil {
			return InvalidBlockIndex, err
		}
		reusable = append(reusable, ff.entries...)
		listOnly = append(listOnly, cur)
		cur = ff.next
	}
	db.headFreeIndexBlock = InvalidBlockIndex

	entries := append(reusable, listOnly...)
	if len(entries) == 0 {
		return InvalidBlockIndex, nil
	}
	reusableHi := len(reusable)

	maxEntries := maxFreeEntries(db.blockSize)
	lo, hi := 0, len(entries)
	head := BlockIndex(InvalidBlockIndex)
	for lo < hi {
		n := min(maxEntries, hi-lo)
		chunk := append([]BlockIndex(nil), entries[hi-n:hi]...)
		hi -= n

		var blockIdx BlockIndex
		var err error
		if lo < reusableHi && lo < hi {
			blockIdx = entries[lo]
			lo++
		} else {
			blockIdx, err = db.makeEndBlock()
			if err != nil {
				return InvalidBlockIndex, err
			}
		}
		raw := encodeFreeBlock(freeIndexBlock{next: head, entries: chunk}, db.blockSize)
		if err := db.rawWriteBlock(blockIdx, raw); err != nil {
			return InvalidBlockIndex, err
		}
		head = blockIdx
	}
	return head, nil
}
