package btreedb

// rawReadBlock reads the full contents of block b into a freshly sized
// buffer. Callers must hold at least the shared latch.
func (db *DB) rawReadBlock(b BlockIndex) ([]byte, error) {
	if err := db.checkBlockIndex(b); err != nil {
		return nil, err
	}
	buf := make([]byte, db.blockSize)
	off := headerSize + int64(b)*int64(db.blockSize)
	if _, err := db.dev.ReadAbsolute(off, buf); err != nil {
		return nil, &IOError{Op: "read block", Err: err}
	}
	return buf, nil
}

// rawWriteBlock writes buf (exactly one block's worth) to block b.
func (db *DB) rawWriteBlock(b BlockIndex, buf []byte) error {
	off := headerSize + int64(b)*int64(db.blockSize)
	if _, err := db.dev.WriteAbsolute(off, buf); err != nil {
		return &IOError{Op: "write block", Err: err}
	}
	return nil
}

func (db *DB) checkBlockIndex(b BlockIndex) error {
	maxBlocks := (db.deviceSize - headerSize) / uint64(db.blockSize)
	if uint64(b) >= maxBlocks {
		return &InvalidArgumentError{Msg: "block index out of range"}
	}
	return nil
}

// putTrailer writes the 4-byte next-block pointer into the last 4 bytes of
// a block buffer of length db.blockSize.
func putTrailer(block []byte, next BlockIndex) {
	off := len(block) - 4
	block[off] = byte(next >> 24)
	block[off+1] = byte(next >> 16)
	block[off+2] = byte(next >> 8)
	block[off+3] = byte(next)
}

func getTrailer(block []byte) BlockIndex {
	off := len(block) - 4
	return BlockIndex(block[off])<<24 | BlockIndex(block[off+1])<<16 | BlockIndex(block[off+2])<<8 | BlockIndex(block[off+3])
}
