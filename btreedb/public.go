package btreedb

import (
	"bytes"

	"github.com/rpcpool/btreedb/btree"
)

// Get returns the value stored under key, or ok=false if no such key
// exists. Safe for concurrent use with other readers.
func (db *DB) Get(key []byte) (value []byte, ok bool, err error) {
	if err := db.checkKey(key); err != nil {
		return nil, false, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, found, err := db.tree.Find(key)
	return v, found, err
}

// Contains reports whether key exists, without fetching its value.
func (db *DB) Contains(key []byte) (bool, error) {
	if err := db.checkKey(key); err != nil {
		return false, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Contains(key)
}

// Put inserts key with value, overwriting any existing value. It commits
// immediately when auto-commit is enabled (the default).
func (db *DB) Put(key, value []byte) error {
	if err := db.checkKey(key); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.tree.Insert(key, value); err != nil {
		return err
	}
	return db.maybeAutoCommit()
}

// Remove deletes key, reporting whether it was present.
func (db *DB) Remove(key []byte) (bool, error) {
	if err := db.checkKey(key); err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	removed, err := db.tree.Remove(key)
	if err != nil {
		return false, err
	}
	if err := db.maybeAutoCommit(); err != nil {
		return removed, err
	}
	return removed, nil
}

// ForEach visits every (key, value) pair with lower <= key < upper, in
// ascending order, stopping early if visit returns false. Either bound may
// be nil: lower defaults to the smallest representable key, upper to one
// past the largest.
func (db *DB) ForEach(lower, upper []byte, visit func(key, value []byte) bool) error {
	if lower == nil {
		lower = []byte{}
	}
	if upper == nil {
		upper = bytes.Repeat([]byte{0xFF}, int(db.keySize)+1)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, err := db.tree.ForEach(lower, upper, func(k, v []byte) (bool, error) {
		return visit(k, v), nil
	})
	return err
}

// ForAll visits every (key, value) pair in ascending order.
func (db *DB) ForAll(visit func(key, value []byte) bool) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.ForAll(visit)
}

// RecoverAll walks every reachable node regardless of structural errors,
// reporting decode failures to onError instead of aborting. It is meant for
// salvaging a damaged database, not ordinary reads.
func (db *DB) RecoverAll(visit func(key, value []byte) bool, onError func(context string, err error)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	db.tree.RecoverAll(visit, onError)
}

// NodeStats walks every index and leaf node and reports how many of each
// are currently reachable from the root, for operator tooling such as
// btdbtool's "dump" subcommand.
func (db *DB) NodeStats() (leaves, indexNodes int, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	err = db.tree.ForAllNodes(func(isLeaf bool, _ btree.IndexNode, _ btree.LeafNode) bool {
		if isLeaf {
			leaves++
		} else {
			indexNodes++
		}
		return true
	})
	return
}

// RecordCount returns the number of keys currently stored.
func (db *DB) RecordCount() int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.RecordCount()
}

// BlockSize returns the database's fixed block size.
func (db *DB) BlockSize() uint32 { return db.blockSize }

// KeySize returns the database's fixed key size.
func (db *DB) KeySize() uint32 { return db.keySize }

// ContentID returns the schema/application identifier stored in the header.
func (db *DB) ContentID() string { return db.contentID }

// CacheStats reports the index LRU cache's hit/miss counters, current
// occupancy, and capacity.
func (db *DB) CacheStats() (hit, miss, items, capacity int) {
	return db.cache.stats()
}

func (db *DB) checkKey(key []byte) error {
	if uint32(len(key)) != db.keySize {
		return &InvalidArgumentError{Msg: "key length does not match database key size"}
	}
	return nil
}
