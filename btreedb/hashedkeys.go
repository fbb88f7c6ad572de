package btreedb

import "crypto/sha256"

// HashedKeyDB wraps a DB opened with a 32-byte key size so callers can use
// arbitrary-length byte slices or strings as logical keys: every key is
// hashed to its SHA-256 digest before the underlying tree ever sees it.
// This trades exact key storage for unbounded logical key size; the
// original key bytes are not recoverable from the digest.
type HashedKeyDB struct {
	db *DB
}

// NewHashedKeyDB wraps db, which must have been opened with a 32-byte key
// size (the default).
func NewHashedKeyDB(db *DB) (*HashedKeyDB, error) {
	if db.KeySize() != sha256.Size {
		return nil, &InvalidArgumentError{Msg: "hashed-key variant requires a 32-byte key size database"}
	}
	return &HashedKeyDB{db: db}, nil
}

func hashKey(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

// Get looks up a logical key of any length.
func (h *HashedKeyDB) Get(key []byte) ([]byte, bool, error) {
	return h.db.Get(hashKey(key))
}

// Contains reports whether a logical key of any length exists.
func (h *HashedKeyDB) Contains(key []byte) (bool, error) {
	return h.db.Contains(hashKey(key))
}

// Put inserts a logical key of any length with value.
func (h *HashedKeyDB) Put(key, value []byte) error {
	return h.db.Put(hashKey(key), value)
}

// Remove deletes a logical key of any length.
func (h *HashedKeyDB) Remove(key []byte) (bool, error) {
	return h.db.Remove(hashKey(key))
}

// PutString and GetString/RemoveString/ContainsString let callers use UTF-8
// strings directly without an explicit conversion at every call site.
func (h *HashedKeyDB) PutString(key string, value []byte) error {
	return h.Put([]byte(key), value)
}
func (h *HashedKeyDB) GetString(key string) ([]byte, bool, error) {
	return h.Get([]byte(key))
}
func (h *HashedKeyDB) RemoveString(key string) (bool, error) {
	return h.Remove([]byte(key))
}
func (h *HashedKeyDB) ContainsString(key string) (bool, error) {
	return h.Contains([]byte(key))
}

// Unwrap returns the underlying fixed-32-byte-key database, e.g. to call
// Commit, Close, or ForAll directly.
func (h *HashedKeyDB) Unwrap() *DB { return h.db }
