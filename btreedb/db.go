// Package btreedb is the block-file-backed implementation of package
// btree's storage capability set: a persistent, copy-on-write B+ tree over
// a fixed-block file, with a dual-root-slot atomic commit protocol, a
// persistent free-list allocator, and an LRU index cache.
package btreedb

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/btreedb/btree"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

var log = logging.Logger("btreedb")

const defaultCommitInterval = 5 * time.Second

// Option configures a DB at Open time.
type Option func(*options)

type options struct {
	blockSize      uint32
	keySize        uint32
	contentID      string
	autoCommit     bool
	commitInterval time.Duration
	cacheCapacity  int
}

// WithBlockSize sets the block size used when creating a new database. It
// has no effect when opening an existing one.
func WithBlockSize(n uint32) Option { return func(o *options) { o.blockSize = n } }

// WithKeySize sets the fixed key size used when creating a new database.
func WithKeySize(n uint32) Option { return func(o *options) { o.keySize = n } }

// WithContentID sets the schema/application identifier stored in the
// header, truncated or zero-padded to 12 bytes.
func WithContentID(id string) Option { return func(o *options) { o.contentID = id } }

// WithAutoCommit controls whether every mutating call commits immediately
// (the default). When disabled, the caller must call Commit explicitly.
func WithAutoCommit(yes bool) Option { return func(o *options) { o.autoCommit = yes } }

// WithCommitInterval starts a background goroutine that commits on this
// cadence when auto-commit is disabled. Zero disables the background
// committer.
func WithCommitInterval(d time.Duration) Option {
	return func(o *options) { o.commitInterval = d }
}

// WithIndexCacheCapacity overrides the default LRU index cache size.
func WithIndexCacheCapacity(n int) Option { return func(o *options) { o.cacheCapacity = n } }

// DB is an open B+ tree database.
type DB struct {
	mu  sync.RWMutex
	dev iodevice.Device

	blockSize uint32
	keySize   uint32
	contentID string
	selector  uint8

	deviceSize         uint64
	root               BlockIndex
	rootIsLeaf         bool
	headFreeIndexBlock BlockIndex

	availableBlocks []BlockIndex
	pendingFree     []BlockIndex
	uncommitted     map[BlockIndex]struct{}

	cache *indexCache
	tree  *btree.Tree

	autoCommit     bool
	commitInterval time.Duration
	flushNow       chan struct{}
	closing        chan struct{}
	closed         chan struct{}
	running        bool

	errMu sync.Mutex
	err   error
}

var _ btree.Backend = (*DB)(nil)

// Open opens the database stored on dev, creating it if dev is empty.
func Open(dev iodevice.Device, opts ...Option) (*DB, error) {
	o := options{
		blockSize:      2048,
		keySize:        32,
		contentID:      "btreedb",
		autoCommit:     true,
		commitInterval: 0,
		cacheCapacity:  defaultIndexCacheCapacity,
	}
	for _, fn := range opts {
		fn(&o)
	}

	size, err := dev.Size()
	if err != nil {
		return nil, &IOError{Op: "stat device", Err: err}
	}

	db := &DB{
		dev:            dev,
		cache:          newIndexCache(o.cacheCapacity),
		uncommitted:    make(map[BlockIndex]struct{}),
		autoCommit:     o.autoCommit,
		commitInterval: o.commitInterval,
		flushNow:       make(chan struct{}, 1),
	}

	if size == 0 {
		if err := db.initEmpty(o); err != nil {
			return nil, err
		}
	} else {
		if err := db.openExisting(o); err != nil {
			return nil, err
		}
	}

	db.tree = btree.New(db, 0)
	count := int64(0)
	if err := db.tree.ForAll(func([]byte, []byte) bool { count++; return true }); err != nil {
		return nil, err
	}
	db.tree = btree.New(db, count)

	if !db.autoCommit && db.commitInterval > 0 {
		db.running = true
		db.closing = make(chan struct{})
		db.closed = make(chan struct{})
		go db.run()
	}

	return db, nil
}

func (db *DB) initEmpty(o options) error {
	db.blockSize = o.blockSize
	db.keySize = o.keySize
	db.contentID = o.contentID
	db.selector = 0
	db.deviceSize = headerSize
	db.headFreeIndexBlock = InvalidBlockIndex
	db.rootIsLeaf = true

	if err := db.dev.Resize(headerSize); err != nil {
		return &IOError{Op: "resize for header", Err: err}
	}

	lf := &leafNode{}
	p, err := db.LeafStore(btree.InvalidPointer, lf)
	if err != nil {
		return err
	}
	db.root = BlockIndex(p)

	if err := db.writeHeaderStatic(); err != nil {
		return err
	}
	return db.doCommit()
}

func (db *DB) openExisting(o options) error {
	header := make([]byte, headerSize)
	if _, err := db.dev.ReadAbsolute(0, header); err != nil {
		return &IOError{Op: "read header", Err: err}
	}
	if string(header[offsetMagic:offsetMagic+8]) != headerMagic {
		return &FormatError{Msg: "bad file magic"}
	}
	db.blockSize = be32(header[offsetBlockSize:])
	db.contentID = trimNulPad(header[offsetContentID : offsetContentID+contentIDSize])
	db.keySize = be32(header[offsetKeySize:])
	db.selector = header[offsetSelector]

	if o.keySize != 0 && o.keySize != db.keySize {
		return &InvalidArgumentError{Msg: "key size does not match existing database"}
	}
	if o.contentID != "" && o.contentID != db.contentID {
		return &InvalidArgumentError{Msg: "content identifier does not match existing database"}
	}

	slot0 := header[offsetRootInfo0 : offsetRootInfo0+rootInfoSize]
	slot1 := header[offsetRootInfo1 : offsetRootInfo1+rootInfoSize]
	var raw []byte
	if db.selector == 0 {
		raw = slot0
	} else {
		raw = slot1
	}
	ri, err := decodeRootInfo(raw)
	if err != nil {
		return err
	}
	db.headFreeIndexBlock = ri.headFreeIndexBlock
	db.deviceSize = ri.deviceSize
	db.root = ri.root
	db.rootIsLeaf = ri.rootIsLeaf

	// Discard any partially written tail from a crash mid-grow.
	return db.dev.Resize(int64(db.deviceSize))
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBe32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func trimNulPad(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// writeHeaderStatic writes the parts of the header that never change after
// creation: magic, block size, content identifier, key size.
func (db *DB) writeHeaderStatic() error {
	header := make([]byte, headerSize)
	copy(header[offsetMagic:], headerMagic)
	putBe32(header[offsetBlockSize:], db.blockSize)
	copy(header[offsetContentID:offsetContentID+contentIDSize], db.contentID)
	putBe32(header[offsetKeySize:], db.keySize)
	header[offsetSelector] = db.selector
	if _, err := db.dev.WriteAbsolute(0, header); err != nil {
		return &IOError{Op: "write header", Err: err}
	}
	return nil
}

// Close stops the background committer (if running), performs one final
// synchronous commit, and closes the underlying device.
func (db *DB) Close() error {
	db.mu.Lock()
	running := db.running
	db.running = false
	db.mu.Unlock()

	if running {
		close(db.closing)
		<-db.closed
	}

	db.mu.Lock()
	err := db.doCommit()
	db.mu.Unlock()
	if err != nil {
		db.setErr(err)
	}

	if cerr := db.dev.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// run mirrors the reference store's ticker-driven background committer: a
// fixed interval, an immediate signal channel, and a closing/closed pair for
// a clean shutdown. Unlike that reference, there is no flush-rate estimate
// to maintain: a whole-transaction commit is simply due or not due.
func (db *DB) run() {
	defer close(db.closed)
	t := time.NewTicker(db.commitInterval)
	defer t.Stop()
	for {
		select {
		case <-db.flushNow:
			if err := db.Commit(); err != nil {
				db.setErr(err)
			}
		case <-db.closing:
			return
		case <-t.C:
			select {
			case db.flushNow <- struct{}{}:
			default:
			}
		}
	}
}

func (db *DB) setErr(err error) {
	db.errMu.Lock()
	defer db.errMu.Unlock()
	if db.err == nil {
		db.err = err
	}
	log.Errorw("btreedb background error", "err", err)
}

// Err returns the first error observed by the background committer, if any.
func (db *DB) Err() error {
	db.errMu.Lock()
	defer db.errMu.Unlock()
	return db.err
}

// Flush requests the background committer run as soon as possible. It has
// no effect when auto-commit is enabled or no background committer is
// running.
func (db *DB) Flush() {
	select {
	case db.flushNow <- struct{}{}:
	default:
	}
}

// Commit makes every change since the last commit durable. See the
// package doc for the dual-root-slot atomic commit protocol.
func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.doCommit()
}

// Rollback discards every change since the last commit.
func (db *DB) Rollback() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.availableBlocks = nil
	db.pendingFree = nil
	db.uncommitted = make(map[BlockIndex]struct{})
	db.cache.clear()

	header := make([]byte, 1)
	if _, err := db.dev.ReadAbsolute(offsetSelector, header); err != nil {
		return &IOError{Op: "read selector", Err: err}
	}
	db.selector = header[0]

	var off int64 = offsetRootInfo0
	if db.selector != 0 {
		off = offsetRootInfo1
	}
	raw := make([]byte, rootInfoSize)
	if _, err := db.dev.ReadAbsolute(off, raw); err != nil {
		return &IOError{Op: "read root info", Err: err}
	}
	ri, err := decodeRootInfo(raw)
	if err != nil {
		return err
	}
	db.headFreeIndexBlock = ri.headFreeIndexBlock
	db.deviceSize = ri.deviceSize
	db.root = ri.root
	db.rootIsLeaf = ri.rootIsLeaf

	if err := db.dev.Resize(int64(db.deviceSize)); err != nil {
		return &IOError{Op: "truncate on rollback", Err: err}
	}

	count := int64(0)
	if err := db.tree.ForAll(func([]byte, []byte) bool { count++; return true }); err != nil {
		return err
	}
	db.tree = btree.New(db, count)
	return nil
}

// doCommit implements the 7-step dual-root-slot atomic commit protocol.
// Caller must hold db.mu exclusively.
func (db *DB) doCommit() error {
	if len(db.availableBlocks) == 0 && len(db.pendingFree) == 0 && len(db.uncommitted) == 0 {
		return nil
	}

	// rebuildFreeList consumes the in-memory free-list state; a failure at any
	// later step puts it back so the previous root stays consistent with it
	// and a later Commit can retry.
	savedAvailable := append([]BlockIndex(nil), db.availableBlocks...)
	savedPending := append([]BlockIndex(nil), db.pendingFree...)
	savedHead, savedSize := db.headFreeIndexBlock, db.deviceSize
	restore := func() {
		db.availableBlocks, db.pendingFree = savedAvailable, savedPending
		db.headFreeIndexBlock, db.deviceSize = savedHead, savedSize
	}

	head, err := db.rebuildFreeList()
	if err != nil {
		restore()
		return err
	}
	db.headFreeIndexBlock = head

	ri := rootInfo{
		headFreeIndexBlock: db.headFreeIndexBlock,
		deviceSize:         db.deviceSize,
		root:               db.root,
		rootIsLeaf:         db.rootIsLeaf,
	}
	altOff := int64(offsetRootInfo1)
	if db.selector != 0 {
		altOff = offsetRootInfo0
	}
	if _, err := db.dev.WriteAbsolute(altOff, ri.encode()); err != nil {
		restore()
		return &IOError{Op: "write alternate root info", Err: err}
	}
	if err := db.dev.Sync(); err != nil {
		restore()
		return &IOError{Op: "sync before selector flip", Err: err}
	}

	newSelector := byte(1 - db.selector)
	if _, err := db.dev.WriteAbsolute(offsetSelector, []byte{newSelector}); err != nil {
		restore()
		return &IOError{Op: "flip selector", Err: err}
	}
	if err := db.dev.Sync(); err != nil {
		restore()
		return &IOError{Op: "sync after selector flip", Err: err}
	}
	db.selector = newSelector
	db.uncommitted = make(map[BlockIndex]struct{})
	return nil
}

// maybeAutoCommit commits immediately when auto-commit is on, matching the
// "commit at the end of every mutating public entry point" contract.
func (db *DB) maybeAutoCommit() error {
	if db.autoCommit {
		return db.doCommit()
	}
	return nil
}
