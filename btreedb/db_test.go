package btreedb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

var errSimulatedCrash = errors.New("simulated crash")

func key4(i uint32) []byte {
	return []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
}

func TestOpenEmptyDatabase(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(8), WithContentID("test"), WithBlockSize(512))
	require.NoError(t, err)
	require.EqualValues(t, 0, db.RecordCount())

	_, ok, err := db.Get(make([]byte, 8))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Close())

	size, err := dev.Size()
	require.NoError(t, err)
	require.EqualValues(t, 512+512, size)
}

func TestSingleInsertFind(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(8), WithBlockSize(512))
	require.NoError(t, err)
	defer db.Close()

	k := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	require.NoError(t, db.Put(k, []byte("hello")))

	v, ok, err := db.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(v))

	has, err := db.Contains(k)
	require.NoError(t, err)
	require.True(t, has)

	k2 := []byte{0, 0, 0, 0, 0, 0, 0, 2}
	has2, err := db.Contains(k2)
	require.NoError(t, err)
	require.False(t, has2)
}

func TestSplitAtLeaf(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(4), WithBlockSize(256))
	require.NoError(t, err)
	defer db.Close()

	value := make([]byte, 16)
	for i := range value {
		value[i] = 'x'
	}
	for i := uint32(1); i <= 0x40; i++ {
		require.NoError(t, db.Put(key4(i), value))
	}
	require.EqualValues(t, 64, db.RecordCount())

	leaves, indexes, err := db.NodeStats()
	require.NoError(t, err)
	require.GreaterOrEqual(t, leaves, 2)
	require.GreaterOrEqual(t, indexes, 1)

	var got []uint32
	err = db.ForEach(key4(0), key4(255), func(k, v []byte) bool {
		got = append(got, be32(k))
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 64)
	for i, v := range got {
		require.EqualValues(t, i+1, v)
	}
}

func TestMergeAtLeaf(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(4), WithBlockSize(256))
	require.NoError(t, err)
	defer db.Close()

	value := make([]byte, 16)
	for i := range value {
		value[i] = 'x'
	}
	for i := uint32(1); i <= 0x40; i++ {
		require.NoError(t, db.Put(key4(i), value))
	}

	for i := uint32(0x40); i >= 0x20; i-- {
		removed, err := db.Remove(key4(i))
		require.NoError(t, err)
		require.True(t, removed, "key %x should have been present", i)
		if i == 0x20 {
			break
		}
	}
	require.EqualValues(t, 31, db.RecordCount())
}

func TestCommitDurability(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(4), WithBlockSize(256), WithAutoCommit(false))
	require.NoError(t, err)

	for i := uint32(1); i <= 10; i++ {
		require.NoError(t, db.Put(key4(i), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	db2, err := Open(dev, WithKeySize(4))
	require.NoError(t, err)
	defer db2.Close()
	require.EqualValues(t, 10, db2.RecordCount())
	for i := uint32(1); i <= 10; i++ {
		v, ok, err := db2.Get(key4(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestRollbackAtomicity(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(4), WithBlockSize(256), WithAutoCommit(false))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put(key4(1), []byte("a")))
	require.NoError(t, db.Commit())

	require.NoError(t, db.Put(key4(2), []byte("b")))
	_, err = db.Remove(key4(1))
	require.NoError(t, err)

	require.NoError(t, db.Rollback())

	require.EqualValues(t, 1, db.RecordCount())
	_, ok, err := db.Get(key4(2))
	require.NoError(t, err)
	require.False(t, ok)
	v, ok, err := db.Get(key4(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(v))
}

// crashOnSelectorWrite wraps a Buffer and fails the selector byte write
// itself, simulating a process crash after the alternate root slot was
// written and synced but before the selector flip reached the device.
type crashOnSelectorWrite struct {
	*bytebuf.Buffer
	armed   bool
	tripped bool
}

func (c *crashOnSelectorWrite) WriteAbsolute(pos int64, p []byte) (int, error) {
	if c.armed && pos == offsetSelector {
		c.tripped = true
		return 0, errSimulatedCrash
	}
	return c.Buffer.WriteAbsolute(pos, p)
}

func TestCrashBetweenSlotsAndSelectorFlip(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(4), WithBlockSize(256), WithAutoCommit(false))
	require.NoError(t, err)

	require.NoError(t, db.Put(key4(1), []byte("a")))
	require.NoError(t, db.Commit())

	crashing := &crashOnSelectorWrite{Buffer: dev, armed: true}
	db.dev = crashing

	require.NoError(t, db.Put(key4(2), []byte("b")))
	err = db.Commit()
	require.Error(t, err)
	require.True(t, crashing.tripped)

	db.dev = dev
	require.NoError(t, db.Rollback())
	require.EqualValues(t, 1, db.RecordCount())
	_, ok, err := db.Get(key4(2))
	require.NoError(t, err)
	require.False(t, ok)
}

var _ iodevice.Device = (*crashOnSelectorWrite)(nil)
