package btreedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/btreedb/internal/bytebuf"
)

func TestHashedKeyDBRejectsWrongKeySize(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev, WithKeySize(8))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewHashedKeyDB(db)
	require.Error(t, err)
}

func TestHashedKeyDBRoundTrip(t *testing.T) {
	dev := bytebuf.New()
	db, err := Open(dev)
	require.NoError(t, err)
	defer db.Close()

	h, err := NewHashedKeyDB(db)
	require.NoError(t, err)

	require.NoError(t, h.PutString("players/alice", []byte("hp=100")))
	require.NoError(t, h.PutString("players/bob", []byte("hp=80")))

	v, ok, err := h.GetString("players/alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hp=100", string(v))

	has, err := h.ContainsString("players/carol")
	require.NoError(t, err)
	require.False(t, has)

	removed, err := h.RemoveString("players/bob")
	require.NoError(t, err)
	require.True(t, removed)

	_, ok, err = h.GetString("players/bob")
	require.NoError(t, err)
	require.False(t, ok)
}
