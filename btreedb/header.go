package btreedb

import (
	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/byteorder"
	"github.com/rpcpool/btreedb/internal/datastream"
)

const (
	headerMagic = "BTreeDB5"
	headerSize  = 512

	contentIDSize = 12

	offsetMagic      = 0
	offsetBlockSize  = 8
	offsetContentID  = 12
	offsetKeySize    = 24
	offsetSelector   = 28
	offsetRootInfo0  = 32
	offsetRootInfo1  = 64
	rootInfoSize     = 32
)

// InvalidBlockIndex is the sentinel meaning "no block".
const InvalidBlockIndex BlockIndex = 0xFFFFFFFF

// BlockIndex identifies a block within the file, relative to the end of the
// header.
type BlockIndex = uint32

// rootInfo is one of the two fixed-offset root bookkeeping slots in the
// header.
type rootInfo struct {
	headFreeIndexBlock BlockIndex
	deviceSize         uint64
	root               BlockIndex
	rootIsLeaf         bool
}

func (r rootInfo) encode() []byte {
	buf := bytebuf.New()
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	_ = s.WriteU32(r.headFreeIndexBlock)
	_ = s.WriteU64(r.deviceSize)
	_ = s.WriteU32(r.root)
	_ = s.WriteBool(r.rootIsLeaf)
	out := make([]byte, rootInfoSize)
	copy(out, buf.Bytes())
	return out
}

func decodeRootInfo(raw []byte) (rootInfo, error) {
	buf := bytebuf.FromBytes(append([]byte(nil), raw...))
	s := datastream.New(buf)
	s.Order = byteorder.BigEndian
	head, err := s.ReadU32()
	if err != nil {
		return rootInfo{}, err
	}
	size, err := s.ReadU64()
	if err != nil {
		return rootInfo{}, err
	}
	root, err := s.ReadU32()
	if err != nil {
		return rootInfo{}, err
	}
	isLeaf, err := s.ReadBool()
	if err != nil {
		return rootInfo{}, err
	}
	return rootInfo{headFreeIndexBlock: head, deviceSize: size, root: root, rootIsLeaf: isLeaf}, nil
}
