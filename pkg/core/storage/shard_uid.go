package storage

import (
	"encoding/binary"
	"fmt"
)

// ShardUId is a versioned shard identifier. Version changes on resharding,
// so the same logical shard gets a fresh key space and the old layout can be
// garbage collected independently.
type ShardUId struct {
	Version uint32
	ShardID uint32
}

// PrefixSize is the length of the serialized ShardUId.
const PrefixSize = 8

// Prefix returns the big-endian key prefix of the shard placed right after
// the column byte. Big-endian keeps the keys of one shard contiguous under
// Seek.
func (s ShardUId) Prefix() []byte {
	res := make([]byte, PrefixSize)
	binary.BigEndian.PutUint32(res, s.Version)
	binary.BigEndian.PutUint32(res[4:], s.ShardID)
	return res
}

// String implements fmt.Stringer.
func (s ShardUId) String() string {
	return fmt.Sprintf("s%d.v%d", s.ShardID, s.Version)
}
