package util

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Uint256Size is the size of Uint256 in bytes.
const Uint256Size = 32

// Uint256 is a 32 byte long unsigned integer. It is used as a content hash
// of trie nodes and large values and as a state root identifier.
type Uint256 [Uint256Size]uint8

// Uint256DecodeStringBE attempts to decode the given big-endian hex string
// into a Uint256.
func Uint256DecodeStringBE(s string) (u Uint256, err error) {
	if len(s) != Uint256Size*2 {
		return u, fmt.Errorf("expected string size of %d got %d", Uint256Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, err
	}
	return Uint256DecodeBytesBE(b)
}

// Uint256DecodeBytesBE attempts to decode the given bytes into a Uint256.
func Uint256DecodeBytesBE(b []byte) (u Uint256, err error) {
	if len(b) != Uint256Size {
		return u, fmt.Errorf("expected []byte of size %d got %d", Uint256Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// BytesBE returns a big-endian byte representation of u.
func (u Uint256) BytesBE() []byte {
	b := make([]byte, Uint256Size)
	copy(b, u[:])
	return b
}

// Equals returns true if both Uint256 values are the same.
func (u Uint256) Equals(other Uint256) bool {
	return u == other
}

// StringBE returns a big-endian hex representation of u.
func (u Uint256) StringBE() string {
	return hex.EncodeToString(u[:])
}

// String implements the stringer interface.
func (u Uint256) String() string {
	return u.StringBE()
}

// CompareTo compares the two Uint256, returning -1, 0 or 1.
func (u Uint256) CompareTo(other Uint256) int {
	return bytes.Compare(u[:], other[:])
}

// UnmarshalJSON implements the json unmarshaller interface.
func (u *Uint256) UnmarshalJSON(data []byte) (err error) {
	var js string
	if err = json.Unmarshal(data, &js); err != nil {
		return err
	}
	js = strings.TrimPrefix(js, "0x")
	*u, err = Uint256DecodeStringBE(js)
	return err
}

// MarshalJSON implements the json marshaller interface.
func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + u.StringBE())
}
