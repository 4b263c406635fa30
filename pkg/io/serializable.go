package io

// Serializable defines the binary encoding/decoding interface. Errors are
// returned via BinReader/BinWriter Err field.
type Serializable interface {
	DecodeBinary(*BinReader)
	EncodeBinary(*BinWriter)
}

// ToByteArray serializes a serializable item into a byte slice.
func ToByteArray(s Serializable) ([]byte, error) {
	bw := NewBufBinWriter()
	s.EncodeBinary(bw.BinWriter)
	if bw.Err != nil {
		return nil, bw.Err
	}
	return bw.Bytes(), nil
}

// FromByteArray deserializes a serializable item from a byte slice. It's
// similar to the NewBinReaderFromBuf/DecodeBinary combo, but does final error
// check, so if this function returns no error, the input can be considered
// properly decoded.
func FromByteArray(s Serializable, data []byte) error {
	br := NewBinReaderFromBuf(data)
	s.DecodeBinary(br)
	return br.Err
}
