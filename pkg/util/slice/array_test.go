package slice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopy(t *testing.T) {
	for _, arr := range [][]byte{
		{},
		{0x01},
		{0x01, 0x02, 0x03, 0x04},
	} {
		c := Copy(arr)
		require.Equal(t, arr, c)
		if len(c) > 0 {
			c[0] ^= 0xFF
			require.NotEqual(t, arr[0], c[0])
		}
	}
}
