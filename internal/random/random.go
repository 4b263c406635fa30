// Package random contains utilities for generating random test data.
package random

import (
	"math/rand"
	"time"

	"github.com/statera-project/statera/pkg/util"
)

var rnd = rand.New(rand.NewSource(time.Now().UnixNano()))

// Int returns a random integer in [min, max).
func Int(min, max int) int {
	return min + rnd.Intn(max-min)
}

// Bytes returns a random byte slice of the specified length.
func Bytes(n int) []byte {
	b := make([]byte, n)
	rnd.Read(b)
	return b
}

// Uint256 returns a random util.Uint256.
func Uint256() util.Uint256 {
	var res util.Uint256
	rnd.Read(res[:])
	return res
}
