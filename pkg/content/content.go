// Package content generates payloads for the benchmark server and the POST phase
package content

import (
	"math/rand/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Random returns size bytes, each drawn uniformly from 'A'..'Z'.
// A non-positive size yields an empty, non-nil slice.
func Random(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return buf
}
