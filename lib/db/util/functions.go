package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a seeded xxhash of s
func HashString(s string, seed uint64) UintKey {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.WriteString(s)
	return UintKey(d.Sum64())
}

// Fold32 folds a 64 bit hash into 32 bits, keeping entropy of both halves
func Fold32(h uint64) uint32 {
	return uint32(h>>32) ^ uint32(h)
}
