package bucketing

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// BucketCount is the number of rollout buckets identifiers are spread across.
const BucketCount = 100

// Bucket deterministically assigns an identifier to a bucket in [1, 100].
// The seed (typically the flag key) namespaces the assignment: changing the
// seed reshuffles every identifier, which is the documented way to re-roll
// a percentage rollout without touching the identifiers themselves.
//
// The 128-bit blake2b digest keeps the distribution uniform; the low 32 bits
// are reduced modulo the bucket count.
func Bucket(identifier, seed string) int {
	h, _ := blake2b.New(16, nil) // size is valid, error is impossible
	h.Write([]byte(identifier))
	h.Write([]byte{':'})
	h.Write([]byte(seed))
	sum := h.Sum(nil)

	low := binary.LittleEndian.Uint32(sum[:4])
	return int(low%BucketCount) + 1
}

// InRollout reports whether the identifier falls inside the first percentage
// buckets for the given seed. Percentages outside [0, 100] are clamped.
func InRollout(identifier, seed string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= BucketCount {
		return true
	}
	return Bucket(identifier, seed) <= percentage
}
