// Package util contains internal helpers (hashing, bucket math, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// Fnv64a hashes a key with 64-bit FNV-1a.
// The result is stable across processes, so a key always routes to the
// same bucket for a given bucket count.
func Fnv64a(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// BucketIndex maps a 64-bit hash to a bucket index.
// Bucket counts are powers of two on the hot path, so the mask is used;
// arbitrary counts fall back to modulo.
func BucketIndex(hash uint64, buckets int) int {
	if buckets <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(buckets)) {
		return int(hash & uint64(buckets-1))
	}
	return int(hash % uint64(buckets))
}
