package util

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 returns the smallest power of two >= x.
// x == 0 yields 1; values past 1<<63 clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ClampPow2 rounds n up to a power of two and clamps it into [lo, hi].
// lo and hi are rounded as well, so the result is always a power of two.
func ClampPow2(n, lo, hi int) int {
	if n < 1 {
		n = 1
	}
	r := int(NextPow2(uint64(n)))
	if l := int(NextPow2(uint64(max(lo, 1)))); r < l {
		r = l
	}
	if hi > 0 {
		if h := int(NextPow2(uint64(hi))); r > h {
			r = h
		}
	}
	return r
}
