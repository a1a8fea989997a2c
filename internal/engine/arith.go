package engine

import "math/bits"

// checkedAdd returns a+b, or ok=false if the sum does not fit in 64 bits.
func checkedAdd(a, b uint64) (sum uint64, ok bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// checkedSub returns a-b, or ok=false if b > a.
func checkedSub(a, b uint64) (diff uint64, ok bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}
