package asset

import (
	"math"
	"math/bits"
)

var pow10 = [...]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

// MaxDecimals is the largest decimal count whose scale fits an int64.
const MaxDecimals = len(pow10) - 1

// mulDiv returns a*b/c rounded down (or up when ceil is set) using a
// 128-bit intermediate. a and b must be non-negative, c positive.
func mulDiv(a, b, c int64, ceil bool) (int64, error) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, ErrOverflow
	}
	q, r := bits.Div64(hi, lo, uint64(c))
	if ceil && r != 0 {
		q++
	}
	if q > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// MulDiv returns floor(a*b/c) without intermediate overflow.
func MulDiv(a, b, c int64) (int64, error) {
	return mulDiv(a, b, c, false)
}
