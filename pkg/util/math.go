package util

import "github.com/holiman/uint256"

// SafeAdd returns a+b, or ok=false when the sum does not fit in 64 bits.
func SafeAdd(a, b uint64) (sum uint64, ok bool) {
	z := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !z.IsUint64() {
		return 0, false
	}
	return z.Uint64(), true
}

// SafeMul returns a*b, or ok=false when the product does not fit in 64 bits.
func SafeMul(a, b uint64) (product uint64, ok bool) {
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	if !z.IsUint64() {
		return 0, false
	}
	return z.Uint64(), true
}
