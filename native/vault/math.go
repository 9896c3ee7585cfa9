package vault

import (
	"math"

	"github.com/holiman/uint256"
)

const basisPoints = 10_000

var maxUint64 = uint256.NewInt(math.MaxUint64)

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

func saturate(v *uint256.Int) uint64 {
	if v.Gt(maxUint64) {
		return math.MaxUint64
	}
	return v.Uint64()
}

// maxBorrow returns floor(collateral * price * ltvBps / 10000). The product is
// formed in 256 bits; a ceiling beyond uint64 saturates because no debt can
// exceed it anyway.
func maxBorrow(collateral uint64, params Params) uint64 {
	value := new(uint256.Int).Mul(uint256.NewInt(collateral), uint256.NewInt(params.ReferencePrice))
	value.Mul(value, uint256.NewInt(params.MaxLTVBps))
	value.Div(value, uint256.NewInt(basisPoints))
	return saturate(value)
}

// ltvBps reports borrowed / (collateral * price) in basis points, rounded
// down. It is 0 when the position carries no debt or no collateral value.
func ltvBps(collateral, borrowed uint64, params Params) uint64 {
	if borrowed == 0 {
		return 0
	}
	value := new(uint256.Int).Mul(uint256.NewInt(collateral), uint256.NewInt(params.ReferencePrice))
	if value.IsZero() {
		return 0
	}
	ratio := new(uint256.Int).Mul(uint256.NewInt(borrowed), uint256.NewInt(basisPoints))
	ratio.Div(ratio, value)
	return saturate(ratio)
}

func healthy(collateral, borrowed uint64, params Params) bool {
	return borrowed <= maxBorrow(collateral, params)
}
