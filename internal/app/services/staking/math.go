package staking

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Ledger quantities are unsigned 256-bit integers. The helpers below reject
// any value or result that leaves that range.

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return u, nil
}

func addChecked(a, b *big.Int) (*big.Int, error) {
	x, err := toUint256(a)
	if err != nil {
		return nil, err
	}
	y, err := toUint256(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

func mulChecked(a, b *big.Int) (*big.Int, error) {
	x, err := toUint256(a)
	if err != nil {
		return nil, err
	}
	y, err := toUint256(b)
	if err != nil {
		return nil, err
	}
	product := new(uint256.Int).Mul(x, y)
	if !x.IsZero() && !new(uint256.Int).Div(product, x).Eq(y) {
		return nil, ErrOverflow
	}
	return product.ToBig(), nil
}

// scaleDown returns v * price / 10^decimals with a checked multiplication.
func scaleDown(v, price *big.Int, decimals uint8) (*big.Int, error) {
	product, err := mulChecked(v, price)
	if err != nil {
		return nil, err
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return product.Quo(product, divisor), nil
}
