package math

import (
	"math/big"
)

// BasisPoints is the denominator of every bps-denominated rate.
const BasisPoints = 10_000

var (
	bpsDenominator = big.NewInt(BasisPoints)

	// WAD is the 1e18 fixed-point unit used for health factors.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// MaxUint256 is 2^256 - 1.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// NewBigInt returns a fresh copy of x, treating nil as zero.
func NewBigInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// MulBps returns amount * bps / 10000, rounded down.
func MulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, bpsDenominator)
}

// CalculateFlashLoanFee calculates the premium charged on a flash loan of amount.
func CalculateFlashLoanFee(amount *big.Int, premiumBps uint64) *big.Int {
	return MulBps(amount, premiumBps)
}

// MeetsBps reports whether value*10000 >= base*bps.
func MeetsBps(value, base *big.Int, bps uint64) bool {
	lhs := new(big.Int).Mul(NewBigInt(value), bpsDenominator)
	rhs := new(big.Int).Mul(NewBigInt(base), new(big.Int).SetUint64(bps))
	return lhs.Cmp(rhs) >= 0
}

// FloorZero returns x, or zero when x is negative.
func FloorZero(x *big.Int) *big.Int {
	if x == nil || x.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// Sum adds all values, treating nil as zero.
func Sum(values ...*big.Int) *big.Int {
	out := new(big.Int)
	for _, v := range values {
		if v != nil {
			out.Add(out, v)
		}
	}
	return out
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ToBase converts amount of a token with the given decimals into base currency
// units at price (price is quoted per whole token).
func ToBase(amount, price *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Mul(NewBigInt(amount), NewBigInt(price))
	return out.Div(out, Pow10(decimals))
}

// FromBase is the inverse of ToBase, rounded down.
func FromBase(base, price *big.Int, decimals uint8) *big.Int {
	if price == nil || price.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(NewBigInt(base), Pow10(decimals))
	return out.Div(out, price)
}
