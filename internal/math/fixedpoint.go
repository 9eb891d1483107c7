package math

import (
	"math/big"
	"sync"
)

// DecimalConfig fixes the scale of one fixed-point quantity class.
type DecimalConfig struct {
	DecimalPrecision int   // decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}       // 0.01
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001
	NotionalConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 quote units
)

// PriceUnset / QtyUnset are sentinels for absent fields. Chosen so no
// legitimate fixed-point value collides with them.
const (
	PriceUnset int64 = -1 << 62
	QtyUnset   int64 = -1 << 62
)

// intermediates overflow int64, so products run through pooled big.Ints
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// divHalfEven divides numerator by denominator with banker's rounding.
func divHalfEven(numerator *big.Int, denominator int64) int64 {
	denom := big.NewInt(denominator)
	quotient := getBig()
	remainder := getBig()

	quotient.DivMod(numerator, denom, remainder)
	result := quotient.Int64()

	half := big.NewInt(denominator / 2)
	switch cmp := remainder.Cmp(half); {
	case cmp > 0:
		result++
	case cmp == 0 && denominator%2 == 0:
		// exactly half: round to even
		if result%2 != 0 {
			result++
		}
	}

	putBig(quotient)
	putBig(remainder)

	return result
}

// Notional computes px * qty rescaled into notional precision:
// px * qty * notionalScale / (priceScale * qtyScale)
func Notional(px, qty int64, pxCfg, qtyCfg, ntlCfg DecimalConfig) int64 {
	raw := getBig()
	raw.Mul(big.NewInt(px), big.NewInt(qty))
	raw.Mul(raw, big.NewInt(ntlCfg.Scale))

	result := divHalfEven(raw, pxCfg.Scale*qtyCfg.Scale)

	putBig(raw)

	return result
}

// VWAP divides accumulated notional by accumulated quantity, yielding a
// price in price precision. Returns PriceUnset when qty is zero: callers
// must never observe a divide-by-zero result.
func VWAP(notional, qty int64, pxCfg, qtyCfg, ntlCfg DecimalConfig) int64 {
	if qty == 0 {
		return PriceUnset
	}

	// vwap = notional * priceScale * qtyScale / (qty * notionalScale)
	num := getBig()
	num.SetInt64(notional)
	num.Mul(num, big.NewInt(pxCfg.Scale))
	num.Mul(num, big.NewInt(qtyCfg.Scale))

	denom := getBig()
	denom.SetInt64(qty)
	denom.Mul(denom, big.NewInt(ntlCfg.Scale))

	quotient := getBig()
	remainder := getBig()
	quotient.QuoRem(num, denom, remainder)
	result := quotient.Int64()

	putBig(num)
	putBig(denom)
	putBig(quotient)
	putBig(remainder)

	return result
}
