/*

Overflow-safe fixed-point arithmetic for the pool protocol. All quantities
are unsigned integers clamped to [0, 2^128-1]; fixed-point values carry an
implicit 10^8 scale factor. Arithmetic saturates instead of wrapping or
panicking: addition and multiplication clamp at the maximum representable
value, subtraction clamps at zero, and division by zero is the defined
degenerate "no liquidity" case returning zero. Saturation is an accepted
domain approximation, not an error.

*/

package fixedpoint

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// PrecisionDigits is the number of decimal digits carried by fixed-point
// values.
const PrecisionDigits = 8

const (
	// sqrtLinearBound is the largest input resolved by linear search.
	sqrtLinearBound = 16
	// sqrtMaxIterations bounds the Newton iteration count so Sqrt always
	// terminates deterministically.
	sqrtMaxIterations = 512
)

var (
	// One is the fixed-point scale factor, 10^8.
	One = sdkmath.NewInt(100_000_000)

	// MaxValue is the largest representable quantity, 2^128 - 1.
	MaxValue = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))

	// BasisPointDenom converts ratios into basis points.
	BasisPointDenom = sdkmath.NewInt(10_000)

	two  = sdkmath.NewInt(2)
	four = sdkmath.NewInt(4)
)

// clamp forces v into the representable range.
func clamp(v sdkmath.Int) sdkmath.Int {
	if v.IsNegative() {
		return sdkmath.ZeroInt()
	}
	if v.GT(MaxValue) {
		return MaxValue
	}
	return v
}

// ToFixed converts a regular (unscaled) quantity into fixed-point form.
func ToFixed(regular uint64) sdkmath.Int {
	return clamp(sdkmath.NewIntFromUint64(regular).Mul(One))
}

// ToRegular truncates a fixed-point value back to its unscaled integer part.
func ToRegular(fixed sdkmath.Int) sdkmath.Int {
	return fixed.Quo(One)
}

// SafeAdd returns a+b, saturating at MaxValue.
func SafeAdd(a, b sdkmath.Int) sdkmath.Int {
	return clamp(a.Add(b))
}

// SafeSub returns a-b, saturating at zero.
func SafeSub(a, b sdkmath.Int) sdkmath.Int {
	if b.GTE(a) {
		return sdkmath.ZeroInt()
	}
	return a.Sub(b)
}

// SafeMul returns a*b, saturating at MaxValue.
func SafeMul(a, b sdkmath.Int) sdkmath.Int {
	return clamp(a.Mul(b))
}

// SafeDiv returns a/b, or zero when b is zero.
func SafeDiv(a, b sdkmath.Int) sdkmath.Int {
	if b.IsZero() {
		return sdkmath.ZeroInt()
	}
	return clamp(a.Quo(b))
}

// MulFixed multiplies two fixed-point operands, re-scaling the product by the
// precision constant. When the naive product would leave the representable
// range it divides before multiplying, trading one scale factor of precision
// for headroom.
func MulFixed(a, b sdkmath.Int) sdkmath.Int {
	product := a.Mul(b)
	if product.GT(MaxValue) {
		return clamp(a.Quo(One).Mul(b))
	}
	return clamp(product.Quo(One))
}

// DivFixed divides two fixed-point operands, preserving the scale of the
// result. Returns zero when b is zero. Falls back to dividing before
// re-scaling when the scaled numerator would leave the representable range.
func DivFixed(a, b sdkmath.Int) sdkmath.Int {
	if b.IsZero() {
		return sdkmath.ZeroInt()
	}
	scaled := a.Mul(One)
	if scaled.GT(MaxValue) {
		return clamp(a.Quo(b).Mul(One))
	}
	return clamp(scaled.Quo(b))
}

// Sqrt returns floor(sqrt(x)) for a regular (unscaled) operand. Small inputs
// are resolved by linear search; larger inputs use Newton's method with a
// bounded iteration count. No floating point is involved, so results are
// bit-identical across platforms.
func Sqrt(x sdkmath.Int) sdkmath.Int {
	if x.IsNil() || !x.IsPositive() {
		return sdkmath.ZeroInt()
	}
	if x.LTE(sdkmath.NewInt(sqrtLinearBound)) {
		root := sdkmath.OneInt()
		for root.Add(sdkmath.OneInt()).Mul(root.Add(sdkmath.OneInt())).LTE(x) {
			root = root.Add(sdkmath.OneInt())
		}
		return root
	}

	z := x
	y := x.Add(sdkmath.OneInt()).Quo(two)
	for i := 0; i < sqrtMaxIterations && y.LT(z); i++ {
		z = y
		y = z.Add(x.Quo(z)).Quo(two)
	}
	return z
}

// SqrtFixed returns the square root of a fixed-point operand as a
// fixed-point value: sqrt(v * 10^8 * 10^8) / 10^8 == sqrt(v).
func SqrtFixed(a sdkmath.Int) sdkmath.Int {
	return Sqrt(SafeMul(a, One))
}

// CurveY evaluates the bonded reference curve 4*h*x*(l-x) / l^2 at candle x.
// h is fixed-point; x and l are regular candle indices. Returns zero when
// x > l or l == 0, so callers never see a division failure.
func CurveY(x, h, l sdkmath.Int) sdkmath.Int {
	if l.IsZero() || x.GT(l) {
		return sdkmath.ZeroInt()
	}
	numerator := SafeMul(SafeMul(SafeMul(four, h), x), SafeSub(l, x))
	return SafeDiv(numerator, SafeMul(l, l))
}

// AMMOut computes the constant-product swap output
// y_reserve - (x_reserve * y_reserve) / (x_reserve + x_in). All operands are
// fixed-point; the scale cancels. Any zero reserve or zero input yields zero.
func AMMOut(xIn, xReserve, yReserve sdkmath.Int) sdkmath.Int {
	if xIn.IsZero() || xReserve.IsZero() || yReserve.IsZero() {
		return sdkmath.ZeroInt()
	}
	retained := SafeDiv(SafeMul(xReserve, yReserve), SafeAdd(xReserve, xIn))
	return SafeSub(yReserve, retained)
}

// DeviationBP measures the basis-point distance between an AMM-realized
// output and the curve-expected output. A zero expectation yields zero.
func DeviationBP(actual, expected sdkmath.Int) sdkmath.Int {
	if expected.IsZero() {
		return sdkmath.ZeroInt()
	}
	var diff sdkmath.Int
	if actual.GTE(expected) {
		diff = actual.Sub(expected)
	} else {
		diff = expected.Sub(actual)
	}
	return SafeDiv(SafeMul(diff, BasisPointDenom), expected)
}
