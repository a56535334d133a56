// Package fixedpoint provides a deterministic signed fixed-point numeric type
// for market pricing. All arithmetic is integer-only so results are identical
// on every platform, unlike float64.
//
// Values are int64 counts of 1e-9 units (Scale). Exp and Ln are bounded-term
// series with a maximum relative error of 1e-7 over their supported domains;
// callers must tolerate error of that order. Out-of-domain inputs return
// errors, they never panic.
package fixedpoint

import (
	"errors"
	"math/bits"
)

// Scale is the number of fixed-point units per 1.0.
const Scale = 1_000_000_000

// Fixed is a signed fixed-point number with 9 decimal places.
type Fixed int64

const (
	// One is the fixed-point representation of 1.0.
	One = Fixed(Scale)

	// Ln2 is ln(2) in fixed point, the range-reduction constant for Exp
	// and Ln.
	Ln2 = Fixed(693_147_181)

	// MaxExpInput bounds Exp's domain: exp(21) ≈ 1.3e9 is near the largest
	// value representable at this scale.
	MaxExpInput = Fixed(21 * Scale)

	// MinExpInput is where exp underflows below one fixed-point unit.
	// Inputs below it yield zero rather than an error.
	MinExpInput = Fixed(-21 * Scale)
)

var (
	ErrExpOverflow = errors.New("fixedpoint: exp input above supported range")
	ErrLnDomain    = errors.New("fixedpoint: ln input must be positive")
)

// FromInt converts a whole number to fixed point.
func FromInt(n int64) Fixed {
	return Fixed(n * Scale)
}

// FromRatio returns num/den in fixed point, truncated toward zero.
// den must be non-zero.
func FromRatio(num, den int64) Fixed {
	return Fixed(mulDiv(num, Scale, den))
}

// Int truncates a fixed-point value toward zero to a whole number.
func (f Fixed) Int() int64 {
	return int64(f) / Scale
}

// Mul returns a*b, truncated toward zero.
func Mul(a, b Fixed) Fixed {
	return Fixed(mulDiv(int64(a), int64(b), Scale))
}

// Div returns a/b, truncated toward zero. b must be non-zero.
func Div(a, b Fixed) Fixed {
	return Fixed(mulDiv(int64(a), Scale, int64(b)))
}

// MulInt returns a*n for a whole-number multiplier.
func MulInt(a Fixed, n int64) Fixed {
	return Fixed(int64(a) * n)
}

// Exp returns e^x.
//
// x is reduced to x = k·ln2 + r with r in [-ln2/2, ln2/2], e^r is evaluated
// with a 12-term Taylor series, and the result is shifted by 2^k. Inputs above
// MaxExpInput error out; inputs below MinExpInput underflow to zero.
func Exp(x Fixed) (Fixed, error) {
	if x > MaxExpInput {
		return 0, ErrExpOverflow
	}
	if x < MinExpInput {
		return 0, nil
	}

	// k = round(x / ln2)
	q := Div(x, Ln2)
	var k int64
	if q >= 0 {
		k = int64(q+One/2) / Scale
	} else {
		k = -(int64(-q+One/2) / Scale)
	}
	r := x - Fixed(k*int64(Ln2))

	// Taylor series for e^r, |r| <= ln2/2. Truncation error after 12 terms
	// is far below one fixed-point unit.
	sum := One
	term := One
	for i := int64(1); i <= 12; i++ {
		term = Fixed(int64(Mul(term, r)) / i)
		if term == 0 {
			break
		}
		sum += term
	}

	return shiftPow2(sum, k)
}

// Ln returns the natural logarithm of x, which must be positive.
//
// x is normalized to m·2^k with m in [1, 2); ln(m) is evaluated with the
// artanh series ln(m) = 2·Σ t^(2i+1)/(2i+1) for t = (m-1)/(m+1), which
// converges quickly because t <= 1/3 on that interval.
func Ln(x Fixed) (Fixed, error) {
	if x <= 0 {
		return 0, ErrLnDomain
	}

	m := x
	k := int64(0)
	for m >= 2*One {
		m /= 2
		k++
	}
	for m < One {
		m *= 2
		k--
	}

	t := Div(m-One, m+One)
	t2 := Mul(t, t)
	sum := t
	term := t
	for i := int64(3); i <= 15; i += 2 {
		term = Mul(term, t2)
		if term == 0 {
			break
		}
		sum += Fixed(int64(term) / i)
	}

	return 2*sum + Fixed(k*int64(Ln2)), nil
}

// shiftPow2 returns f * 2^k, erroring on overflow.
func shiftPow2(f Fixed, k int64) (Fixed, error) {
	if k >= 0 {
		for ; k > 0; k-- {
			if f > Fixed(1)<<62 {
				return 0, ErrExpOverflow
			}
			f *= 2
		}
		return f, nil
	}
	for ; k < 0; k++ {
		f /= 2
	}
	return f, nil
}

// mulDiv computes a*b/den with a 128-bit intermediate so the product cannot
// overflow. Results beyond int64 saturate.
func mulDiv(a, b, den int64) int64 {
	neg := false
	if a < 0 {
		a, neg = -a, !neg
	}
	if b < 0 {
		b, neg = -b, !neg
	}
	if den < 0 {
		den, neg = -den, !neg
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(den) {
		if neg {
			return -(1<<63 - 1)
		}
		return 1<<63 - 1
	}
	q, _ := bits.Div64(hi, lo, uint64(den))
	if q > 1<<63-1 {
		q = 1<<63 - 1
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}
