package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relTol is the documented maximum relative error of Exp and Ln.
const relTol = 1e-7

func toFloat(f Fixed) float64 {
	return float64(f) / Scale
}

func fromFloat(x float64) Fixed {
	return Fixed(math.Round(x * Scale))
}

func TestExpMatchesReference(t *testing.T) {
	for x := -20.5; x <= 20.5; x += 0.173 {
		got, err := Exp(fromFloat(x))
		require.NoError(t, err)
		want := math.Exp(x)
		assert.InEpsilon(t, want, toFloat(got), relTol, "exp(%v)", x)
	}
}

func TestExpZeroIsOne(t *testing.T) {
	got, err := Exp(0)
	require.NoError(t, err)
	assert.Equal(t, One, got)
}

func TestExpUnderflowsToZero(t *testing.T) {
	got, err := Exp(MinExpInput - 1)
	require.NoError(t, err)
	assert.Equal(t, Fixed(0), got)
}

func TestExpOverflowErrors(t *testing.T) {
	_, err := Exp(MaxExpInput + 1)
	assert.ErrorIs(t, err, ErrExpOverflow)
}

func TestLnMatchesReference(t *testing.T) {
	for _, x := range []float64{1e-6, 0.01, 0.5, 0.9999, 1.0, 1.5, 2.0, 3.14159, 10, 1000, 1e6, 1e9} {
		got, err := Ln(fromFloat(x))
		require.NoError(t, err)
		want := math.Log(x)
		if math.Abs(want) < 1e-4 {
			assert.InDelta(t, want, toFloat(got), 1e-8, "ln(%v)", x)
		} else {
			assert.InEpsilon(t, want, toFloat(got), relTol, "ln(%v)", x)
		}
	}
}

func TestLnDomain(t *testing.T) {
	_, err := Ln(0)
	assert.ErrorIs(t, err, ErrLnDomain)
	_, err = Ln(-One)
	assert.ErrorIs(t, err, ErrLnDomain)
}

func TestLnExpRoundTrip(t *testing.T) {
	for x := -15.0; x <= 15.0; x += 1.3 {
		e, err := Exp(fromFloat(x))
		require.NoError(t, err)
		back, err := Ln(e)
		require.NoError(t, err)
		assert.InDelta(t, x, toFloat(back), 1e-6, "ln(exp(%v))", x)
	}
}

func TestFromRatio(t *testing.T) {
	assert.Equal(t, Fixed(Scale/2), FromRatio(1, 2))
	assert.Equal(t, Fixed(-Scale/2), FromRatio(-1, 2))
	assert.Equal(t, FromInt(7), FromRatio(70, 10))
	// Large numerators must not overflow the intermediate product.
	assert.Equal(t, FromInt(5_000_000), FromRatio(5_000_000_000, 1000))
}

func TestMulDiv(t *testing.T) {
	a := FromRatio(3, 2) // 1.5
	b := FromRatio(5, 2) // 2.5
	assert.Equal(t, FromRatio(15, 4), Mul(a, b))
	assert.Equal(t, FromRatio(3, 5), Div(a, b))
	assert.Equal(t, FromInt(-6), MulInt(a, -4))
}

func TestIntTruncatesTowardZero(t *testing.T) {
	assert.Equal(t, int64(1), FromRatio(3, 2).Int())
	assert.Equal(t, int64(-1), FromRatio(-3, 2).Int())
}
