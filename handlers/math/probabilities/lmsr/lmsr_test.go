package lmsr

import (
	"math"
	"testing"

	"lmsrmarket/handlers/math/fixedpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toFloat(f fixedpoint.Fixed) float64 {
	return float64(f) / fixedpoint.Scale
}

func refCost(b float64, q []int64) float64 {
	sum := 0.0
	for _, qi := range q {
		sum += math.Exp(float64(qi) / b)
	}
	return b * math.Log(sum)
}

func TestCostMatchesReference(t *testing.T) {
	cases := []struct {
		b int64
		q []int64
	}{
		{100, []int64{0, 0}},
		{100, []int64{10, 0}},
		{1000, []int64{250, 750}},
		{1000, []int64{5000, 10}},
		{50, []int64{100, 200, 300}},
		{10, []int64{0, 0, 0, 0, 0}},
	}
	for _, tc := range cases {
		got, err := Cost(tc.b, tc.q)
		require.NoError(t, err)
		want := refCost(float64(tc.b), tc.q)
		assert.InEpsilon(t, want, toFloat(got), 1e-6, "b=%d q=%v", tc.b, tc.q)
	}
}

func TestCostStableForLargePositions(t *testing.T) {
	// q/b = 500 overflows any naive exp; log-sum-exp must keep this finite.
	got, err := Cost(100, []int64{50_000, 0})
	require.NoError(t, err)
	assert.InEpsilon(t, 50_000.0, toFloat(got), 1e-6)
}

func TestEmptyMarketCost(t *testing.T) {
	// C(0) = b * ln(n): the maximum subsidy the maker can lose.
	got, err := Cost(1000, []int64{0, 0})
	require.NoError(t, err)
	assert.InEpsilon(t, 1000*math.Log(2), toFloat(got), 1e-6)
}

func TestPricesSumToOne(t *testing.T) {
	cases := [][]int64{
		{0, 0},
		{10, 0},
		{123, 456},
		{9000, 10, 500},
		{1, 2, 3, 4, 5, 6},
	}
	for _, q := range cases {
		var sum fixedpoint.Fixed
		for i := range q {
			p, err := Price(1000, q, i)
			require.NoError(t, err)
			assert.Greater(t, int64(p), int64(0))
			assert.Less(t, int64(p), int64(fixedpoint.One))
			sum += p
		}
		assert.InDelta(t, 1.0, toFloat(sum), 1e-6, "q=%v", q)
	}
}

func TestPriceOrderingFollowsInventory(t *testing.T) {
	q := []int64{10, 0}
	p0, err := Price(1000, q, 0)
	require.NoError(t, err)
	p1, err := Price(1000, q, 1)
	require.NoError(t, err)
	assert.Greater(t, int64(p0), int64(p1))
}

func TestTradeCostSigns(t *testing.T) {
	q := []int64{30, 40}

	buy, err := TradeCost(100, q, 0, 10)
	require.NoError(t, err)
	assert.Greater(t, int64(buy), int64(0))

	sell, err := TradeCost(100, q, 0, -10)
	require.NoError(t, err)
	assert.Less(t, int64(sell), int64(0))

	// The input vector must be left untouched.
	assert.Equal(t, []int64{30, 40}, q)
}

func TestTradeCostRoundTrip(t *testing.T) {
	q := []int64{100, 50}
	buy, err := TradeCost(500, q, 1, 25)
	require.NoError(t, err)

	after := []int64{100, 75}
	sell, err := TradeCost(500, after, 1, -25)
	require.NoError(t, err)

	// Selling right back returns the buy cost up to fixed-point rounding.
	assert.InDelta(t, toFloat(buy), -toFloat(sell), 1e-6)
}

func TestTradeCostRejectsOversell(t *testing.T) {
	_, err := TradeCost(100, []int64{5, 5}, 0, -6)
	assert.ErrorIs(t, err, ErrNegativeQty)
}

func TestBadInputs(t *testing.T) {
	_, err := Cost(0, []int64{1, 2})
	assert.ErrorIs(t, err, ErrLiquidity)

	_, err = Cost(100, []int64{-1, 2})
	assert.ErrorIs(t, err, ErrNegativeQty)

	_, err = Price(100, []int64{1, 2}, 2)
	assert.ErrorIs(t, err, ErrOutcomeIndex)

	_, err = TradeCost(100, []int64{1, 2}, -1, 1)
	assert.ErrorIs(t, err, ErrOutcomeIndex)
}

func TestMaxLoss(t *testing.T) {
	got, err := MaxLoss(1000, 2)
	require.NoError(t, err)
	assert.InEpsilon(t, 1000*math.Log(2), toFloat(got), 1e-6)
}
