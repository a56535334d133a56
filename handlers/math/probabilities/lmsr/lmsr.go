// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// originally developed by Robin Hanson for prediction markets.
//
// LMSR provides:
// - Bounded loss for market maker (max loss = b * ln(n) where n = number of outcomes)
// - Always available liquidity
// - Price = probability interpretation
// - Well-defined cost function
//
// All arithmetic is deterministic fixed point (see the fixedpoint package):
// identical inputs produce identical costs on every platform, which keeps the
// quoted estimate equal to the executed charge.
//
// Reference: "Logarithmic Market Scoring Rules for Modular Combinatorial
// Information Aggregation" by Robin Hanson, 2003, George Mason University
package lmsr

import (
	"errors"

	"lmsrmarket/handlers/math/fixedpoint"
)

var (
	ErrLiquidity    = errors.New("lmsr: liquidity parameter must be positive")
	ErrOutcomeIndex = errors.New("lmsr: outcome index out of range")
	ErrNegativeQty  = errors.New("lmsr: quantity vector must be non-negative")
)

// Cost evaluates the cost function C(q) = b * ln(sum of exp(q_i / b)) in
// fixed-point share units.
//
// The sum is evaluated as exp(m) * sum(exp(q_i/b - m)) for m = max(q_i/b)
// (the log-sum-exp trick), so every exponent is non-positive and the naive
// overflow of exp(q_i/b) for large positions cannot occur.
func Cost(b int64, quantities []int64) (fixedpoint.Fixed, error) {
	if b <= 0 {
		return 0, ErrLiquidity
	}
	if len(quantities) == 0 {
		return 0, ErrOutcomeIndex
	}

	m := fixedpoint.FromRatio(quantities[0], b)
	for _, q := range quantities[1:] {
		if s := fixedpoint.FromRatio(q, b); s > m {
			m = s
		}
	}

	var sum fixedpoint.Fixed
	for _, q := range quantities {
		if q < 0 {
			return 0, ErrNegativeQty
		}
		e, err := fixedpoint.Exp(fixedpoint.FromRatio(q, b) - m)
		if err != nil {
			return 0, err
		}
		sum += e
	}

	lnSum, err := fixedpoint.Ln(sum)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulInt(m+lnSum, b), nil
}

// Price returns the instantaneous marginal price of outcome idx,
// exp(q_idx/b) / sum(exp(q_j/b)), as a fixed-point probability in (0, 1).
// Prices across all outcomes sum to one up to fixed-point rounding.
func Price(b int64, quantities []int64, idx int) (fixedpoint.Fixed, error) {
	if b <= 0 {
		return 0, ErrLiquidity
	}
	if idx < 0 || idx >= len(quantities) {
		return 0, ErrOutcomeIndex
	}

	// Softmax with the same max-subtraction used by Cost.
	m := fixedpoint.FromRatio(quantities[0], b)
	for _, q := range quantities[1:] {
		if s := fixedpoint.FromRatio(q, b); s > m {
			m = s
		}
	}

	var sum, num fixedpoint.Fixed
	for i, q := range quantities {
		e, err := fixedpoint.Exp(fixedpoint.FromRatio(q, b) - m)
		if err != nil {
			return 0, err
		}
		sum += e
		if i == idx {
			num = e
		}
	}
	return fixedpoint.Div(num, sum), nil
}

// TradeCost returns C(q') - C(q) where q' shifts outcome idx by delta shares:
// positive for the cost of a buy, negative for the proceeds of a sell. The
// read-only estimator and the trade executor both call this, so a quote
// matches the executed amount whenever state is unchanged in between.
func TradeCost(b int64, quantities []int64, idx int, delta int64) (fixedpoint.Fixed, error) {
	if idx < 0 || idx >= len(quantities) {
		return 0, ErrOutcomeIndex
	}
	if quantities[idx]+delta < 0 {
		return 0, ErrNegativeQty
	}

	before, err := Cost(b, quantities)
	if err != nil {
		return 0, err
	}

	after := make([]int64, len(quantities))
	copy(after, quantities)
	after[idx] += delta

	afterCost, err := Cost(b, after)
	if err != nil {
		return 0, err
	}
	return afterCost - before, nil
}

// MaxLoss returns the market maker's worst-case loss, b * ln(n), in
// fixed-point share units. Initial funding at or above this bound keeps the
// maker solvent for every possible outcome.
func MaxLoss(b int64, numOutcomes int) (fixedpoint.Fixed, error) {
	if b <= 0 {
		return 0, ErrLiquidity
	}
	lnN, err := fixedpoint.Ln(fixedpoint.FromInt(int64(numOutcomes)))
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulInt(lnN, b), nil
}
