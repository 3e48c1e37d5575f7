// Package ammath implements the constant-product pool arithmetic.
//
// All functions are pure, operate on unbounded *big.Int amounts in atomic
// token units, and use floor division throughout. No floating point enters
// reserve math.
package ammath

import (
	"errors"
	"math/big"
)

// BpsDenominator is the basis-point scale used for fees and price impact.
const BpsDenominator = 10_000

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidReserves       = errors.New("reserves must be positive")
	ErrInvalidFee            = errors.New("fee out of range")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

var bpsDen = big.NewInt(BpsDenominator)

// SwapOutput computes the executed output for a constant-product swap.
//
// The fee is taken from the input side:
//
//	feeAmount        = floor(amountIn * feeBps / 10000)
//	amountInAfterFee = amountIn - feeAmount
//	amountOut        = floor(reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee))
//
// amountOut is strictly less than reserveOut for any amountIn, so a single
// swap can never drain the pool. priceImpactBps is the deviation of the
// executed average price from the pre-trade marginal price, in basis points.
func SwapOutput(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) (amountOut, feeAmount *big.Int, priceImpactBps int64, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, 0, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, nil, 0, ErrInvalidReserves
	}
	if feeBps < 0 || feeBps >= BpsDenominator {
		return nil, nil, 0, ErrInvalidFee
	}

	feeAmount = new(big.Int).Mul(amountIn, big.NewInt(feeBps))
	feeAmount.Quo(feeAmount, bpsDen)

	afterFee := new(big.Int).Sub(amountIn, feeAmount)

	num := new(big.Int).Mul(reserveOut, afterFee)
	den := new(big.Int).Add(reserveIn, afterFee)
	amountOut = num.Quo(num, den)

	// Marginal-price output: what afterFee would buy at the pre-trade spot
	// price. The executed average price is always at or below it.
	spot := new(big.Int).Mul(afterFee, reserveOut)
	spot.Quo(spot, reserveIn)
	if spot.Sign() > 0 {
		diff := new(big.Int).Sub(spot, amountOut)
		diff.Mul(diff, bpsDen)
		diff.Quo(diff, spot)
		priceImpactBps = diff.Int64()
	}

	return amountOut, feeAmount, priceImpactBps, nil
}

// OptimalLiquidityAmounts finds the largest deposit not exceeding the
// desired amounts that preserves the current reserve ratio. One side is
// matched exactly and the other reduced proportionally. When either reserve
// is zero the pool is being bootstrapped and both desired amounts are used
// as-is.
func OptimalLiquidityAmounts(amountADesired, amountBDesired, reserveA, reserveB *big.Int) (amountA, amountB *big.Int) {
	if reserveA == nil || reserveB == nil || reserveA.Sign() == 0 || reserveB.Sign() == 0 {
		return new(big.Int).Set(amountADesired), new(big.Int).Set(amountBDesired)
	}

	// B matching the full desired A at the current ratio.
	bOptimal := new(big.Int).Mul(amountADesired, reserveB)
	bOptimal.Quo(bOptimal, reserveA)
	if bOptimal.Cmp(amountBDesired) <= 0 {
		return new(big.Int).Set(amountADesired), bOptimal
	}

	aOptimal := new(big.Int).Mul(amountBDesired, reserveA)
	aOptimal.Quo(aOptimal, reserveB)
	return aOptimal, new(big.Int).Set(amountBDesired)
}

// LPTokensToMint returns the LP shares minted for a deposit. An empty pool
// mints floor(sqrt(amountA*amountB)); afterwards shares are the minimum of
// the proportional entitlements so a lopsided deposit never mints more than
// its constraining side.
func LPTokensToMint(amountA, amountB, reserveA, reserveB, totalShares *big.Int) *big.Int {
	if totalShares == nil || totalShares.Sign() == 0 {
		product := new(big.Int).Mul(amountA, amountB)
		return product.Sqrt(product)
	}

	byA := new(big.Int).Mul(amountA, totalShares)
	byA.Quo(byA, reserveA)
	byB := new(big.Int).Mul(amountB, totalShares)
	byB.Quo(byB, reserveB)
	if byA.Cmp(byB) < 0 {
		return byA
	}
	return byB
}

// AmountsForLPBurn returns the amounts owed for burning shares against the
// current reserves. Entitlements are never cached; callers pass the live
// reserve snapshot so fees earned since deposit are reflected.
func AmountsForLPBurn(shares, totalShares, reserveA, reserveB *big.Int) (amountA, amountB *big.Int, err error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	if totalShares == nil || totalShares.Sign() <= 0 || shares.Cmp(totalShares) > 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	amountA = new(big.Int).Mul(shares, reserveA)
	amountA.Quo(amountA, totalShares)
	amountB = new(big.Int).Mul(shares, reserveB)
	amountB.Quo(amountB, totalShares)

	if amountA.Sign() == 0 && amountB.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	return amountA, amountB, nil
}

// MinAmountOut applies a whole-percent slippage tolerance to a quoted
// output: floor(amountOut * (100 - slippagePercent) / 100). The tolerance is
// clamped to [0, 100].
func MinAmountOut(amountOut *big.Int, slippagePercent int64) *big.Int {
	if slippagePercent < 0 {
		slippagePercent = 0
	}
	if slippagePercent > 100 {
		slippagePercent = 100
	}
	out := new(big.Int).Mul(amountOut, big.NewInt(100-slippagePercent))
	return out.Quo(out, big.NewInt(100))
}
