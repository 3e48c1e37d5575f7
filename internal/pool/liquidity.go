package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ammath"
	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
)

// AddLiquidityResult reports the executed deposit.
type AddLiquidityResult struct {
	AmountA      *big.Int
	AmountB      *big.Int
	SharesMinted *big.Int
	NewReserveA  *big.Int
	NewReserveB  *big.Int
	TxRef        ledger.TxRef
}

// AddLiquidity deposits both tokens at the current reserve ratio and mints
// LP shares. Both transfers ride one provider-signed transaction, so the
// deposit either lands whole or not at all.
func (p *Pool) AddLiquidity(ctx context.Context, provider ledger.Account, amountADesired, amountBDesired, amountAMin, amountBMin *big.Int) (*AddLiquidityResult, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidInput)
	}
	if amountADesired == nil || amountADesired.Sign() <= 0 || amountBDesired == nil || amountBDesired.Sign() <= 0 {
		return nil, fmt.Errorf("%w: desired amounts must be positive", ErrInvalidInput)
	}
	if amountAMin == nil {
		amountAMin = new(big.Int)
	}
	if amountBMin == nil {
		amountBMin = new(big.Int)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.refreshReserves(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	reserveA := new(big.Int).Set(p.reserveA)
	reserveB := new(big.Int).Set(p.reserveB)
	totalShares := new(big.Int).Set(p.totalShares)
	p.mu.Unlock()

	amountA, amountB := ammath.OptimalLiquidityAmounts(amountADesired, amountBDesired, reserveA, reserveB)
	if amountA.Cmp(amountAMin) < 0 || amountB.Cmp(amountBMin) < 0 {
		return nil, fmt.Errorf("%w: optimal amounts %s/%s below minimums", ErrInsufficientAmount, amountA, amountB)
	}

	shares := ammath.LPTokensToMint(amountA, amountB, reserveA, reserveB, totalShares)
	if shares.Sign() <= 0 {
		return nil, ErrInsufficientLiquidityMinted
	}

	deposit := p.gw.BeginTransaction(provider)
	deposit.AddTransfer(p.params.Address, amountA, p.params.TokenA)
	deposit.AddTransfer(p.params.Address, amountB, p.params.TokenB)
	ref, err := deposit.Publish(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish deposit: %w", err)
	}

	p.mu.Lock()
	balance := p.sharesOfLocked(string(provider))
	updated := new(big.Int).Add(balance, shares)
	p.positions[string(provider)] = updated
	p.totalShares.Add(p.totalShares, shares)
	p.mu.Unlock()

	if err := p.store.SaveShareBalance(ctx, string(p.params.Address), string(provider), updated); err != nil {
		// The deposit landed on the ledger; surface the store failure so an
		// operator reconciles, but keep the in-memory ledger consistent.
		return nil, fmt.Errorf("persist position after deposit %s: %w", ref, err)
	}

	p.refreshAfterWrite(ctx)

	p.mu.Lock()
	newReserveA := new(big.Int).Set(p.reserveA)
	newReserveB := new(big.Int).Set(p.reserveB)
	p.mu.Unlock()

	p.log.Info("liquidity added",
		zap.String("provider", string(provider)),
		zap.String("amount_a", amountA.String()),
		zap.String("amount_b", amountB.String()),
		zap.String("shares", shares.String()),
	)

	return &AddLiquidityResult{
		AmountA:      amountA,
		AmountB:      amountB,
		SharesMinted: shares,
		NewReserveA:  newReserveA,
		NewReserveB:  newReserveB,
		TxRef:        ref,
	}, nil
}

// RemoveLiquidityResult reports the executed withdrawal.
type RemoveLiquidityResult struct {
	AmountA     *big.Int
	AmountB     *big.Int
	NewReserveA *big.Int
	NewReserveB *big.Int
	TxRef       ledger.TxRef
}

// RemoveLiquidity burns shares and pays out the proportional entitlement,
// computed against current reserves and current total shares so fees earned
// since deposit are included. Both transfers ride one operator-signed
// transaction using the act-on-behalf grant.
func (p *Pool) RemoveLiquidity(ctx context.Context, owner ledger.Account, shares, amountAMin, amountBMin *big.Int) (*RemoveLiquidityResult, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: shares must be positive", ErrInvalidInput)
	}
	if amountAMin == nil {
		amountAMin = new(big.Int)
	}
	if amountBMin == nil {
		amountBMin = new(big.Int)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.refreshReserves(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	balance := new(big.Int).Set(p.sharesOfLocked(string(owner)))
	reserveA := new(big.Int).Set(p.reserveA)
	reserveB := new(big.Int).Set(p.reserveB)
	totalShares := new(big.Int).Set(p.totalShares)
	p.mu.Unlock()

	if balance.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: have %s, burning %s", ErrInsufficientShares, balance, shares)
	}

	amountA, amountB, err := ammath.AmountsForLPBurn(shares, totalShares, reserveA, reserveB)
	if err != nil {
		if errors.Is(err, ammath.ErrInsufficientLiquidity) {
			return nil, ErrInsufficientLiquidity
		}
		return nil, err
	}
	if amountA.Cmp(amountAMin) < 0 || amountB.Cmp(amountBMin) < 0 {
		return nil, fmt.Errorf("%w: redeemed amounts %s/%s below minimums", ErrInsufficientAmount, amountA, amountB)
	}

	withdrawal := p.gw.BeginTransaction(p.params.Operator)
	if amountA.Sign() > 0 {
		withdrawal.AddDelegatedTransfer(p.params.Address, owner, amountA, p.params.TokenA)
	}
	if amountB.Sign() > 0 {
		withdrawal.AddDelegatedTransfer(p.params.Address, owner, amountB, p.params.TokenB)
	}
	ref, err := withdrawal.Publish(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish withdrawal: %w", err)
	}

	p.mu.Lock()
	remaining := new(big.Int).Sub(balance, shares)
	if remaining.Sign() == 0 {
		delete(p.positions, string(owner))
	} else {
		p.positions[string(owner)] = remaining
	}
	p.totalShares.Sub(p.totalShares, shares)
	p.mu.Unlock()

	if err := p.store.SaveShareBalance(ctx, string(p.params.Address), string(owner), remaining); err != nil {
		return nil, fmt.Errorf("persist position after withdrawal %s: %w", ref, err)
	}

	p.refreshAfterWrite(ctx)

	p.mu.Lock()
	newReserveA := new(big.Int).Set(p.reserveA)
	newReserveB := new(big.Int).Set(p.reserveB)
	p.mu.Unlock()

	p.log.Info("liquidity removed",
		zap.String("owner", string(owner)),
		zap.String("shares", shares.String()),
		zap.String("amount_a", amountA.String()),
		zap.String("amount_b", amountB.String()),
	)

	return &RemoveLiquidityResult{
		AmountA:     amountA,
		AmountB:     amountB,
		NewReserveA: newReserveA,
		NewReserveB: newReserveB,
		TxRef:       ref,
	}, nil
}
