// Package pool implements the constant-product pool engine: per-pair
// reserve tracking, LP share bookkeeping, and the two-transaction
// swap/liquidity protocol required by the ledger's permission model.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ammath"
	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage"
)

// Params describes one pool instance. Token labels are arbitrary per
// instance; pair identity is canonicalized by the registry.
type Params struct {
	Address   ledger.Account
	TokenA    string
	TokenB    string
	DecimalsA int
	DecimalsB int
	Creator   string
	FeeBps    int64
	Treasury  ledger.Account
	Operator  ledger.Account
}

// Deps are the external collaborators a pool drives.
type Deps struct {
	Gateway ledger.Gateway
	Store   storage.Store
	Log     *zap.Logger
}

// Pool owns the reserve state and LP share ledger for one token pair.
//
// opMu serializes every read-compute-transact sequence so concurrent
// mutations cannot act on stale reserve snapshots. mu guards field access
// only; reserve refreshes are coalesced through a singleflight group so
// concurrent readers share one outstanding balance read.
type Pool struct {
	params Params

	gw    ledger.Gateway
	store storage.Store
	log   *zap.Logger

	opMu    sync.Mutex
	refresh singleflight.Group

	mu          sync.Mutex
	reserveA    *big.Int
	reserveB    *big.Int
	totalShares *big.Int
	positions   map[string]*big.Int
}

func New(params Params, deps Deps) *Pool {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		params:      params,
		gw:          deps.Gateway,
		store:       deps.Store,
		log:         log.With(zap.String("pool", string(params.Address))),
		reserveA:    new(big.Int),
		reserveB:    new(big.Int),
		totalShares: new(big.Int),
		positions:   make(map[string]*big.Int),
	}
}

// Address returns the pool's ledger account.
func (p *Pool) Address() ledger.Account { return p.params.Address }

// TokenA returns the first token label of this instance.
func (p *Pool) TokenA() string { return p.params.TokenA }

// TokenB returns the second token label of this instance.
func (p *Pool) TokenB() string { return p.params.TokenB }

// Creator returns the informational owner identifier. It gates nothing; the
// ledger's permission grants do.
func (p *Pool) Creator() string { return p.params.Creator }

// RestorePosition seeds an LP share balance during rehydration from the
// Position Store. It does not persist.
func (p *Pool) RestorePosition(user string, shares *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if shares.Sign() <= 0 {
		return
	}
	p.positions[user] = new(big.Int).Set(shares)
	p.totalShares.Add(p.totalShares, shares)
}

// refreshReserves re-reads the pool account balances from the ledger.
// Concurrent calls coalesce into a single outstanding read.
func (p *Pool) refreshReserves(ctx context.Context) error {
	_, err, _ := p.refresh.Do("reserves", func() (interface{}, error) {
		balances, err := p.gw.GetBalances(ctx, p.params.Address)
		if err != nil {
			return nil, err
		}

		reserveA, reserveB := new(big.Int), new(big.Int)
		for _, balance := range balances {
			switch balance.Token {
			case p.params.TokenA:
				reserveA.Set(balance.Balance)
			case p.params.TokenB:
				reserveB.Set(balance.Balance)
			}
		}

		p.mu.Lock()
		p.reserveA = reserveA
		p.reserveB = reserveB
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("refresh reserves: %w", err)
	}
	return nil
}

// refreshAfterWrite re-reads reserves after a published transaction. A
// failure here does not fail the operation: the write already landed, the
// in-memory view just stays stale until the next refresh.
func (p *Pool) refreshAfterWrite(ctx context.Context) {
	if err := p.refreshReserves(ctx); err != nil {
		p.log.Warn("post-write reserve refresh failed", zap.Error(err))
	}
}

// orient returns the in/out reserves for tokenIn along with the out token.
// Callers must hold mu.
func (p *Pool) orientLocked(tokenIn string) (reserveIn, reserveOut *big.Int, tokenOut string, err error) {
	switch tokenIn {
	case p.params.TokenA:
		return p.reserveA, p.reserveB, p.params.TokenB, nil
	case p.params.TokenB:
		return p.reserveB, p.reserveA, p.params.TokenA, nil
	default:
		return nil, nil, "", fmt.Errorf("%w: %s", ErrUnknownToken, tokenIn)
	}
}

func (p *Pool) sharesOfLocked(user string) *big.Int {
	if shares, ok := p.positions[user]; ok {
		return shares
	}
	return new(big.Int)
}

// QuoteResult is a read-only swap projection.
type QuoteResult struct {
	TokenIn        string
	TokenOut       string
	AmountIn       *big.Int
	AmountOut      *big.Int
	FeeAmount      *big.Int
	PriceImpactBps int64
	MinAmountOut   *big.Int
}

// Quote computes the expected swap outcome against fresh reserves. It never
// mutates reserve or share state; quoting twice with unchanged reserves
// returns identical results.
func (p *Pool) Quote(ctx context.Context, tokenIn string, amountIn *big.Int, slippagePercent int64) (*QuoteResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amountIn must be positive", ErrInvalidInput)
	}
	if err := p.refreshReserves(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	reserveIn, reserveOut, tokenOut, err := p.orientLocked(tokenIn)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	reserveIn = new(big.Int).Set(reserveIn)
	reserveOut = new(big.Int).Set(reserveOut)
	p.mu.Unlock()

	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	amountOut, feeAmount, impactBps, err := ammath.SwapOutput(amountIn, reserveIn, reserveOut, p.params.FeeBps)
	if err != nil {
		return nil, err
	}

	return &QuoteResult{
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		FeeAmount:      feeAmount,
		PriceImpactBps: impactBps,
		MinAmountOut:   ammath.MinAmountOut(amountOut, slippagePercent),
	}, nil
}

// Info is a snapshot of pool state. The spot price of one whole unit of
// tokenA in tokenB units is the decimals-adjusted rational
// PriceNumerator/PriceDenominator; no floating point is ever produced.
type Info struct {
	Address          ledger.Account
	TokenA           string
	TokenB           string
	DecimalsA        int
	DecimalsB        int
	Creator          string
	FeeBps           int64
	ReserveA         *big.Int
	ReserveB         *big.Int
	TotalShares      *big.Int
	PriceNumerator   *big.Int
	PriceDenominator *big.Int
}

// Info returns current reserves, total shares and the derived spot price.
func (p *Pool) Info(ctx context.Context) (*Info, error) {
	if err := p.refreshReserves(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	scaleA := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.params.DecimalsA)), nil)
	scaleB := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.params.DecimalsB)), nil)

	return &Info{
		Address:          p.params.Address,
		TokenA:           p.params.TokenA,
		TokenB:           p.params.TokenB,
		DecimalsA:        p.params.DecimalsA,
		DecimalsB:        p.params.DecimalsB,
		Creator:          p.params.Creator,
		FeeBps:           p.params.FeeBps,
		ReserveA:         new(big.Int).Set(p.reserveA),
		ReserveB:         new(big.Int).Set(p.reserveB),
		TotalShares:      new(big.Int).Set(p.totalShares),
		PriceNumerator:   new(big.Int).Mul(p.reserveB, scaleA),
		PriceDenominator: new(big.Int).Mul(p.reserveA, scaleB),
	}, nil
}

// Position is a user's LP stake. Entitlements are recomputed from current
// reserves and total shares on every call; they are never stored, so they
// track fees earned and reserve drift.
type Position struct {
	User        string
	Shares      *big.Int
	TotalShares *big.Int
	EntitledA   *big.Int
	EntitledB   *big.Int
}

// Position returns user's current stake and what it would redeem for.
func (p *Pool) Position(ctx context.Context, user string) (*Position, error) {
	if err := p.refreshReserves(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	shares := new(big.Int).Set(p.sharesOfLocked(user))
	entitledA, entitledB := new(big.Int), new(big.Int)
	if shares.Sign() > 0 && p.totalShares.Sign() > 0 {
		entitledA.Mul(shares, p.reserveA)
		entitledA.Quo(entitledA, p.totalShares)
		entitledB.Mul(shares, p.reserveB)
		entitledB.Quo(entitledB, p.totalShares)
	}

	return &Position{
		User:        user,
		Shares:      shares,
		TotalShares: new(big.Int).Set(p.totalShares),
		EntitledA:   entitledA,
		EntitledB:   entitledB,
	}, nil
}
