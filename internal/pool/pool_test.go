package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger/ledgertest"
	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage"
)

const (
	tokenUSD = "USD"
	tokenBTC = "BTC"
)

type fixture struct {
	led      *ledgertest.Ledger
	store    *storage.FileStore
	pool     *Pool
	treasury ledger.Account
	operator ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledgertest.New()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "state.jsonl"))
	require.NoError(t, err)

	ctx := context.Background()
	operator := ledger.Account("operator")
	treasury := ledger.Account("treasury")

	poolAccount, err := led.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, led.GrantActOnBehalf(ctx, operator, poolAccount, []string{ledger.CapabilityTransfer}))

	p := New(Params{
		Address:   poolAccount,
		TokenA:    tokenUSD,
		TokenB:    tokenBTC,
		DecimalsA: 6,
		DecimalsB: 6,
		Creator:   "alice",
		FeeBps:    30,
		Treasury:  treasury,
		Operator:  operator,
	}, Deps{Gateway: led, Store: store})

	return &fixture{led: led, store: store, pool: p, treasury: treasury, operator: operator}
}

func (f *fixture) fund(account ledger.Account, token string, amount int64) {
	f.led.SetBalance(account, token, big.NewInt(amount))
}

// seedReserves puts balances directly on the pool account, as if prior
// deposits had happened.
func (f *fixture) seedReserves(usd, btc int64) {
	f.fund(f.pool.Address(), tokenUSD, usd)
	f.fund(f.pool.Address(), tokenBTC, btc)
}

func TestAddLiquidityBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := ledger.Account("alice")
	f.fund(alice, tokenUSD, 1_000)
	f.fund(alice, tokenBTC, 1_000)

	res, err := f.pool.AddLiquidity(ctx, alice, big.NewInt(100), big.NewInt(400), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(100), res.AmountA)
	assert.Equal(t, big.NewInt(400), res.AmountB)
	assert.Equal(t, big.NewInt(200), res.SharesMinted, "bootstrap mints floor(sqrt(100*400))")
	assert.Equal(t, big.NewInt(100), res.NewReserveA)
	assert.Equal(t, big.NewInt(400), res.NewReserveB)

	assert.Equal(t, big.NewInt(900), f.led.Balance(alice, tokenUSD))
	assert.Equal(t, big.NewInt(600), f.led.Balance(alice, tokenBTC))

	pos, err := f.pool.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), pos.Shares)
	assert.Equal(t, big.NewInt(100), pos.EntitledA)
	assert.Equal(t, big.NewInt(400), pos.EntitledB)

	// The position survives in the store.
	saved, err := f.store.GetShareBalances(ctx, string(f.pool.Address()))
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "200", saved[0].Shares)
}

func TestAddLiquidityFollowsReserveRatio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := ledger.Account("alice")
	bob := ledger.Account("bob")
	f.fund(alice, tokenUSD, 1_000)
	f.fund(alice, tokenBTC, 1_000)
	f.fund(bob, tokenUSD, 1_000)
	f.fund(bob, tokenBTC, 1_000)

	_, err := f.pool.AddLiquidity(ctx, alice, big.NewInt(100), big.NewInt(400), nil, nil)
	require.NoError(t, err)

	// Pool is 1:4; bob offers 50:300 and the B side gets trimmed to 200.
	res, err := f.pool.AddLiquidity(ctx, bob, big.NewInt(50), big.NewInt(300), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(50), res.AmountA)
	assert.Equal(t, big.NewInt(200), res.AmountB)
	assert.Equal(t, big.NewInt(100), res.SharesMinted, "half of reserveA mints half of total shares")
	assert.Equal(t, big.NewInt(700), f.led.Balance(bob, tokenBTC), "only the trimmed amount moved")

	// A minimum above the trimmed amount rejects before any transfer.
	_, err = f.pool.AddLiquidity(ctx, bob, big.NewInt(50), big.NewInt(300), nil, big.NewInt(250))
	assert.ErrorIs(t, err, ErrInsufficientAmount)
	assert.Equal(t, big.NewInt(900), f.led.Balance(bob, tokenUSD))
}

func TestSwapHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 10_000)

	res, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), nil)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(19_742), res.AmountOut)
	assert.Equal(t, big.NewInt(30), res.FeeAmount)
	assert.Equal(t, tokenBTC, res.TokenOut)
	assert.NotEmpty(t, res.Phase1Ref)
	assert.NotEmpty(t, res.Phase2Ref)
	assert.NotEqual(t, res.Phase1Ref, res.Phase2Ref)

	// Exact custody after both phases: net input with the pool, fee with the
	// treasury, output with the trader.
	assert.Equal(t, big.NewInt(0), f.led.Balance(trader, tokenUSD))
	assert.Equal(t, big.NewInt(19_742), f.led.Balance(trader, tokenBTC))
	assert.Equal(t, big.NewInt(30), f.led.Balance(f.treasury, tokenUSD))
	assert.Equal(t, big.NewInt(1_009_970), f.led.Balance(f.pool.Address(), tokenUSD))
	assert.Equal(t, big.NewInt(1_980_258), f.led.Balance(f.pool.Address(), tokenBTC))

	assert.Equal(t, big.NewInt(1_009_970), res.NewReserveA)
	assert.Equal(t, big.NewInt(1_980_258), res.NewReserveB)

	// Saga reached its terminal state; nothing is pending.
	pending, err := f.pool.PendingSwaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSwapSlippageExceededMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 10_000)

	_, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), big.NewInt(19_743))
	require.ErrorIs(t, err, ErrSlippageExceeded)

	assert.Equal(t, big.NewInt(10_000), f.led.Balance(trader, tokenUSD))
	assert.Equal(t, big.NewInt(1_000_000), f.led.Balance(f.pool.Address(), tokenUSD))
}

func TestSwapRejectsUnknownTokenAndEmptyPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trader := ledger.Account("trader")

	_, err := f.pool.Swap(ctx, trader, "DOGE", big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.pool.Swap(ctx, "", tokenUSD, big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSwapPhase1FailureMarksSagaFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 5_000) // less than the attempted input

	_, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), nil)

	var swapErr *SwapError
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, 1, swapErr.Phase)
	assert.False(t, swapErr.Stranded())

	assert.Equal(t, big.NewInt(5_000), f.led.Balance(trader, tokenUSD))

	pending, err := f.pool.PendingSwaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "a failed phase 1 leaves nothing to resolve")
}

func TestSwapPhase2FailureStrandsInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 10_000)

	f.led.PublishHook = func(signer ledger.Account, _ []ledgertest.Transfer) error {
		if signer == f.operator {
			return fmt.Errorf("ledger unavailable")
		}
		return nil
	}

	_, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), nil)

	var swapErr *SwapError
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, 2, swapErr.Phase)
	assert.True(t, swapErr.Stranded())
	assert.NotEmpty(t, swapErr.Phase1Ref)

	// Phase 1 landed: input is with the pool, trader got nothing back.
	assert.Equal(t, big.NewInt(0), f.led.Balance(trader, tokenUSD))
	assert.Equal(t, big.NewInt(0), f.led.Balance(trader, tokenBTC))
	assert.Equal(t, big.NewInt(1_009_970), f.led.Balance(f.pool.Address(), tokenUSD))

	pending, err := f.pool.PendingSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, swapErr.SwapID, pending[0].ID)
	assert.Equal(t, model.SwapStatePhase1Confirmed, pending[0].State)
	assert.Equal(t, "10000", pending[0].AmountIn)
	assert.Equal(t, "19742", pending[0].AmountOut)
}

func TestResolveSwapRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 10_000)

	f.led.PublishHook = func(signer ledger.Account, _ []ledgertest.Transfer) error {
		if signer == f.operator {
			return fmt.Errorf("ledger unavailable")
		}
		return nil
	}
	_, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), nil)
	var swapErr *SwapError
	require.ErrorAs(t, err, &swapErr)

	f.led.PublishHook = nil

	ref, err := f.pool.ResolveSwap(ctx, swapErr.SwapID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	// The trader gets the net input back; the treasury keeps the fee.
	assert.Equal(t, big.NewInt(9_970), f.led.Balance(trader, tokenUSD))
	assert.Equal(t, big.NewInt(30), f.led.Balance(f.treasury, tokenUSD))
	assert.Equal(t, big.NewInt(1_000_000), f.led.Balance(f.pool.Address(), tokenUSD))

	pending, err := f.pool.PendingSwaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.pool.ResolveSwap(ctx, swapErr.SwapID, true)
	assert.ErrorIs(t, err, ErrSwapNotPending)
}

func TestResolveSwapCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)
	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 10_000)

	f.led.PublishHook = func(signer ledger.Account, _ []ledgertest.Transfer) error {
		if signer == f.operator {
			return fmt.Errorf("ledger unavailable")
		}
		return nil
	}
	_, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(10_000), nil)
	var swapErr *SwapError
	require.ErrorAs(t, err, &swapErr)

	f.led.PublishHook = nil

	_, err = f.pool.ResolveSwap(ctx, swapErr.SwapID, false)
	require.NoError(t, err)

	// The recorded output is delivered as if phase 2 had succeeded.
	assert.Equal(t, big.NewInt(19_742), f.led.Balance(trader, tokenBTC))
	assert.Equal(t, big.NewInt(1_980_258), f.led.Balance(f.pool.Address(), tokenBTC))
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := ledger.Account("alice")
	f.fund(alice, tokenUSD, 1_000)
	f.fund(alice, tokenBTC, 1_000)

	_, err := f.pool.AddLiquidity(ctx, alice, big.NewInt(100), big.NewInt(400), nil, nil)
	require.NoError(t, err)

	res, err := f.pool.RemoveLiquidity(ctx, alice, big.NewInt(50), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(25), res.AmountA)
	assert.Equal(t, big.NewInt(100), res.AmountB)

	assert.Equal(t, big.NewInt(925), f.led.Balance(alice, tokenUSD))
	assert.Equal(t, big.NewInt(700), f.led.Balance(alice, tokenBTC))

	pos, err := f.pool.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), pos.Shares)

	// Burning the rest drains the pool and deletes the position.
	res, err = f.pool.RemoveLiquidity(ctx, alice, big.NewInt(150), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(75), res.AmountA)
	assert.Equal(t, big.NewInt(300), res.AmountB)
	assert.Equal(t, big.NewInt(0), res.NewReserveA)
	assert.Equal(t, big.NewInt(0), res.NewReserveB)

	assert.Equal(t, big.NewInt(1_000), f.led.Balance(alice, tokenUSD))
	assert.Equal(t, big.NewInt(1_000), f.led.Balance(alice, tokenBTC))

	pos, err = f.pool.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), pos.Shares)

	saved, err := f.store.GetShareBalances(ctx, string(f.pool.Address()))
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestRemoveLiquidityInsufficientShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := ledger.Account("alice")
	f.fund(alice, tokenUSD, 1_000)
	f.fund(alice, tokenBTC, 1_000)

	_, err := f.pool.AddLiquidity(ctx, alice, big.NewInt(100), big.NewInt(400), nil, nil)
	require.NoError(t, err)

	_, err = f.pool.RemoveLiquidity(ctx, ledger.Account("bob"), big.NewInt(10), nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, err = f.pool.RemoveLiquidity(ctx, alice, big.NewInt(201), nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestRemoveLiquidityIncludesEarnedFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := ledger.Account("alice")
	f.fund(alice, tokenUSD, 100_000)
	f.fund(alice, tokenBTC, 100_000)

	_, err := f.pool.AddLiquidity(ctx, alice, big.NewInt(10_000), big.NewInt(40_000), nil, nil)
	require.NoError(t, err)

	trader := ledger.Account("trader")
	f.fund(trader, tokenUSD, 1_000)
	swapRes, err := f.pool.Swap(ctx, trader, tokenUSD, big.NewInt(1_000), nil)
	require.NoError(t, err)

	// Entitlements are computed from post-swap reserves, so the sole LP's
	// claim reflects the swap's net effect.
	pos, err := f.pool.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, swapRes.NewReserveA, pos.EntitledA)
	assert.Equal(t, swapRes.NewReserveB, pos.EntitledB)
}

func TestQuoteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)

	first, err := f.pool.Quote(ctx, tokenUSD, big.NewInt(10_000), 1)
	require.NoError(t, err)
	second, err := f.pool.Quote(ctx, tokenUSD, big.NewInt(10_000), 1)
	require.NoError(t, err)

	assert.Equal(t, first.AmountOut, second.AmountOut)
	assert.Equal(t, first.FeeAmount, second.FeeAmount)
	assert.Equal(t, first.PriceImpactBps, second.PriceImpactBps)

	assert.Equal(t, big.NewInt(19_742), first.AmountOut)
	assert.Equal(t, big.NewInt(19_544), first.MinAmountOut)
	assert.Equal(t, tokenBTC, first.TokenOut)

	// Quoting never touches custody.
	assert.Equal(t, big.NewInt(1_000_000), f.led.Balance(f.pool.Address(), tokenUSD))
}

func TestQuoteReverseDirection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)

	quote, err := f.pool.Quote(ctx, tokenBTC, big.NewInt(10_000), 0)
	require.NoError(t, err)
	assert.Equal(t, tokenUSD, quote.TokenOut)
	// floor(1000000*9970/(2000000+9970)) = 4960
	assert.Equal(t, big.NewInt(4_960), quote.AmountOut)
}

func TestInfoSpotPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000_000, 2_000_000)

	info, err := f.pool.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), info.ReserveA)
	assert.Equal(t, big.NewInt(2_000_000), info.ReserveB)

	// Equal decimals: the rational reduces to reserveB/reserveA = 2.
	price := new(big.Int).Quo(info.PriceNumerator, info.PriceDenominator)
	assert.Equal(t, big.NewInt(2), price)
}

func TestRestorePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedReserves(1_000, 4_000)
	f.pool.RestorePosition("alice", big.NewInt(150))
	f.pool.RestorePosition("bob", big.NewInt(50))
	f.pool.RestorePosition("carol", big.NewInt(0)) // ignored

	pos, err := f.pool.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), pos.Shares)
	assert.Equal(t, big.NewInt(200), pos.TotalShares)
	assert.Equal(t, big.NewInt(750), pos.EntitledA)
	assert.Equal(t, big.NewInt(3_000), pos.EntitledB)
}

func TestSwapErrorUnwraps(t *testing.T) {
	cause := errors.New("publish rejected")
	err := &SwapError{SwapID: "s1", Phase: 2, Phase1Ref: "tx-1", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Stranded())
	assert.Contains(t, err.Error(), "s1")
}
