package pool

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ammath"
	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
)

var swapSeq atomic.Int64

func newSwapID(pool ledger.Account) string {
	return fmt.Sprintf("%s-%s-%d", pool, strconv.FormatInt(time.Now().UnixNano(), 36), swapSeq.Add(1))
}

// SwapResult is the complete outcome of an executed swap: amounts, updated
// reserves and both phase transaction references.
type SwapResult struct {
	SwapID         string
	TokenIn        string
	TokenOut       string
	AmountIn       *big.Int
	AmountOut      *big.Int
	FeeAmount      *big.Int
	PriceImpactBps int64
	NewReserveA    *big.Int
	NewReserveB    *big.Int
	Phase1Ref      ledger.TxRef
	Phase2Ref      ledger.TxRef
}

// Swap executes the two-transaction swap protocol.
//
// The ledger enforces per-account signing authority, so a single party
// cannot debit the pool and credit the trader in one signed operation:
//
//	phase 1 (initiator-signed): input minus fee to the pool account, fee to
//	the treasury.
//	phase 2 (operator-signed):  output from the pool account to the
//	initiator, via the operator's act-on-behalf grant.
//
// The saga state is persisted before phase 1 and after each phase, so a
// crash or phase-2 failure leaves a detectable phase1_confirmed record. A
// phase-2 failure returns a *SwapError with Stranded() == true and is never
// retried here.
func (p *Pool) Swap(ctx context.Context, initiator ledger.Account, tokenIn string, amountIn, minAmountOut *big.Int) (*SwapResult, error) {
	if initiator == "" {
		return nil, fmt.Errorf("%w: initiator required", ErrInvalidInput)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amountIn must be positive", ErrInvalidInput)
	}
	if minAmountOut == nil {
		minAmountOut = new(big.Int)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

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
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrInsufficientAmount)
	}
	if amountOut.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: out %s < min %s", ErrSlippageExceeded, amountOut, minAmountOut)
	}

	saga := model.SwapState{
		ID:          newSwapID(p.params.Address),
		PoolAddress: string(p.params.Address),
		Initiator:   string(initiator),
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn.String(),
		FeeAmount:   feeAmount.String(),
		AmountOut:   amountOut.String(),
		State:       model.SwapStatePending,
		UpdatedAt:   time.Now().Unix(),
	}
	if err := p.store.SaveSwapState(ctx, saga); err != nil {
		return nil, fmt.Errorf("persist swap state: %w", err)
	}

	afterFee := new(big.Int).Sub(amountIn, feeAmount)

	phase1 := p.gw.BeginTransaction(initiator)
	phase1.AddTransfer(p.params.Address, afterFee, tokenIn)
	if feeAmount.Sign() > 0 {
		phase1.AddTransfer(p.params.Treasury, feeAmount, tokenIn)
	}
	ref1, err := phase1.Publish(ctx)
	if err != nil {
		saga.State = model.SwapStateFailed
		saga.UpdatedAt = time.Now().Unix()
		if saveErr := p.store.SaveSwapState(ctx, saga); saveErr != nil {
			p.log.Error("persist failed swap state", zap.String("swap", saga.ID), zap.Error(saveErr))
		}
		return nil, &SwapError{SwapID: saga.ID, Phase: 1, Err: err}
	}

	saga.Phase1Ref = string(ref1)
	saga.State = model.SwapStatePhase1Confirmed
	saga.UpdatedAt = time.Now().Unix()
	if err := p.store.SaveSwapState(ctx, saga); err != nil {
		// Funds already moved; the saga record lags but phase 2 proceeds.
		p.log.Error("persist phase1-confirmed swap state", zap.String("swap", saga.ID), zap.Error(err))
	}

	phase2 := p.gw.BeginTransaction(p.params.Operator)
	phase2.AddDelegatedTransfer(p.params.Address, initiator, amountOut, tokenOut)
	ref2, err := phase2.Publish(ctx)
	if err != nil {
		p.log.Error("swap phase 2 failed, input stranded in pool account",
			zap.String("swap", saga.ID),
			zap.String("initiator", string(initiator)),
			zap.String("phase1_ref", string(ref1)),
			zap.Error(err),
		)
		p.refreshAfterWrite(ctx)
		return nil, &SwapError{SwapID: saga.ID, Phase: 2, Phase1Ref: ref1, Err: err}
	}

	saga.Phase2Ref = string(ref2)
	saga.State = model.SwapStateCompleted
	saga.UpdatedAt = time.Now().Unix()
	if err := p.store.SaveSwapState(ctx, saga); err != nil {
		p.log.Error("persist completed swap state", zap.String("swap", saga.ID), zap.Error(err))
	}

	p.refreshAfterWrite(ctx)

	p.mu.Lock()
	newReserveA := new(big.Int).Set(p.reserveA)
	newReserveB := new(big.Int).Set(p.reserveB)
	p.mu.Unlock()

	p.log.Info("swap executed",
		zap.String("swap", saga.ID),
		zap.String("token_in", tokenIn),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
		zap.Int64("price_impact_bps", impactBps),
	)

	return &SwapResult{
		SwapID:         saga.ID,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		FeeAmount:      feeAmount,
		PriceImpactBps: impactBps,
		NewReserveA:    newReserveA,
		NewReserveB:    newReserveB,
		Phase1Ref:      ref1,
		Phase2Ref:      ref2,
	}, nil
}

// PendingSwaps lists swaps stranded after a confirmed phase 1.
func (p *Pool) PendingSwaps(ctx context.Context) ([]model.SwapState, error) {
	return p.store.PendingSwaps(ctx, string(p.params.Address))
}

// ResolveSwap finishes a stranded swap. With refund false the operator
// re-drives phase 2, delivering the recorded output; with refund true the
// pool-held input (amountIn minus the treasury fee) is returned to the
// initiator. Both paths use the operator's act-on-behalf grant.
func (p *Pool) ResolveSwap(ctx context.Context, swapID string, refund bool) (ledger.TxRef, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	pending, err := p.store.PendingSwaps(ctx, string(p.params.Address))
	if err != nil {
		return "", fmt.Errorf("load pending swaps: %w", err)
	}

	var saga *model.SwapState
	for i := range pending {
		if pending[i].ID == swapID {
			saga = &pending[i]
			break
		}
	}
	if saga == nil {
		return "", fmt.Errorf("%w: %s", ErrSwapNotPending, swapID)
	}

	tx := p.gw.BeginTransaction(p.params.Operator)
	if refund {
		amountIn, ok := new(big.Int).SetString(saga.AmountIn, 10)
		if !ok {
			return "", fmt.Errorf("malformed amount_in on swap %s", saga.ID)
		}
		feeAmount, ok := new(big.Int).SetString(saga.FeeAmount, 10)
		if !ok {
			return "", fmt.Errorf("malformed fee_amount on swap %s", saga.ID)
		}
		held := new(big.Int).Sub(amountIn, feeAmount)
		tx.AddDelegatedTransfer(p.params.Address, ledger.Account(saga.Initiator), held, saga.TokenIn)
	} else {
		amountOut, ok := new(big.Int).SetString(saga.AmountOut, 10)
		if !ok {
			return "", fmt.Errorf("malformed amount_out on swap %s", saga.ID)
		}
		tx.AddDelegatedTransfer(p.params.Address, ledger.Account(saga.Initiator), amountOut, saga.TokenOut)
	}

	ref, err := tx.Publish(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve swap %s: %w", saga.ID, err)
	}

	saga.Phase2Ref = string(ref)
	if refund {
		saga.State = model.SwapStateRefunded
	} else {
		saga.State = model.SwapStateCompleted
	}
	saga.UpdatedAt = time.Now().Unix()
	if err := p.store.SaveSwapState(ctx, *saga); err != nil {
		p.log.Error("persist resolved swap state", zap.String("swap", saga.ID), zap.Error(err))
	}

	p.refreshAfterWrite(ctx)
	return ref, nil
}
