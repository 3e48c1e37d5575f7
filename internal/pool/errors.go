package pool

import (
	"errors"
	"fmt"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
)

var (
	// ErrPoolNotFound is returned by registry lookups for unknown pairs.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInvalidInput rejects missing or non-positive amounts and malformed
	// identifiers before any ledger interaction.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownToken rejects a token that is not part of the pool's pair.
	ErrUnknownToken = errors.New("token not in pool")

	// ErrInsufficientAmount signals an executed amount below the caller's
	// minimum.
	ErrInsufficientAmount = errors.New("insufficient amount")

	// ErrSlippageExceeded signals a computed output below minAmountOut.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInsufficientShares signals a burn of more shares than the owner
	// holds.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientLiquidityMinted signals a degenerate deposit that would
	// mint zero shares.
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")

	// ErrInsufficientLiquidity signals reserves too small to serve the
	// operation.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrSwapNotPending is returned when resolving a swap that is not in the
	// phase1-confirmed state.
	ErrSwapNotPending = errors.New("swap not pending")
)

// SwapError reports which phase of the two-transaction swap protocol
// reached which terminal state. Phase 1 failures are clean: no funds moved.
// Phase 2 failures are not: the initiator's input is held by the pool
// account pending operator resolution, and Stranded reports true.
type SwapError struct {
	SwapID    string
	Phase     int
	Phase1Ref ledger.TxRef
	Err       error
}

func (e *SwapError) Error() string {
	if e.Phase == 2 {
		return fmt.Sprintf("swap %s: phase 2 failed after phase 1 confirmed (%s), input stranded: %v", e.SwapID, e.Phase1Ref, e.Err)
	}
	return fmt.Sprintf("swap %s: phase 1 failed, no funds moved: %v", e.SwapID, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// Stranded reports whether the initiator's input is held by the pool
// account without output having been delivered.
func (e *SwapError) Stranded() bool { return e.Phase == 2 }
