// Package storage defines the durable Position Store: pool metadata, LP
// share balances, and persisted swap saga states. Reserves are never stored
// here; the ledger is authoritative for them.
package storage

import (
	"context"
	"math/big"

	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
)

// Store is the Position Store consumed by the pool engine.
type Store interface {
	// SavePool upserts a pool metadata record.
	SavePool(ctx context.Context, pool model.PoolRecord) error

	// LoadPools returns every known pool record.
	LoadPools(ctx context.Context) ([]model.PoolRecord, error)

	// SaveShareBalance upserts one LP share balance. A zero balance deletes
	// the position record.
	SaveShareBalance(ctx context.Context, poolAddress, user string, shares *big.Int) error

	// GetShareBalances returns all LP positions in a pool.
	GetShareBalances(ctx context.Context, poolAddress string) ([]model.SharePosition, error)

	// GetUserPositions returns a user's LP positions across pools.
	GetUserPositions(ctx context.Context, user string) ([]model.SharePosition, error)

	// SaveSwapState upserts the persisted state of a two-phase swap.
	SaveSwapState(ctx context.Context, state model.SwapState) error

	// PendingSwaps returns swaps stranded after phase 1: confirmed input
	// held by the pool account with no completed phase 2.
	PendingSwaps(ctx context.Context, poolAddress string) ([]model.SwapState, error)
}
