package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
)

func TestFileStoreReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.jsonl")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SavePool(ctx, model.PoolRecord{
		PoolAddress: "acct-1", TokenA: "USD", TokenB: "BTC", Creator: "alice",
	}))
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "alice", big.NewInt(200)))
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "bob", big.NewInt(50)))
	require.NoError(t, store.SaveSwapState(ctx, model.SwapState{
		ID: "swap-1", PoolAddress: "acct-1", Initiator: "trader",
		TokenIn: "USD", TokenOut: "BTC",
		AmountIn: "10000", FeeAmount: "30", AmountOut: "19742",
		Phase1Ref: "tx-1", State: model.SwapStatePhase1Confirmed, UpdatedAt: 1,
	}))

	// A later write supersedes the earlier line for the same key.
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "alice", big.NewInt(150)))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	pools, err := reopened.LoadPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "alice", pools[0].Creator)

	shares, err := reopened.GetShareBalances(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, "150", shares[0].Shares) // alice sorts first
	assert.Equal(t, "50", shares[1].Shares)

	pending, err := reopened.PendingSwaps(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "swap-1", pending[0].ID)
}

func TestFileStoreZeroSharesDeletesPosition(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.jsonl")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "alice", big.NewInt(200)))
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "alice", big.NewInt(0)))

	shares, err := store.GetShareBalances(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, shares)

	// The delete survives a replay of the append log.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	shares, err = reopened.GetShareBalances(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, shares)
}

func TestFileStoreUserPositionsAcrossPools(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.jsonl"))
	require.NoError(t, err)

	require.NoError(t, store.SaveShareBalance(ctx, "acct-2", "alice", big.NewInt(10)))
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "alice", big.NewInt(20)))
	require.NoError(t, store.SaveShareBalance(ctx, "acct-1", "bob", big.NewInt(30)))

	positions, err := store.GetUserPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "acct-1", positions[0].PoolAddress)
	assert.Equal(t, "20", positions[0].Shares)
	assert.Equal(t, "acct-2", positions[1].PoolAddress)
	assert.Equal(t, "10", positions[1].Shares)
}

func TestFileStorePendingSwapFilters(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.jsonl"))
	require.NoError(t, err)

	states := []model.SwapState{
		{ID: "s1", PoolAddress: "acct-1", State: model.SwapStatePhase1Confirmed},
		{ID: "s2", PoolAddress: "acct-1", State: model.SwapStateCompleted},
		{ID: "s3", PoolAddress: "acct-2", State: model.SwapStatePhase1Confirmed},
		{ID: "s4", PoolAddress: "acct-2", State: model.SwapStateFailed},
		{ID: "s5", PoolAddress: "acct-2", State: model.SwapStatePending},
	}
	for _, state := range states {
		require.NoError(t, store.SaveSwapState(ctx, state))
	}

	pending, err := store.PendingSwaps(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)

	// Empty pool address scans every pool.
	all, err := store.PendingSwaps(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].ID)
	assert.Equal(t, "s3", all[1].ID)

	// Resolving a swap removes it from the pending view.
	require.NoError(t, store.SaveSwapState(ctx, model.SwapState{
		ID: "s1", PoolAddress: "acct-1", State: model.SwapStateRefunded,
	}))
	pending, err = store.PendingSwaps(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
