// Package postgres implements the Position Store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage"
)

// Store provides Postgres persistence for pool metadata, LP share balances
// and swap saga states.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	store := &Store{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pools (
			pool_address TEXT PRIMARY KEY,
			token_a      TEXT NOT NULL,
			token_b      TEXT NOT NULL,
			creator      TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS lp_positions (
			pool_address TEXT NOT NULL,
			user_account TEXT NOT NULL,
			shares       NUMERIC NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pool_address, user_account)
		);
		CREATE TABLE IF NOT EXISTS swap_states (
			id           TEXT PRIMARY KEY,
			pool_address TEXT NOT NULL,
			initiator    TEXT NOT NULL,
			token_in     TEXT NOT NULL,
			token_out    TEXT NOT NULL,
			amount_in    NUMERIC NOT NULL,
			fee_amount   NUMERIC NOT NULL,
			amount_out   NUMERIC NOT NULL,
			phase1_ref   TEXT NOT NULL DEFAULT '',
			phase2_ref   TEXT NOT NULL DEFAULT '',
			state        TEXT NOT NULL,
			updated_at   BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS swap_states_pending
			ON swap_states (pool_address) WHERE state = 'phase1_confirmed';
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SavePool inserts or updates pool metadata.
func (s *Store) SavePool(ctx context.Context, pool model.PoolRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (pool_address, token_a, token_b, creator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (pool_address)
		DO UPDATE SET
			token_a = EXCLUDED.token_a,
			token_b = EXCLUDED.token_b,
			creator = EXCLUDED.creator,
			updated_at = now()
	`, pool.PoolAddress, pool.TokenA, pool.TokenB, pool.Creator)
	return err
}

// LoadPools returns every known pool record.
func (s *Store) LoadPools(ctx context.Context) ([]model.PoolRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, token_a, token_b, creator FROM pools ORDER BY pool_address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.PoolRecord
	for rows.Next() {
		var record model.PoolRecord
		if err := rows.Scan(&record.PoolAddress, &record.TokenA, &record.TokenB, &record.Creator); err != nil {
			return nil, err
		}
		pools = append(pools, record)
	}
	return pools, rows.Err()
}

// SaveShareBalance upserts one LP position; a zero balance deletes it.
func (s *Store) SaveShareBalance(ctx context.Context, poolAddress, user string, shares *big.Int) error {
	if shares.Sign() == 0 {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM lp_positions WHERE pool_address = $1 AND user_account = $2
		`, poolAddress, user)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lp_positions (pool_address, user_account, shares, updated_at)
		VALUES ($1, $2, $3::numeric, now())
		ON CONFLICT (pool_address, user_account)
		DO UPDATE SET shares = EXCLUDED.shares, updated_at = now()
	`, poolAddress, user, shares.String())
	return err
}

// GetShareBalances returns all LP positions in a pool.
func (s *Store) GetShareBalances(ctx context.Context, poolAddress string) ([]model.SharePosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, user_account, shares::text
		FROM lp_positions WHERE pool_address = $1 ORDER BY user_account
	`, poolAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetUserPositions returns a user's LP positions across pools.
func (s *Store) GetUserPositions(ctx context.Context, user string) ([]model.SharePosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, user_account, shares::text
		FROM lp_positions WHERE user_account = $1 ORDER BY pool_address
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// SaveSwapState upserts the persisted state of one two-phase swap.
func (s *Store) SaveSwapState(ctx context.Context, state model.SwapState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swap_states (
			id, pool_address, initiator, token_in, token_out,
			amount_in, fee_amount, amount_out, phase1_ref, phase2_ref, state, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (id)
		DO UPDATE SET
			phase1_ref = EXCLUDED.phase1_ref,
			phase2_ref = EXCLUDED.phase2_ref,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`,
		state.ID,
		state.PoolAddress,
		state.Initiator,
		state.TokenIn,
		state.TokenOut,
		state.AmountIn,
		state.FeeAmount,
		state.AmountOut,
		state.Phase1Ref,
		state.Phase2Ref,
		state.State,
		state.UpdatedAt,
	)
	return err
}

// PendingSwaps returns swaps stranded in the phase1_confirmed state. An
// empty poolAddress matches every pool.
func (s *Store) PendingSwaps(ctx context.Context, poolAddress string) ([]model.SwapState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pool_address, initiator, token_in, token_out,
		       amount_in::text, fee_amount::text, amount_out::text,
		       phase1_ref, phase2_ref, state, updated_at
		FROM swap_states
		WHERE state = $1 AND ($2 = '' OR pool_address = $2)
		ORDER BY id
	`, model.SwapStatePhase1Confirmed, poolAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []model.SwapState
	for rows.Next() {
		var state model.SwapState
		if err := rows.Scan(
			&state.ID, &state.PoolAddress, &state.Initiator, &state.TokenIn, &state.TokenOut,
			&state.AmountIn, &state.FeeAmount, &state.AmountOut,
			&state.Phase1Ref, &state.Phase2Ref, &state.State, &state.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pending = append(pending, state)
	}
	return pending, rows.Err()
}

type positionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPositions(rows positionRows) ([]model.SharePosition, error) {
	var positions []model.SharePosition
	for rows.Next() {
		var position model.SharePosition
		if err := rows.Scan(&position.PoolAddress, &position.User, &position.Shares); err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, rows.Err()
}
