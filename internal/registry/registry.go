// Package registry keeps the keyed collection of pools by canonical pair
// key: creation, lookup, startup rehydration and on-ledger rediscovery.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
	"github.com/NobleSOL/dexkeeta-sub000/internal/pool"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage"
)

// ErrPoolAlreadyExists is returned when creating a pool for a pair that is
// already registered.
var ErrPoolAlreadyExists = errors.New("pool already exists")

// Config carries the engine-wide pool parameters and the fixed set of
// ledger accounts scanned during rediscovery.
type Config struct {
	FeeBps        int64
	Treasury      ledger.Account
	Operator      ledger.Account
	KnownAccounts []ledger.Account
}

// Registry is explicitly constructed and injected into callers; there is no
// process-wide instance.
type Registry struct {
	gw    ledger.Gateway
	store storage.Store
	log   *zap.Logger
	cfg   Config

	mu    sync.RWMutex
	pools map[string]*pool.Pool
}

func New(gw ledger.Gateway, store storage.Store, log *zap.Logger, cfg Config) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		gw:    gw,
		store: store,
		log:   log,
		cfg:   cfg,
		pools: make(map[string]*pool.Pool),
	}
}

// Create allocates a ledger account for a new pool, grants the operator its
// act-on-behalf permission, registers and persists the pool. At most one
// pool exists per unordered token pair.
func (r *Registry) Create(ctx context.Context, tokenA, tokenB, creator string) (*pool.Pool, error) {
	key, err := PairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolAlreadyExists, key)
	}

	creatorAccount, err := r.gw.ResolveAccount(ctx, creator)
	if err != nil {
		return nil, fmt.Errorf("resolve creator: %w", err)
	}

	account, err := r.gw.CreateAccount(ctx, creatorAccount)
	if err != nil {
		return nil, fmt.Errorf("allocate pool account: %w", err)
	}
	if err := r.gw.GrantActOnBehalf(ctx, r.cfg.Operator, account, []string{ledger.CapabilityTransfer}); err != nil {
		return nil, fmt.Errorf("grant operator permission: %w", err)
	}

	p, err := r.buildPool(ctx, account, tokenA, tokenB, creator)
	if err != nil {
		return nil, err
	}

	if err := r.store.SavePool(ctx, model.PoolRecord{
		PoolAddress: string(account),
		TokenA:      tokenA,
		TokenB:      tokenB,
		Creator:     creator,
	}); err != nil {
		return nil, fmt.Errorf("persist pool: %w", err)
	}

	r.pools[key] = p
	r.log.Info("pool created",
		zap.String("pair", key),
		zap.String("address", string(account)),
		zap.String("creator", creator),
	)
	return p, nil
}

// Get returns the pool for an unordered token pair.
func (r *Registry) Get(tokenA, tokenB string) (*pool.Pool, error) {
	key, err := PairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pool.ErrPoolNotFound, key)
	}
	return p, nil
}

// Route resolves the pool serving a trade. Only direct pairs are routed;
// multi-hop routing is a documented limitation, not a bug.
func (r *Registry) Route(tokenIn, tokenOut string) (*pool.Pool, error) {
	return r.Get(tokenIn, tokenOut)
}

// Pools returns every registered pool.
func (r *Registry) Pools() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	return pools
}

// Load rehydrates pools and LP share balances from the Position Store.
// Anything loaded here is trusted over later rediscovery.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range records {
		key, err := PairKey(record.TokenA, record.TokenB)
		if err != nil {
			r.log.Warn("skipping malformed pool record", zap.String("address", record.PoolAddress), zap.Error(err))
			continue
		}
		if _, ok := r.pools[key]; ok {
			continue
		}

		p, err := r.buildPool(ctx, ledger.Account(record.PoolAddress), record.TokenA, record.TokenB, record.Creator)
		if err != nil {
			return err
		}

		positions, err := r.store.GetShareBalances(ctx, record.PoolAddress)
		if err != nil {
			return fmt.Errorf("load share balances for %s: %w", record.PoolAddress, err)
		}
		for _, position := range positions {
			shares, ok := new(big.Int).SetString(position.Shares, 10)
			if !ok {
				return fmt.Errorf("malformed share balance %q for %s/%s", position.Shares, position.PoolAddress, position.User)
			}
			p.RestorePosition(position.User, shares)
		}

		r.pools[key] = p
	}

	r.log.Info("registry loaded", zap.Int("pools", len(r.pools)))
	return nil
}

// Rediscover scans the configured ledger accounts and registers any pool
// not already known. Pair keys are recomputed from on-ledger token
// balances, never from cached labels. LP share bookkeeping cannot be
// recovered from the ledger; rediscovered pools start with an empty share
// map unless the Position Store supplied one.
func (r *Registry) Rediscover(ctx context.Context) (int, error) {
	type discovered struct {
		account ledger.Account
		tokenA  string
		tokenB  string
	}

	var (
		foundMu sync.Mutex
		found   []discovered
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, account := range r.cfg.KnownAccounts {
		if r.knownAddress(account) {
			continue
		}
		account := account
		g.Go(func() error {
			balances, err := r.gw.GetBalances(gctx, account)
			if err != nil {
				return fmt.Errorf("scan %s: %w", account, err)
			}
			var tokens []string
			for _, balance := range balances {
				if balance.Balance.Sign() > 0 {
					tokens = append(tokens, balance.Token)
				}
			}
			if len(tokens) != 2 {
				r.log.Debug("account is not a two-token pool", zap.String("account", string(account)), zap.Int("tokens", len(tokens)))
				return nil
			}
			foundMu.Lock()
			found = append(found, discovered{account: account, tokenA: tokens[0], tokenB: tokens[1]})
			foundMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	registered := 0
	for _, d := range found {
		key, err := PairKey(d.tokenA, d.tokenB)
		if err != nil {
			r.log.Warn("rediscovered account has malformed pair", zap.String("account", string(d.account)), zap.Error(err))
			continue
		}

		r.mu.Lock()
		if _, ok := r.pools[key]; ok {
			r.mu.Unlock()
			continue
		}
		p, err := r.buildPool(ctx, d.account, d.tokenA, d.tokenB, "")
		if err != nil {
			r.mu.Unlock()
			return registered, err
		}
		r.pools[key] = p
		r.mu.Unlock()

		if err := r.store.SavePool(ctx, model.PoolRecord{
			PoolAddress: string(d.account),
			TokenA:      d.tokenA,
			TokenB:      d.tokenB,
		}); err != nil {
			return registered, fmt.Errorf("persist rediscovered pool: %w", err)
		}

		registered++
		r.log.Info("pool rediscovered", zap.String("pair", key), zap.String("address", string(d.account)))
	}
	return registered, nil
}

func (r *Registry) knownAddress(account ledger.Account) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		if p.Address() == account {
			return true
		}
	}
	return false
}

func (r *Registry) buildPool(ctx context.Context, account ledger.Account, tokenA, tokenB, creator string) (*pool.Pool, error) {
	decimalsA, err := r.gw.TokenDecimals(ctx, tokenA)
	if err != nil {
		return nil, fmt.Errorf("decimals of %s: %w", tokenA, err)
	}
	decimalsB, err := r.gw.TokenDecimals(ctx, tokenB)
	if err != nil {
		return nil, fmt.Errorf("decimals of %s: %w", tokenB, err)
	}

	return pool.New(pool.Params{
		Address:   account,
		TokenA:    tokenA,
		TokenB:    tokenB,
		DecimalsA: decimalsA,
		DecimalsB: decimalsB,
		Creator:   creator,
		FeeBps:    r.cfg.FeeBps,
		Treasury:  r.cfg.Treasury,
		Operator:  r.cfg.Operator,
	}, pool.Deps{
		Gateway: r.gw,
		Store:   r.store,
		Log:     r.log,
	}), nil
}
