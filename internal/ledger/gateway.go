// Package ledger abstracts the permissioned ledger the pool engine runs
// against: account resolution, balance reads, transaction building and
// publication, and the delegated act-on-behalf permission primitive.
//
// The ledger enforces per-account signing authority. A transaction debits an
// account only when signed by its owner or by a delegate holding an
// act-on-behalf grant for it; that constraint is why swaps are a
// two-transaction protocol rather than one atomic operation.
package ledger

import (
	"context"
	"math/big"
)

// Account is an opaque ledger account identifier.
type Account string

// TxRef references a published ledger transaction.
type TxRef string

// TokenBalance is one token balance held by an account, in atomic units.
type TokenBalance struct {
	Token   string
	Balance *big.Int
}

// CapabilityTransfer is the act-on-behalf capability needed for delegated
// transfers out of a granted account.
const CapabilityTransfer = "transfer"

// Gateway is the ledger client surface consumed by the pool engine. All
// amounts are unbounded integers in atomic token units. Transport and
// signing failures are returned verbatim; the engine never retries them.
type Gateway interface {
	// ResolveAccount resolves an external identifier (alias, public key,
	// address) to a canonical account.
	ResolveAccount(ctx context.Context, identifier string) (Account, error)

	// GetBalances returns every token balance held by the account.
	GetBalances(ctx context.Context, account Account) ([]TokenBalance, error)

	// TokenDecimals returns the decimal scaling factor of a token.
	TokenDecimals(ctx context.Context, token string) (int, error)

	// CreateAccount allocates a fresh ledger account owned by owner.
	CreateAccount(ctx context.Context, owner Account) (Account, error)

	// GrantActOnBehalf lets delegate act on the account with the given
	// capabilities, signed by the account owner.
	GrantActOnBehalf(ctx context.Context, delegate, account Account, capabilities []string) error

	// BeginTransaction starts a transaction signed by signer. Transfers in
	// one transaction publish atomically or not at all.
	BeginTransaction(signer Account) TransactionBuilder
}

// TransactionBuilder accumulates transfers for one signed transaction.
type TransactionBuilder interface {
	// AddTransfer moves tokens from the signer's own account.
	AddTransfer(to Account, amount *big.Int, token string) TransactionBuilder

	// AddDelegatedTransfer moves tokens out of from, relying on an
	// act-on-behalf grant held by the signer.
	AddDelegatedTransfer(from, to Account, amount *big.Int, token string) TransactionBuilder

	// Publish signs and publishes the transaction.
	Publish(ctx context.Context) (TxRef, error)
}
