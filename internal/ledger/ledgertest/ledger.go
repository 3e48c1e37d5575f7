// Package ledgertest provides an in-memory ledger.Gateway that enforces the
// real signing-authority model: a transaction may debit an account only when
// the signer owns it or holds an act-on-behalf grant for it. Pool tests use
// it to exercise the two-phase swap protocol, including forced failures
// between the phases.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
)

// Transfer is one applied or attempted balance movement.
type Transfer struct {
	From   ledger.Account
	To     ledger.Account
	Amount *big.Int
	Token  string
}

// Ledger is an in-memory ledger.Gateway.
type Ledger struct {
	mu       sync.Mutex
	balances map[ledger.Account]map[string]*big.Int
	owners   map[ledger.Account]ledger.Account
	grants   map[ledger.Account]map[ledger.Account]map[string]bool
	decimals map[string]int
	aliases  map[string]ledger.Account
	seq      int

	// PublishHook, when set, runs before a transaction is validated and
	// applied. Returning an error aborts publication with no balance
	// movement. Tests use it to fail a specific phase of a swap.
	PublishHook func(signer ledger.Account, transfers []Transfer) error
}

var _ ledger.Gateway = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		balances: make(map[ledger.Account]map[string]*big.Int),
		owners:   make(map[ledger.Account]ledger.Account),
		grants:   make(map[ledger.Account]map[ledger.Account]map[string]bool),
		decimals: make(map[string]int),
		aliases:  make(map[string]ledger.Account),
	}
}

// SetBalance seeds an account balance.
func (l *Ledger) SetBalance(account ledger.Account, token string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(account, token, new(big.Int).Set(amount), true)
}

// SetDecimals seeds a token's decimal scaling factor.
func (l *Ledger) SetDecimals(token string, decimals int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[token] = decimals
}

// SetAlias maps an external identifier to an account for ResolveAccount.
func (l *Ledger) SetAlias(identifier string, account ledger.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aliases[identifier] = account
}

// Balance returns a copy of an account's balance in one token.
func (l *Ledger) Balance(account ledger.Account, token string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tokens, ok := l.balances[account]; ok {
		if amount, ok := tokens[token]; ok {
			return new(big.Int).Set(amount)
		}
	}
	return new(big.Int)
}

func (l *Ledger) ResolveAccount(_ context.Context, identifier string) (ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if account, ok := l.aliases[identifier]; ok {
		return account, nil
	}
	if identifier == "" {
		return "", fmt.Errorf("empty account identifier")
	}
	return ledger.Account(identifier), nil
}

func (l *Ledger) GetBalances(_ context.Context, account ledger.Account) ([]ledger.TokenBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.TokenBalance
	for token, amount := range l.balances[account] {
		out = append(out, ledger.TokenBalance{Token: token, Balance: new(big.Int).Set(amount)})
	}
	return out, nil
}

func (l *Ledger) TokenDecimals(_ context.Context, token string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.decimals[token]; ok {
		return d, nil
	}
	return 6, nil
}

func (l *Ledger) CreateAccount(_ context.Context, owner ledger.Account) (ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	account := ledger.Account(fmt.Sprintf("acct-%d", l.seq))
	l.owners[account] = owner
	l.balances[account] = make(map[string]*big.Int)
	return account, nil
}

func (l *Ledger) GrantActOnBehalf(_ context.Context, delegate, account ledger.Account, capabilities []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.grants[account] == nil {
		l.grants[account] = make(map[ledger.Account]map[string]bool)
	}
	if l.grants[account][delegate] == nil {
		l.grants[account][delegate] = make(map[string]bool)
	}
	for _, capability := range capabilities {
		l.grants[account][delegate][capability] = true
	}
	return nil
}

func (l *Ledger) BeginTransaction(signer ledger.Account) ledger.TransactionBuilder {
	return &builder{ledger: l, signer: signer}
}

type builder struct {
	ledger    *Ledger
	signer    ledger.Account
	transfers []Transfer
}

func (b *builder) AddTransfer(to ledger.Account, amount *big.Int, token string) ledger.TransactionBuilder {
	b.transfers = append(b.transfers, Transfer{
		From:   b.signer,
		To:     to,
		Amount: new(big.Int).Set(amount),
		Token:  token,
	})
	return b
}

func (b *builder) AddDelegatedTransfer(from, to ledger.Account, amount *big.Int, token string) ledger.TransactionBuilder {
	b.transfers = append(b.transfers, Transfer{
		From:   from,
		To:     to,
		Amount: new(big.Int).Set(amount),
		Token:  token,
	})
	return b
}

// Publish validates every transfer, then applies all of them atomically.
func (b *builder) Publish(_ context.Context) (ledger.TxRef, error) {
	l := b.ledger

	if l.PublishHook != nil {
		if err := l.PublishHook(b.signer, b.transfers); err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	type debitKey struct {
		account ledger.Account
		token   string
	}
	debits := make(map[debitKey]*big.Int)
	for _, t := range b.transfers {
		if t.From != b.signer && !l.mayActLocked(b.signer, t.From) {
			return "", fmt.Errorf("signer %s has no transfer grant on %s", b.signer, t.From)
		}
		if t.Amount.Sign() < 0 {
			return "", fmt.Errorf("negative transfer amount %s", t.Amount)
		}
		key := debitKey{t.From, t.Token}
		if debits[key] == nil {
			debits[key] = new(big.Int)
		}
		debits[key].Add(debits[key], t.Amount)
	}
	for key, total := range debits {
		if l.balanceLocked(key.account, key.token).Cmp(total) < 0 {
			return "", fmt.Errorf("insufficient %s balance on %s", key.token, key.account)
		}
	}

	for _, t := range b.transfers {
		l.balanceLocked(t.From, t.Token).Sub(l.balanceLocked(t.From, t.Token), t.Amount)
		l.creditLocked(t.To, t.Token, t.Amount, false)
	}

	l.seq++
	return ledger.TxRef(fmt.Sprintf("tx-%d", l.seq)), nil
}

func (l *Ledger) mayActLocked(signer, account ledger.Account) bool {
	if l.owners[account] == signer {
		return true
	}
	return l.grants[account][signer][ledger.CapabilityTransfer]
}

func (l *Ledger) balanceLocked(account ledger.Account, token string) *big.Int {
	tokens, ok := l.balances[account]
	if !ok {
		tokens = make(map[string]*big.Int)
		l.balances[account] = tokens
	}
	amount, ok := tokens[token]
	if !ok {
		amount = new(big.Int)
		tokens[token] = amount
	}
	return amount
}

func (l *Ledger) creditLocked(account ledger.Account, token string, amount *big.Int, replace bool) {
	balance := l.balanceLocked(account, token)
	if replace {
		balance.Set(amount)
		return
	}
	balance.Add(balance, amount)
}
