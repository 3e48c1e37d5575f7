package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

const resolveCacheSize = 1024

// Client implements Gateway over a JSON-RPC endpoint. Resolved accounts are
// cached; balances and decimals are always read live.
type Client struct {
	rpcClient *rpc.Client
	resolved  *lru.Cache[string, Account]
}

var _ Gateway = (*Client)(nil)

// Dial connects to the ledger RPC endpoint, retrying transient dial
// failures with exponential backoff.
func Dial(ctx context.Context, rpcURL string, maxRetries int, retryBackoff time.Duration) (*Client, error) {
	var rpcClient *rpc.Client
	err := withRetry(ctx, maxRetries, retryBackoff, func(ctx context.Context) error {
		var dialErr error
		rpcClient, dialErr = rpc.DialContext(ctx, rpcURL)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return NewClient(rpcClient)
}

// NewClient wraps an established RPC connection.
func NewClient(rpcClient *rpc.Client) (*Client, error) {
	cache, err := lru.New[string, Account](resolveCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{rpcClient: rpcClient, resolved: cache}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) ResolveAccount(ctx context.Context, identifier string) (Account, error) {
	if account, ok := c.resolved.Get(identifier); ok {
		return account, nil
	}

	var resolved string
	if err := c.rpcClient.CallContext(ctx, &resolved, "ledger_resolveAccount", identifier); err != nil {
		return "", fmt.Errorf("resolve account %q: %w", identifier, err)
	}

	account := Account(resolved)
	c.resolved.Add(identifier, account)
	return account, nil
}

type rpcBalance struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (c *Client) GetBalances(ctx context.Context, account Account) ([]TokenBalance, error) {
	var raw []rpcBalance
	if err := c.rpcClient.CallContext(ctx, &raw, "ledger_accountBalances", string(account)); err != nil {
		return nil, fmt.Errorf("balances of %s: %w", account, err)
	}

	balances := make([]TokenBalance, 0, len(raw))
	for _, b := range raw {
		amount, ok := new(big.Int).SetString(b.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("balances of %s: malformed amount %q for token %s", account, b.Balance, b.Token)
		}
		balances = append(balances, TokenBalance{Token: b.Token, Balance: amount})
	}
	return balances, nil
}

func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	var decimals int
	if err := c.rpcClient.CallContext(ctx, &decimals, "ledger_tokenDecimals", token); err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", token, err)
	}
	return decimals, nil
}

func (c *Client) CreateAccount(ctx context.Context, owner Account) (Account, error) {
	var created string
	if err := c.rpcClient.CallContext(ctx, &created, "ledger_createAccount", string(owner)); err != nil {
		return "", fmt.Errorf("create account for %s: %w", owner, err)
	}
	return Account(created), nil
}

func (c *Client) GrantActOnBehalf(ctx context.Context, delegate, account Account, capabilities []string) error {
	if err := c.rpcClient.CallContext(ctx, nil, "ledger_grantPermission", string(delegate), string(account), capabilities); err != nil {
		return fmt.Errorf("grant %v on %s to %s: %w", capabilities, account, delegate, err)
	}
	return nil
}

func (c *Client) BeginTransaction(signer Account) TransactionBuilder {
	return &txBuilder{client: c, signer: signer}
}

type rpcTransfer struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

type rpcTransaction struct {
	Signer    string        `json:"signer"`
	Transfers []rpcTransfer `json:"transfers"`
}

type txBuilder struct {
	client    *Client
	signer    Account
	transfers []rpcTransfer
}

func (b *txBuilder) AddTransfer(to Account, amount *big.Int, token string) TransactionBuilder {
	b.transfers = append(b.transfers, rpcTransfer{
		To:     string(to),
		Amount: amount.String(),
		Token:  token,
	})
	return b
}

func (b *txBuilder) AddDelegatedTransfer(from, to Account, amount *big.Int, token string) TransactionBuilder {
	b.transfers = append(b.transfers, rpcTransfer{
		From:   string(from),
		To:     string(to),
		Amount: amount.String(),
		Token:  token,
	})
	return b
}

func (b *txBuilder) Publish(ctx context.Context) (TxRef, error) {
	tx := rpcTransaction{Signer: string(b.signer), Transfers: b.transfers}

	var ref string
	if err := b.client.rpcClient.CallContext(ctx, &ref, "ledger_submit", tx); err != nil {
		return "", fmt.Errorf("publish transaction: %w", err)
	}
	return TxRef(ref), nil
}
