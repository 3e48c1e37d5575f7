package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerService is the in-process RPC backend the client is tested against.
type ledgerService struct {
	mu           sync.Mutex
	resolveCalls int
	grants       [][3]string
	submitted    []submittedTx
}

type submittedTransfer struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

type submittedTx struct {
	Signer    string              `json:"signer"`
	Transfers []submittedTransfer `json:"transfers"`
}

type wireBalance struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *ledgerService) ResolveAccount(_ context.Context, identifier string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveCalls++
	if identifier == "" {
		return "", fmt.Errorf("empty identifier")
	}
	return "resolved:" + identifier, nil
}

func (s *ledgerService) AccountBalances(_ context.Context, account string) ([]wireBalance, error) {
	switch account {
	case "acct-1":
		return []wireBalance{
			{Token: "USD", Balance: "1000000"},
			{Token: "BTC", Balance: "123456789012345678901234567890"},
		}, nil
	case "acct-bad":
		return []wireBalance{{Token: "USD", Balance: "not-a-number"}}, nil
	default:
		return nil, nil
	}
}

func (s *ledgerService) TokenDecimals(_ context.Context, token string) (int, error) {
	if token == "BTC" {
		return 8, nil
	}
	return 6, nil
}

func (s *ledgerService) CreateAccount(_ context.Context, owner string) (string, error) {
	return "acct-for-" + owner, nil
}

func (s *ledgerService) GrantPermission(_ context.Context, delegate, account string, capabilities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, capability := range capabilities {
		s.grants = append(s.grants, [3]string{delegate, account, capability})
	}
	return nil
}

func (s *ledgerService) Submit(_ context.Context, tx submittedTx) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, tx)
	return fmt.Sprintf("tx-%d", len(s.submitted)), nil
}

func newTestClient(t *testing.T) (*Client, *ledgerService) {
	t.Helper()
	service := &ledgerService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("ledger", service))
	t.Cleanup(server.Stop)

	client, err := NewClient(rpc.DialInProc(server))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, service
}

func TestResolveAccountCaches(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	account, err := client.ResolveAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Account("resolved:alice"), account)

	again, err := client.ResolveAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, account, again)

	other, err := client.ResolveAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, Account("resolved:bob"), other)

	service.mu.Lock()
	defer service.mu.Unlock()
	assert.Equal(t, 2, service.resolveCalls, "repeat lookups hit the cache")
}

func TestGetBalancesParsesArbitraryPrecision(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	balances, err := client.GetBalances(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, "USD", balances[0].Token)
	assert.Equal(t, big.NewInt(1_000_000), balances[0].Balance)

	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	assert.Equal(t, "BTC", balances[1].Token)
	assert.Equal(t, huge, balances[1].Balance, "amounts beyond 64 bits survive the wire")

	empty, err := client.GetBalances(ctx, "acct-unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetBalancesRejectsMalformedAmount(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.GetBalances(context.Background(), "acct-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed amount")
}

func TestTokenDecimals(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	decimals, err := client.TokenDecimals(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 8, decimals)
}

func TestCreateAccountAndGrant(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	account, err := client.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Account("acct-for-alice"), account)

	require.NoError(t, client.GrantActOnBehalf(ctx, "operator", account, []string{CapabilityTransfer}))

	service.mu.Lock()
	defer service.mu.Unlock()
	require.Len(t, service.grants, 1)
	assert.Equal(t, [3]string{"operator", "acct-for-alice", CapabilityTransfer}, service.grants[0])
}

func TestTransactionBuilderSubmitsAllTransfers(t *testing.T) {
	client, service := newTestClient(t)
	ctx := context.Background()

	tx := client.BeginTransaction("trader")
	tx.AddTransfer("pool-1", big.NewInt(9_970), "USD")
	tx.AddTransfer("treasury", big.NewInt(30), "USD")
	ref, err := tx.Publish(ctx)
	require.NoError(t, err)
	assert.Equal(t, TxRef("tx-1"), ref)

	delegated := client.BeginTransaction("operator")
	delegated.AddDelegatedTransfer("pool-1", "trader", big.NewInt(19_742), "BTC")
	ref, err = delegated.Publish(ctx)
	require.NoError(t, err)
	assert.Equal(t, TxRef("tx-2"), ref)

	service.mu.Lock()
	defer service.mu.Unlock()
	require.Len(t, service.submitted, 2)

	first := service.submitted[0]
	assert.Equal(t, "trader", first.Signer)
	require.Len(t, first.Transfers, 2)
	assert.Equal(t, submittedTransfer{To: "pool-1", Amount: "9970", Token: "USD"}, first.Transfers[0])
	assert.Equal(t, submittedTransfer{To: "treasury", Amount: "30", Token: "USD"}, first.Transfers[1])

	second := service.submitted[1]
	assert.Equal(t, "operator", second.Signer)
	require.Len(t, second.Transfers, 1)
	assert.Equal(t, submittedTransfer{From: "pool-1", To: "trader", Amount: "19742", Token: "BTC"}, second.Transfers[0])
}
