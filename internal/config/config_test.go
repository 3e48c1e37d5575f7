package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "./data/positions.jsonl", cfg.StatePath)
	assert.Equal(t, int64(30), cfg.FeeBps)
	assert.Equal(t, 5, cfg.DialRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.DialBackoff)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.PoolAccounts)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ledger-rpc: http://ledger:9650
listen: ":9000"
fee-bps: 25
treasury: treasury-account
operator: operator-account
pool-account:
  - acct-1
  - acct-2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://ledger:9650", cfg.LedgerRPCURL)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, int64(25), cfg.FeeBps)
	assert.Equal(t, "treasury-account", cfg.TreasuryAccount)
	assert.Equal(t, "operator-account", cfg.OperatorAccount)
	assert.Equal(t, []string{"acct-1", "acct-2"}, cfg.PoolAccounts)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fee-bps: 25\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int64("fee-bps", 30, "")
	flags.String("pool-account", "", "")
	require.NoError(t, flags.Parse([]string{"--fee-bps=10", "--pool-account", "a, b ,,c"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.FeeBps)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.PoolAccounts, "comma-separated flag values are split and trimmed")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEX_LEDGER_RPC", "http://env-ledger:9650")
	t.Setenv("DEX_LOG_LEVEL", "debug")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://env-ledger:9650", cfg.LedgerRPCURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
