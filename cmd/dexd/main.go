package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NobleSOL/dexkeeta-sub000/internal/api"
	"github.com/NobleSOL/dexkeeta-sub000/internal/config"
	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/registry"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage"
	"github.com/NobleSOL/dexkeeta-sub000/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "dexd",
		Short:        "Constant-product AMM pool engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pool engine HTTP API",
		RunE:  runServe,
	}
	addEngineFlags(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")

	root.AddCommand(serveCmd)

	rediscoverCmd := &cobra.Command{
		Use:   "rediscover",
		Short: "Rediscover pools from known ledger accounts",
		RunE:  runRediscover,
	}
	addEngineFlags(rediscoverCmd)

	root.AddCommand(rediscoverCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("ledger-rpc", "", "ledger RPC URL")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for the position store (empty uses the JSONL file store)")
	cmd.Flags().String("state-path", "./data/positions.jsonl", "JSONL position store path")
	cmd.Flags().Int64("fee-bps", 30, "swap fee in basis points")
	cmd.Flags().String("treasury", "", "treasury account receiving swap fees")
	cmd.Flags().String("operator", "", "operator account holding act-on-behalf grants")
	cmd.Flags().StringSlice("pool-account", nil, "known pool ledger accounts for rediscovery (comma-separated)")
	cmd.Flags().Int("dial-retries", 5, "maximum ledger dial attempts")
	cmd.Flags().Duration("dial-backoff", 500*time.Millisecond, "initial ledger dial backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

type engine struct {
	registry *registry.Registry
	close    func()
}

func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine, error) {
	if cfg.LedgerRPCURL == "" {
		return nil, fmt.Errorf("ledger rpc url is required")
	}
	if cfg.OperatorAccount == "" {
		return nil, fmt.Errorf("operator account is required")
	}
	if cfg.TreasuryAccount == "" {
		return nil, fmt.Errorf("treasury account is required")
	}

	gateway, err := ledger.Dial(ctx, cfg.LedgerRPCURL, cfg.DialRetries, cfg.DialBackoff)
	if err != nil {
		return nil, err
	}

	var (
		store   storage.Store
		closeFn = gateway.Close
	)
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			gateway.Close()
			return nil, fmt.Errorf("open position store: %w", err)
		}
		store = pg
		closeFn = func() {
			pg.Close()
			gateway.Close()
		}
	} else {
		fs, err := storage.NewFileStore(cfg.StatePath)
		if err != nil {
			gateway.Close()
			return nil, fmt.Errorf("open position store: %w", err)
		}
		store = fs
	}

	treasury, err := gateway.ResolveAccount(ctx, cfg.TreasuryAccount)
	if err != nil {
		closeFn()
		return nil, err
	}
	operator, err := gateway.ResolveAccount(ctx, cfg.OperatorAccount)
	if err != nil {
		closeFn()
		return nil, err
	}

	known := make([]ledger.Account, 0, len(cfg.PoolAccounts))
	for _, account := range cfg.PoolAccounts {
		known = append(known, ledger.Account(account))
	}

	reg := registry.New(gateway, store, logger, registry.Config{
		FeeBps:        cfg.FeeBps,
		Treasury:      treasury,
		Operator:      operator,
		KnownAccounts: known,
	})
	if err := reg.Load(ctx); err != nil {
		closeFn()
		return nil, err
	}

	return &engine{registry: reg, close: closeFn}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if len(cfg.PoolAccounts) > 0 {
		registered, err := eng.registry.Rediscover(ctx)
		if err != nil {
			return err
		}
		logger.Info("startup rediscovery done", zap.Int("registered", registered))
	}

	server := api.New(eng.registry, logger)

	logger.Info("dexd start",
		zap.String("ledger_rpc", cfg.LedgerRPCURL),
		zap.String("listen", cfg.ListenAddr),
		zap.Int64("fee_bps", cfg.FeeBps),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	if err := server.Shutdown(); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	return nil
}

func runRediscover(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.PoolAccounts) == 0 {
		return fmt.Errorf("pool-account list is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	registered, err := eng.registry.Rediscover(ctx)
	if err != nil {
		return err
	}
	logger.Info("rediscovery done", zap.Int("registered", registered))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
