package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"multiwatch/internal/chain"
	"multiwatch/internal/config"
	"multiwatch/internal/dex"
	"multiwatch/internal/erc20"
	"multiwatch/internal/model"
	"multiwatch/internal/multicall"
	"multiwatch/internal/retry"
)

func main() {
	root := &cobra.Command{
		Use:          "multiwatch",
		Short:        "Batch contract reads through multicall and watch them for changes",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Run the configured calls once and print the results",
		RunE:  runAggregate,
	}

	addCommonFlags(aggregateCmd.Flags())
	aggregateCmd.Flags().String("format", "text", "output format (text, json)")
	aggregateCmd.Flags().Bool("no-color", false, "disable colored output")

	root.AddCommand(aggregateCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the configured calls and emit changed values",
		RunE:  runWatch,
	}

	addCommonFlags(watchCmd.Flags())
	watchCmd.Flags().Duration("interval", multicall.DefaultInterval, "poll interval")
	watchCmd.Flags().Duration("stale-block-retry-wait", multicall.DefaultStaleBlockRetryWait, "retry delay after a stale block")
	watchCmd.Flags().Duration("error-retry-wait", multicall.DefaultErrorRetryWait, "retry delay after a failed poll")
	watchCmd.Flags().String("replay-mode", "transformed", "values replayed to new subscribers (transformed, original)")
	watchCmd.Flags().String("out", "", "append updates to this JSONL file")
	watchCmd.Flags().String("state-file", "", "local file recording the last applied block")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN for persisted values")
	watchCmd.Flags().String("watch-name", "default", "name of this watch in Postgres")
	watchCmd.Flags().Bool("no-color", false, "disable colored output")
	watchCmd.Flags().Bool("quiet", false, "do not print updates to stdout")

	root.AddCommand(watchCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List built-in networks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range multicall.PresetNames() {
				p, _ := multicall.LookupPreset(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s %s\n", p.Name, p.MulticallAddress.Hex(), p.RPCURL)
			}
			return nil
		},
	}

	root.AddCommand(presetsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("rpc-url", "", "RPC URL (http(s) or ws(s))")
	fs.String("multicall", "", "multicall contract address")
	fs.String("preset", "", "built-in network (see presets)")
	fs.String("block", multicall.DefaultBlock, "block tag or number")
	fs.String("bool-mode", "string", "bool decoding (string, native)")
	fs.Duration("ws-response-timeout", multicall.DefaultWSResponseTimeout, "WebSocket response timeout")
	fs.Duration("ws-reconnect-timeout", multicall.DefaultWSReconnectTimeout, "WebSocket reconnect delay")
	fs.Bool("use-provider", false, "route calls through a go-ethereum RPC client")
	fs.Int("max-retries", 3, "retries for startup metadata reads")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial backoff for startup metadata reads")
	fs.StringSlice("token", nil, "ERC20 token addresses to watch (comma-separated)")
	fs.String("holder", "", "account whose token and ether balances are read")
	fs.String("spender", "", "spender whose token allowance from --holder is read")
	fs.StringSlice("pool", nil, "Uniswap V3 pools whose price and liquidity are read (comma-separated)")
	fs.StringSlice("pair", nil, "Uniswap V2 pairs whose reserves are read (comma-separated)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
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

// attachProvider dials a go-ethereum client for the resolved endpoint when
// --use-provider is set. The returned func closes it.
func attachProvider(ctx context.Context, shared config.Common, cfg *multicall.Config, logger *zap.Logger) (func(), error) {
	if !shared.UseProvider {
		return func() {}, nil
	}

	prepared, err := cfg.Prepare()
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, prepared.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	cfg.Provider = client

	infoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if chainID, err := client.GetChainID(infoCtx); err != nil {
		logger.Warn("chain id unavailable", zap.Error(err))
	} else {
		logger.Info("provider connected", zap.String("chain_id", chainID.String()))
	}

	return client.Close, nil
}

// resolveCalls builds the call model from the config file and the ERC20 and
// pool flags. Token and pool metadata is read once up front to name keys and
// scale values.
func resolveCalls(ctx context.Context, shared config.Common, cfg multicall.Config, logger *zap.Logger) ([]model.Call, error) {
	calls, err := config.BuildCalls(shared.Calls)
	if err != nil {
		return nil, err
	}

	tokens, err := shared.TokenAddresses()
	if err != nil {
		return nil, err
	}
	pools, err := shared.PoolAddresses()
	if err != nil {
		return nil, err
	}
	pairs, err := shared.PairAddresses()
	if err != nil {
		return nil, err
	}
	holder, hasHolder, err := shared.HolderAddress()
	if err != nil {
		return nil, err
	}
	spender, hasSpender, err := shared.SpenderAddress()
	if err != nil {
		return nil, err
	}
	if hasSpender && !hasHolder {
		return nil, fmt.Errorf("--spender requires --holder")
	}

	metas := newTokenMetas(cfg, shared, logger)

	for _, token := range tokens {
		meta, err := metas.get(ctx, token)
		if err != nil {
			return nil, err
		}
		calls = append(calls, tokenCalls(token, meta, holder, spender)...)
	}

	for _, addr := range pools {
		var pool dex.Pool
		err := retry.Do(ctx, shared.MaxRetries, shared.RetryBackoff, func(ctx context.Context) error {
			var err error
			pool, err = dex.FetchPool(ctx, addr, cfg)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", addr.Hex(), err)
		}
		meta0, meta1, err := metas.pair(ctx, pool)
		if err != nil {
			return nil, err
		}
		prefix := tokenPrefix(meta0) + "/" + tokenPrefix(meta1)
		if pool.Fee != 0 {
			prefix = fmt.Sprintf("%s:%d", prefix, pool.Fee)
		}
		logger.Info("pool",
			zap.String("address", pool.Address),
			zap.String("key", prefix),
			zap.Uint32("fee", pool.Fee),
			zap.Int32("tick_spacing", pool.TickSpacing),
		)
		calls = append(calls, dex.StateCalls(addr, prefix, meta0.Decimals, meta1.Decimals)...)
	}

	for _, addr := range pairs {
		var pair dex.Pool
		err := retry.Do(ctx, shared.MaxRetries, shared.RetryBackoff, func(ctx context.Context) error {
			var err error
			pair, err = dex.FetchPair(ctx, addr, cfg)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", addr.Hex(), err)
		}
		meta0, meta1, err := metas.pair(ctx, pair)
		if err != nil {
			return nil, err
		}
		prefix := tokenPrefix(meta0) + "/" + tokenPrefix(meta1)
		logger.Info("pair", zap.String("address", pair.Address), zap.String("key", prefix))
		calls = append(calls, dex.ReservesCall(addr, prefix, meta0.Decimals, meta1.Decimals))
	}

	if hasHolder {
		calls = append(calls, erc20.EthBalance(holder, erc20.Key("ETH", "balance")))
	}

	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls configured: add a calls list to the config file or pass --token, --pool, --pair or --holder")
	}
	return calls, nil
}

// tokenCalls reads supply and, for a non-zero holder, its balance and its
// allowance to a non-zero spender.
func tokenCalls(token common.Address, meta erc20.Meta, holder, spender common.Address) []model.Call {
	prefix := tokenPrefix(meta)
	calls := []model.Call{erc20.TotalSupply(token, erc20.Key(prefix, "totalSupply"), meta.Decimals)}
	if holder == (common.Address{}) {
		return calls
	}
	calls = append(calls, erc20.BalanceOf(token, holder, erc20.Key(prefix, "balanceOf"), meta.Decimals))
	if spender != (common.Address{}) {
		calls = append(calls, erc20.Allowance(token, holder, spender, erc20.Key(prefix, "allowance"), meta.Decimals))
	}
	return calls
}

// tokenMetas caches token metadata across the pools and tokens of one run.
type tokenMetas struct {
	cfg          multicall.Config
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
	data         map[common.Address]erc20.Meta
}

func newTokenMetas(cfg multicall.Config, shared config.Common, logger *zap.Logger) *tokenMetas {
	return &tokenMetas{
		cfg:          cfg,
		maxRetries:   shared.MaxRetries,
		retryBackoff: shared.RetryBackoff,
		logger:       logger,
		data:         make(map[common.Address]erc20.Meta),
	}
}

func (m *tokenMetas) get(ctx context.Context, token common.Address) (erc20.Meta, error) {
	if meta, ok := m.data[token]; ok {
		return meta, nil
	}
	var meta erc20.Meta
	err := retry.Do(ctx, m.maxRetries, m.retryBackoff, func(ctx context.Context) error {
		var err error
		meta, err = erc20.FetchMeta(ctx, token, m.cfg)
		return err
	})
	if err != nil {
		return meta, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
	}
	m.logger.Info("token",
		zap.String("address", meta.Address),
		zap.String("symbol", meta.Symbol),
		zap.String("name", meta.Name),
		zap.Uint8("decimals", meta.Decimals),
	)
	m.data[token] = meta
	return meta, nil
}

func (m *tokenMetas) pair(ctx context.Context, pool dex.Pool) (erc20.Meta, erc20.Meta, error) {
	meta0, err := m.get(ctx, common.HexToAddress(pool.Token0))
	if err != nil {
		return erc20.Meta{}, erc20.Meta{}, err
	}
	meta1, err := m.get(ctx, common.HexToAddress(pool.Token1))
	if err != nil {
		return erc20.Meta{}, erc20.Meta{}, err
	}
	return meta0, meta1, nil
}

func tokenPrefix(meta erc20.Meta) string {
	if meta.Symbol != "" {
		return meta.Symbol
	}
	return meta.Address
}
