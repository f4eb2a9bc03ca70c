package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"multiwatch/internal/config"
	"multiwatch/internal/model"
	"multiwatch/internal/multicall"
	"multiwatch/internal/storage"
)

type aggregateOutput struct {
	BlockNumber uint64                   `json:"block_number"`
	Values      map[string]string        `json:"values"`
	KeyToArgs   map[string][]interface{} `json:"key_to_args,omitempty"`
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	mcCfg, err := cfg.MulticallConfig(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeProvider, err := attachProvider(ctx, cfg.Common, &mcCfg, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	calls, err := resolveCalls(ctx, cfg.Common, mcCfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("aggregate start",
		zap.Int("calls", len(calls)),
		zap.String("preset", cfg.Preset),
		zap.String("block", cfg.Block),
	)

	resp, err := multicall.Aggregate(ctx, calls, mcCfg)
	if err != nil {
		return err
	}

	keys := callKeys(calls)
	if cfg.Format == "json" {
		out := aggregateOutput{
			BlockNumber: resp.Results.BlockNumber,
			Values:      make(map[string]string, len(keys)),
			KeyToArgs:   resp.KeyToArgs,
		}
		for _, key := range keys {
			out.Values[key] = storage.FormatValue(resp.Results.Transformed[key])
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	console := storage.NewConsole(cmd.OutOrStdout(), cfg.NoColor)
	for _, key := range keys {
		if err := console.PrintValue(resp.Results.BlockNumber, key, resp.Results.Transformed[key]); err != nil {
			return err
		}
	}
	return nil
}

// callKeys lists result keys in call order, first occurrence wins.
func callKeys(calls []model.Call) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, call := range calls {
		for _, key := range call.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
