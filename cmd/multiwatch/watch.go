package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"multiwatch/internal/config"
	"multiwatch/internal/model"
	"multiwatch/internal/storage"
	"multiwatch/internal/storage/postgres"
	"multiwatch/internal/watcher"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
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

	var sinks storage.Multi
	var console *storage.Console
	if !cfg.Quiet {
		console = storage.NewConsole(cmd.OutOrStdout(), cfg.NoColor)
		sinks = append(sinks, console)
	}
	if cfg.Out != "" {
		out := storage.NewJSONLSink(cfg.Out)
		defer func() {
			if err := out.Close(); err != nil {
				logger.Warn("close output file failed", zap.String("out", cfg.Out), zap.Error(err))
			}
		}()
		sinks = append(sinks, out)
	}

	var stateStore storage.StateStore
	var stored map[string]string
	if cfg.StateFile != "" {
		stateStore = &storage.FileStateStore{Path: cfg.StateFile}
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.WatchName)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		stored, err = store.LoadValues(ctx)
		if err != nil {
			return fmt.Errorf("load stored values: %w", err)
		}
		logger.Info("postgres sink ready", zap.String("watch", cfg.WatchName), zap.Int("stored_keys", len(stored)))
		sinks = append(sinks, store)
		if stateStore == nil {
			stateStore = store
		}
	}

	var previousBlock uint64
	var hasPrevious bool
	if stateStore != nil {
		previousBlock, hasPrevious, err = stateStore.LoadState(ctx)
		if err != nil {
			return err
		}
		if hasPrevious {
			logger.Info("previous watch state", zap.String("watch", cfg.WatchName), zap.Uint64("block", previousBlock))
		}
	}
	if console != nil && len(stored) > 0 {
		n, err := printStored(console, previousBlock, calls, stored)
		if err != nil {
			return err
		}
		logger.Info("stored values printed", zap.Int("keys", n), zap.Uint64("block", previousBlock))
	}

	w, err := watcher.New(calls, mcCfg)
	if err != nil {
		return err
	}
	defer w.Close()

	var currentBlock atomic.Uint64
	w.OnNewBlock(func(block uint64) {
		currentBlock.Store(block)
		logger.Debug("new block", zap.Uint64("block", block))
		if stateStore != nil {
			if err := stateStore.SaveState(ctx, block); err != nil {
				logger.Warn("save watch state failed", zap.Uint64("block", block), zap.Error(err))
			}
		}
	})
	w.OnError(func(err error, state watcher.State) {
		fields := []zap.Field{zap.Error(err), zap.Uint64("poll_id", state.LatestPollID)}
		if state.LatestBlockNumber != nil {
			fields = append(fields, zap.Uint64("block", *state.LatestBlockNumber))
		}
		logger.Warn("poll failed", fields...)
	})
	w.Batch().Subscribe(func(updates []model.Update) {
		records := storage.NewRecords(currentBlock.Load(), updates, time.Now())
		if err := sinks.PutUpdates(ctx, records); err != nil {
			logger.Warn("write updates failed", zap.Int("updates", len(updates)), zap.Error(err))
		}
	})

	logger.Info("watch start",
		zap.Int("calls", len(calls)),
		zap.String("preset", cfg.Preset),
		zap.String("block", cfg.Block),
		zap.Duration("interval", cfg.Interval),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("replay_mode", cfg.ReplayMode),
	)

	w.Start()
	if err := w.AwaitInitialFetch(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if block, ok := w.LatestBlockNumber(); ok {
		logger.Info("initial fetch complete", zap.Uint64("block", block))
		if hasPrevious && block < previousBlock {
			logger.Warn("node is behind the previous watch", zap.Uint64("block", block), zap.Uint64("previous_block", previousBlock))
		}
	}

	<-ctx.Done()
	logger.Info("watch stopped")
	return nil
}

var _ storage.StateStore = (*postgres.Store)(nil)

// printStored prints the values kept from the previous run for the keys of
// calls, in model order. Keys no longer watched are skipped.
func printStored(console *storage.Console, block uint64, calls []model.Call, stored map[string]string) (int, error) {
	printed := 0
	for _, key := range callKeys(calls) {
		value, ok := stored[key]
		if !ok {
			continue
		}
		if err := console.PrintValue(block, key, value); err != nil {
			return printed, err
		}
		printed++
	}
	return printed, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
