package config

import (
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"multiwatch/internal/multicall"
)

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	Common

	Interval            time.Duration
	StaleBlockRetryWait time.Duration
	ErrorRetryWait      time.Duration
	ReplayMode          string

	Out       string
	StateFile string
	PGDSN     string
	WatchName string
	NoColor   bool
	Quiet     bool
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v := newViper()
	v.SetDefault("interval", multicall.DefaultInterval)
	v.SetDefault("stale-block-retry-wait", multicall.DefaultStaleBlockRetryWait)
	v.SetDefault("error-retry-wait", multicall.DefaultErrorRetryWait)
	v.SetDefault("replay-mode", "transformed")
	v.SetDefault("watch-name", "default")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return WatchConfig{}, err
	}

	common, err := loadCommon(v)
	if err != nil {
		return WatchConfig{}, err
	}

	cfg := WatchConfig{
		Common:              common,
		Interval:            v.GetDuration("interval"),
		StaleBlockRetryWait: v.GetDuration("stale-block-retry-wait"),
		ErrorRetryWait:      v.GetDuration("error-retry-wait"),
		ReplayMode:          v.GetString("replay-mode"),
		Out:                 v.GetString("out"),
		StateFile:           v.GetString("state-file"),
		PGDSN:               v.GetString("pg-dsn"),
		WatchName:           v.GetString("watch-name"),
		NoColor:             v.GetBool("no-color"),
		Quiet:               v.GetBool("quiet"),
	}

	return cfg, nil
}

// MulticallConfig adds the polling settings to the shared ones.
func (c WatchConfig) MulticallConfig(logger *zap.Logger) (multicall.Config, error) {
	cfg, err := c.Common.MulticallConfig(logger)
	if err != nil {
		return multicall.Config{}, err
	}
	cfg.Interval = c.Interval
	cfg.StaleBlockRetryWait = c.StaleBlockRetryWait
	cfg.ErrorRetryWait = c.ErrorRetryWait

	mode, err := multicall.ParseReplayMode(c.ReplayMode)
	if err != nil {
		return multicall.Config{}, err
	}
	cfg.ReplayMode = mode
	return cfg, nil
}
