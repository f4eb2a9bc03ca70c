package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// AggregateConfig holds configuration for the one-shot aggregate command.
type AggregateConfig struct {
	Common

	// Format is "text" or "json".
	Format  string
	NoColor bool
}

// LoadAggregate merges config file, environment variables, and flags into AggregateConfig.
func LoadAggregate(cfgFile string, flags *pflag.FlagSet) (AggregateConfig, error) {
	v := newViper()
	v.SetDefault("format", "text")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return AggregateConfig{}, err
	}

	common, err := loadCommon(v)
	if err != nil {
		return AggregateConfig{}, err
	}

	cfg := AggregateConfig{
		Common:  common,
		Format:  v.GetString("format"),
		NoColor: v.GetBool("no-color"),
	}
	switch cfg.Format {
	case "text", "json":
	default:
		return AggregateConfig{}, fmt.Errorf("unknown format: %s", cfg.Format)
	}

	return cfg, nil
}
