package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"multiwatch/internal/codec"
	"multiwatch/internal/multicall"
)

// EnvPrefix prefixes environment overrides, e.g. MULTIWATCH_RPC_URL.
const EnvPrefix = "MULTIWATCH"

// Common holds the settings shared by every command.
type Common struct {
	RPCURL             string
	Multicall          string
	Preset             string
	Block              string
	BoolMode           string
	WSResponseTimeout  time.Duration
	WSReconnectTimeout time.Duration
	UseProvider        bool
	MaxRetries         int
	RetryBackoff       time.Duration
	LogLevel           string

	Calls   []CallSpec
	Tokens  []string
	Holder  string
	Spender string
	Pools   []string
	Pairs   []string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("block", "latest")
	v.SetDefault("bool-mode", "string")
	v.SetDefault("ws-response-timeout", multicall.DefaultWSResponseTimeout)
	v.SetDefault("ws-reconnect-timeout", multicall.DefaultWSReconnectTimeout)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
	return v
}

func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func loadCommon(v *viper.Viper) (Common, error) {
	cfg := Common{
		RPCURL:             v.GetString("rpc-url"),
		Multicall:          v.GetString("multicall"),
		Preset:             v.GetString("preset"),
		Block:              v.GetString("block"),
		BoolMode:           v.GetString("bool-mode"),
		WSResponseTimeout:  v.GetDuration("ws-response-timeout"),
		WSReconnectTimeout: v.GetDuration("ws-reconnect-timeout"),
		UseProvider:        v.GetBool("use-provider"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		LogLevel:           v.GetString("log-level"),
		Tokens:             getStringSlice(v, "token"),
		Holder:             strings.TrimSpace(v.GetString("holder")),
		Spender:            strings.TrimSpace(v.GetString("spender")),
		Pools:              getStringSlice(v, "pool"),
		Pairs:              getStringSlice(v, "pair"),
	}

	if v.IsSet("calls") {
		if err := v.UnmarshalKey("calls", &cfg.Calls); err != nil {
			return Common{}, fmt.Errorf("decode calls: %w", err)
		}
	}
	return cfg, nil
}

// MulticallConfig converts the shared settings to a library config. The
// result is not prepared; callers pass it to multicall or watcher which
// apply defaults and presets.
func (c Common) MulticallConfig(logger *zap.Logger) (multicall.Config, error) {
	cfg := multicall.Config{
		RPCURL:             c.RPCURL,
		Preset:             c.Preset,
		Block:              c.Block,
		WSResponseTimeout:  c.WSResponseTimeout,
		WSReconnectTimeout: c.WSReconnectTimeout,
		Logger:             logger,
	}

	if c.Multicall != "" {
		addr, err := parseAddress(c.Multicall)
		if err != nil {
			return multicall.Config{}, fmt.Errorf("multicall: %w", err)
		}
		cfg.MulticallAddress = addr
	}

	mode, err := codec.ParseBoolMode(c.BoolMode)
	if err != nil {
		return multicall.Config{}, err
	}
	cfg.BoolMode = mode

	return cfg, nil
}

// TokenAddresses parses the --token list.
func (c Common) TokenAddresses() ([]common.Address, error) {
	return parseAddresses("token", c.Tokens)
}

// PoolAddresses parses the --pool list of V3 pools.
func (c Common) PoolAddresses() ([]common.Address, error) {
	return parseAddresses("pool", c.Pools)
}

// PairAddresses parses the --pair list of V2 pairs.
func (c Common) PairAddresses() ([]common.Address, error) {
	return parseAddresses("pair", c.Pairs)
}

// HolderAddress parses --holder. ok is false when no holder was given.
func (c Common) HolderAddress() (common.Address, bool, error) {
	return optionalAddress("holder", c.Holder)
}

// SpenderAddress parses --spender. ok is false when no spender was given.
func (c Common) SpenderAddress() (common.Address, bool, error) {
	return optionalAddress("spender", c.Spender)
}

func optionalAddress(what, raw string) (common.Address, bool, error) {
	if raw == "" {
		return common.Address{}, false, nil
	}
	addr, err := parseAddress(raw)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("%s: %w", what, err)
	}
	return addr, true, nil
}

func parseAddresses(what string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, item := range raw {
		addr, err := parseAddress(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
