package multicall

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"multiwatch/internal/codec"
	"multiwatch/internal/transport"
)

const (
	DefaultInterval            = time.Second
	DefaultStaleBlockRetryWait = 3 * time.Second
	DefaultErrorRetryWait      = 5 * time.Second
	DefaultWSResponseTimeout   = 5 * time.Second
	DefaultWSReconnectTimeout  = 5 * time.Second
	DefaultBlock               = "latest"
)

var (
	// ErrUnknownPreset is returned for a preset name not in the built-in table.
	ErrUnknownPreset = errors.New("unknown preset")
	// ErrMissingEndpoint is returned when neither an RPC URL nor a provider is set.
	ErrMissingEndpoint = errors.New("rpc url or provider required")
	// ErrMissingMulticall is returned when no aggregator address is configured.
	ErrMissingMulticall = errors.New("multicall address required")
)

// ReplayMode selects which snapshot a late subscriber is replayed.
type ReplayMode int

const (
	ReplayTransformed ReplayMode = iota
	ReplayOriginal
)

// ParseReplayMode maps "transformed" or "original" to a ReplayMode.
func ParseReplayMode(s string) (ReplayMode, error) {
	switch s {
	case "", "transformed":
		return ReplayTransformed, nil
	case "original":
		return ReplayOriginal, nil
	default:
		return ReplayTransformed, fmt.Errorf("unknown replay mode: %s", s)
	}
}

func (m ReplayMode) String() string {
	if m == ReplayOriginal {
		return "original"
	}
	return "transformed"
}

// Config controls aggregation and watching.
type Config struct {
	RPCURL           string
	MulticallAddress common.Address
	// Preset overrides RPCURL and MulticallAddress with a built-in network.
	Preset string

	Interval            time.Duration
	StaleBlockRetryWait time.Duration
	ErrorRetryWait      time.Duration
	WSResponseTimeout   time.Duration
	WSReconnectTimeout  time.Duration

	// Block is a tag such as "latest" or a block number (decimal or hex).
	Block string

	// Provider takes precedence over RPCURL when set.
	Provider   transport.Provider
	HTTPClient *http.Client

	BoolMode   codec.BoolMode
	ReplayMode ReplayMode

	Logger *zap.Logger
}

// Prepare returns a copy of the config with defaults and the preset applied.
func (c Config) Prepare() (Config, error) {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StaleBlockRetryWait <= 0 {
		c.StaleBlockRetryWait = DefaultStaleBlockRetryWait
	}
	if c.ErrorRetryWait <= 0 {
		c.ErrorRetryWait = DefaultErrorRetryWait
	}
	if c.WSResponseTimeout <= 0 {
		c.WSResponseTimeout = DefaultWSResponseTimeout
	}
	if c.WSReconnectTimeout <= 0 {
		c.WSReconnectTimeout = DefaultWSReconnectTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	block, err := normalizeBlock(c.Block)
	if err != nil {
		return Config{}, err
	}
	c.Block = block

	if c.Preset != "" {
		preset, ok := LookupPreset(c.Preset)
		if !ok {
			return Config{}, fmt.Errorf("%w: %s", ErrUnknownPreset, c.Preset)
		}
		c.MulticallAddress = preset.MulticallAddress
		c.RPCURL = preset.RPCURL
	}

	if c.Provider == nil && c.RPCURL == "" {
		return Config{}, ErrMissingEndpoint
	}
	if c.MulticallAddress == (common.Address{}) {
		return Config{}, ErrMissingMulticall
	}
	return c, nil
}

// UsesWebSocket reports whether calls go over a watcher-owned WebSocket.
func (c Config) UsesWebSocket() bool {
	return c.Provider == nil && transport.IsWebSocketURL(c.RPCURL)
}

func normalizeBlock(block string) (string, error) {
	block = strings.TrimSpace(block)
	switch {
	case block == "":
		return DefaultBlock, nil
	case strings.HasPrefix(block, "0x"):
		if _, err := hexutil.DecodeUint64(block); err != nil {
			return "", fmt.Errorf("invalid block %q: %w", block, err)
		}
		return block, nil
	}
	if n, err := strconv.ParseUint(block, 10, 64); err == nil {
		return hexutil.EncodeUint64(n), nil
	}
	switch block {
	case "latest", "pending", "earliest", "safe", "finalized":
		return block, nil
	}
	return "", fmt.Errorf("invalid block %q", block)
}
