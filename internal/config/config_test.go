package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"

	"multiwatch/internal/codec"
	"multiwatch/internal/multicall"
)

const watchYAML = `
rpc-url: https://node.example
multicall: "0xeefba1e63905ef1d7acba5a8513c70307c1ce441"
interval: 2s
replay-mode: original
bool-mode: native
calls:
  - target: "0x6b175474e89094c44da98b954eedeac495271d0f"
    method: "balanceOf(address)(uint256)"
    args: ["0x72776bb917751225d24c07d0663b3780b2ada67c"]
    returns:
      - key: BALANCE_OF_WHALE
        transform: fromWei
  - method: "getEthBalance(address)(uint256)"
    args: ["0x72776bb917751225d24c07d0663b3780b2ada67c"]
    returns:
      - key: ETH_BALANCE
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func watchFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.String("rpc-url", "", "")
	fs.Duration("interval", time.Second, "")
	fs.StringSlice("token", nil, "")
	fs.String("holder", "", "")
	fs.String("spender", "", "")
	fs.StringSlice("pool", nil, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadWatchFromFile(t *testing.T) {
	path := writeConfig(t, watchYAML)

	cfg, err := LoadWatch(path, watchFlags(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.RPCURL != "https://node.example" {
		t.Fatalf("unexpected rpc url: %s", cfg.RPCURL)
	}
	if cfg.Interval != 2*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.Interval)
	}
	if cfg.ErrorRetryWait != multicall.DefaultErrorRetryWait {
		t.Fatalf("unexpected error wait: %s", cfg.ErrorRetryWait)
	}
	if cfg.Block != "latest" || cfg.WatchName != "default" || cfg.MaxRetries != 3 || cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(cfg.Calls))
	}

	calls, err := BuildCalls(cfg.Calls)
	if err != nil {
		t.Fatalf("build calls: %v", err)
	}
	if calls[0].Target != common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f") {
		t.Fatalf("unexpected target: %s", calls[0].Target.Hex())
	}
	if calls[0].Returns[0].Key != "BALANCE_OF_WHALE" || calls[0].Returns[0].Transform == nil {
		t.Fatalf("unexpected return: %+v", calls[0].Returns[0])
	}
	if len(calls[0].Args) != 1 || calls[0].Args[0] != "0x72776bb917751225d24c07d0663b3780b2ada67c" {
		t.Fatalf("unexpected args: %v", calls[0].Args)
	}
	if calls[1].Target != (common.Address{}) {
		t.Fatalf("expected zero target, got %s", calls[1].Target.Hex())
	}
	if calls[1].Returns[0].Transform != nil {
		t.Fatalf("expected no transform")
	}

	mc, err := cfg.MulticallConfig(nil)
	if err != nil {
		t.Fatalf("multicall config: %v", err)
	}
	if mc.BoolMode != codec.BoolNative || mc.ReplayMode != multicall.ReplayOriginal {
		t.Fatalf("unexpected modes: %s %s", mc.BoolMode, mc.ReplayMode)
	}
	if mc.MulticallAddress != common.HexToAddress("0xeefba1e63905ef1d7acba5a8513c70307c1ce441") {
		t.Fatalf("unexpected multicall: %s", mc.MulticallAddress.Hex())
	}
	if mc.Interval != 2*time.Second {
		t.Fatalf("unexpected interval: %s", mc.Interval)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, watchYAML)

	cfg, err := LoadWatch(path, watchFlags(t, "--interval=3s"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interval != 3*time.Second {
		t.Fatalf("expected flag interval, got %s", cfg.Interval)
	}
	if cfg.RPCURL != "https://node.example" {
		t.Fatalf("unset flag should not override file: %s", cfg.RPCURL)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MULTIWATCH_BLOCK", "0x10")
	t.Setenv("MULTIWATCH_PG_DSN", "postgres://localhost/watch")
	path := writeConfig(t, "rpc-url: https://node.example\n")

	cfg, err := LoadWatch(path, watchFlags(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Block != "0x10" {
		t.Fatalf("unexpected block: %s", cfg.Block)
	}
	if cfg.PGDSN != "postgres://localhost/watch" {
		t.Fatalf("unexpected dsn: %s", cfg.PGDSN)
	}
}

func TestTokenFlags(t *testing.T) {
	path := writeConfig(t, "preset: mainnet\n")
	fs := watchFlags(t,
		"--token=0x6b175474e89094c44da98b954eedeac495271d0f,0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2",
		"--holder=0x72776bb917751225d24c07d0663b3780b2ada67c",
		"--spender=0x7a250d5630b4cf539739df2c5dacb4c659f2488d",
		"--pool=0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640",
	)

	cfg, err := LoadAggregate(path, fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tokens, err := cfg.TokenAddresses()
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[1] != common.HexToAddress("0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2") {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	holder, ok, err := cfg.HolderAddress()
	if err != nil || !ok {
		t.Fatalf("holder: %v %v", ok, err)
	}
	if holder != common.HexToAddress("0x72776bb917751225d24c07d0663b3780b2ada67c") {
		t.Fatalf("unexpected holder: %s", holder.Hex())
	}
	spender, ok, err := cfg.SpenderAddress()
	if err != nil || !ok || spender != common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d") {
		t.Fatalf("spender: %s %v %v", spender.Hex(), ok, err)
	}
	if _, ok, err := (Common{}).SpenderAddress(); ok || err != nil {
		t.Fatalf("empty spender: %v %v", ok, err)
	}
	if _, _, err := (Common{Spender: "0x12"}).SpenderAddress(); err == nil {
		t.Fatalf("expected spender address error")
	}
	pools, err := cfg.PoolAddresses()
	if err != nil || len(pools) != 1 {
		t.Fatalf("pools: %v %v", pools, err)
	}
	if pairs, err := cfg.PairAddresses(); err != nil || len(pairs) != 0 {
		t.Fatalf("pairs: %v %v", pairs, err)
	}
	if cfg.Format != "text" || cfg.Preset != "mainnet" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadWatch(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected missing file error")
	}

	path := writeConfig(t, "format: csv\n")
	if _, err := LoadAggregate(path, nil); err == nil {
		t.Fatalf("expected format error")
	}

	path = writeConfig(t, "replay-mode: sometimes\n")
	cfg, err := LoadWatch(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.MulticallConfig(nil); err == nil {
		t.Fatalf("expected replay mode error")
	}

	path = writeConfig(t, "multicall: nope\n")
	cfg, err = LoadWatch(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.MulticallConfig(nil); err == nil {
		t.Fatalf("expected address error")
	}
}

func TestBuildCallsErrors(t *testing.T) {
	cases := []CallSpec{
		{Target: "0x1", Method: "x()(uint256)", Returns: []ReturnSpec{{Key: "A"}}},
		{Returns: []ReturnSpec{{Key: "A"}}},
		{Method: "x()(uint256)", Returns: []ReturnSpec{{Key: "A", Transform: "furlongs"}}},
		{Method: "x()(uint256)", Returns: []ReturnSpec{{}}},
	}
	for i, spec := range cases {
		if _, err := BuildCalls([]CallSpec{spec}); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
