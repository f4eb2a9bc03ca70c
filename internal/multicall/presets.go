package multicall

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Preset is a built-in network: its aggregator address and a public RPC URL.
type Preset struct {
	Name             string
	MulticallAddress common.Address
	RPCURL           string
}

var presets = map[string]Preset{
	"mainnet": {
		Name:             "mainnet",
		MulticallAddress: common.HexToAddress("0xeefba1e63905ef1d7acba5a8513c70307c1ce441"),
		RPCURL:           "https://mainnet.infura.io",
	},
	"kovan": {
		Name:             "kovan",
		MulticallAddress: common.HexToAddress("0x2cc8688c5f75e365aaeeb4ea8d6a480405a48d2a"),
		RPCURL:           "https://kovan.infura.io",
	},
	"rinkeby": {
		Name:             "rinkeby",
		MulticallAddress: common.HexToAddress("0x42ad527de7d4e9d9d011ac45b31d8551f8fe9821"),
		RPCURL:           "https://rinkeby.infura.io",
	},
	"goerli": {
		Name:             "goerli",
		MulticallAddress: common.HexToAddress("0x77dca2c955b15e9de4dbbcf1246b4b85b651e50e"),
		RPCURL:           "https://rpc.slock.it/goerli",
	},
	"xdai": {
		Name:             "xdai",
		MulticallAddress: common.HexToAddress("0xb5b692a88bdfc81ca69dcb1d924f59f0413a602a"),
		RPCURL:           "https://dai.poa.network",
	},
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the built-in presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
