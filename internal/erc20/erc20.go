// Package erc20 provides call templates for common ERC20 reads.
package erc20

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"multiwatch/internal/model"
	"multiwatch/internal/multicall"
	"multiwatch/internal/units"
)

// Meta is token metadata read in one aggregate call.
type Meta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// Key builds a result key such as "DAI.balanceOf".
func Key(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

// BalanceOf reads holder's balance of token, scaled by decimals.
func BalanceOf(token, holder common.Address, key string, decimals uint8) model.Call {
	return model.Call{
		Target:  token,
		Method:  "balanceOf(address)(uint256)",
		Args:    []interface{}{holder.Hex()},
		Returns: []model.Return{{Key: key, Transform: units.Decimals(int32(decimals))}},
	}
}

// TotalSupply reads the token supply, scaled by decimals.
func TotalSupply(token common.Address, key string, decimals uint8) model.Call {
	return model.Call{
		Target:  token,
		Method:  "totalSupply()(uint256)",
		Returns: []model.Return{{Key: key, Transform: units.Decimals(int32(decimals))}},
	}
}

// Allowance reads how much spender may move from owner, scaled by decimals.
func Allowance(token, owner, spender common.Address, key string, decimals uint8) model.Call {
	return model.Call{
		Target:  token,
		Method:  "allowance(address,address)(uint256)",
		Args:    []interface{}{owner.Hex(), spender.Hex()},
		Returns: []model.Return{{Key: key, Transform: units.Decimals(int32(decimals))}},
	}
}

// EthBalance reads holder's ether balance through the aggregator's
// getEthBalance helper. The call has no target so it resolves to the
// multicall contract.
func EthBalance(holder common.Address, key string) model.Call {
	return model.Call{
		Method:  "getEthBalance(address)(uint256)",
		Args:    []interface{}{holder.Hex()},
		Returns: []model.Return{{Key: key, Transform: units.FromWei}},
	}
}

// MetaCalls reads decimals, symbol and name. Older tokens such as MKR return
// bytes32 symbols; set bytes32 to read those.
func MetaCalls(token common.Address, prefix string, bytes32 bool) []model.Call {
	textType := "string"
	var transform model.Transform
	if bytes32 {
		textType = "bytes32"
		transform = Bytes32String
	}
	return []model.Call{
		{
			Target:  token,
			Method:  "decimals()(uint8)",
			Returns: []model.Return{{Key: Key(prefix, "decimals")}},
		},
		{
			Target:  token,
			Method:  "symbol()(" + textType + ")",
			Returns: []model.Return{{Key: Key(prefix, "symbol"), Transform: transform}},
		},
		{
			Target:  token,
			Method:  "name()(" + textType + ")",
			Returns: []model.Return{{Key: Key(prefix, "name"), Transform: transform}},
		},
	}
}

// Bytes32String trims a bytes32 value to its string content.
func Bytes32String(value interface{}) interface{} {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00"))
	case []byte:
		return string(bytes.TrimRight(v, "\x00"))
	default:
		return value
	}
}

// FetchMeta reads token metadata with string accessors, falling back to
// bytes32 accessors when the string form cannot be decoded.
func FetchMeta(ctx context.Context, token common.Address, cfg multicall.Config) (Meta, error) {
	meta, err := fetchMeta(ctx, token, cfg, false)
	if err == nil {
		return meta, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Meta{Address: token.Hex()}, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Debug("string metadata failed, trying bytes32", zap.String("token", token.Hex()), zap.Error(err))
	}
	return fetchMeta(ctx, token, cfg, true)
}

func fetchMeta(ctx context.Context, token common.Address, cfg multicall.Config, bytes32 bool) (Meta, error) {
	meta := Meta{Address: token.Hex()}
	resp, err := multicall.Aggregate(ctx, MetaCalls(token, "", bytes32), cfg)
	if err != nil {
		return meta, err
	}

	values := resp.Results.Transformed
	decimals, ok := values["decimals"].(uint8)
	if !ok {
		return meta, fmt.Errorf("unsupported decimals type %T", values["decimals"])
	}
	meta.Decimals = decimals
	meta.Symbol, _ = values["symbol"].(string)
	meta.Name, _ = values["name"].(string)
	return meta, nil
}
