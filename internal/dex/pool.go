// Package dex provides call templates for Uniswap-style pool state.
package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"multiwatch/internal/model"
	"multiwatch/internal/multicall"
	"multiwatch/internal/units"
)

// Pool is the immutable part of a pool. Fee and TickSpacing are zero for V2 pairs.
type Pool struct {
	Address     string `json:"address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee,omitempty"`
	TickSpacing int32  `json:"tick_spacing,omitempty"`
}

// Slot0Keys are the result key suffixes of V3 slot0, in return order.
var Slot0Keys = []string{
	"sqrtPriceX96",
	"tick",
	"observationIndex",
	"observationCardinality",
	"observationCardinalityNext",
	"feeProtocol",
	"unlocked",
}

var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// PriceScale is the number of decimals kept by SqrtPriceX96ToPrice.
const PriceScale = 18

func key(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

// PairCalls reads token0 and token1, which V2 pairs and V3 pools share.
func PairCalls(pool common.Address, prefix string) []model.Call {
	return []model.Call{
		{Target: pool, Method: "token0()(address)", Returns: []model.Return{{Key: key(prefix, "token0")}}},
		{Target: pool, Method: "token1()(address)", Returns: []model.Return{{Key: key(prefix, "token1")}}},
	}
}

// PoolCalls reads the immutable fields of a V3 pool.
func PoolCalls(pool common.Address, prefix string) []model.Call {
	return append(PairCalls(pool, prefix),
		model.Call{Target: pool, Method: "fee()(uint24)", Returns: []model.Return{{Key: key(prefix, "fee")}}},
		model.Call{Target: pool, Method: "tickSpacing()(int24)", Returns: []model.Return{{Key: key(prefix, "tickSpacing")}}},
	)
}

// StateCalls reads slot0 and liquidity of a V3 pool. sqrtPriceX96 is
// reported as the price of token0 in token1.
func StateCalls(pool common.Address, prefix string, decimals0, decimals1 uint8) []model.Call {
	returns := make([]model.Return, 0, len(Slot0Keys))
	for _, k := range Slot0Keys {
		returns = append(returns, model.Return{Key: key(prefix, k)})
	}
	returns[0].Key = key(prefix, "price")
	returns[0].Transform = SqrtPriceX96ToPrice(decimals0, decimals1)

	return []model.Call{
		{
			Target:  pool,
			Method:  "slot0()(uint160,int24,uint16,uint16,uint16,uint8,bool)",
			Returns: returns,
		},
		{
			Target:  pool,
			Method:  "liquidity()(uint128)",
			Returns: []model.Return{{Key: key(prefix, "liquidity")}},
		},
	}
}

// ReservesCall reads V2 reserves scaled by the token decimals.
func ReservesCall(pair common.Address, prefix string, decimals0, decimals1 uint8) model.Call {
	return model.Call{
		Target: pair,
		Method: "getReserves()(uint112,uint112,uint32)",
		Returns: []model.Return{
			{Key: key(prefix, "reserve0"), Transform: units.Decimals(int32(decimals0))},
			{Key: key(prefix, "reserve1"), Transform: units.Decimals(int32(decimals1))},
			{Key: key(prefix, "blockTimestampLast")},
		},
	}
}

// SqrtPriceX96ToPrice converts a Q64.96 square root price into a decimal
// string: (sqrtPriceX96^2 / 2^192) * 10^(decimals0-decimals1).
func SqrtPriceX96ToPrice(decimals0, decimals1 uint8) model.Transform {
	return func(value interface{}) interface{} {
		sqrt, ok := value.(*big.Int)
		if !ok || sqrt == nil {
			return value
		}
		squared := new(big.Int).Mul(sqrt, sqrt)
		price := decimal.NewFromBigInt(squared, int32(decimals0)-int32(decimals1))
		return price.DivRound(q192, PriceScale).String()
	}
}

// FetchPool reads the immutable fields of a V3 pool in one aggregate call.
func FetchPool(ctx context.Context, pool common.Address, cfg multicall.Config) (Pool, error) {
	values, err := fetch(ctx, PoolCalls(pool, ""), cfg)
	if err != nil {
		return Pool{Address: pool.Hex()}, err
	}
	out, err := pairFromValues(pool, values)
	if err != nil {
		return out, err
	}

	fee, err := asBigInt(values["fee"])
	if err != nil {
		return out, fmt.Errorf("fee: %w", err)
	}
	out.Fee = uint32(fee.Uint64())

	spacing, err := asBigInt(values["tickSpacing"])
	if err != nil {
		return out, fmt.Errorf("tick spacing: %w", err)
	}
	if out.TickSpacing, err = int24FromBig(spacing); err != nil {
		return out, fmt.Errorf("tick spacing: %w", err)
	}
	return out, nil
}

// FetchPair reads the tokens of a V2 pair.
func FetchPair(ctx context.Context, pair common.Address, cfg multicall.Config) (Pool, error) {
	values, err := fetch(ctx, PairCalls(pair, ""), cfg)
	if err != nil {
		return Pool{Address: pair.Hex()}, err
	}
	return pairFromValues(pair, values)
}

func fetch(ctx context.Context, calls []model.Call, cfg multicall.Config) (map[string]interface{}, error) {
	resp, err := multicall.Aggregate(ctx, calls, cfg)
	if err != nil {
		return nil, err
	}
	return resp.Results.Transformed, nil
}

func pairFromValues(pool common.Address, values map[string]interface{}) (Pool, error) {
	out := Pool{Address: pool.Hex()}
	token0, err := asAddress(values["token0"])
	if err != nil {
		return out, fmt.Errorf("token0: %w", err)
	}
	token1, err := asAddress(values["token1"])
	if err != nil {
		return out, fmt.Errorf("token1: %w", err)
	}
	out.Token0 = token0.Hex()
	out.Token1 = token1.Hex()
	return out, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
