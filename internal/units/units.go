// Package units converts raw integer results into decimal amounts.
package units

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"multiwatch/internal/model"
)

const (
	WadDecimals = 18
	RayDecimals = 27
)

// ToDecimal scales an integer result down by 10^decimals. Values that are
// not integers are reported as not ok.
func ToDecimal(value interface{}, decimals int32) (decimal.Decimal, bool) {
	var n *big.Int
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return decimal.Zero, false
		}
		n = v
	case uint8:
		n = new(big.Int).SetUint64(uint64(v))
	case uint16:
		n = new(big.Int).SetUint64(uint64(v))
	case uint32:
		n = new(big.Int).SetUint64(uint64(v))
	case uint64:
		n = new(big.Int).SetUint64(v)
	case int8:
		n = big.NewInt(int64(v))
	case int16:
		n = big.NewInt(int64(v))
	case int32:
		n = big.NewInt(int64(v))
	case int64:
		n = big.NewInt(v)
	case string:
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return decimal.Zero, false
		}
		n = parsed
	default:
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(n, -decimals), true
}

// Decimals returns a transform that scales integer results by 10^-n and
// renders them as decimal strings. Other values pass through unchanged.
func Decimals(n int32) model.Transform {
	return func(value interface{}) interface{} {
		d, ok := ToDecimal(value, n)
		if !ok {
			return value
		}
		return d.String()
	}
}

var (
	// FromWei converts wei to ether.
	FromWei = Decimals(WadDecimals)
	// Wad is an alias of FromWei for 18-decimal fixed point values.
	Wad = FromWei
	// Ray converts 27-decimal fixed point values.
	Ray = Decimals(RayDecimals)
)

// ByName resolves a transform name: "" or "none", "wad", "fromWei", "ray",
// or "decimals:N". Names are case-insensitive.
func ByName(name string) (model.Transform, error) {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	switch lower {
	case "", "none":
		return nil, nil
	case "wad", "fromwei", "ether":
		return FromWei, nil
	case "ray":
		return Ray, nil
	}
	if rest, ok := strings.CutPrefix(lower, "decimals:"); ok {
		n, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || n < 0 || n > 77 {
			return nil, fmt.Errorf("invalid decimals transform: %s", name)
		}
		return Decimals(int32(n)), nil
	}
	return nil, fmt.Errorf("unknown transform: %s", name)
}
