// Package codectest builds aggregator replies for tests.
package codectest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Pack ABI-encodes values under the given solidity types.
func Pack(types []string, values ...interface{}) ([]byte, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, typ := range types {
		t, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", typ, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args.Pack(values...)
}

// MustPack is Pack that panics on error.
func MustPack(types []string, values ...interface{}) []byte {
	data, err := Pack(types, values...)
	if err != nil {
		panic(err)
	}
	return data
}

// AggregateReply encodes the (uint256 blockNumber, bytes[] returnData) output of aggregate.
func AggregateReply(blockNumber uint64, returnData ...[]byte) []byte {
	if returnData == nil {
		returnData = [][]byte{}
	}
	return MustPack([]string{"uint256", "bytes[]"}, new(big.Int).SetUint64(blockNumber), returnData)
}

// Wei scales a decimal string such as "1111.22223333" by 1e18.
func Wei(amount string) *big.Int {
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		panic(fmt.Sprintf("invalid amount %q", amount))
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	if !r.IsInt() {
		panic(fmt.Sprintf("amount %q has more than 18 decimals", amount))
	}
	return new(big.Int).Set(r.Num())
}
