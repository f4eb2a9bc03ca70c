package model

import "github.com/ethereum/go-ethereum/common"

// Transform post-processes a decoded return value.
type Transform func(value interface{}) interface{}

// Return binds one declared return value to a result key.
type Return struct {
	Key       string
	Transform Transform
}

// Call describes one contract read.
//
// Method encodes both argument and return types, e.g.
// "balanceOf(address)(uint256)". A zero Target resolves to the multicall
// contract itself, which exposes helpers such as getEthBalance(address).
type Call struct {
	Target  common.Address
	Method  string
	Args    []interface{}
	Returns []Return
}

// Keys returns the result keys declared by the call, in order.
func (c Call) Keys() []string {
	keys := make([]string, 0, len(c.Returns))
	for _, r := range c.Returns {
		keys = append(keys, r.Key)
	}
	return keys
}

// CloneCalls returns a shallow copy of calls.
func CloneCalls(calls []Call) []Call {
	if calls == nil {
		return nil
	}
	out := make([]Call, len(calls))
	copy(out, calls)
	return out
}
