package codec

import (
	"errors"
	"fmt"
	"math/big"

	"multiwatch/internal/model"
)

// BoolMode selects how decoded bool return values are represented.
type BoolMode int

const (
	// BoolString compares the canonical string form against "true".
	BoolString BoolMode = iota
	// BoolNative keeps the value produced by the ABI decoder.
	BoolNative
)

// ParseBoolMode maps "string" or "native" to a BoolMode.
func ParseBoolMode(s string) (BoolMode, error) {
	switch s {
	case "", "string":
		return BoolString, nil
	case "native":
		return BoolNative, nil
	default:
		return BoolString, fmt.Errorf("unknown bool mode: %s", s)
	}
}

func (m BoolMode) String() string {
	if m == BoolNative {
		return "native"
	}
	return "string"
}

// ErrMalformedResponse is returned when the aggregate reply cannot be matched to the calls.
var ErrMalformedResponse = errors.New("malformed aggregate response")

// DecodeAggregate splits raw aggregate output into its block number and per-call bytes.
func DecodeAggregate(raw []byte) (uint64, [][]byte, error) {
	parsed, err := loadAggregatorABI()
	if err != nil {
		return 0, nil, fmt.Errorf("load aggregator abi: %w", err)
	}
	values, err := parsed.Unpack("aggregate", raw)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(values) != 2 {
		return 0, nil, fmt.Errorf("%w: %d outputs", ErrMalformedResponse, len(values))
	}
	block, ok := values[0].(*big.Int)
	if !ok || !block.IsUint64() {
		return 0, nil, fmt.Errorf("%w: block number %v", ErrMalformedResponse, values[0])
	}
	returnData, ok := values[1].([][]byte)
	if !ok {
		return 0, nil, fmt.Errorf("%w: return data %T", ErrMalformedResponse, values[1])
	}
	return block.Uint64(), returnData, nil
}

// Decode decodes raw aggregate output against the prepared calls. Values are
// zipped in call-and-return order with each call's result keys; a repeated key
// keeps the last value.
func Decode(calls []PreparedCall, raw []byte, mode BoolMode) (model.Results, error) {
	blockNumber, returnData, err := DecodeAggregate(raw)
	if err != nil {
		return model.Results{}, err
	}
	if len(returnData) != len(calls) {
		return model.Results{}, fmt.Errorf("%w: %d calls, %d return blobs",
			ErrMalformedResponse, len(calls), len(returnData))
	}

	results := model.Results{
		BlockNumber: blockNumber,
		Original:    make(map[string]interface{}),
		Transformed: make(map[string]interface{}),
	}
	for i, call := range calls {
		values, err := call.returnArgs.Unpack(returnData[i])
		if err != nil {
			return model.Results{}, fmt.Errorf("unpack %s result: %w", call.Method.Signature, err)
		}
		if len(values) != len(call.Returns) {
			return model.Results{}, fmt.Errorf("%w: %s decoded %d values for %d keys",
				ErrReturnCount, call.Method.Signature, len(values), len(call.Returns))
		}
		for j, value := range values {
			if mode == BoolString && call.Method.ReturnTypes[j] == "bool" {
				value = fmt.Sprint(value) == "true"
			}
			ret := call.Returns[j]
			results.Original[ret.Key] = value
			if ret.Transform != nil {
				results.Transformed[ret.Key] = ret.Transform(value)
			} else {
				results.Transformed[ret.Key] = value
			}
		}
	}
	return results, nil
}

// KeyToArgs maps every result key of a call that has arguments to its raw arguments.
func KeyToArgs(calls []model.Call) map[string][]interface{} {
	out := make(map[string][]interface{})
	for _, call := range calls {
		if len(call.Args) == 0 {
			continue
		}
		for _, ret := range call.Returns {
			out[ret.Key] = call.Args
		}
	}
	return out
}
