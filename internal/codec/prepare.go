package codec

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/model"
)

// PreparedCall is a validated call with arguments coerced to ABI Go types.
type PreparedCall struct {
	Target  common.Address
	Method  Method
	Args    []interface{}
	RawArgs []interface{}
	Returns []model.Return

	argArgs    abi.Arguments
	returnArgs abi.Arguments
}

// Prepare validates calls and resolves their ABI types. Calls without a
// target are sent to defaultTarget.
func Prepare(calls []model.Call, defaultTarget common.Address) ([]PreparedCall, error) {
	prepared := make([]PreparedCall, 0, len(calls))
	for i, call := range calls {
		p, err := prepareCall(call, defaultTarget)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}
	return prepared, nil
}

func prepareCall(call model.Call, defaultTarget common.Address) (PreparedCall, error) {
	method, err := ParseSignature(call.Method)
	if err != nil {
		return PreparedCall{}, err
	}
	if len(method.ArgTypes) != len(call.Args) {
		return PreparedCall{}, fmt.Errorf("%w: %s declares %d argument types, got %d values",
			ErrArgumentCount, method.Signature, len(method.ArgTypes), len(call.Args))
	}
	if len(method.ReturnTypes) != len(call.Returns) {
		return PreparedCall{}, fmt.Errorf("%w: %s declares %d return types, got %d result keys",
			ErrReturnCount, method.Signature, len(method.ReturnTypes), len(call.Returns))
	}

	argArgs, err := buildArguments(method.ArgTypes)
	if err != nil {
		return PreparedCall{}, err
	}
	returnArgs, err := buildArguments(method.ReturnTypes)
	if err != nil {
		return PreparedCall{}, err
	}

	args := make([]interface{}, len(call.Args))
	for i, value := range call.Args {
		coerced, err := coerceArg(argArgs[i].Type, value)
		if err != nil {
			return PreparedCall{}, fmt.Errorf("%s argument %d: %w", method.Signature, i, err)
		}
		args[i] = coerced
	}

	target := call.Target
	if target == (common.Address{}) {
		target = defaultTarget
	}

	return PreparedCall{
		Target:     target,
		Method:     method,
		Args:       args,
		RawArgs:    call.Args,
		Returns:    call.Returns,
		argArgs:    argArgs,
		returnArgs: returnArgs,
	}, nil
}

func buildArguments(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, typ := range types {
		t, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: type %q: %v", ErrInvalidSignature, typ, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}

func coerceArg(t abi.Type, value interface{}) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		return asAddress(value)
	case abi.UintTy, abi.IntTy:
		n, err := asBigInt(value)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, n)
	case abi.BoolTy:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
		return nil, fmt.Errorf("unsupported bool type %T", value)
	case abi.StringTy:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case abi.BytesTy:
		return asBytes(value)
	case abi.FixedBytesTy:
		raw, err := asBytes(value)
		if err != nil {
			return nil, err
		}
		if len(raw) > t.Size {
			return nil, fmt.Errorf("bytes%d overflow: %d bytes", t.Size, len(raw))
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(raw))
		return out.Interface(), nil
	default:
		return value, nil
	}
}

func fitInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for uint%d", n, t.Size)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("uint%d overflow: %s", t.Size, n)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		min := new(big.Int).Neg(limit)
		max := new(big.Int).Sub(limit, big.NewInt(1))
		if n.Cmp(min) < 0 || n.Cmp(max) > 0 {
			return nil, fmt.Errorf("int%d overflow: %s", t.Size, n)
		}
	}

	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("invalid address: %s", v)
		}
		return common.HexToAddress(v), nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("non-integer value %v", v)
		}
		n, _ := big.NewFloat(v).Int(nil)
		return n, nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		data, err := hexutil.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytes %q: %w", v, err)
		}
		return data, nil
	case common.Hash:
		return v.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported bytes type %T", value)
	}
}
