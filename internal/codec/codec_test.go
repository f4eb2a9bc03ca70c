package codec

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/codec/codectest"
	"multiwatch/internal/model"
)

var (
	multicallAddr = common.HexToAddress("0xeefba1e63905ef1d7acba5a8513c70307c1ce441")
	tokenAddr     = common.HexToAddress("0x1234567890123456789012345678901234567890")
	holderAddr    = "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
)

func sampleCalls() []model.Call {
	return []model.Call{
		{
			Method:  "getEthBalance(address)(uint256)",
			Args:    []interface{}{holderAddr},
			Returns: []model.Return{{Key: "BALANCE_OF_ETH_WHALE"}},
		},
		{
			Target:  tokenAddr,
			Method:  "balanceOf(address)(uint256)",
			Args:    []interface{}{holderAddr},
			Returns: []model.Return{{Key: "BALANCE_OF_MKR_WHALE"}},
		},
		{
			Target:  tokenAddr,
			Method:  "peek()(uint256,bool)",
			Returns: []model.Return{{Key: "PRICE_FEED_ETH_PRICE"}, {Key: "PRICE_FEED_ETH_SET"}},
		},
	}
}

func TestParseSignature(t *testing.T) {
	m, err := ParseSignature("peek()(uint256, bool)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Name != "peek" || m.Signature != "peek()" {
		t.Fatalf("unexpected method: %+v", m)
	}
	if len(m.ArgTypes) != 0 {
		t.Fatalf("expected no arg types, got %v", m.ArgTypes)
	}
	if len(m.ReturnTypes) != 2 || m.ReturnTypes[0] != "uint256" || m.ReturnTypes[1] != "bool" {
		t.Fatalf("return types mismatch: %v", m.ReturnTypes)
	}

	if got := hexutil.Encode(m.Selector()); got != "0x59e02dd7" {
		t.Fatalf("peek selector mismatch: %s", got)
	}

	if _, err := ParseSignature("balanceOf"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestPrepareValidation(t *testing.T) {
	_, err := Prepare([]model.Call{{
		Method:  "balanceOf(address)(uint256)",
		Returns: []model.Return{{Key: "X"}},
	}}, multicallAddr)
	if !errors.Is(err, ErrArgumentCount) {
		t.Fatalf("expected argument count error, got %v", err)
	}

	_, err = Prepare([]model.Call{{
		Method:  "peek()(uint256,bool)",
		Returns: []model.Return{{Key: "X"}},
	}}, multicallAddr)
	if !errors.Is(err, ErrReturnCount) {
		t.Fatalf("expected return count error, got %v", err)
	}

	_, err = Prepare([]model.Call{{
		Method:  "balanceOf(address)(uint256)",
		Args:    []interface{}{"not-an-address"},
		Returns: []model.Return{{Key: "X"}},
	}}, multicallAddr)
	if err == nil {
		t.Fatalf("expected coercion error")
	}
}

func TestPrepareDefaultsTarget(t *testing.T) {
	prepared, err := Prepare(sampleCalls(), multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if prepared[0].Target != multicallAddr {
		t.Fatalf("expected multicall target, got %s", prepared[0].Target.Hex())
	}
	if prepared[1].Target != tokenAddr {
		t.Fatalf("explicit target overwritten: %s", prepared[1].Target.Hex())
	}
	if _, ok := prepared[0].Args[0].(common.Address); !ok {
		t.Fatalf("address arg not coerced: %T", prepared[0].Args[0])
	}
}

func TestPrepareCoercesIntegers(t *testing.T) {
	prepared, err := Prepare([]model.Call{{
		Method:  "f(uint8,uint256,int64)(bool)",
		Args:    []interface{}{"7", 12, "0x10"},
		Returns: []model.Return{{Key: "OK"}},
	}}, multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	args := prepared[0].Args
	if v, ok := args[0].(uint8); !ok || v != 7 {
		t.Fatalf("uint8 mismatch: %T %v", args[0], args[0])
	}
	if v, ok := args[1].(*big.Int); !ok || v.Int64() != 12 {
		t.Fatalf("uint256 mismatch: %T %v", args[1], args[1])
	}
	if v, ok := args[2].(int64); !ok || v != 16 {
		t.Fatalf("int64 mismatch: %T %v", args[2], args[2])
	}

	_, err = Prepare([]model.Call{{
		Method:  "f(uint8)()",
		Args:    []interface{}{300},
		Returns: nil,
	}}, multicallAddr)
	if err == nil {
		t.Fatalf("expected uint8 overflow")
	}

	int256Min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	prepared, err = Prepare([]model.Call{{
		Method:  "f(int8,int256)(bool)",
		Args:    []interface{}{-128, int256Min},
		Returns: []model.Return{{Key: "OK"}},
	}}, multicallAddr)
	if err != nil {
		t.Fatalf("prepare signed minimums: %v", err)
	}
	if v, ok := prepared[0].Args[0].(int8); !ok || v != -128 {
		t.Fatalf("int8 mismatch: %T %v", prepared[0].Args[0], prepared[0].Args[0])
	}
	if v, ok := prepared[0].Args[1].(*big.Int); !ok || v.Cmp(int256Min) != 0 {
		t.Fatalf("int256 mismatch: %T %v", prepared[0].Args[1], prepared[0].Args[1])
	}

	for _, arg := range []interface{}{128, -129} {
		_, err = Prepare([]model.Call{{
			Method:  "f(int8)(bool)",
			Args:    []interface{}{arg},
			Returns: []model.Return{{Key: "OK"}},
		}}, multicallAddr)
		if err == nil {
			t.Fatalf("expected int8 overflow for %v", arg)
		}
	}
}

func TestFragment(t *testing.T) {
	prepared, err := Prepare(sampleCalls()[1:2], multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	fragment, err := prepared[0].Fragment()
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	if got := hexutil.Encode(fragment[:4]); got != "0x70a08231" {
		t.Fatalf("balanceOf selector mismatch: %s", got)
	}
	if len(fragment) != 4+32 {
		t.Fatalf("fragment length mismatch: %d", len(fragment))
	}
	if !bytes.Equal(fragment[16:36], common.HexToAddress(holderAddr).Bytes()) {
		t.Fatalf("address argument not packed")
	}
}

func TestEncoderIdempotent(t *testing.T) {
	enc, err := NewEncoder(8)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	prepared, err := Prepare(sampleCalls(), multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	first, err := enc.Encode(prepared)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := hexutil.Encode(first[:4]); got != AggregateSelector {
		t.Fatalf("aggregate selector mismatch: %s", got)
	}

	first[4] ^= 0xff
	second, err := enc.Encode(prepared)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	third, err := Encode(prepared)
	if err != nil {
		t.Fatalf("encode uncached: %v", err)
	}
	if !bytes.Equal(second, third) {
		t.Fatalf("memoized calldata differs from fresh encoding")
	}
	if enc.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", enc.Len())
	}

	changed, err := Prepare(sampleCalls()[:2], multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	fourth, err := enc.Encode(changed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(fourth, second) {
		t.Fatalf("different call lists produced identical calldata")
	}
	if enc.Len() != 2 {
		t.Fatalf("expected two cache entries, got %d", enc.Len())
	}
}

func TestDecodeOrderAndTransforms(t *testing.T) {
	calls := sampleCalls()
	calls[0].Returns[0].Transform = func(v interface{}) interface{} {
		return new(big.Int).Div(v.(*big.Int), big.NewInt(1e18)).String()
	}
	prepared, err := Prepare(calls, multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	raw := codectest.AggregateReply(987654321,
		codectest.MustPack([]string{"uint256"}, codectest.Wei("1111")),
		codectest.MustPack([]string{"uint256"}, codectest.Wei("4444.55556666")),
		codectest.MustPack([]string{"uint256", "bool"}, codectest.Wei("1234.56789"), true),
	)

	results, err := Decode(prepared, raw, BoolString)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if results.BlockNumber != 987654321 {
		t.Fatalf("block mismatch: %d", results.BlockNumber)
	}
	if len(results.Original) != 4 || len(results.Transformed) != 4 {
		t.Fatalf("expected 4 keys, got %d/%d", len(results.Original), len(results.Transformed))
	}
	if got := results.Transformed["BALANCE_OF_ETH_WHALE"]; got != "1111" {
		t.Fatalf("transform not applied: %v", got)
	}
	if got := results.Original["BALANCE_OF_ETH_WHALE"].(*big.Int); got.Cmp(codectest.Wei("1111")) != 0 {
		t.Fatalf("original value lost: %s", got)
	}
	if got := results.Transformed["BALANCE_OF_MKR_WHALE"].(*big.Int); got.Cmp(codectest.Wei("4444.55556666")) != 0 {
		t.Fatalf("identity transform mismatch: %s", got)
	}
	if got := results.Original["PRICE_FEED_ETH_SET"]; got != true {
		t.Fatalf("bool mismatch: %v", got)
	}
}

func TestDecodeBoolModes(t *testing.T) {
	prepared, err := Prepare([]model.Call{{
		Target:  tokenAddr,
		Method:  "live()(bool)",
		Returns: []model.Return{{Key: "LIVE"}},
	}}, multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	raw := codectest.AggregateReply(1, codectest.MustPack([]string{"bool"}, false))

	for _, mode := range []BoolMode{BoolString, BoolNative} {
		results, err := Decode(prepared, raw, mode)
		if err != nil {
			t.Fatalf("decode %s: %v", mode, err)
		}
		if got, ok := results.Original["LIVE"].(bool); !ok || got {
			t.Fatalf("%s mode: expected false, got %T %v", mode, results.Original["LIVE"], results.Original["LIVE"])
		}
	}

	if _, err := ParseBoolMode("maybe"); err == nil {
		t.Fatalf("expected unknown bool mode error")
	}
}

func TestDecodeMismatchedReturnData(t *testing.T) {
	prepared, err := Prepare(sampleCalls(), multicallAddr)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	raw := codectest.AggregateReply(1, codectest.MustPack([]string{"uint256"}, big.NewInt(1)))
	if _, err := Decode(prepared, raw, BoolString); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestKeyToArgs(t *testing.T) {
	m := KeyToArgs(sampleCalls())
	if len(m) != 2 {
		t.Fatalf("expected only calls with args, got %v", m)
	}
	if args := m["BALANCE_OF_MKR_WHALE"]; len(args) != 1 || args[0] != holderAddr {
		t.Fatalf("args mismatch: %v", args)
	}
	if _, ok := m["PRICE_FEED_ETH_PRICE"]; ok {
		t.Fatalf("argless call should not contribute")
	}
}
