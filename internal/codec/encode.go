package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEncoderCacheSize bounds the number of memoized call lists.
const DefaultEncoderCacheSize = 128

// Fragment returns the per-call calldata: selector followed by the packed arguments.
func (p PreparedCall) Fragment() ([]byte, error) {
	packed, err := p.argArgs.Pack(p.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s arguments: %w", p.Method.Signature, err)
	}
	out := make([]byte, 0, 4+len(packed))
	out = append(out, p.Method.Selector()...)
	return append(out, packed...), nil
}

// Encode builds aggregate calldata for the prepared calls without memoization.
func Encode(calls []PreparedCall) ([]byte, error) {
	parsed, err := loadAggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("load aggregator abi: %w", err)
	}

	tuples := make([]aggregateCall, 0, len(calls))
	for _, call := range calls {
		fragment, err := call.Fragment()
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, aggregateCall{Target: call.Target, CallData: fragment})
	}

	data, err := parsed.Pack("aggregate", tuples)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}
	return data, nil
}

// Encoder memoizes aggregate calldata by the canonical form of the call list.
// Consecutive polls of an unchanged model hit the cache.
type Encoder struct {
	cache *lru.Cache[string, []byte]
}

// NewEncoder creates an encoder holding up to size call lists.
func NewEncoder(size int) (*Encoder, error) {
	if size <= 0 {
		size = DefaultEncoderCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Encoder{cache: cache}, nil
}

// Encode returns aggregate calldata for calls. Returned slices are never
// shared with the cache.
func (e *Encoder) Encode(calls []PreparedCall) ([]byte, error) {
	key, keyErr := cacheKey(calls)
	if keyErr == nil {
		if data, ok := e.cache.Get(key); ok {
			return bytes.Clone(data), nil
		}
	}

	data, err := Encode(calls)
	if err != nil {
		return nil, err
	}
	if keyErr == nil {
		e.cache.Add(key, bytes.Clone(data))
	}
	return data, nil
}

// Len reports the number of memoized call lists.
func (e *Encoder) Len() int {
	return e.cache.Len()
}

type cacheEntry struct {
	Target    string        `json:"t"`
	Signature string        `json:"s"`
	Args      []interface{} `json:"a"`
}

func cacheKey(calls []PreparedCall) (string, error) {
	entries := make([]cacheEntry, len(calls))
	for i, call := range calls {
		entries[i] = cacheEntry{
			Target:    call.Target.Hex(),
			Signature: call.Method.Signature,
			Args:      call.Args,
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
