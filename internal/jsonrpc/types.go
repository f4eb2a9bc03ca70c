package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC version
const Version = "2.0"

// ID is a request id as sent on the wire. Outgoing ids are always int64;
// decoded ids may be any JSON value.
type ID struct {
	value interface{}
}

// NewIDInt wraps a poll id.
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// Int64 returns the numeric value of the ID, if it has one.
func (id ID) Int64() (int64, bool) {
	switch v := id.value.(type) {
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Equal reports whether the ID is the numeric id n.
func (id ID) Equal(n int64) bool {
	v, ok := id.Int64()
	return ok && v == n
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

func (id ID) String() string {
	return fmt.Sprint(id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CallObject is the transaction object of eth_call.
type CallObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}
