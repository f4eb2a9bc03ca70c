package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Response is an eth_call reply frame. A node answers with either result or
// error; a frame with neither counts as a null result.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResponse builds the reply for id. Test nodes pass the hex encoded
// return data as result.
func NewResponse(id ID, result interface{}) (*Response, error) {
	resp := &Response{JSONRPC: Version, ID: id}
	if result == nil {
		return resp, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	resp.Result = raw
	return resp, nil
}

// ParseResponse decodes one reply frame.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// ResultIsNull reports a missing or JSON null result.
func (r *Response) ResultIsNull() bool {
	return r == nil || len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null"))
}

// ReturnData decodes the hex string result of an eth_call. Callers check
// Error and ResultIsNull first.
func (r *Response) ReturnData() ([]byte, error) {
	var data hexutil.Bytes
	if err := json.Unmarshal(r.Result, &data); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return data, nil
}
