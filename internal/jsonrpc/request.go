package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// MethodEthCall is the only method the transports issue.
const MethodEthCall = "eth_call"

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// NewRequest creates a new JSON-RPC request
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
		ID:      id,
	}

	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = paramsBytes
	}

	return req, nil
}

// NewEthCall builds an eth_call request against block (a tag or hex number).
func NewEthCall(id int64, to, data, block string) (*Request, error) {
	return NewRequest(MethodEthCall, []interface{}{CallObject{To: to, Data: data}, block}, NewIDInt(id))
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// EthCallParams decodes the params of an eth_call request.
func (r *Request) EthCallParams() (CallObject, string, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return CallObject{}, "", fmt.Errorf("invalid params format: %w", err)
	}
	if len(params) != 2 {
		return CallObject{}, "", fmt.Errorf("eth_call expects 2 params, got %d", len(params))
	}
	var call CallObject
	if err := json.Unmarshal(params[0], &call); err != nil {
		return CallObject{}, "", fmt.Errorf("invalid call object: %w", err)
	}
	var block string
	if err := json.Unmarshal(params[1], &block); err != nil {
		return CallObject{}, "", fmt.Errorf("invalid block: %w", err)
	}
	return call, block, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}
