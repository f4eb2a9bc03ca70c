// Package transport delivers aggregate calldata to a node with eth_call and
// returns the raw result bytes.
package transport

import (
	"context"
	"errors"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/jsonrpc"
)

var (
	// ErrEmptyResponse is returned when the node replies without a result.
	ErrEmptyResponse = errors.New("multicall received an empty response")
	// ErrResponseTimeout is returned when no WebSocket frame matches the request id in time.
	ErrResponseTimeout = errors.New("websocket response timeout")
	// ErrNotConnected is returned by calls on a WebSocket that is not open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrConnClosed is returned when the WebSocket is torn down during a call.
	ErrConnClosed = errors.New("websocket connection closed")
)

var wsEndpoint = regexp.MustCompile(`(?i)^wss?://`)

// IsWebSocketURL reports whether rpcURL uses the ws or wss scheme.
func IsWebSocketURL(rpcURL string) bool {
	return wsEndpoint.MatchString(rpcURL)
}

// Request is one eth_call against the aggregator.
type Request struct {
	ID    int64
	To    common.Address
	Data  []byte
	Block string
}

func (r Request) block() string {
	if r.Block == "" {
		return "latest"
	}
	return r.Block
}

func (r Request) callObject() jsonrpc.CallObject {
	return jsonrpc.CallObject{To: r.To.Hex(), Data: hexutil.Encode(r.Data)}
}

// Transport performs a single eth_call. Implementations do not retry.
type Transport interface {
	Call(ctx context.Context, req Request) ([]byte, error)
}

// resultBytes extracts the hex result of an eth_call response.
func resultBytes(resp *jsonrpc.Response) ([]byte, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.ResultIsNull() {
		return nil, ErrEmptyResponse
	}
	return resp.ReturnData()
}
