package transport

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/jsonrpc"
)

// Provider is a caller-supplied RPC client. *rpc.Client from go-ethereum
// and *chain.Client both satisfy it.
type Provider interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// ProviderTransport delegates eth_call to a Provider, which handles request
// correlation itself.
type ProviderTransport struct {
	provider Provider
}

// NewProvider wraps p as a Transport.
func NewProvider(p Provider) *ProviderTransport {
	return &ProviderTransport{provider: p}
}

// Call invokes eth_call through the provider.
func (p *ProviderTransport) Call(ctx context.Context, req Request) ([]byte, error) {
	var result *hexutil.Bytes
	if err := p.provider.CallContext(ctx, &result, jsonrpc.MethodEthCall, req.callObject(), req.block()); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrEmptyResponse
	}
	return *result, nil
}
