package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"multiwatch/internal/jsonrpc"
)

// DefaultHTTPTimeout applies when no http.Client is supplied.
const DefaultHTTPTimeout = 30 * time.Second

// HTTP posts one JSON-RPC request per call. The request id is always 1.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP transport. A nil client gets a default with a timeout.
func NewHTTP(rpcURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTP{url: rpcURL, client: client}
}

// Call sends eth_call via HTTP POST.
func (h *HTTP) Call(ctx context.Context, req Request) ([]byte, error) {
	call := req.callObject()
	rpcReq, err := jsonrpc.NewEthCall(1, call.To, call.Data, req.block())
	if err != nil {
		return nil, err
	}
	reqBytes, err := rpcReq.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resultBytes(rpcResp)
}
