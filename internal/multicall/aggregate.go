// Package multicall batches contract reads into a single aggregate eth_call.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"multiwatch/internal/codec"
	"multiwatch/internal/model"
	"multiwatch/internal/transport"
)

// Aggregator composes the codec with a transport for one request/response cycle.
type Aggregator struct {
	cfg     Config
	encoder *codec.Encoder
}

var (
	sharedEncoderOnce sync.Once
	sharedEncoder     *codec.Encoder
	sharedEncoderErr  error
)

// NewAggregator prepares cfg and creates an aggregator with its own calldata memo.
func NewAggregator(cfg Config) (*Aggregator, error) {
	encoder, err := codec.NewEncoder(codec.DefaultEncoderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	return newAggregator(cfg, encoder)
}

func newAggregator(cfg Config, encoder *codec.Encoder) (*Aggregator, error) {
	cfg, err := cfg.Prepare()
	if err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg, encoder: encoder}, nil
}

// Config returns the prepared configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Validate checks calls without touching the network.
func (a *Aggregator) Validate(calls []model.Call) error {
	_, err := codec.Prepare(calls, a.cfg.MulticallAddress)
	return err
}

// Aggregate encodes calls, sends them through t tagged with id and decodes the reply.
func (a *Aggregator) Aggregate(ctx context.Context, t transport.Transport, id int64, calls []model.Call) (*model.Response, error) {
	prepared, err := codec.Prepare(calls, a.cfg.MulticallAddress)
	if err != nil {
		return nil, err
	}
	data, err := a.encoder.Encode(prepared)
	if err != nil {
		return nil, err
	}

	raw, err := t.Call(ctx, transport.Request{
		ID:    id,
		To:    a.cfg.MulticallAddress,
		Data:  data,
		Block: a.cfg.Block,
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, transport.ErrEmptyResponse
	}

	results, err := codec.Decode(prepared, raw, a.cfg.BoolMode)
	if err != nil {
		return nil, err
	}
	return &model.Response{Results: results, KeyToArgs: codec.KeyToArgs(calls)}, nil
}

// NewTransport builds the request/response transport for cfg: the provider
// when set, HTTP otherwise. WebSocket endpoints need a dialed connection.
func NewTransport(cfg Config) (transport.Transport, error) {
	if cfg.Provider != nil {
		return transport.NewProvider(cfg.Provider), nil
	}
	if cfg.UsesWebSocket() {
		return nil, errors.New("websocket endpoint requires a connection")
	}
	return transport.NewHTTP(cfg.RPCURL, cfg.HTTPClient), nil
}

// Aggregate performs one batched call. A WebSocket endpoint is dialed for
// the duration of the call. Calldata is memoized across invocations.
func Aggregate(ctx context.Context, calls []model.Call, cfg Config) (*model.Response, error) {
	sharedEncoderOnce.Do(func() {
		sharedEncoder, sharedEncoderErr = codec.NewEncoder(codec.DefaultEncoderCacheSize)
	})
	if sharedEncoderErr != nil {
		return nil, fmt.Errorf("create encoder: %w", sharedEncoderErr)
	}
	agg, err := newAggregator(cfg, sharedEncoder)
	if err != nil {
		return nil, err
	}
	cfg = agg.Config()
	if err := agg.Validate(calls); err != nil {
		return nil, err
	}

	var t transport.Transport
	if cfg.UsesWebSocket() {
		conn, err := transport.DialWS(ctx, cfg.RPCURL, transport.WSOptions{
			ResponseTimeout: cfg.WSResponseTimeout,
			Logger:          cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		t = conn
	} else {
		t, err = NewTransport(cfg)
		if err != nil {
			return nil, err
		}
	}

	return agg.Aggregate(ctx, t, 1, calls)
}
