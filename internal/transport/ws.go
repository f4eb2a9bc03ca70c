package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"multiwatch/internal/jsonrpc"
)

// ConnState is the lifecycle state of a WSConn.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// DefaultWSResponseTimeout bounds the wait for a matching response frame.
const DefaultWSResponseTimeout = 5 * time.Second

var errPendingReplaced = errors.New("websocket request replaced by a newer call")

// WSOptions configures a WSConn.
type WSOptions struct {
	ResponseTimeout  time.Duration
	HandshakeTimeout time.Duration
	Logger           *zap.Logger

	// OnOpen runs after the connection is established.
	OnOpen func()
	// OnClose runs once when the connection fails, drops or the dial fails.
	// It is not called after Close.
	OnClose func(err error)
}

type pendingCall struct {
	id  int64
	ch  chan *jsonrpc.Response
	err error
}

// fail releases the waiter with err. The caller must have removed p from
// the pending slot.
func (p *pendingCall) fail(err error) {
	p.err = err
	close(p.ch)
}

// WSConn owns one WebSocket connection. Only one request is tracked at a
// time: a new Call replaces the pending one, and incoming frames are matched
// against the pending id.
type WSConn struct {
	url  string
	opts WSOptions
	log  *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ConnState
	pending   *pendingCall
	closeOnce sync.Once

	writeMu sync.Mutex
}

// NewWSConn creates an unconnected WSConn for url.
func NewWSConn(url string, opts WSOptions) *WSConn {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultWSResponseTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &WSConn{url: url, opts: opts, log: log.With(zap.String("ws", url))}
}

// DialWS connects synchronously and returns an open connection.
func DialWS(ctx context.Context, url string, opts WSOptions) (*WSConn, error) {
	c := NewWSConn(url, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current connection state.
func (c *WSConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the endpoint and starts the reader. OnOpen fires on success,
// OnClose on failure.
func (c *WSConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect websocket in state %s", state)
	}
	c.state = Connecting
	c.mu.Unlock()

	c.log.Debug("websocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		err = fmt.Errorf("failed to connect WebSocket: %w", err)
		c.mu.Lock()
		closed := c.state == Closed
		if !closed {
			c.state = Disconnected
		}
		c.mu.Unlock()
		if !closed {
			c.fireClose(err)
		}
		return err
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		conn.Close()
		return ErrConnClosed
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.log.Debug("websocket connected")
	go c.readLoop(conn)
	if c.opts.OnOpen != nil {
		c.opts.OnOpen()
	}
	return nil
}

// Close tears the connection down. Callbacks are not invoked afterwards and
// a pending call fails with ErrConnClosed.
func (c *WSConn) Close() {
	c.mu.Lock()
	conn := c.conn
	pending := c.pending
	c.conn = nil
	c.pending = nil
	c.state = Closed
	c.mu.Unlock()

	if pending != nil {
		pending.fail(ErrConnClosed)
	}
	if conn != nil {
		c.log.Debug("websocket closing")
		conn.Close()
	}
}

// Call sends an eth_call frame tagged with req.ID and waits for the frame
// carrying the same id.
func (c *WSConn) Call(ctx context.Context, req Request) ([]byte, error) {
	call := req.callObject()
	rpcReq, err := jsonrpc.NewEthCall(req.ID, call.To, call.Data, req.block())
	if err != nil {
		return nil, err
	}
	reqBytes, err := rpcReq.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p := &pendingCall{id: req.ID, ch: make(chan *jsonrpc.Response, 1)}

	c.mu.Lock()
	conn := c.conn
	if c.state != Connected || conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	previous := c.pending
	c.pending = p
	c.mu.Unlock()
	if previous != nil {
		previous.fail(errPendingReplaced)
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.clearPending(p)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	timer := time.NewTimer(c.opts.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-p.ch:
		if !ok {
			return nil, p.err
		}
		return resultBytes(resp)
	case <-timer.C:
		c.clearPending(p)
		return nil, fmt.Errorf("%w after %s (id %d)", ErrResponseTimeout, c.opts.ResponseTimeout, req.ID)
	case <-ctx.Done():
		c.clearPending(p)
		return nil, ctx.Err()
	}
}

func (c *WSConn) clearPending(p *pendingCall) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

func (c *WSConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn && c.state == Connected
			var pending *pendingCall
			if current {
				c.conn = nil
				c.state = Disconnected
				pending = c.pending
				c.pending = nil
			}
			c.mu.Unlock()
			conn.Close()
			if current {
				if pending != nil {
					pending.fail(fmt.Errorf("%w: %v", ErrConnClosed, err))
				}
				c.log.Debug("websocket read failed", zap.Error(err))
				c.fireClose(err)
			}
			return
		}

		resp, err := jsonrpc.ParseResponse(data)
		if err != nil {
			c.log.Debug("websocket frame ignored", zap.Error(err))
			continue
		}

		c.mu.Lock()
		p := c.pending
		if p != nil && resp.ID.Equal(p.id) {
			c.pending = nil
		} else {
			p = nil
		}
		c.mu.Unlock()

		if p == nil {
			c.log.Debug("websocket frame without pending request", zap.Stringer("id", resp.ID))
			continue
		}
		p.ch <- resp
	}
}

func (c *WSConn) fireClose(err error) {
	if c.opts.OnClose == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.opts.OnClose(err)
	})
}
