package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"multiwatch/internal/transport"
)

// setupWebSocketLocked creates and dials the watcher-owned connection when
// the endpoint is a WebSocket URL.
func (w *Watcher) setupWebSocketLocked() {
	if !w.cfg.UsesWebSocket() {
		return
	}

	var conn *transport.WSConn
	conn = transport.NewWSConn(w.cfg.RPCURL, transport.WSOptions{
		ResponseTimeout: w.cfg.WSResponseTimeout,
		Logger:          w.cfg.Logger,
		OnOpen:          func() { w.onWSOpen(conn) },
		OnClose:         func(err error) { w.onWSClose(conn, err) },
	})
	w.ws = conn
	w.log.Debug("connecting to websocket", zap.String("url", w.cfg.RPCURL))
	go func() {
		_ = conn.Connect(context.Background())
	}()
}

func (w *Watcher) onWSOpen(conn *transport.WSConn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ws != conn {
		return
	}
	w.log.Debug("websocket connected")
	if w.watching {
		w.scheduleLocked(0, 0)
	}
}

func (w *Watcher) onWSClose(conn *transport.WSConn, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ws != conn {
		return
	}
	w.log.Warn("websocket closed",
		zap.Error(err),
		zap.Duration("reconnect_in", w.cfg.WSReconnectTimeout),
	)
	w.reconnectLocked(w.cfg.WSReconnectTimeout)
}

// reconnectLocked clears the poll handle and replaces the connection after
// timeout. The reconnect timer is independent of poll retries. A poll in
// flight is detached rather than cancelled so a reply that beat the close
// frame is still applied.
func (w *Watcher) reconnectLocked(timeout time.Duration) {
	if h := w.handle; h != nil {
		h.timer.Stop()
		h.detached = true
		w.handle = nil
	}
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		if w.reconnectTimer != timer {
			w.mu.Unlock()
			return
		}
		w.reconnectTimer = nil
		old := w.ws
		w.ws = nil
		w.setupWebSocketLocked()
		w.mu.Unlock()

		if old != nil {
			old.Close()
		}
	})
	w.reconnectTimer = timer
}
