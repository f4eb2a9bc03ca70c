// Package watcher keeps a continuously refreshed snapshot of batched
// contract reads and notifies listeners of changes.
//
// Listeners run on a per-watcher dispatch goroutine, one at a time and in
// event order. They may call back into the watcher.
package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"multiwatch/internal/model"
	"multiwatch/internal/multicall"
	"multiwatch/internal/transport"
)

// State is a copy of the watcher's state handed to error listeners.
type State struct {
	Model             []model.Call
	Store             map[string]interface{}
	StoreTransformed  map[string]interface{}
	KeyToArgs         map[string][]interface{}
	LatestBlockNumber *uint64
	LatestPollID      uint64
	Watching          bool
	Config            multicall.Config
}

// pollHandle is the single authoritative "next wakeup" of the poll loop.
// A poll whose handle is no longer current is discarded.
type pollHandle struct {
	timer  *time.Timer
	cancel context.CancelFunc
	retry  int

	// detached is set when a dropped connection released the handle while
	// its poll was in flight.
	detached bool
}

func (h *pollHandle) stop() {
	h.timer.Stop()
	if h.cancel != nil {
		h.cancel()
	}
}

// Watcher polls an aggregator and fans out changed values.
type Watcher struct {
	mu sync.Mutex
	// modelMu serializes model replacement so a Tap transform always sees
	// the model it replaces.
	modelMu sync.Mutex

	log       *zap.Logger
	cfg       multicall.Config
	agg       *multicall.Aggregator
	transport transport.Transport
	ws        *transport.WSConn

	model            []model.Call
	store            map[string]interface{}
	storeTransformed map[string]interface{}
	storeKeys        []string
	keyToArgs        map[string][]interface{}
	latestBlock      *uint64

	latestPollID     uint64
	cancelledThrough uint64

	watching       bool
	handle         *pollHandle
	reconnectTimer *time.Timer

	initial chan struct{}
	waiters []chan struct{}

	listeners registry
	dispatch  dispatcher
}

// New validates calls and cfg and creates a stopped watcher. A WebSocket
// endpoint starts connecting immediately.
func New(calls []model.Call, cfg multicall.Config) (*Watcher, error) {
	b, err := newBackend(calls, cfg)
	if err != nil {
		return nil, err
	}

	w := &Watcher{initial: make(chan struct{})}
	w.waiters = []chan struct{}{w.initial}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyLocked(b, calls)
	w.setupWebSocketLocked()
	return w, nil
}

// backend is a validated aggregator and its request transport. WebSocket
// endpoints leave transport nil; the watcher owns that connection.
type backend struct {
	agg       *multicall.Aggregator
	transport transport.Transport
}

func newBackend(calls []model.Call, cfg multicall.Config) (backend, error) {
	agg, err := multicall.NewAggregator(cfg)
	if err != nil {
		return backend{}, err
	}
	if err := agg.Validate(calls); err != nil {
		return backend{}, err
	}
	b := backend{agg: agg}
	if !agg.Config().UsesWebSocket() {
		if b.transport, err = multicall.NewTransport(agg.Config()); err != nil {
			return backend{}, err
		}
	}
	return b, nil
}

// applyLocked replaces model, config and transport and resets the snapshot.
func (w *Watcher) applyLocked(b backend, calls []model.Call) {
	w.cfg = b.agg.Config()
	w.agg = b.agg
	w.transport = b.transport
	w.log = w.cfg.Logger.Named("watcher")
	w.model = model.CloneCalls(calls)
	w.resetSnapshotLocked()
}

func (w *Watcher) resetSnapshotLocked() {
	w.store = make(map[string]interface{})
	w.storeTransformed = make(map[string]interface{})
	w.storeKeys = nil
	w.keyToArgs = make(map[string][]interface{})
	w.latestBlock = nil
}

// Start begins polling and returns a channel closed after the first applied
// poll. With a WebSocket endpoint the first poll waits for the connection.
func (w *Watcher) Start() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.log.Debug("watcher start")
	w.watching = true
	if w.readyLocked() {
		w.scheduleLocked(0, 0)
	}
	return w.initial
}

// Stop clears the poll and reconnect timers. A poll in flight is cancelled
// and its result discarded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.log.Debug("watcher stop")
	w.cancelPollLocked()
	w.cancelledThrough = w.latestPollID
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	w.watching = false
}

// Close stops the watcher and releases its WebSocket connection.
func (w *Watcher) Close() {
	w.Stop()
	w.mu.Lock()
	ws := w.ws
	w.ws = nil
	w.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// Tap replaces the model with transform(copy of the current model) and
// polls immediately. The returned channel closes after the next applied
// poll, or immediately when the watcher cannot poll. Concurrent taps are
// applied one after another.
func (w *Watcher) Tap(transform func([]model.Call) []model.Call) <-chan struct{} {
	w.modelMu.Lock()
	defer w.modelMu.Unlock()

	w.mu.Lock()
	current := model.CloneCalls(w.model)
	w.mu.Unlock()

	next := transform(current)

	w.mu.Lock()
	w.log.Debug("watcher tap", zap.Int("calls", len(next)))
	w.model = model.CloneCalls(next)
	w.mu.Unlock()
	return w.Poll()
}

// Poll cancels any pending wakeup and polls immediately.
func (w *Watcher) Poll() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching || !w.readyLocked() {
		return closedChan()
	}
	ch := make(chan struct{})
	w.waiters = append(w.waiters, ch)
	w.scheduleLocked(0, 0)
	return ch
}

// Recreate replaces model and config wholesale. The snapshot and latest
// block are reset and any poll in flight is cancelled. A running watcher
// polls again immediately, or once its new WebSocket opens.
func (w *Watcher) Recreate(calls []model.Call, cfg multicall.Config) (<-chan struct{}, error) {
	b, err := newBackend(calls, cfg)
	if err != nil {
		return nil, err
	}

	w.modelMu.Lock()
	defer w.modelMu.Unlock()

	w.mu.Lock()
	w.log.Debug("watcher recreate")
	w.cancelPollLocked()
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	oldWS := w.ws
	w.ws = nil
	w.cancelledThrough = w.latestPollID
	w.applyLocked(b, calls)
	w.setupWebSocketLocked()

	ch := closedChan()
	if w.watching && w.ws == nil {
		waiter := make(chan struct{})
		w.waiters = append(w.waiters, waiter)
		w.scheduleLocked(0, 0)
		ch = waiter
	}
	w.mu.Unlock()

	if oldWS != nil {
		oldWS.Close()
	}
	return ch, nil
}

// AwaitInitialFetch blocks until the first applied poll or ctx is done.
func (w *Watcher) AwaitInitialFetch(ctx context.Context) error {
	select {
	case <-w.initial:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schemas returns a copy of the current model.
func (w *Watcher) Schemas() []model.Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.CloneCalls(w.model)
}

// LatestBlockNumber returns the highest block applied so far.
func (w *Watcher) LatestBlockNumber() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latestBlock == nil {
		return 0, false
	}
	return *w.latestBlock, true
}

// Subscribe registers fn for per-key updates. Existing values are replayed
// first.
func (w *Watcher) Subscribe(fn func(model.Update)) *Subscription {
	return w.subscribe(subscriber{each: fn})
}

// Batch returns the batched subscription surface.
func (w *Watcher) Batch() Batch {
	return Batch{w: w}
}

func (w *Watcher) subscribe(s subscriber) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	s.id = w.listeners.id()
	values := w.storeTransformed
	if w.cfg.ReplayMode == multicall.ReplayOriginal {
		values = w.store
	}
	if replay := replayUpdates(w.storeKeys, values, w.keyToArgs); len(replay) > 0 {
		w.dispatch.enqueue(func() { s.deliver(replay) })
	}
	w.listeners.subscribers = append(w.listeners.subscribers, s)

	id := s.id
	return &Subscription{unsub: func() {
		w.mu.Lock()
		w.listeners.removeSubscriber(id)
		w.mu.Unlock()
	}}
}

// OnNewBlock registers fn for new block numbers. The latest known block is
// replayed first.
func (w *Watcher) OnNewBlock(fn func(uint64)) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.listeners.id()
	if w.latestBlock != nil {
		block := *w.latestBlock
		w.dispatch.enqueue(func() { fn(block) })
	}
	w.listeners.blocks = append(w.listeners.blocks, listener[func(uint64)]{id: id, fn: fn})
	return &Subscription{unsub: func() {
		w.mu.Lock()
		w.listeners.blocks = removeListener(w.listeners.blocks, id)
		w.mu.Unlock()
	}}
}

// OnPoll registers fn for every poll attempt.
func (w *Watcher) OnPoll(fn func(model.PollEvent)) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.listeners.id()
	w.listeners.polls = append(w.listeners.polls, listener[func(model.PollEvent)]{id: id, fn: fn})
	return &Subscription{unsub: func() {
		w.mu.Lock()
		w.listeners.polls = removeListener(w.listeners.polls, id)
		w.mu.Unlock()
	}}
}

// OnError registers fn for poll failures.
func (w *Watcher) OnError(fn func(error, State)) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.listeners.id()
	w.listeners.errors = append(w.listeners.errors, listener[func(error, State)]{id: id, fn: fn})
	return &Subscription{unsub: func() {
		w.mu.Lock()
		w.listeners.errors = removeListener(w.listeners.errors, id)
		w.mu.Unlock()
	}}
}

func (w *Watcher) stateLocked() State {
	s := State{
		Model:            model.CloneCalls(w.model),
		Store:            make(map[string]interface{}, len(w.store)),
		StoreTransformed: make(map[string]interface{}, len(w.storeTransformed)),
		KeyToArgs:        make(map[string][]interface{}, len(w.keyToArgs)),
		LatestPollID:     w.latestPollID,
		Watching:         w.watching,
		Config:           w.cfg,
	}
	for k, v := range w.store {
		s.Store[k] = v
	}
	for k, v := range w.storeTransformed {
		s.StoreTransformed[k] = v
	}
	for k, v := range w.keyToArgs {
		s.KeyToArgs[k] = v
	}
	if w.latestBlock != nil {
		block := *w.latestBlock
		s.LatestBlockNumber = &block
	}
	return s
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
