package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"multiwatch/internal/model"
	"multiwatch/internal/transport"
)

// readyLocked reports whether a poll can be sent now: either no WebSocket is
// configured or it is connected.
func (w *Watcher) readyLocked() bool {
	if w.ws == nil {
		return w.transport != nil
	}
	return w.ws.State() == transport.Connected
}

// scheduleLocked replaces the current poll handle with a wakeup after delay.
func (w *Watcher) scheduleLocked(delay time.Duration, retry int) {
	w.cancelPollLocked()
	h := &pollHandle{retry: retry}
	h.timer = time.AfterFunc(delay, func() { w.runPoll(h) })
	w.handle = h
	if retry > 0 {
		w.log.Debug("poll scheduled", zap.Duration("in", delay), zap.Int("retry", retry))
	} else {
		w.log.Debug("poll scheduled", zap.Duration("in", delay))
	}
}

// cancelPollLocked clears the pending wakeup and cancels a poll in flight.
// It is idempotent.
func (w *Watcher) cancelPollLocked() {
	if w.handle == nil {
		return
	}
	w.handle.stop()
	w.handle = nil
}

func (w *Watcher) runPoll(h *pollHandle) {
	w.mu.Lock()
	if w.handle != h || !w.watching {
		w.mu.Unlock()
		return
	}
	w.latestPollID++
	id := w.latestPollID
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	calls := w.model
	agg := w.agg
	t := w.transport
	if w.ws != nil {
		t = w.ws
	}
	event := model.PollEvent{ID: id, Retry: h.retry}
	if w.latestBlock != nil {
		block := *w.latestBlock
		event.LatestBlockNumber = &block
	}
	polls := w.listeners.snapshotPolls()
	w.dispatch.enqueue(func() {
		for _, l := range polls {
			l.fn(event)
		}
	})
	w.mu.Unlock()

	resp, err := agg.Aggregate(ctx, t, int64(id), calls)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// A poll detached by a dropped WebSocket still counts when its reply
	// arrived and nothing newer was scheduled.
	detached := h.detached && w.handle == nil && w.watching
	if (w.handle != h && !detached) || id <= w.cancelledThrough || (detached && err != nil) {
		w.log.Debug("poll discarded", zap.Uint64("id", id))
		return
	}
	w.handle = nil

	if err != nil {
		w.log.Warn("poll failed", zap.Uint64("id", id), zap.Error(err))
		state := w.stateLocked()
		errs := w.listeners.snapshotErrors()
		w.dispatch.enqueue(func() {
			for _, l := range errs {
				l.fn(err, state)
			}
		})
		if w.watching {
			w.log.Debug("retrying after error", zap.Duration("in", w.cfg.ErrorRetryWait))
			w.scheduleLocked(w.cfg.ErrorRetryWait, h.retry+1)
		}
		return
	}

	stale := w.applyResponseLocked(calls, resp)
	if detached {
		// The reconnect schedules the next poll once the socket reopens.
		return
	}
	if stale {
		w.scheduleLocked(w.cfg.StaleBlockRetryWait, h.retry+1)
		return
	}
	w.scheduleLocked(w.cfg.Interval, 0)
}

// applyResponseLocked merges a settled poll into the snapshot. It reports
// true, leaving the snapshot alone, when the block is older than the latest.
func (w *Watcher) applyResponseLocked(calls []model.Call, resp *model.Response) bool {
	block := resp.Results.BlockNumber
	if w.latestBlock != nil && block < *w.latestBlock {
		w.log.Debug("stale block returned",
			zap.Uint64("block", block),
			zap.Uint64("latest", *w.latestBlock),
			zap.Duration("retry_in", w.cfg.StaleBlockRetryWait),
		)
		return true
	}

	if w.latestBlock == nil || block > *w.latestBlock {
		w.latestBlock = &block
		blocks := w.listeners.snapshotBlocks()
		w.dispatch.enqueue(func() {
			for _, l := range blocks {
				l.fn(block)
			}
		})
	}

	keys := orderedKeys(calls)
	updates := diffResults(keys, resp.Results, resp.KeyToArgs, w.store)
	w.store = resp.Results.Original
	w.storeTransformed = resp.Results.Transformed
	w.storeKeys = keys
	w.keyToArgs = resp.KeyToArgs

	if len(updates) > 0 {
		subs := w.listeners.snapshotSubscribers()
		w.dispatch.enqueue(func() {
			for _, s := range subs {
				s.deliver(updates)
			}
		})
	}

	if waiters := w.waiters; len(waiters) > 0 {
		w.waiters = nil
		w.dispatch.enqueue(func() {
			for _, ch := range waiters {
				close(ch)
			}
		})
	}
	return false
}
