package watcher

import (
	"sync"

	"multiwatch/internal/model"
)

type listener[T any] struct {
	id uint64
	fn T
}

type subscriber struct {
	id    uint64
	each  func(model.Update)
	batch func([]model.Update)
}

func (s subscriber) deliver(updates []model.Update) {
	if len(updates) == 0 {
		return
	}
	if s.batch != nil {
		s.batch(updates)
		return
	}
	for _, u := range updates {
		s.each(u)
	}
}

// registry holds the four listener categories. It is guarded by the
// watcher's state mutex.
type registry struct {
	nextID      uint64
	subscribers []subscriber
	blocks      []listener[func(uint64)]
	polls       []listener[func(model.PollEvent)]
	errors      []listener[func(error, State)]
}

func (r *registry) id() uint64 {
	r.nextID++
	return r.nextID
}

func removeListener[T any](ls []listener[T], id uint64) []listener[T] {
	out := make([]listener[T], 0, len(ls))
	for _, l := range ls {
		if l.id != id {
			out = append(out, l)
		}
	}
	return out
}

func (r *registry) removeSubscriber(id uint64) {
	out := make([]subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		if s.id != id {
			out = append(out, s)
		}
	}
	r.subscribers = out
}

func (r *registry) snapshotSubscribers() []subscriber {
	return append([]subscriber(nil), r.subscribers...)
}

func (r *registry) snapshotBlocks() []listener[func(uint64)] {
	return append([]listener[func(uint64)](nil), r.blocks...)
}

func (r *registry) snapshotPolls() []listener[func(model.PollEvent)] {
	return append([]listener[func(model.PollEvent)](nil), r.polls...)
}

func (r *registry) snapshotErrors() []listener[func(error, State)] {
	return append([]listener[func(error, State)](nil), r.errors...)
}

// Subscription removes exactly one registration.
type Subscription struct {
	once  sync.Once
	unsub func()
}

// Unsubscribe removes the registration. Later calls are no-ops.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.unsub == nil {
		return
	}
	s.once.Do(s.unsub)
}

// Batch registers subscribers that receive all changes of a poll at once.
type Batch struct {
	w *Watcher
}

// Subscribe registers fn for batched updates. Existing values are replayed
// as one batch first.
func (b Batch) Subscribe(fn func([]model.Update)) *Subscription {
	return b.w.subscribe(subscriber{batch: fn})
}
