package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"progressionkit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// ParseDispatchMode maps "sync"/"async" to a mode; anything else is sync.
func ParseDispatchMode(s string) DispatchMode {
	if s == "async" {
		return DispatchAsync
	}
	return DispatchSync
}

// anyType keys subscriptions that receive every event.
const anyType core.EventType = "*"

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
// Handlers observe committed state only; they are never part of a storage unit.
type EventBus struct {
	mode       DispatchMode
	mu         sync.RWMutex
	subs       map[core.EventType]map[int64]subscription
	nextID     int64
	asyncQueue chan core.Event
	workers    int
	wg         sync.WaitGroup
	closed     atomic.Bool
	dropped    atomic.Int64
	done       chan struct{}
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithQueueSize sets the async queue capacity.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.asyncQueue = make(chan core.Event, n)
		}
	}
}

// WithWorkers sets the number of async dispatch goroutines.
func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	eb := &EventBus{
		mode:       mode,
		subs:       make(map[core.EventType]map[int64]subscription),
		asyncQueue: make(chan core.Event, 2048),
		workers:    4,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case ev := <-e.asyncQueue:
					e.dispatchSync(context.Background(), ev)
				case <-e.done:
					// drain what is already queued
					for {
						select {
						case ev := <-e.asyncQueue:
							e.dispatchSync(context.Background(), ev)
						default:
							return
						}
					}
				}
			}
		}()
	}
}

// Close stops async workers after the queue drains. Publishing after Close is a no-op.
func (e *EventBus) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.done)
	e.wg.Wait()
}

// Dropped reports how many async events were discarded because the queue was full.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers a handler for every event type.
func (e *EventBus) SubscribeAll(handler func(context.Context, core.Event)) func() {
	return e.Subscribe(anyType, handler)
}

// Publish sends an event to subscribers.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.closed.Load() {
		return
	}
	if e.mode == DispatchAsync {
		select {
		case e.asyncQueue <- ev:
		default:
			e.dropped.Add(1)
		}
		return
	}
	e.dispatchSync(ctx, ev)
}

func (e *EventBus) dispatchSync(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Event), 0, len(e.subs[ev.Type])+len(e.subs[anyType]))
	for _, s := range e.subs[ev.Type] {
		handlers = append(handlers, s.fn)
	}
	for _, s := range e.subs[anyType] {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
