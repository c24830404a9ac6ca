package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"progressionkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	all := 0
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { count++ })
	bus.SubscribeAll(func(ctx context.Context, e core.Event) { all++ })
	bus.Publish(context.Background(), core.NewXPAwarded("u", core.ActionPostCreated, 10, 10, 1))
	bus.Publish(context.Background(), core.NewBadgeAwarded("u", "b"))
	if count != 1 || all != 2 {
		t.Fatalf("want 1/2 got %d/%d", count, all)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewXPAwarded("u", core.ActionPostCreated, 1, 1, 1))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusCloseDrains(t *testing.T) {
	bus := NewEventBus(DispatchAsync, WithWorkers(1), WithQueueSize(16))
	var n atomic.Int32
	bus.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { n.Add(1) })
	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), core.NewLevelUp("u", 1000, 2))
	}
	bus.Close()
	if got := n.Load() + int32(bus.Dropped()); got != 10 {
		t.Fatalf("delivered+dropped = %d, want 10", got)
	}
	bus.Publish(context.Background(), core.NewLevelUp("u", 1000, 2))
	bus.Close()
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	off := bus.Subscribe(core.EventBadgeAwarded, func(ctx context.Context, e core.Event) { count++ })
	off()
	bus.Publish(context.Background(), core.NewBadgeAwarded("u", "b"))
	if count != 0 {
		t.Fatalf("handler ran after unsubscribe")
	}
}
