package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPriceTick, 1)
	defer unsub()

	b.Publish(EventPriceTick, Tick{Symbol: "BTC/USDT", Price: 1})
	b.Publish(EventPriceTick, Tick{Symbol: "BTC/USDT", Price: 2})

	got := (<-ch).(Tick)
	if got.Price != 1 {
		t.Fatalf("price=%v want 1", got.Price)
	}
	select {
	case v := <-ch:
		t.Fatalf("expected second tick to be dropped, got %v", v)
	default:
	}
}

func TestDeliverPreservesOrder(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderUpdate, 0)
	defer unsub()

	go func() {
		for i := 0; i < 3; i++ {
			_ = b.Deliver(context.Background(), EventOrderUpdate, OrderUpdate{OrderID: string(rune('a' + i))})
		}
	}()
	for i := 0; i < 3; i++ {
		select {
		case v := <-ch:
			if id := v.(OrderUpdate).OrderID; id != string(rune('a'+i)) {
				t.Fatalf("update %d has id %s", i, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("update %d not delivered", i)
		}
	}
}

func TestDeliverHonoursContext(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(EventAccountUpdate, 0)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Deliver(ctx, EventAccountUpdate, AccountUpdate{}); err == nil {
		t.Fatal("expected context error with no reader")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventWhaleTrade, 1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if n := b.Subscribers(EventWhaleTrade); n != 0 {
		t.Fatalf("subscribers=%d", n)
	}
}
