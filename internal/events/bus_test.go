package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)

	bus.Subscribe(EventTradeOpened, func(ev Event) { got <- ev })
	bus.PublishTradeOpened("pos-1", "BTC/USDT", "long", 0.5, 104500)

	select {
	case ev := <-got:
		if ev.Type != EventTradeOpened || ev.Data["pair"] != "BTC/USDT" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("publish did not stamp the event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestSubscribeIgnoresOtherTypes(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)

	bus.Subscribe(EventTradeClosed, func(ev Event) { got <- ev })
	bus.PublishHalt("testing")

	select {
	case ev := <-got:
		t.Errorf("unexpected delivery: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()
	got := make(chan EventType, 4)

	bus.SubscribeAll(func(ev Event) { got <- ev.Type })

	bus.PublishSignal("ETH/USDT", "short", "MACD_bearish_crossover", 0.7, 3900)
	bus.PublishResume()
	bus.PublishDailyReset("2025-06-01")

	want := map[EventType]bool{
		EventSignalGenerated: false,
		EventRiskHaltResumed: false,
		EventDailyReset:      false,
	}
	for i := 0; i < len(want); i++ {
		select {
		case evType := <-got:
			want[evType] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d of %d events", i, len(want))
		}
	}
	for evType, seen := range want {
		if !seen {
			t.Errorf("never received %s", evType)
		}
	}
}
