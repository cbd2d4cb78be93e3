package events_test

import (
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")

	bus.Publish(models.Event{Category: models.CategoryVolume, Type: models.EventVolumeChanged})

	select {
	case ev := <-ch:
		if ev.Seq != 1 {
			t.Errorf("Seq = %d, want 1", ev.Seq)
		}
		if ev.Type != models.EventVolumeChanged {
			t.Errorf("Type = %q, want %q", ev.Type, models.EventVolumeChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_SeqMonotonicAcrossSubscriber(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")

	bus.Publish(models.Event{Category: models.CategorySystem, Type: "a"})
	bus.Publish(models.Event{Category: models.CategorySystem, Type: "b"})

	first := <-ch
	second := <-ch
	if !(first.Seq < second.Seq) {
		t.Errorf("sequence not increasing: %d then %d", first.Seq, second.Seq)
	}
}

func TestPublish_NonCriticalDropsWhenFull(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")

	// Fill the buffer without draining.
	for i := 0; i < 300; i++ {
		bus.Publish(models.Event{Category: models.CategoryPlugin, Type: models.EventPluginMetadata})
	}

	if bus.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1 (non-critical overflow must not close the subscriber)", bus.SubscriberCount())
	}
	bus.Unsubscribe("sub1")
	<-ch
}

func TestPublish_CriticalClosesSlowConsumer(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")

	for i := 0; i < 300; i++ {
		bus.Publish(models.Event{Category: models.CategoryRouting, Type: models.EventRoutingChanged})
	}

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0 (slow consumer on a critical category must be closed)", bus.SubscriberCount())
	}

	var sawClose bool
	for ev := range ch {
		if ev.Type == string(events.CloseSlowConsumer) {
			sawClose = true
		}
	}
	if !sawClose {
		t.Error("expected a slow_consumer close marker on the channel before it closed")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")
	bus.Unsubscribe("sub1")

	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}
