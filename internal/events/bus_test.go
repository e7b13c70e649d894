package events

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)

	bus.Publish(EventNowPlaying, Payload{"track": "t1"})

	select {
	case payload := <-sub:
		if payload["track"] != "t1" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	default:
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventProgress)

	// Overfill the subscriber buffer; publishes past capacity must not block.
	for i := 0; i < 20; i++ {
		bus.Publish(EventProgress, Payload{"n": i})
	}

	delivered := 0
	for {
		select {
		case <-sub:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != cap(sub) {
		t.Fatalf("expected %d buffered events, got %d", cap(sub), delivered)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStop)
	bus.Unsubscribe(EventStop, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventStop, Payload{})
}

func TestSubscribersAreTypeScoped(t *testing.T) {
	bus := NewBus()
	stops := bus.Subscribe(EventStop)

	bus.Publish(EventNowPlaying, Payload{})

	select {
	case <-stops:
		t.Fatal("received event of a different type")
	default:
	}
}
