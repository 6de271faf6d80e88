package events

import "testing"

// TestHubSince verifies incremental reads filtered by job.
func TestHubSince(t *testing.T) {
	hub := NewHub(10)
	hub.Publish(Event{JobID: "a", Type: EventTypeStatus})
	hub.Publish(Event{JobID: "b", Type: EventTypeStatus})
	hub.Publish(Event{JobID: "a", Type: EventTypeProgress, Progress: 50})

	events := hub.Since("a", 1)
	if len(events) != 1 || events[0].Seq != 3 || events[0].Progress != 50 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if all := hub.Since("", 0); len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
}

// TestHubCapsHistory verifies buffer limit trimming behavior.
func TestHubCapsHistory(t *testing.T) {
	hub := NewHub(2)
	hub.Publish(Event{Message: "1"})
	hub.Publish(Event{Message: "2"})
	hub.Publish(Event{Message: "3"})

	events := hub.Since("", 0)
	if len(events) != 2 || events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestHubSubscribe verifies subscribers only see their job.
func TestHubSubscribe(t *testing.T) {
	hub := NewHub(10)
	ch, cancel := hub.Subscribe("job-1")

	hub.Publish(Event{JobID: "job-2", Type: EventTypeProgress})
	hub.Publish(Event{JobID: "job-1", Type: EventTypeResult, Status: "completed"})

	got := <-ch
	if got.JobID != "job-1" || !got.Terminal() {
		t.Fatalf("event = %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event: %+v", extra)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want 0", hub.Subscribers())
	}
}

// TestHubSlowSubscriber verifies Publish never blocks on a full channel.
func TestHubSlowSubscriber(t *testing.T) {
	hub := NewHub(1000)
	_, cancel := hub.Subscribe("")
	defer cancel()

	for i := 0; i < 200; i++ {
		hub.Publish(Event{JobID: "x", Type: EventTypeProgress, Progress: i % 100})
	}
}
