package eventbridge

import (
	"fmt"
	"testing"
)

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeTurn}
	second := Event{EventID: "evt-2", SessionID: "alpha", Type: TypeAssessment}
	router.Route(first)
	router.Route(second)
	sub := router.Subscribe("alpha")
	defer sub.Close()
	got1 := <-sub.Events
	if got1.EventID != first.EventID {
		t.Fatalf("expected first buffered event, got %s", got1.EventID)
	}
	got2 := <-sub.Events
	if got2.EventID != second.EventID {
		t.Fatalf("expected second buffered event, got %s", got2.EventID)
	}
}

func TestRouterKeepsSessionsApart(t *testing.T) {
	router := NewRouter()
	alpha := router.Subscribe("alpha")
	defer alpha.Close()
	router.Route(Event{EventID: "b-1", SessionID: "beta", Type: TypeTurn})
	router.Route(Event{EventID: "a-1", SessionID: "alpha", Type: TypeTurn})
	router.Route(Event{EventID: "x", Type: TypeTurn})
	if got := <-alpha.Events; got.EventID != "a-1" {
		t.Fatalf("alpha received %s", got.EventID)
	}
	select {
	case got := <-alpha.Events:
		t.Fatalf("unexpected event %s", got.EventID)
	default:
	}
	if router.Subscribers("alpha") != 1 || router.Subscribers("beta") != 0 {
		t.Fatalf("unexpected subscriber counts")
	}
	beta := router.Subscribe("beta")
	defer beta.Close()
	if got := <-beta.Events; got.EventID != "b-1" {
		t.Fatalf("beta backlog = %s", got.EventID)
	}
}

func TestRouterEvictsOldestBacklogSession(t *testing.T) {
	router := NewRouter(RouterWithBacklogSessions(2), RouterWithBacklogLimit(1))
	for i := 0; i < 3; i++ {
		router.Route(Event{EventID: fmt.Sprintf("e-%d", i), SessionID: fmt.Sprintf("s-%d", i), Type: TypeTurn})
	}
	router.Route(Event{EventID: "e-2b", SessionID: "s-2", Type: TypeTurn})

	evicted := router.Subscribe("s-0")
	defer evicted.Close()
	select {
	case got := <-evicted.Events:
		t.Fatalf("expected evicted backlog, got %s", got.EventID)
	default:
	}
	kept := router.Subscribe("s-2")
	defer kept.Close()
	if got := <-kept.Events; got.EventID != "e-2b" {
		t.Fatalf("expected newest backlog entry, got %s", got.EventID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("alpha")
	defer sub.Close()
	event := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeTurn}
	router.Route(event)
	router.Route(event)
	select {
	case got := <-sub.Events:
		if got.EventID != event.EventID {
			t.Fatalf("unexpected event: %s", got.EventID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterDropsOldestPreferredEventOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("alpha")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeAssessment}
	critical := Event{EventID: "evt-2", SessionID: "alpha", Type: TypeSessionEnd}
	router.Route(oldest)
	router.Route(critical)
	if got := <-sub.Events; got.EventID != critical.EventID {
		t.Fatalf("expected critical event to replace oldest, got %s", got.EventID)
	}
}

func TestRouterPrefersDroppingStaleAssessments(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("alpha")
	defer sub.Close()
	router.Route(Event{EventID: "turn-1", SessionID: "alpha", Type: TypeTurn})
	router.Route(Event{EventID: "rep-1", SessionID: "alpha", Type: TypeAssessment})
	if got := <-sub.Events; got.EventID != "turn-1" {
		t.Fatalf("expected turn to survive, got %s", got.EventID)
	}
}

func TestRouterDropsIncomingWhenOldestCritical(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("alpha")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", SessionID: "alpha", Type: TypeSessionEnd}
	droppable := Event{EventID: "evt-2", SessionID: "alpha", Type: TypeAssessment}
	router.Route(oldest)
	router.Route(droppable)
	if got := <-sub.Events; got.EventID != oldest.EventID {
		t.Fatalf("expected oldest critical event to remain, got %s", got.EventID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("alpha")
	sub.Close()
	sub.Close()
	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected closed channel")
	}
	router.Route(Event{EventID: "late", SessionID: "alpha", Type: TypeTurn})
	if router.Subscribers("alpha") != 0 {
		t.Fatalf("expected no subscribers")
	}
}
