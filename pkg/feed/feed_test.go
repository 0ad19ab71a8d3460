package feed

import (
	"testing"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/event"
)

func TestHubBroadcastReachesAllListeners(t *testing.T) {
	hub := NewHub(4)

	idA, chA := hub.Register()
	idB, chB := hub.Register()
	defer hub.Unregister(idA)
	defer hub.Unregister(idB)

	hub.Broadcast(Update{Kind: KindStatus})

	for _, ch := range []<-chan Update{chA, chB} {
		select {
		case u := <-ch:
			if u.Kind != KindStatus {
				t.Errorf("unexpected update kind %s", u.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("listener never received the broadcast")
		}
	}
}

func TestHubDropsForSlowListener(t *testing.T) {
	hub := NewHub(1)

	id, ch := hub.Register()
	defer hub.Unregister(id)

	hub.Broadcast(Update{Kind: KindStatus})
	hub.Broadcast(Update{Kind: KindInvalidation, Scopes: []string{"tasks:acme"}})
	hub.Broadcast(Update{Kind: KindActivity, Event: &event.ActivityEvent{ID: "ev-1"}})

	// Only the first fits; later broadcasts were dropped, not blocked.
	u := <-ch
	if u.Kind != KindStatus {
		t.Errorf("expected the first update to survive, got %s", u.Kind)
	}
	select {
	case u := <-ch:
		t.Errorf("unexpected extra update: %+v", u)
	default:
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	hub := NewHub(0)

	id, ch := hub.Register()
	hub.Unregister(id)
	hub.Unregister(id)

	if _, ok := <-ch; ok {
		t.Error("channel not closed after unregister")
	}
	if hub.Size() != 0 {
		t.Errorf("expected 0 listeners, got %d", hub.Size())
	}

	// Broadcasting with no listeners is a no-op.
	hub.Broadcast(Update{Kind: KindStatus})
}
