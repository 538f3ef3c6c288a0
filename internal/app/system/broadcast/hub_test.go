package broadcast_test

import (
	"testing"

	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"go.uber.org/zap"
)

func TestPublishReachesAllClients(t *testing.T) {
	hub := broadcast.NewHub(zap.NewNop())

	a := hub.Subscribe("tab-a")
	b := hub.Subscribe("tab-b")

	hub.Publish(broadcast.Message{Type: broadcast.TypeActivated, Version: "shop-cache-v3"})

	for name, ch := range map[string]<-chan broadcast.Message{"a": a, "b": b} {
		select {
		case msg := <-ch:
			if msg.Type != broadcast.TypeActivated || msg.Version != "shop-cache-v3" {
				t.Errorf("client %s: got %+v", name, msg)
			}
		default:
			t.Errorf("client %s received nothing", name)
		}
	}
}

func TestUnsubscribeClosesStream(t *testing.T) {
	hub := broadcast.NewHub(zap.NewNop())
	ch := hub.Subscribe("tab-a")
	hub.Unsubscribe("tab-a")

	if _, open := <-ch; open {
		t.Error("stream should be closed after unsubscribe")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count: got %d, want 0", hub.ClientCount())
	}

	// Publishing with no clients is a no-op, not a panic.
	hub.Publish(broadcast.Message{Type: broadcast.TypeNewContent, URL: "/about"})
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	hub := broadcast.NewHub(zap.NewNop())
	hub.Subscribe("stuck")

	// Flood well past the per-client buffer; Publish must never block.
	for i := 0; i < 100; i++ {
		hub.Publish(broadcast.Message{Type: broadcast.TypeNewContent})
	}
}

func TestResubscribeReplacesStream(t *testing.T) {
	hub := broadcast.NewHub(zap.NewNop())
	old := hub.Subscribe("tab-a")
	fresh := hub.Subscribe("tab-a")

	if _, open := <-old; open {
		t.Error("old stream should be closed on resubscribe")
	}

	hub.Publish(broadcast.Message{Type: broadcast.TypeActivated})
	select {
	case msg := <-fresh:
		if msg.Type != broadcast.TypeActivated {
			t.Errorf("got %+v", msg)
		}
	default:
		t.Error("fresh stream received nothing")
	}
}
