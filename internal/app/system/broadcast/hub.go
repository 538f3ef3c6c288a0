// Package broadcast implements the "sw-messages" channel: an
// in-process hub that fans worker messages out to every attached
// storefront page. Activation uses it to claim open pages without a
// reload, and background revalidation uses it to announce new content.
package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// ChannelName is the public name of the broadcast channel.
const ChannelName = "sw-messages"

// Message types sent on the channel.
const (
	TypeActivated    = "ACTIVATED"
	TypeNewContent   = "NEW_CONTENT"
	TypeNotification = "NOTIFICATION"
)

// Message is one broadcast payload. NOTIFICATION messages carry the
// full data envelope: the target URL plus the subscriber/notification
// ids and receipt time a page needs to post click and close events
// back.
type Message struct {
	Type           string `json:"type"`
	Version        string `json:"version,omitempty"`
	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
	Body           string `json:"body,omitempty"`
	SubscriberID   string `json:"subscriberId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	ReceivedAt     string `json:"receivedAt,omitempty"`
}

// clientBuffer bounds how many undelivered messages a slow page may
// accumulate before we start dropping for it.
const clientBuffer = 16

// Hub fans messages out to subscribed clients. Safe for concurrent
// use. Delivery is best-effort: a client that cannot keep up loses
// messages rather than stalling the worker.
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan Message
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]chan Message),
		log:     logger,
	}
}

// Subscribe registers a client (one storefront tab) and returns its
// message stream. Subscribing an id twice replaces the old stream.
func (h *Hub) Subscribe(id string) <-chan Message {
	ch := make(chan Message, clientBuffer)

	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		close(old)
	}
	h.clients[id] = ch
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a client and closes its stream.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// Publish sends msg to every subscribed client without blocking.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Warn("dropping broadcast for slow client",
				zap.String("client_id", id),
				zap.String("type", msg.Type))
		}
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
