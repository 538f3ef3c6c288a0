// Package reporting is the best-effort side channel back to the
// commerce API. Delivery and interaction events for push notifications
// are posted here; a failure is logged and swallowed and must never
// block or alter what the user saw. There is deliberately no retry.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Event types accepted by the push-event endpoint.
const (
	EventDelivered = "DELIVERED"
	EventOpened    = "OPENED"
	EventDismissed = "DISMISSED"
)

// Event is the JSON body for POST /api/push-event. DeliveredAt is set
// for DELIVERED events, Timestamp for interaction events; both are
// ISO-8601.
type Event struct {
	SubscriberID   string `json:"subscriberId"`
	NotificationID string `json:"notificationId"`
	EventType      string `json:"eventType"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// Client posts push events to the commerce API.
type Client struct {
	base   string
	client *http.Client
	log    *zap.Logger
}

// NewClient builds a reporting client for the API at baseURL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
}

// Delivered reports that a notification was shown, best-effort. Call
// only after the notification is visible; the event carries the
// delivery time. A failure is logged at warn and swallowed.
func (c *Client) Delivered(ctx context.Context, subscriberID, notificationID string, deliveredAt time.Time) {
	c.bestEffort(ctx, Event{
		SubscriberID:   subscriberID,
		NotificationID: notificationID,
		EventType:      EventDelivered,
		DeliveredAt:    deliveredAt.UTC().Format(time.RFC3339),
	})
}

// Interaction reports an OPENED or DISMISSED event, best-effort. A
// failure is logged at warn and swallowed.
func (c *Client) Interaction(ctx context.Context, subscriberID, notificationID, eventType string) {
	c.bestEffort(ctx, Event{
		SubscriberID:   subscriberID,
		NotificationID: notificationID,
		EventType:      eventType,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// Report posts one event and returns the transport or status error.
// Delivered and Interaction wrap it with the swallow-and-warn policy;
// nothing in the push path treats a report failure as fatal.
func (c *Client) Report(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/push-event", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push-event endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) bestEffort(ctx context.Context, ev Event) {
	if err := c.Report(ctx, ev); err != nil {
		c.log.Warn("push event report failed",
			zap.String("event_type", ev.EventType),
			zap.String("subscriber_id", ev.SubscriberID),
			zap.String("notification_id", ev.NotificationID),
			zap.Error(err))
	}
}
