// Package notifications persists displayed push notifications so the
// click and close handlers can resolve a notification's data envelope
// after the fact. The authoritative event record lives in the remote
// commerce API, keyed by (subscriberId, notificationId); this store
// only holds what the worker itself displayed.
package notifications

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Notification statuses.
const (
	StatusShown  = "shown"
	StatusClosed = "closed"
)

// ErrNotFound is returned when no notification matches a lookup.
var ErrNotFound = errors.New("notification not found")

// Notification is one displayed push notification.
type Notification struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	SubscriberID       string             `bson:"subscriber_id"`
	NotificationID     string             `bson:"notification_id"`
	Title              string             `bson:"title"`
	Body               string             `bson:"body"`
	Image              string             `bson:"image"`
	URL                string             `bson:"url"`
	RequireInteraction bool               `bson:"require_interaction"`
	Vibration          []int              `bson:"vibration"`
	Actions            []string           `bson:"actions"`
	Status             string             `bson:"status"`
	ReceivedAt         time.Time          `bson:"received_at"`
	ClosedAt           *time.Time         `bson:"closed_at,omitempty"`
}

// Store manages the notifications collection.
type Store struct {
	c *mongo.Collection
}

// New creates a notifications Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("notifications")}
}

// EnsureIndexes creates the compound key index and a received_at index
// for cleanup queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscriber_id", Value: 1}, {Key: "notification_id", Value: 1}},
			Options: options.Index().SetName("idx_notifications_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_notifications_received"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create records a displayed notification. A re-delivered push with
// the same (subscriberId, notificationId) replaces the earlier record.
func (s *Store) Create(ctx context.Context, n Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = StatusShown
	}

	filter := bson.M{"subscriber_id": n.SubscriberID, "notification_id": n.NotificationID}
	update := bson.M{"$set": bson.M{
		"subscriber_id":       n.SubscriberID,
		"notification_id":     n.NotificationID,
		"title":               n.Title,
		"body":                n.Body,
		"image":               n.Image,
		"url":                 n.URL,
		"require_interaction": n.RequireInteraction,
		"vibration":           n.Vibration,
		"actions":             n.Actions,
		"status":              n.Status,
		"received_at":         n.ReceivedAt,
	}}
	_, err := s.c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Find returns the notification with the given compound key.
func (s *Store) Find(ctx context.Context, subscriberID, notificationID string) (*Notification, error) {
	var n Notification
	err := s.c.FindOne(ctx, bson.M{
		"subscriber_id":   subscriberID,
		"notification_id": notificationID,
	}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByNotificationID returns the most recently received notification
// with the given notification id, regardless of subscriber.
func (s *Store) FindByNotificationID(ctx context.Context, notificationID string) (*Notification, error) {
	var n Notification
	opts := options.FindOne().SetSort(bson.D{{Key: "received_at", Value: -1}})
	err := s.c.FindOne(ctx, bson.M{"notification_id": notificationID}, opts).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkClosed flips a notification to closed and stamps the close time.
func (s *Store) MarkClosed(ctx context.Context, subscriberID, notificationID string) error {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"subscriber_id": subscriberID, "notification_id": notificationID},
		bson.M{"$set": bson.M{"status": StatusClosed, "closed_at": now}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
