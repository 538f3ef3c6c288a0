// Package push turns push messages from the backend push service into
// displayed notifications and reports delivery and interaction
// outcomes back to the commerce API. Reporting is best-effort
// throughout; a reporting failure never blocks or changes what the
// user saw. A malformed payload is the only hard abort.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/pellmarket/shopedge/internal/app/reporting"
	"github.com/pellmarket/shopedge/internal/app/store/notifications"
	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"github.com/pellmarket/shopedge/internal/app/system/ratelimit"
)

// maxPayloadBytes bounds the inbound push body.
const maxPayloadBytes = 64 * 1024

// NotificationStore is the persistence surface the handlers need.
// Satisfied by *notifications.Store.
type NotificationStore interface {
	Create(ctx context.Context, n notifications.Notification) error
	Find(ctx context.Context, subscriberID, notificationID string) (*notifications.Notification, error)
	FindByNotificationID(ctx context.Context, notificationID string) (*notifications.Notification, error)
	MarkClosed(ctx context.Context, subscriberID, notificationID string) error
}

// Handler owns the push lifecycle endpoints.
type Handler struct {
	Store    NotificationStore
	Reporter *reporting.Client
	Hub      *broadcast.Hub
	// Limiter caps displayed notifications per subscriber. Nil disables
	// the cap.
	Limiter *ratelimit.Limiter
	Log     *zap.Logger

	sanitize *bluemonday.Policy
}

// NewHandler constructs a push Handler.
func NewHandler(store NotificationStore, reporter *reporting.Client, hub *broadcast.Hub, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		Store:    store,
		Reporter: reporter,
		Hub:      hub,
		Limiter:  limiter,
		Log:      logger,
		sanitize: bluemonday.StrictPolicy(),
	}
}

// ServeReceive handles POST /push. An empty body is a silent no-op and
// a body that is not valid JSON is logged and dropped; in both cases
// nothing is shown and nothing is reported.
func (h *Handler) ServeReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.Log.Warn("malformed push payload dropped", zap.Error(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	subID := p.SubscriberID.String()
	notifID := p.NotificationID.String()

	if h.Limiter != nil && !h.Limiter.Allow(subID) {
		h.Log.Warn("push dropped by subscriber rate limit",
			zap.String("subscriber_id", subID),
			zap.String("notification_id", notifID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	receivedAt := time.Now().UTC()
	n := notifications.Notification{
		SubscriberID:       subID,
		NotificationID:     notifID,
		Title:              h.sanitize.Sanitize(p.Title),
		Body:               h.sanitize.Sanitize(p.Body),
		Image:              p.Image(),
		URL:                p.TargetURL(),
		RequireInteraction: true,
		Vibration:          DefaultVibration,
		Actions:            DefaultActions,
		Status:             notifications.StatusShown,
		ReceivedAt:         receivedAt,
	}

	if err := h.Store.Create(r.Context(), n); err != nil {
		h.Log.Error("notification store failed",
			zap.String("subscriber_id", subID),
			zap.String("notification_id", notifID),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The full data envelope goes out with the broadcast so an attached
	// page can post the ids back to /push/click and /push/close.
	h.Hub.Publish(broadcast.Message{
		Type:           broadcast.TypeNotification,
		URL:            n.URL,
		Title:          n.Title,
		Body:           n.Body,
		SubscriberID:   subID,
		NotificationID: notifID,
		ReceivedAt:     receivedAt.Format(time.RFC3339),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"subscriberId":   subID,
		"notificationId": notifID,
	})

	// The notification is visible at this point; the delivery receipt
	// happens after and can only fail quietly. The receipt is detached
	// from the request context so a producer that hangs up immediately
	// cannot cancel it.
	h.Reporter.Delivered(context.WithoutCancel(r.Context()), subID, notifID, receivedAt)
}

// clickRequest is the body for POST /push/click and /push/close.
type clickRequest struct {
	SubscriberID   FlexID `json:"subscriberId"`
	NotificationID FlexID `json:"notificationId"`
	Action         string `json:"action"`
}

// clickResponse tells the page what to do next. OpenURL is set only
// for the view action.
type clickResponse struct {
	Event   string `json:"event"`
	OpenURL string `json:"openUrl,omitempty"`
}

// resolve looks up the displayed notification. A request that carries
// only the notification id (the click contract's minimum) falls back
// to the latest record for that id, recovering the subscriber for the
// interaction report. Returns the record (nil when unknown) and the
// effective subscriber id.
func (h *Handler) resolve(ctx context.Context, subID, notifID string) (*notifications.Notification, string, error) {
	var n *notifications.Notification
	var err error
	if subID != "" {
		n, err = h.Store.Find(ctx, subID, notifID)
	} else {
		n, err = h.Store.FindByNotificationID(ctx, notifID)
	}
	if errors.Is(err, notifications.ErrNotFound) {
		return nil, subID, nil
	}
	if err != nil {
		return nil, subID, err
	}
	if subID == "" {
		subID = n.SubscriberID
	}
	return n, subID, nil
}

// ServeClick handles POST /push/click. The view action maps to OPENED
// and carries the target URL back; any other action, including the
// empty string from a bare click on the notification body, maps to
// DISMISSED. The notification is closed either way.
func (h *Handler) ServeClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	notifID := req.NotificationID.String()
	n, subID, err := h.resolve(r.Context(), req.SubscriberID.String(), notifID)
	if err != nil {
		h.Log.Error("notification lookup failed",
			zap.String("notification_id", notifID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := clickResponse{Event: reporting.EventDismissed}
	if req.Action == ActionView {
		resp.Event = reporting.EventOpened
		resp.OpenURL = "/"
		if n != nil {
			resp.OpenURL = n.URL
		}
	}

	if err := h.Store.MarkClosed(r.Context(), subID, notifID); err != nil && !errors.Is(err, notifications.ErrNotFound) {
		h.Log.Warn("close mark failed",
			zap.String("notification_id", notifID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	h.Reporter.Interaction(context.WithoutCancel(r.Context()), subID, notifID, resp.Event)
}

// ServeClose handles POST /push/close, the user dismissing the
// notification without touching either action.
func (h *Handler) ServeClose(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	notifID := req.NotificationID.String()
	_, subID, err := h.resolve(r.Context(), req.SubscriberID.String(), notifID)
	if err != nil {
		h.Log.Error("notification lookup failed",
			zap.String("notification_id", notifID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.Store.MarkClosed(r.Context(), subID, notifID); err != nil && !errors.Is(err, notifications.ErrNotFound) {
		h.Log.Warn("close mark failed",
			zap.String("notification_id", notifID), zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)

	h.Reporter.Interaction(context.WithoutCancel(r.Context()), subID, notifID, reporting.EventDismissed)
}
