// Package clients is the page-facing side of the sw-messages channel:
// attached pages hold an event stream open and receive activation,
// new-content, and notification messages pushed through the broadcast
// hub. Each page is identified by a signed client-id cookie so a
// reconnect resumes the same identity instead of registering a second
// client.
package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
)

// ClientCookie names the signed client-id cookie.
const ClientCookie = "shopedge_client"

// heartbeatInterval keeps intermediaries from timing out idle streams.
const heartbeatInterval = 25 * time.Second

// Handler serves the event stream.
type Handler struct {
	Hub   *broadcast.Hub
	Log   *zap.Logger
	codec *securecookie.SecureCookie
}

// NewHandler constructs a clients Handler. hashKey signs the client-id
// cookie; blockKey, when non-nil, additionally encrypts it.
func NewHandler(hashKey, blockKey []byte, hub *broadcast.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		Hub:   hub,
		Log:   logger,
		codec: securecookie.New(hashKey, blockKey),
	}
}

// clientID returns the page's identity from the signed cookie, minting
// and setting a fresh one when the cookie is absent or tampered with.
func (h *Handler) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil {
		var id string
		if err := h.codec.Decode(ClientCookie, c.Value, &id); err == nil && id != "" {
			return id
		}
	}

	id := uuid.NewString()
	encoded, err := h.codec.Encode(ClientCookie, id)
	if err != nil {
		h.Log.Error("client cookie encode failed", zap.Error(err))
		return id
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// ServeEvents handles GET /events as a server-sent event stream. The
// stream stays open until the page goes away; messages published on
// the hub while it is open are forwarded as they arrive.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := h.clientID(w, r)
	stream := h.Hub.Subscribe(id)

	// A reconnect with the same id replaces this stream; in that case
	// unsubscribing would tear down the successor, so only clean up
	// when this connection still owns the id.
	replaced := false
	defer func() {
		if !replaced {
			h.Hub.Unsubscribe(id)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected %s\n\n", broadcast.ChannelName)
	flusher.Flush()

	h.Log.Debug("client attached", zap.String("client_id", id))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.Log.Debug("client detached", zap.String("client_id", id))
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, open := <-stream:
			if !open {
				replaced = true
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.Log.Error("message encode failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
			flusher.Flush()
		}
	}
}
