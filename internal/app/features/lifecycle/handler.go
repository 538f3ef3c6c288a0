package lifecycle

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pellmarket/shopedge/internal/app/system/broadcast"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Handler exposes the worker's control surface: the cross-context
// message endpoint and a status endpoint.
type Handler struct {
	Controller *Controller
	Hub        *broadcast.Hub
	// ControlTokenHash is the bcrypt hash of the control token. When
	// empty the message endpoint is open, which is only acceptable in
	// dev.
	ControlTokenHash string
	Log              *zap.Logger
}

// NewHandler constructs a lifecycle Handler.
func NewHandler(controller *Controller, hub *broadcast.Hub, controlTokenHash string, logger *zap.Logger) *Handler {
	return &Handler{
		Controller:       controller,
		Hub:              hub,
		ControlTokenHash: controlTokenHash,
		Log:              logger,
	}
}

// statusResponse is the JSON body for GET /sw/status.
type statusResponse struct {
	State   string `json:"state"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
}

// ServeStatus handles GET /sw/status.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		State:   string(h.Controller.State()),
		Version: h.Controller.Version(),
		Clients: h.Hub.ClientCount(),
	})
}

// ServeMessage handles POST /sw/message. The only recognized message
// is the literal token SKIP_WAITING, which forces immediate activation
// of an installed worker; anything else is ignored with 204, matching
// the worker's silent treatment of unknown messages.
func (h *Handler) ServeMessage(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(string(body)) != SkipWaitingToken {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.Controller.SkipWaiting(r.Context()); err != nil {
		h.Log.Error("skip waiting failed", zap.Error(err))
		http.Error(w, "activation failed", http.StatusInternalServerError)
		return
	}

	h.Log.Info("skip waiting requested",
		zap.String("state", string(h.Controller.State())))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.ControlTokenHash == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.ControlTokenHash), []byte(token)) == nil
}
