package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pellmarket/shopedge/internal/app/features/lifecycle"
	"github.com/pellmarket/shopedge/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client     *mongo.Client
	Controller *lifecycle.Controller
	Log        *zap.Logger
}

// NewHandler constructs a health Handler.
func NewHandler(client *mongo.Client, controller *lifecycle.Controller, logger *zap.Logger) *Handler {
	return &Handler{
		Client:     client,
		Controller: controller,
		Log:        logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Worker   workerStatus `json:"worker"`
	Message  string       `json:"message,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// workerStatus summarizes the edge worker for the health endpoint.
type workerStatus struct {
	State        string `json:"state"`
	CacheVersion string `json:"cache_version"`
	CacheEntries int    `json:"cache_entries"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "worker":{"state":"activated","cache_version":"shop-cache-v3","cache_entries":12} }
//
// On DB failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
		Worker: workerStatus{
			State:        string(h.Controller.State()),
			CacheVersion: h.Controller.Version(),
		},
	}
	if n, err := h.Controller.Namespace().Len(); err == nil {
		resp.Worker.CacheEntries = n
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	_ = json.NewEncoder(w).Encode(resp)
}
