package clients

import "github.com/go-chi/chi/v5"

// Routes returns the client event-stream subrouter, mounted under
// /events.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeEvents)
	return r
}
