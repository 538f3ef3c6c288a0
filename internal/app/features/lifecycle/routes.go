package lifecycle

import "github.com/go-chi/chi/v5"

// Routes returns the worker control subrouter, mounted under /sw.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.ServeStatus)
	r.Post("/message", h.ServeMessage)
	return r
}
