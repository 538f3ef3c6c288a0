package push

import "github.com/go-chi/chi/v5"

// Routes returns the push lifecycle subrouter, mounted under /push.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.ServeReceive)
	r.Post("/click", h.ServeClick)
	r.Post("/close", h.ServeClose)
	return r
}
