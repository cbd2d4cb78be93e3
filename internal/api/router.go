package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP handler for the whole C10 surface: audio
// source/state/command routes, settings, routing, volume, liveness, and
// the /ws push channel.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.ping)
		r.Get("/health", h.health)

		r.Post("/audio/source", h.setSource)
		r.Get("/audio/state", h.getState)
		r.Post("/audio/{source}/command", h.runCommand)

		r.Get("/settings/*", h.getSetting)
		r.Put("/settings/*", h.putSetting)

		r.Get("/routing", h.getRouting)
		r.Put("/routing", h.putRouting)

		r.Get("/volume/{target}", h.getVolume)
		r.Put("/volume/{target}", h.putVolume)
	})

	r.Get("/ws", h.serveWS)

	return r
}

// corsMiddleware adds permissive CORS headers for access from anywhere on
// the local network the host is reachable from.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
