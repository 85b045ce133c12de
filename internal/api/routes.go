package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	r.Route("/lab", func(r chi.Router) {
		// Read-only views (public)
		r.Get("/", s.HandleGetLab)
		r.Get("/logs", s.HandleGetLogs)
		r.Get("/airtime", s.HandleAirtime)
		r.Get("/history/{kind}", s.HandleGetHistory)
		r.Get("/identity/generate", s.HandleGenerateIdentity)
		if s.hub != nil {
			r.Get("/ws", s.HandleWS)
		}

		// Commands
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Put("/device", s.HandleSelectDevice)
			r.Put("/radio", s.HandleSetRadio)
			r.Put("/sensors/{kind}", s.HandleSetSensor)
			r.Put("/interval", s.HandleSetInterval)

			r.Post("/activate", s.HandleActivate)
			r.Post("/deactivate", s.HandleDeactivate)
			r.Post("/start", s.HandleStart)
			r.Post("/pause", s.HandlePause)
			r.Post("/reset", s.HandleReset)
		})
	})
}
