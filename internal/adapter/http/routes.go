package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parley-ai/parley/internal/adapter/otel"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Threads and turns
		r.Post("/threads", h.CreateThread)
		r.Get("/threads/{id}", h.GetThread)
		r.Post("/threads/{id}/messages", h.PostMessage)
		r.Post("/threads/{id}/resume", h.ResumeThread)

		// Approvals (non-streaming operator path)
		r.Post("/approvals/{id}", h.ResolveApproval)

		// Tools
		r.Get("/tools", h.ListTools)

		// Prompts
		r.Get("/prompts", h.ListPrompts)
		r.Post("/prompts", h.CreatePrompt)
		r.Put("/prompts/{id}", h.UpdatePrompt)
		r.Delete("/prompts/{id}", h.DeletePrompt)
		r.Put("/users/{userID}/prompt", h.SelectPrompt)
		r.Delete("/users/{userID}/prompt", h.ClearPromptSelection)
	})
}

// NewRouter builds the full router: middleware chain, health and WebSocket
// endpoints outside the API group, and the versioned API routes. Callers may
// mount additional root-level routes on the result.
func NewRouter(cfg *config.Config, h *Handlers, limiter *middleware.RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	if limiter != nil {
		r.Use(limiter.Handler)
	}
	r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeyHash))

	r.Get("/health", h.Health)
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	MountRoutes(r, h)
	return r
}
