package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/tracex/app"
	"github.com/upb/tracex/handlers"
)

// SetupRoutes configures all dashboard routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Dashboard.AllowedOrigins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Store, deps.Redactor, deps.Logger)
	traces := handlers.NewTraceHandler(
		deps.Store,
		deps.Signer,
		deps.Config.Dashboard.PollInterval,
		deps.Config.Dashboard.AllowedOrigins,
		deps.Logger,
	)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Group(func(r chi.Router) {
		if deps.Config.Tracing.TraceHTTP {
			r.Use(deps.TracingMiddleware.Handler)
		}

		r.Route("/traces", func(r chi.Router) {
			r.Get("/", traces.HandleList)
			r.Get("/export", traces.HandleExport)
			r.Get("/{id}/verify", traces.HandleVerify)

			r.Group(func(r chi.Router) {
				if deps.AuthMiddleware != nil {
					r.Use(deps.AuthMiddleware.RequireAuth)
				}
				r.Delete("/", traces.HandleClear)
			})
		})

		r.Get("/ws/traces", traces.HandleStream)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
