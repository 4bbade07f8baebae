package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes the router. Zero values fall back to defaults.
type RouterOptions struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router
func NewRouter(handlers *Handlers, authMiddleware *AuthMiddleware, loggingMiddleware *LoggingMiddleware, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware - ORDER MATTERS!
	r.Use(middleware.RequestID)      // Generate request ID first
	r.Use(middleware.RealIP)         // Extract real IP
	r.Use(loggingMiddleware.Handler) // Add logger to context with request ID
	r.Use(middleware.Recoverer)      // Panic recovery

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"}, // Expose request ID
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint (no auth required)
	r.Get("/health", handlers.Health)

	// API v1 routes (with authentication)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Notifications stream; long-lived, so outside the request timeout
		r.Get("/events", handlers.StreamEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Get("/state", handlers.GetState)

			// Login wizard
			r.Post("/login", handlers.Login)
			r.Post("/instances/select", handlers.SelectInstance)
			r.Post("/logout", handlers.Logout)
			r.Post("/host/check", handlers.CheckHost)
			r.Post("/console", handlers.OpenConsole)

			// Builds
			r.Post("/builds", handlers.CreateBuild)
			r.Get("/builds", handlers.ListBuilds)
			r.Get("/builds/{build_id}", handlers.GetBuild)
			r.Post("/builds/{build_id}/download", handlers.DownloadArtifacts)
			r.Post("/builds/{build_id}/submit", handlers.SubmitBuild)

			// Submissions
			r.Post("/submissions/bundles", handlers.SubmitBundles)
			r.Get("/submissions", handlers.ListSubmissions)
			r.Get("/submissions/{submission_id}", handlers.GetSubmission)

			// Submission-time parameters
			r.Get("/parameters", handlers.ListParameters)
			r.Post("/parameters/{workflow_id}", handlers.ResolveParameters)
			r.Delete("/parameters/{workflow_id}", handlers.CancelParameters)

			r.Post("/toolkits/refresh", handlers.RefreshToolkits)
			r.Get("/journal", handlers.ListJournal)
		})
	})

	return r
}
