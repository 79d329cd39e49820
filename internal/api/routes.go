package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/newsletter/internal/observability"
	"github.com/ignite/newsletter/internal/pkg/logger"
)

// Deps are the collaborators the router needs. Metrics and MetricsHandler
// may be nil.
type Deps struct {
	Subscriptions  SubscriptionService
	Health         *HealthChecker
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *logger.Logger
}

// SetupRoutes configures all routes. Every route is public: the subscribe
// form is posted by anonymous visitors and the confirm link is opened from
// an inbox.
func SetupRoutes(d Deps) *chi.Mux {
	r := chi.NewRouter()
	log := d.Logger
	if log == nil {
		log = logger.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if d.Health != nil {
		r.Get("/health_check", d.Health.HandleHealthCheck)
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/ready", d.Health.HandleReadiness)
	}
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	NewSubscriptionHandlers(d.Subscriptions).RegisterRoutes(r)
	return r
}

// requestLogger writes one JSON line per request through the service logger,
// so request logs share the redaction rules. Query strings are dropped: the
// confirm endpoint carries the token there.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
