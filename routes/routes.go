package routes

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-governance-gateway/app"
	"github.com/upb/llm-governance-gateway/handlers"
	"github.com/upb/llm-governance-gateway/middleware"
	"github.com/upb/llm-governance-gateway/utils"
)

const defaultRequestTimeout = 60 * time.Second

var errAuditStopped = errors.New("audit sink is not running")

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	timeout := deps.Config.Server.WriteTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", handlers.HeaderAPIKey, middleware.TenantHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	health := handlers.NewHealthHandler(sqlDB(deps), deps.Logger)
	if deps.Redis != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	if _, ok := deps.AuditStats(); ok {
		health.WithCheck("audit", func(context.Context) error {
			stats, _ := deps.AuditStats()
			if !stats.Started {
				return errAuditStopped
			}
			return nil
		})
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	tenants := middleware.NewTenantMiddleware(deps.Logger)
	completions := handlers.NewCompletionHandler(deps.Inference, deps.Logger.Named("http"))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(tenants.RequireTenant).Post("/completions", completions.HandleCompletion)

		if deps.AuditRepo != nil {
			audit := handlers.NewAuditHandler(deps.AuditRepo, deps.Logger.Named("http"))
			r.With(tenants.RequireTenant).Get("/audit/verify", audit.HandleVerify)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func sqlDB(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}
