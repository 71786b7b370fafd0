package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RateLimitConfig is the fixed-window quota of one route group.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// Deps carries everything the router needs.
type Deps struct {
	Auth       *service.AuthService
	Categories *service.CategoryService
	Purchases  *service.PurchaseService
	Stats      *service.StatsService
	Assistant  *service.Assistant

	Limiter       port.RateLimiter
	AuthRateLimit RateLimitConfig
	APIRateLimit  RateLimitConfig

	// Pingers are checked by /readyz, keyed by store name.
	Pingers map[string]port.Pinger

	CORSOrigins  []string
	CookieSecure bool

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(d.Pingers, logger))
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	if d.Auth == nil {
		return r
	}

	authLimit := RateLimit("auth", d.Limiter, d.AuthRateLimit.Max, d.AuthRateLimit.Window, d.Metrics, logger)
	apiLimit := RateLimit("api", d.Limiter, d.APIRateLimit.Max, d.APIRateLimit.Window, d.Metrics, logger)
	requireAuth := JWTAuthMiddleware(d.Auth, logger)

	r.Route("/api", func(r chi.Router) {
		// --- Accounts ---
		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/register", registerHandler(d.Auth, logger))
			r.Post("/login", loginHandler(d.Auth, d.CookieSecure, logger))
			r.Post("/forget-password", forgetPasswordHandler(d.Auth, logger))
			r.Post("/reset-password", resetPasswordHandler(d.Auth, logger))
		})
		r.Post("/logout", logoutHandler(d.CookieSecure))
		r.With(requireAuth).Get("/me", meHandler(d.Auth, logger))

		r.Get("/metrics/assistant", assistantMetricsHandler(d.Metrics))

		// --- Budget ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(apiLimit)

			r.Get("/categories", listCategoriesHandler(d.Categories, logger))
			r.Post("/categories", createCategoryHandler(d.Categories, logger))
			r.Put("/categories/{id}", updateCategoryHandler(d.Categories, logger))
			r.Delete("/categories/{id}", deleteCategoryHandler(d.Categories, logger))

			r.Get("/purchases", listPurchasesHandler(d.Purchases, logger))
			r.Post("/purchases", createPurchaseHandler(d.Purchases, logger))
			r.Get("/purchases/stats", purchaseStatsHandler(d.Stats, logger))
			r.Get("/purchases/monthly-stats", monthlyStatsHandler(d.Stats, logger))
			r.Put("/purchases/{id}", updatePurchaseHandler(d.Purchases, logger))
			r.Delete("/purchases/{id}", deletePurchaseHandler(d.Purchases, logger))

			r.Post("/assistant", assistantHandler(d.Assistant, logger))
			r.Post("/assistant/raw-query", rawQueryHandler(d.Assistant, logger))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler pings every store concurrently and answers 503 when any
// of them is down.
func readyzHandler(pingers map[string]port.Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			services = make([]domain.ServiceHealth, 0, len(pingers))
		)
		for name, p := range pingers {
			wg.Add(1)
			go func(name string, p port.Pinger) {
				defer wg.Done()
				start := time.Now()
				err := p.Ping(ctx)
				h := domain.ServiceHealth{Name: name, Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
				if err != nil {
					h.Status = "unhealthy"
					h.Error = err.Error()
					logger.Warn("readiness check failed", zap.String("service", name), zap.Error(err))
				}
				mu.Lock()
				services = append(services, h)
				mu.Unlock()
			}(name, p)
		}
		wg.Wait()

		sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

		status := domain.HealthStatus{Status: "healthy", Services: services}
		code := http.StatusOK
		for _, s := range services {
			if s.Status != "healthy" {
				status.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, status)
	}
}
