// Package api exposes the read-only HTTP surface of the Grid Clash server:
// health, status and state endpoints for dashboards, plus a WebSocket
// spectator feed. It never mutates the game; all writes travel over UDP.
package api

import (
	"net/http"

	"grid-clash/internal/game"
	"grid-clash/internal/server"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface is the slice of the sync engine the API layer reads.
// Kept minimal so tests can mock it without a UDP socket.
type EngineInterface interface {
	// Status returns engine counters and the session list
	Status() server.Status
	// StateView returns a copied snapshot of the game state
	StateView() game.View
}

// RouterConfig carries the router's dependencies, injected for testability.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{Engine: mockEngine})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the sync engine (required)
	Engine EngineInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, one is created from RateLimitConfig or the defaults.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is used only when RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins overrides the default localhost origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	engine EngineInterface
}

// NewRouter constructs the HTTP router with all middleware and routes.
// It is pure: no goroutines, no listeners, safe under httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting before CORS to reject early.
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	h := &routerHandlers{engine: cfg.Engine}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/state", h.handleState)
		r.Get("/scoreboard", h.handleScoreboard)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/status", http.StatusFound)
	})

	return r
}
