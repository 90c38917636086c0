package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Server combines the HTTP router with the WebSocket spectator hub.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	hub         *SpectatorHub
	rateLimiter *IPRateLimiter
}

// NewServer wires the production configuration. Background workers do not
// start until Start is called, so tests can construct a Server and use
// Router() with httptest.
func NewServer(engine EngineInterface) *Server {
	s := &Server{
		engine:      engine,
		hub:         NewSpectatorHub(),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
	}

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		RateLimiter: s.rateLimiter,
	})

	// The WebSocket routes need the hub instance, so they are added here
	// rather than in the pure router factory.
	s.router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.hub.HandleWebSocket(w, r)
	})
	s.router.Get("/ws/spectate", func(w http.ResponseWriter, r *http.Request) {
		s.hub.HandleWebSocket(w, r)
	})

	return s
}

// Start launches the hub workers and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.hub.StartFeed(s.engine)

	log.Printf("🌐 Status API on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router returns the handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop shuts down the rate limiter's cleanup goroutine.
func (s *Server) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}
