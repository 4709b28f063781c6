package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"melee-core/internal/game"
)

// Server is the HTTP API server with websocket sessions.
type Server struct {
	engine      *game.Engine
	router      *chi.Mux
	hub         *SessionHub
	rateLimiter *IPRateLimiter
	http        *http.Server
}

// NewServer wires the REST router and session hub to engine and installs the
// hub as the engine's broadcaster.
//
// IMPORTANT: no listener is opened until Start is called, so tests can use
// Router() with httptest.
func NewServer(engine *game.Engine, hubCfg HubConfig) *Server {
	s := &Server{
		engine:      engine,
		hub:         NewSessionHub(engine, hubCfg),
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
	}
	engine.SetBroadcaster(s.hub)

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		Sessions:    s.hub,
		RateLimiter: s.rateLimiter,
	})

	// The websocket route sits outside /api so the REST limiter only counts
	// the upgrade request
	s.router.Get("/ws", s.hub.HandleWebSocket)

	return s
}

// Start serves HTTP on addr until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🎮 Sessions: ws://localhost%s/ws", addr)

	return s.http.ListenAndServe()
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket session hub.
func (s *Server) Hub() *SessionHub {
	return s.hub
}

// Shutdown closes sessions, stops accepting requests and stops the limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	s.rateLimiter.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
