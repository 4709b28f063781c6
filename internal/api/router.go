package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"melee-core/internal/game"
)

// EngineInterface defines the engine methods used by the REST API.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns the latest lock-free snapshot (nil before the first step)
	GetSnapshot() *game.WorldSnapshot
	Spawn(opts game.SpawnOptions) (game.ActorID, error)
	Despawn(id game.ActorID) error
	SubmitAction(id game.ActorID, req game.ActionRequest) error
	ActorState(id game.ActorID) (game.StatePayload, game.ActionSnapshot, error)
	UpdateStatus(id game.ActorID, fn func(*game.StatusFlags)) error
	Catalog() *game.ActionCatalog
	Stats() game.EngineStats
}

// SessionCounter reports attached websocket sessions for the stats endpoint.
type SessionCounter interface {
	ClientCount() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine:          game.NewEngine(game.DefaultEngineConfig(), nil),
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	    DisableLogging:  true,
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation (required)
	Engine EngineInterface

	// Sessions is optional; when set, /api/stats reports the session count.
	Sessions SessionCounter

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil.
	// If both are nil, DefaultRateLimitConfig is used.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins defaults to local hosts on any port.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	engine   EngineInterface
	sessions SessionCounter
	limiter  *IPRateLimiter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: NewRouter opens no listeners. The only goroutine it may start is
// the rate limiter cleanup loop when RateLimiter is nil.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		engine:   cfg.Engine,
		sessions: cfg.Sessions,
		limiter:  rateLimiter,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
		r.Get("/actions", h.handleGetActions)

		r.Route("/actors", func(r chi.Router) {
			r.Post("/", h.handleSpawn)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetActor)
				r.Delete("/", h.handleDespawn)
				r.Post("/actions", h.handleSubmitAction)
				r.Put("/status", h.handleUpdateStatus)
			})
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/state", http.StatusFound)
	})

	return r
}
