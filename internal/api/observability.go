package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"melee-core/internal/game"
)

// Metrics with bounded cardinality (no per-actor labels)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "melee_tick_duration_seconds",
		Help:    "Time spent in one simulation step",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.033},
	})

	actorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "melee_actor_count",
		Help: "Actors simulated in the last step",
	})

	inputsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "melee_inputs_total",
		Help: "Inputs integrated",
	})

	lateInputsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "melee_late_inputs_total",
		Help: "Inputs that arrived after their tick and were applied late",
	})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melee_action_requests_total",
		Help: "Action requests by admission result",
	}, []string{"result"}) // Bounded: "admitted", "rejected", "lunge", "follow_up", "unknown", "grab"

	queueDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "melee_queue_dropped",
		Help: "Messages dropped by full per-actor queues (live actors only)",
	}, []string{"queue"}) // Bounded: "input", "action"

	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "melee_event_log_total",
		Help: "Events offered to the event log",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "melee_event_log_dropped",
		Help: "Events dropped by rate limiting or a full buffer",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melee_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "spawn"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "melee_websocket_sessions_active",
		Help: "Currently attached websocket sessions",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melee_websocket_messages_total",
		Help: "Websocket frames by direction",
	}, []string{"direction"}) // Bounded: "in", "out", "dropped"
)

// MetricsObserver records engine step statistics. It runs inside the tick,
// so it only touches lock-free counters.
type MetricsObserver struct {
	eventLog func() game.EventLogStats
}

// NewMetricsObserver creates an observer; eventLog may be nil.
func NewMetricsObserver(eventLog func() game.EventLogStats) *MetricsObserver {
	return &MetricsObserver{eventLog: eventLog}
}

// ObserveStep implements game.StepObserver.
func (m *MetricsObserver) ObserveStep(s game.StepStats) {
	tickDuration.Observe(s.Duration.Seconds())
	actorCount.Set(float64(s.Actors))
	inputsTotal.Add(float64(s.Inputs))
	lateInputsTotal.Add(float64(s.LateInputs))

	addActions("admitted", s.Admitted)
	addActions("rejected", s.Rejected)
	addActions("lunge", s.Lunges)
	addActions("follow_up", s.FollowUps)
	addActions("unknown", s.UnknownActions)
	addActions("grab", s.Grabs)

	queueDropped.WithLabelValues("input").Set(float64(s.DroppedInputs))
	queueDropped.WithLabelValues("action").Set(float64(s.DroppedActions))

	if m.eventLog != nil {
		st := m.eventLog()
		eventLogTotal.Set(float64(st.Total))
		eventLogDropped.Set(float64(st.Dropped))
	}
}

func addActions(result string, n int) {
	if n > 0 {
		actionsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be localhost in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string

	// Handlers are extra debug routes, e.g. the arena render.
	Handlers map[string]http.Handler
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// ObservabilityFromEnv applies DEBUG_* overrides to the defaults.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservabilityConfig()
	if os.Getenv("DEBUG_SERVER") == "false" {
		cfg.Enabled = false
	}
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	return cfg
}

// DebugHandler builds the debug mux: pprof, /metrics, /health and cfg.Handlers.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	paths := make([]string, 0, len(cfg.Handlers))
	for p := range cfg.Handlers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		mux.Handle(p, cfg.Handlers[p])
	}

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return handler
}

// StartDebugServer starts the internal observability server.
// CRITICAL: it binds to localhost unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopbackAddr(cfg.ListenAddr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

func isLoopbackAddr(addr string) bool {
	for _, prefix := range []string{"127.0.0.1:", "localhost:", "[::1]:"} {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordConnectionRejected increments the rejection counter.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the session gauge
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordWSMessage counts one websocket frame.
func RecordWSMessage(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}
