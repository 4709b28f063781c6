package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"melee-core/internal/game"
	"melee-core/internal/wire"
)

const (
	// MaxWSConnectionsTotal is the maximum number of websocket sessions
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum websocket sessions per IP
	MaxWSConnectionsPerIP = 10

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// HubConfig configures websocket sessions.
type HubConfig struct {
	MaxSessions      int
	MaxPerIP         int
	ActionsPerSecond int // Action requests accepted per session; 0 disables the limit
	SendBuffer       int // Outgoing frames queued per session before dropping
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxSessions:      MaxWSConnectionsTotal,
		MaxPerIP:         MaxWSConnectionsPerIP,
		ActionsPerSecond: 20,
		SendBuffer:       256,
	}
}

// SessionEngine is the engine surface used by websocket sessions.
type SessionEngine interface {
	Spawn(opts game.SpawnOptions) (game.ActorID, error)
	Despawn(id game.ActorID) error
	SubmitInput(id game.ActorID, in game.InputPayload) error
	SubmitAction(id game.ActorID, req game.ActionRequest) error
	ActorState(id game.ActorID) (game.StatePayload, game.ActionSnapshot, error)
	Config() game.EngineConfig
}

// session is one attached client. It owns its actor when the hub spawned it.
type session struct {
	hub       *SessionHub
	conn      *websocket.Conn
	ip        string
	actor     game.ActorID
	owned     bool
	send      chan []byte
	done      chan struct{}
	actions   *rate.Limiter
	closeOnce sync.Once
}

// SessionHub attaches websocket clients to actors and fans engine output out
// to them. It implements game.Broadcaster and game.DespawnBroadcaster.
type SessionHub struct {
	engine SessionEngine
	cfg    HubConfig

	mu       sync.RWMutex
	sessions map[*session]struct{}

	limiter *ConnectionLimiter
}

// NewSessionHub creates a hub. It starts no goroutines.
func NewSessionHub(engine SessionEngine, cfg HubConfig) *SessionHub {
	def := DefaultHubConfig()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = def.MaxPerIP
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &SessionHub{
		engine:   engine,
		cfg:      cfg,
		sessions: make(map[*session]struct{}),
		limiter:  NewConnectionLimiter(cfg.MaxPerIP),
	}
}

// ClientCount returns the number of attached sessions
func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// BroadcastState sends an authoritative state to every session. The owner
// reconciles against it; everyone else interpolates.
func (h *SessionHub) BroadcastState(actor game.ActorID, state game.StatePayload) {
	frame, err := wire.Encode(wire.MsgTypeState, actor, wire.AppendState(nil, state))
	if err != nil {
		return
	}
	h.fanout(frame, 0)
}

// BroadcastAction sends an admitted action to every session except the
// actor's own.
func (h *SessionHub) BroadcastAction(actor game.ActorID, action game.ActionBroadcast) {
	body, err := wire.EncodeActionBroadcast(action)
	if err != nil {
		log.Printf("⚠️ Encode action broadcast: %v", err)
		return
	}
	frame, err := wire.Encode(wire.MsgTypeActionBroadcast, actor, body)
	if err != nil {
		return
	}
	h.fanout(frame, actor)
}

// BroadcastDespawn tells every session an actor left.
func (h *SessionHub) BroadcastDespawn(actor game.ActorID) {
	frame, err := wire.Encode(wire.MsgTypeDespawn, actor, nil)
	if err != nil {
		return
	}
	h.fanout(frame, 0)
}

// fanout enqueues frame on every session not attached to skip (0 skips none).
// It never blocks the tick.
func (h *SessionHub) fanout(frame []byte, skip game.ActorID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if skip != 0 && s.actor == skip {
			continue
		}
		s.enqueue(frame)
	}
}

func (s *session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		RecordWSMessage("dropped")
	}
}

// HandleWebSocket upgrades a request into a session. With ?actor=<id> the
// session attaches to an existing actor; otherwise it spawns a controlled
// actor (named by ?name=, equipped with ?context=) and despawns it on close.
func (h *SessionHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= h.cfg.MaxSessions {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", h.cfg.MaxSessions)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.limiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	actor, owned, status, err := h.resolveActor(r)
	if err != nil {
		h.limiter.Release(ip)
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.limiter.Release(ip)
		if owned {
			h.engine.Despawn(actor)
		}
		return
	}

	s := &session{
		hub:   h,
		conn:  conn,
		ip:    ip,
		actor: actor,
		owned: owned,
		send:  make(chan []byte, h.cfg.SendBuffer),
		done:  make(chan struct{}),
	}
	if h.cfg.ActionsPerSecond > 0 {
		s.actions = rate.NewLimiter(rate.Limit(h.cfg.ActionsPerSecond), h.cfg.ActionsPerSecond)
	}

	if welcome, err := h.welcome(actor); err == nil {
		s.enqueue(welcome)
	} else {
		log.Printf("⚠️ Welcome for actor %d: %v", actor, err)
	}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("📱 Session for actor %d connected from %s (%d total)", actor, ip, count)
	UpdateWSConnections(count)

	go s.writePump()
	go s.readPump()
}

func (h *SessionHub) resolveActor(r *http.Request) (game.ActorID, bool, int, error) {
	q := r.URL.Query()

	if raw := q.Get("actor"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return 0, false, http.StatusBadRequest, errors.New("invalid actor id")
		}
		if _, _, err := h.engine.ActorState(game.ActorID(id)); err != nil {
			return 0, false, http.StatusNotFound, err
		}
		return game.ActorID(id), false, 0, nil
	}

	id, err := h.engine.Spawn(game.SpawnOptions{
		Name:       q.Get("name"),
		Controlled: true,
		Context:    q.Get("context"),
	})
	if err != nil {
		RecordConnectionRejected("spawn")
		return 0, false, http.StatusServiceUnavailable, err
	}
	return id, true, 0, nil
}

func (h *SessionHub) welcome(actor game.ActorID) ([]byte, error) {
	state, _, err := h.engine.ActorState(actor)
	if err != nil {
		return nil, err
	}
	body, err := wire.EncodeWelcome(wire.Welcome{
		Actor:    actor,
		TickRate: h.engine.Config().TickRate,
		Spawn:    state,
	})
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.MsgTypeWelcome, actor, body)
}

// remove detaches s. Safe to call from both pumps.
func (h *SessionHub) remove(s *session) {
	s.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.sessions, s)
		count := len(h.sessions)
		h.mu.Unlock()

		close(s.done)
		s.conn.Close()
		h.limiter.Release(s.ip)

		if s.owned {
			if err := h.engine.Despawn(s.actor); err != nil && !errors.Is(err, game.ErrActorNotFound) {
				log.Printf("⚠️ Despawn actor %d: %v", s.actor, err)
			}
		}

		log.Printf("📱 Session for actor %d disconnected (%d remaining)", s.actor, count)
		UpdateWSConnections(count)
	})
}

// Stop closes every session.
func (h *SessionHub) Stop() {
	h.mu.RLock()
	all := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		h.remove(s)
	}
}

// readPump decodes client frames. The header actor is ignored; a session
// only ever drives its own actor.
func (s *session) readPump() {
	defer s.hub.remove(s)

	s.conn.SetReadLimit(wire.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ Session for actor %d: %v", s.actor, err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		RecordWSMessage("in")

		f, err := wire.Decode(data)
		if err != nil {
			log.Printf("⚠️ Session for actor %d sent a bad frame: %v", s.actor, err)
			if errors.Is(err, wire.ErrVersionMismatch) {
				return
			}
			continue
		}
		s.handle(f)
	}
}

func (s *session) handle(f wire.Frame) {
	engine := s.hub.engine

	switch f.Type {
	case wire.MsgTypeInput:
		in, err := wire.ParseInput(f.Body)
		if err != nil {
			log.Printf("⚠️ Input from actor %d: %v", s.actor, err)
			return
		}
		// Sessions attached to a server-driven actor only watch
		err = engine.SubmitInput(s.actor, in)
		if err != nil && !errors.Is(err, game.ErrQueueFull) && !errors.Is(err, game.ErrNotControlled) {
			log.Printf("⚠️ Input for actor %d: %v", s.actor, err)
		}

	case wire.MsgTypeActionRequest:
		if s.actions != nil && !s.actions.Allow() {
			RecordConnectionRejected("rate_limit")
			return
		}
		req, err := wire.DecodeActionRequest(f.Body)
		if err != nil {
			log.Printf("⚠️ Action request from actor %d: %v", s.actor, err)
			return
		}
		if err := engine.SubmitAction(s.actor, req); err != nil && !errors.Is(err, game.ErrQueueFull) {
			log.Printf("⚠️ Action for actor %d: %v", s.actor, err)
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.hub.remove(s)
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
			RecordWSMessage("out")

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
