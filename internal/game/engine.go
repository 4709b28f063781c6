package game

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"melee-core/internal/game/spatial"
)

var (
	ErrActorNotFound = errors.New("actor not found")
	ErrActorLimit    = errors.New("actor limit reached")
	ErrNotControlled = errors.New("actor is not client controlled")
	ErrNonFinite     = errors.New("input has non-finite components")
)

// Broadcaster publishes server output. Implementations must not block the
// tick; the websocket hub only enqueues.
type Broadcaster interface {
	// BroadcastState goes to the owner (for reconciliation) and to every
	// observer (for interpolation).
	BroadcastState(actor ActorID, state StatePayload)
	// BroadcastAction goes to everyone except the owner.
	BroadcastAction(actor ActorID, action ActionBroadcast)
}

// DespawnBroadcaster is optionally implemented by a Broadcaster that wants
// to tell clients an actor left.
type DespawnBroadcaster interface {
	BroadcastDespawn(actor ActorID)
}

// ActionBroadcast tells observers which action an actor started.
type ActionBroadcast struct {
	ActionName          string  `json:"actionName" msgpack:"actionName"`
	ContextName         string  `json:"contextName" msgpack:"contextName"`
	TransitionTime      float32 `json:"transitionTime" msgpack:"transitionTime"`
	WasPredictedOnOwner bool    `json:"wasPredictedOnOwner" msgpack:"wasPredictedOnOwner"`
	RootMotionID        int32   `json:"rootMotionId" msgpack:"rootMotionId"`
}

// InputSource authors input for server-controlled actors (NPCs).
type InputSource interface {
	NextInput(tick Tick, self ActorID, state StatePayload) InputPayload
}

// StepStats summarizes one Engine.Step for observers.
type StepStats struct {
	Tick           Tick
	Duration       time.Duration
	Actors         int
	Inputs         int
	LateInputs     int
	Admitted       int
	Rejected       int
	Lunges         int
	FollowUps      int
	UnknownActions int
	Grabs          int // Grab windows that landed on a target

	// Cumulative queue overflow across live actors
	DroppedInputs  uint64
	DroppedActions uint64
}

// StepObserver receives StepStats after every step; used for metrics.
type StepObserver interface {
	ObserveStep(StepStats)
}

// EngineConfig configures the server simulation.
type EngineConfig struct {
	TickRate          int
	BufferSize        int
	MoveSpeed         float32
	MaxActors         int
	ActionQueueSize   int
	InputQueueSize    int
	MaxSnapshotActors int
	ArenaSize         float32 // Side of the square arena centered on the origin
	StateMachine      StateMachineConfig
}

// DefaultEngineConfig returns the stock server configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickRate:          30,
		BufferSize:        DefaultBufferSize,
		MoveSpeed:         5,
		MaxActors:         256,
		ActionQueueSize:   32,
		InputQueueSize:    128,
		MaxSnapshotActors: 256,
		ArenaSize:         100,
		StateMachine:      DefaultStateMachineConfig(SideServer),
	}
}

// SpawnOptions describes a new actor.
type SpawnOptions struct {
	Name       string
	Controlled bool   // Input arrives from a client
	Context    string // Equipped weapon identity, echoed in action broadcasts
	Position   Vec3
	Facing     Quat
	Input      InputSource // Server-authored input; ignored when Controlled
}

// Actor is one simulated body on the server. All fields are owned by the
// tick goroutine except the two queues.
type Actor struct {
	ID         ActorID
	Name       string
	Context    string
	Controlled bool

	state   StatePayload
	buffer  *PredictionBuffer
	actions *ActorActionState
	input   InputSource

	actionQueue *ActionQueue
	inputQueue  *InputQueue
}

// Engine is the authoritative server simulation.
type Engine struct {
	mu     sync.RWMutex // Guards the actor registry
	stepMu sync.Mutex   // Serializes Step

	cfg        EngineConfig
	catalog    *ActionCatalog
	machine    *ActionStateMachine
	integrator MotionIntegrator
	motion     MotionSource

	actors map[ActorID]*Actor
	order  []ActorID // Ascending; step order
	nextID ActorID
	tick   Tick

	grid  *spatial.SpatialGrid
	query gridQuery

	broadcaster Broadcaster
	observer    StepObserver

	snapshotPool *SnapshotPool
	eventLog     *EventLog

	clock    *TickClock
	driver   *TickDriver
	running  bool
	runMu    sync.Mutex
	stopOnce sync.Once
}

// NewEngine creates a server engine. A nil catalog uses DefaultCatalog.
func NewEngine(cfg EngineConfig, catalog *ActionCatalog) *Engine {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = 100
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	half := float64(cfg.ArenaSize) / 2
	cell := float64(max(cfg.StateMachine.Lunge.MaxDistance, 1))

	e := &Engine{
		cfg:          cfg,
		catalog:      catalog,
		integrator:   NewMotionIntegrator(cfg.TickRate, cfg.MoveSpeed),
		motion:       ActionMotionSource{},
		actors:       make(map[ActorID]*Actor),
		nextID:       1,
		grid:         spatial.NewSpatialGrid(-half, -half, half, half, cell, cfg.MaxActors),
		snapshotPool: NewSnapshotPool(cfg.MaxSnapshotActors),
		eventLog:     NewEventLog(),
	}
	e.query = gridQuery{grid: e.grid}
	e.machine = NewActionStateMachine(cfg.StateMachine, catalog, e.query)
	return e
}

// SetBroadcaster installs the output sink. Call before Start.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.stepMu.Lock()
	e.broadcaster = b
	e.stepMu.Unlock()
}

// SetObserver installs the per-step observer. Call before Start.
func (e *Engine) SetObserver(o StepObserver) {
	e.stepMu.Lock()
	e.observer = o
	e.stepMu.Unlock()
}

// SetMotionSource replaces the root-motion provider.
func (e *Engine) SetMotionSource(m MotionSource) {
	e.stepMu.Lock()
	e.motion = m
	e.stepMu.Unlock()
}

// Attach subscribes the engine to an external tick source.
func (e *Engine) Attach(src TickSource) {
	src.Subscribe(e.Step)
}

// Start runs the engine on its own clock at the configured rate.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.clock = NewTickClock()
	e.Attach(e.clock)
	e.driver = NewTickDriver(e.clock, e.cfg.TickRate)
	e.driver.Start()

	log.Printf("🎮 Engine started at %d TPS (reconcile window %s)",
		e.cfg.TickRate, NewPredictionBuffer(e.cfg.BufferSize).Window(e.cfg.TickRate))
}

// Stop halts the clock. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.runMu.Lock()
		if e.driver != nil {
			e.driver.Stop()
		}
		e.running = false
		e.runMu.Unlock()
		log.Println("🛑 Engine stopped")
	})
}

// Spawn adds an actor at the current tick.
func (e *Engine) Spawn(opts SpawnOptions) (ActorID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MaxActors > 0 && len(e.actors) >= e.cfg.MaxActors {
		return 0, ErrActorLimit
	}

	id := e.nextID
	e.nextID++

	facing := opts.Facing
	if facing == (Quat{}) {
		facing = QuatIdentity
	}

	a := &Actor{
		ID:          id,
		Name:        opts.Name,
		Context:     opts.Context,
		Controlled:  opts.Controlled,
		state:       StatePayload{Tick: e.tick, Position: opts.Position, Rotation: facing.Normalize()},
		buffer:      NewPredictionBuffer(e.cfg.BufferSize),
		actions:     NewActorActionState(),
		actionQueue: NewActionQueue(e.cfg.ActionQueueSize),
		inputQueue:  NewInputQueue(e.cfg.InputQueueSize),
	}
	if !opts.Controlled {
		a.input = opts.Input
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("actor-%d", id)
	}
	a.buffer.RecordState(a.state.Tick, a.state)

	e.actors[id] = a
	i := sort.Search(len(e.order), func(i int) bool { return e.order[i] >= id })
	e.order = append(e.order, 0)
	copy(e.order[i+1:], e.order[i:])
	e.order[i] = id

	e.eventLog.EmitSimple(EventTypeSpawn, e.tick, id, SpawnPayload{
		Name:       a.Name,
		Controlled: a.Controlled,
		Position:   a.state.Position,
	})
	log.Printf("👤 Spawned %s as actor %d (controlled=%v)", a.Name, id, a.Controlled)
	return id, nil
}

// Despawn removes an actor and destroys its action state.
func (e *Engine) Despawn(id ActorID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.actors[id]
	if !ok {
		return ErrActorNotFound
	}
	delete(e.actors, id)
	if i := sort.Search(len(e.order), func(i int) bool { return e.order[i] >= id }); i < len(e.order) && e.order[i] == id {
		e.order = append(e.order[:i], e.order[i+1:]...)
	}

	e.eventLog.EmitSimple(EventTypeDespawn, e.tick, id, nil)
	e.eventLog.Forget(id)
	if db, ok := e.broadcaster.(DespawnBroadcaster); ok {
		db.BroadcastDespawn(id)
	}
	log.Printf("👤 Despawned %s (actor %d)", a.Name, id)
	return nil
}

// SubmitInput queues a network input for a controlled actor. Safe from any
// goroutine. Server-driven actors and inputs carrying NaN or Inf are refused.
func (e *Engine) SubmitInput(id ActorID, in InputPayload) error {
	if !in.Finite() {
		return ErrNonFinite
	}
	e.mu.RLock()
	a, ok := e.actors[id]
	e.mu.RUnlock()
	if !ok {
		return ErrActorNotFound
	}
	if !a.Controlled {
		return ErrNotControlled
	}
	in.Motion = MotionFrame{} // Never trusted from the wire
	return a.inputQueue.Push(in)
}

// SubmitAction queues an action request. Safe from any goroutine.
func (e *Engine) SubmitAction(id ActorID, req ActionRequest) error {
	e.mu.RLock()
	a, ok := e.actors[id]
	e.mu.RUnlock()
	if !ok {
		return ErrActorNotFound
	}
	return a.actionQueue.Push(req)
}

// Step simulates one tick for every actor in ascending id order:
// actions, inputs, integration, buffering, action playback, broadcast.
func (e *Engine) Step(tick Tick) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	e.tick = tick
	stats := StepStats{Tick: tick, Actors: len(e.order)}
	dt := float32(1) / float32(e.cfg.TickRate)

	e.grid.Clear()
	for _, id := range e.order {
		p := e.actors[id].state.Position
		e.grid.Insert(uint32(id), float64(p.X), float64(p.Z))
	}

	for _, id := range e.order {
		a := e.actors[id]

		a.actionQueue.Drain(func(req ActionRequest) {
			e.handleAction(a, req, &stats)
		})

		if a.Controlled {
			a.inputQueue.Drain(func(in InputPayload) {
				if int32(uint32(in.Tick)-uint32(tick)) < 0 {
					stats.LateInputs++
					e.eventLog.EmitSimple(EventTypeLateInput, tick, a.ID, LateInputPayload{
						InputTick: in.Tick,
						LateBy:    tick.Since(in.Tick),
					})
				}
				e.integrate(a, in)
				stats.Inputs++
			})
		} else {
			in := InputPayload{Tick: tick, Facing: a.state.Rotation}
			if a.input != nil {
				in = a.input.NextInput(tick, a.ID, a.state)
				in.Tick = tick
			}
			e.integrate(a, in)
			stats.Inputs++
		}

		res := e.machine.Advance(a.actions, dt)
		if res.FollowUp != nil {
			if res.Verdict.CanPlay {
				stats.FollowUps++
				e.announce(a, res.FollowUp, res.Verdict, false)
				e.eventLog.EmitSimple(EventTypeFollowUp, tick, a.ID, e.actionPayload(a, res.FollowUp, res.Verdict))
			} else {
				stats.Rejected++
			}
		}
		if res.Released != nil {
			e.eventLog.EmitSimple(EventTypeChargeReleased, tick, a.ID, ActionPayload{Action: res.Released.Name})
		}
		if a.actions.GrabOpen() {
			e.resolveGrab(a, &stats)
		}

		if e.broadcaster != nil {
			e.broadcaster.BroadcastState(a.ID, a.state)
		}
		stats.DroppedInputs += a.inputQueue.Dropped()
		stats.DroppedActions += a.actionQueue.Dropped()
	}

	e.produceSnapshot()

	stats.Duration = time.Since(start)
	e.eventLog.EmitSimple(EventTypeTick, tick, 0, TickPayload{
		ActorCount:  stats.Actors,
		DeltaTimeNs: int64(time.Second) / int64(e.cfg.TickRate),
	})
	if e.observer != nil {
		e.observer.ObserveStep(stats)
	}
}

// integrate runs one input through the motion source, integrator and buffer.
func (e *Engine) integrate(a *Actor, in InputPayload) {
	in = ApplyControl(in, a.actions)
	in.Motion = e.motion.Motion(in, a.state, a.actions)
	next := e.integrator.Step(in, a.state)
	a.buffer.Record(in.Tick, in, next)
	a.state = next
}

// ApplyControl strips movement from input while the actor's status forbids it.
// Server and owning client run the same rule so their records agree.
func ApplyControl(in InputPayload, actions *ActorActionState) InputPayload {
	if actions != nil && (actions.Status.CannotMove || actions.Status.Rooted) {
		in.IsControllable = false
		in.Movement = Vec2{}
	}
	return in
}

func (e *Engine) handleAction(a *Actor, req ActionRequest, stats *StepStats) {
	desc, err := e.catalog.Lookup(req.ActionName)
	if err != nil {
		stats.UnknownActions++
		log.Printf("⚠️ Actor %d: %v", a.ID, err)
		e.eventLog.EmitSimple(EventTypeUnknownAction, e.tick, a.ID, ActionPayload{Action: req.ActionName})
		return
	}

	v := e.machine.Request(a.actions, desc, RequestOptions{
		IsFollowUp: req.IsFollowUp,
		Self:       a.ID,
		Origin:     a.state.Position,
		Facing:     a.state.Rotation,
	})

	switch {
	case v.Lunged:
		stats.Lunges++
		e.announce(a, v.Lunge, v, req.WasMotionPredicted)
		e.eventLog.EmitSimple(EventTypeLunge, e.tick, a.ID, e.actionPayload(a, v.Lunge, v))
	case v.CanPlay:
		stats.Admitted++
		e.announce(a, desc, v, req.WasMotionPredicted)
		e.eventLog.EmitSimple(EventTypeActionAdmitted, e.tick, a.ID, e.actionPayload(a, desc, v))
	default:
		stats.Rejected++
	}
}

// resolveGrab offers the nearest actor inside the grab reach the grabbed
// reaction. Targets come from the start-of-tick grid. The window stays open
// until something is in reach.
func (e *Engine) resolveGrab(a *Actor, stats *StepStats) {
	target, found := e.cfg.StateMachine.Grab.Target(e.query, a.ID, a.state.Position, a.state.Rotation)
	if !found {
		return
	}
	victim, ok := e.actors[target.Actor]
	if !ok {
		return
	}

	reaction, v := e.machine.Grab(a.actions, victim.actions)
	if reaction == nil {
		return
	}
	e.eventLog.EmitSimple(EventTypeGrab, e.tick, a.ID, GrabPayload{
		Action: a.actions.Current.Name,
		Victim: victim.ID,
		Landed: v.CanPlay,
	})
	if !v.CanPlay {
		return
	}
	stats.Grabs++
	e.announce(victim, reaction, v, false)
}

func (e *Engine) announce(a *Actor, d *ActionDescriptor, v Verdict, predicted bool) {
	if e.broadcaster == nil {
		return
	}
	transition := d.TransitionTime
	if v.UseAlternateTransition {
		transition = d.AlternateTransitionTime
	}
	e.broadcaster.BroadcastAction(a.ID, ActionBroadcast{
		ActionName:          d.Name,
		ContextName:         a.Context,
		TransitionTime:      transition,
		WasPredictedOnOwner: predicted,
		RootMotionID:        d.RootMotionID,
	})
}

func (e *Engine) actionPayload(a *Actor, d *ActionDescriptor, v Verdict) ActionPayload {
	return ActionPayload{
		Action:      d.Name,
		Alternate:   v.UseAlternateTransition,
		Stamina:     a.actions.Resources.Stamina,
		Rage:        a.actions.Resources.Rage,
		LungeTarget: v.Target,
	}
}

// produceSnapshot copies actor state into the triple buffer. Caller holds
// both locks.
func (e *Engine) produceSnapshot() {
	snap := e.snapshotPool.AcquireWrite()
	snap.Tick = e.tick
	snap.ActorCount = len(e.order)

	for _, id := range e.order {
		if len(snap.Actors) >= e.snapshotPool.MaxActors() {
			break
		}
		a := e.actors[id]
		snap.Actors = append(snap.Actors, ActorSnapshot{
			ID:         a.ID,
			Name:       a.Name,
			Controlled: a.Controlled,
			Context:    a.Context,
			Position:   a.state.Position,
			Rotation:   a.state.Rotation,
			Yaw:        a.state.Rotation.Yaw(),
			Action:     a.actions.Snapshot(),
		})
	}
	e.snapshotPool.PublishWrite()
}

// GetSnapshot returns the latest published snapshot (nil before the first step).
func (e *Engine) GetSnapshot() *WorldSnapshot {
	return e.snapshotPool.AcquireRead()
}

// ActorState returns the authoritative state of one actor. It takes the step
// lock, so it never observes a half-finished tick.
func (e *Engine) ActorState(id ActorID) (StatePayload, ActionSnapshot, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.actors[id]
	if !ok {
		return StatePayload{}, ActionSnapshot{}, ErrActorNotFound
	}
	return a.state, a.actions.Snapshot(), nil
}

// UpdateStatus applies fn to an actor's status flags between ticks. Used by
// tools and tests to root, silence or stun actors.
func (e *Engine) UpdateStatus(id ActorID, fn func(*StatusFlags)) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.actors[id]
	if !ok {
		return ErrActorNotFound
	}
	fn(&a.actions.Status)
	return nil
}

// Catalog returns the action catalog.
func (e *Engine) Catalog() *ActionCatalog {
	return e.catalog
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// StartEventLog starts the JSONL event log (empty path discards output).
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog flushes and closes the event log.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// EventLogStats reads the event log counters without taking the step lock,
// so it is safe to call from a StepObserver.
func (e *Engine) EventLogStats() EventLogStats {
	return e.eventLog.Stats()
}

// EngineStats is a point-in-time view for the stats endpoint.
type EngineStats struct {
	Tick           Tick              `json:"tick"`
	TickRate       int               `json:"tickRate"`
	Actors         int               `json:"actors"`
	BufferSize     int               `json:"bufferSize"`
	WindowSeconds  float64           `json:"reconcileWindowSeconds"`
	DroppedInputs  uint64            `json:"droppedInputs"`
	DroppedActions uint64            `json:"droppedActions"`
	EventLog       EventLogStats     `json:"eventLog"`
	Grid           spatial.GridStats `json:"grid"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() EngineStats {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := EngineStats{
		Tick:     e.tick,
		TickRate: e.cfg.TickRate,
		Actors:   len(e.actors),
		EventLog: e.eventLog.Stats(),
		Grid:     e.grid.Stats(),
	}
	for _, a := range e.actors {
		s.BufferSize = a.buffer.Size()
		s.DroppedInputs += a.inputQueue.Dropped()
		s.DroppedActions += a.actionQueue.Dropped()
	}
	if s.BufferSize == 0 {
		s.BufferSize = NewPredictionBuffer(e.cfg.BufferSize).Size()
	}
	s.WindowSeconds = float64(s.BufferSize) / float64(e.cfg.TickRate)
	return s
}

// gridQuery adapts the spatial grid to SpatialQuery on the XZ plane.
type gridQuery struct {
	grid *spatial.SpatialGrid
}

// Nearby implements SpatialQuery.
func (q gridQuery) Nearby(self ActorID, origin Vec3, radius float32) []LungeCandidate {
	hits := q.grid.QueryRadius(float64(origin.X), float64(origin.Z), float64(radius))
	out := make([]LungeCandidate, 0, len(hits))
	for _, h := range hits {
		if ActorID(h.ID) == self {
			continue
		}
		out = append(out, LungeCandidate{
			Actor:    ActorID(h.ID),
			Position: Vec3{X: float32(h.X), Z: float32(h.Y)},
			Distance: float32(h.Distance),
		})
	}
	return out
}
