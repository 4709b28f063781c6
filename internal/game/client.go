package game

import (
	"log"
	"sort"
	"sync"
)

// Sender delivers client messages to the server. Implementations wrap the
// websocket connection.
type Sender interface {
	SendInput(in InputPayload) error
	SendAction(req ActionRequest) error
}

// ClientConfig configures a ClientActor. Simulation values must match the
// server's EngineConfig.
type ClientConfig struct {
	TickRate     int
	BufferSize   int
	MoveSpeed    float32
	Epsilon      float32
	StateMachine StateMachineConfig
}

// DefaultClientConfig returns the stock client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		TickRate:     30,
		BufferSize:   DefaultBufferSize,
		MoveSpeed:    5,
		Epsilon:      DefaultEpsilon,
		StateMachine: DefaultStateMachineConfig(SideClient),
	}
}

// ClientActor is the owning client's view of the world: it predicts and
// reconciles the one actor it controls and interpolates everyone else.
type ClientActor struct {
	mu sync.Mutex

	id         ActorID
	dt         float32
	catalog    *ActionCatalog
	machine    *ActionStateMachine
	buffer     *PredictionBuffer
	reconciler *Reconciler
	motion     MotionSource
	actions    *ActorActionState
	sender     Sender

	movement Vec2
	facing   Quat

	remotes      map[ActorID]*RemoteInterpolator
	remoteAction map[ActorID]ActionBroadcast
}

// NewClientActor creates the client simulation for actor id. A nil catalog
// uses DefaultCatalog; sender may be nil for offline prediction.
func NewClientActor(id ActorID, cfg ClientConfig, catalog *ActionCatalog, sender Sender) *ClientActor {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	buf := NewPredictionBuffer(cfg.BufferSize)
	c := &ClientActor{
		id:           id,
		dt:           float32(1) / float32(cfg.TickRate),
		catalog:      catalog,
		buffer:       buf,
		reconciler:   NewReconciler(buf, NewMotionIntegrator(cfg.TickRate, cfg.MoveSpeed), cfg.Epsilon),
		motion:       ActionMotionSource{},
		actions:      NewActorActionState(),
		sender:       sender,
		facing:       QuatIdentity,
		remotes:      make(map[ActorID]*RemoteInterpolator),
		remoteAction: make(map[ActorID]ActionBroadcast),
	}
	c.machine = NewActionStateMachine(cfg.StateMachine, catalog, clientQuery{c: c})
	return c
}

// ID returns the controlled actor.
func (c *ClientActor) ID() ActorID {
	return c.id
}

// Spawn places the controlled actor at its authoritative spawn state.
func (c *ClientActor) Spawn(state StatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciler.Reset(state)
	c.facing = state.Rotation
}

// Attach subscribes the client to a tick source.
func (c *ClientActor) Attach(src TickSource) {
	src.Subscribe(func(t Tick) { c.Tick(t) })
}

// SetInput sets the control input used for subsequent ticks.
func (c *ClientActor) SetInput(movement Vec2, facing Quat) {
	c.mu.Lock()
	c.movement = movement
	c.facing = facing.Normalize()
	c.mu.Unlock()
}

// ReceiveState routes an authoritative payload to the reconciler (own actor)
// or to the matching interpolator (everyone else).
func (c *ClientActor) ReceiveState(actor ActorID, p StatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if actor == c.id {
		c.reconciler.Receive(p)
		return
	}
	ri, ok := c.remotes[actor]
	if !ok {
		ri = NewRemoteInterpolator()
		c.remotes[actor] = ri
	}
	ri.Receive(p)
}

// ReceiveAction records an action broadcast for a remote actor.
func (c *ClientActor) ReceiveAction(actor ActorID, b ActionBroadcast) {
	if actor == c.id {
		return
	}
	c.mu.Lock()
	c.remoteAction[actor] = b
	c.mu.Unlock()
}

// Forget drops a remote actor that left.
func (c *ClientActor) Forget(actor ActorID) {
	c.mu.Lock()
	delete(c.remotes, actor)
	delete(c.remoteAction, actor)
	c.mu.Unlock()
}

// RequestAction predicts admission locally with the client thresholds and
// forwards the request. The server decides; the request is sent even when
// the local prediction rejects it.
func (c *ClientActor) RequestAction(name string) (Verdict, error) {
	c.mu.Lock()
	desc, err := c.catalog.Lookup(name)
	if err != nil {
		c.mu.Unlock()
		return Verdict{}, err
	}

	cur := c.reconciler.Current()
	v := c.machine.Request(c.actions, desc, RequestOptions{
		Self:   c.id,
		Origin: cur.Position,
		Facing: cur.Rotation,
	})
	sender := c.sender
	c.mu.Unlock()

	if sender != nil {
		req := ActionRequest{ActionName: name, WasMotionPredicted: v.CanPlay || v.Lunged}
		if err := sender.SendAction(req); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Tick reconciles against the newest authoritative payload, then predicts
// tick now from the current control input and sends it to the server.
func (c *ClientActor) Tick(now Tick) (StatePayload, ReconcileResult) {
	c.mu.Lock()

	res := c.reconciler.Reconcile(now)

	in := InputPayload{
		Tick:           now,
		IsControllable: true,
		Movement:       c.movement,
		Facing:         c.facing,
	}
	in = ApplyControl(in, c.actions)
	in.Motion = c.motion.Motion(in, c.reconciler.Current(), c.actions)
	state := c.reconciler.Predict(in)

	c.machine.Advance(c.actions, c.dt)
	for _, ri := range c.remotes {
		ri.Step()
	}
	sender := c.sender
	c.mu.Unlock()

	if sender != nil {
		wire := in
		wire.Motion = MotionFrame{}
		if err := sender.SendInput(wire); err != nil {
			log.Printf("⚠️ Input for tick %d not sent: %v", now, err)
		}
	}
	return state, res
}

// Current returns the predicted state of the controlled actor.
func (c *ClientActor) Current() StatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciler.Current()
}

// Actions returns a copy of the predicted action state.
func (c *ClientActor) Actions() ActionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions.Snapshot()
}

// Remote returns the rendered pose of an observed actor.
func (c *ClientActor) Remote(actor ActorID) (StatePayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ri, ok := c.remotes[actor]
	if !ok {
		return StatePayload{}, false
	}
	return ri.rendered, true
}

// clientQuery resolves lunge targets against the newest remote states.
// Only called with c.mu held.
type clientQuery struct {
	c *ClientActor
}

// Nearby implements SpatialQuery.
func (q clientQuery) Nearby(self ActorID, origin Vec3, radius float32) []LungeCandidate {
	var out []LungeCandidate
	for id, ri := range q.c.remotes {
		if id == self || !ri.hasTarget {
			continue
		}
		p := ri.Target().Position
		d := Vec3{X: p.X - origin.X, Z: p.Z - origin.Z}.Length()
		if d <= radius {
			out = append(out, LungeCandidate{Actor: id, Position: p, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Actor < out[j].Actor
	})
	return out
}
