package game

import "testing"

// loopSender delivers client messages straight into an engine.
type loopSender struct {
	engine *Engine
	id     ActorID
}

func (s loopSender) SendInput(in InputPayload) error {
	return s.engine.SubmitInput(s.id, in)
}

func (s loopSender) SendAction(req ActionRequest) error {
	return s.engine.SubmitAction(s.id, req)
}

type pendingState struct {
	actor ActorID
	state StatePayload
}

// delayedLink holds server output until the test delivers it.
type delayedLink struct {
	client  *ClientActor
	pending []pendingState
	actions []ActionBroadcast
}

func (l *delayedLink) BroadcastState(actor ActorID, state StatePayload) {
	l.pending = append(l.pending, pendingState{actor, state})
}

func (l *delayedLink) BroadcastAction(actor ActorID, a ActionBroadcast) {
	l.actions = append(l.actions, a)
	l.client.ReceiveAction(actor, a)
}

// deliver hands over every state produced at or before tick.
func (l *delayedLink) deliver(tick Tick) {
	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.state.Tick <= tick {
			l.client.ReceiveState(p.actor, p.state)
		} else {
			kept = append(kept, p)
		}
	}
	l.pending = kept
}

// knockback adds an external force at one tick on top of action root motion.
type knockback struct {
	at    Tick
	force Vec3
}

func (k knockback) Motion(in InputPayload, cur StatePayload, a *ActorActionState) MotionFrame {
	f := ActionMotionSource{}.Motion(in, cur, a)
	if in.Tick == k.at {
		f.External = k.force
	}
	return f
}

func newLoopback(t *testing.T) (*Engine, *ClientActor, *delayedLink) {
	t.Helper()
	e := NewEngine(DefaultEngineConfig(), nil)
	id := mustSpawn(t, e, SpawnOptions{Controlled: true})

	c := NewClientActor(id, DefaultClientConfig(), nil, loopSender{engine: e, id: id})
	c.Spawn(StatePayload{Rotation: QuatIdentity})

	link := &delayedLink{client: c}
	e.SetBroadcaster(link)
	return e, c, link
}

func TestClientLoopbackStaysSynced(t *testing.T) {
	e, c, link := newLoopback(t)
	c.SetInput(Vec2{X: 0.7, Y: -0.4}, QuatFromYaw(0.3))

	for tick := Tick(1); tick <= 40; tick++ {
		_, res := c.Tick(tick)
		if res.Diverged {
			t.Fatalf("Tick %d diverged: %+v", tick, res)
		}
		e.Step(tick)
		link.deliver(tick)
	}

	server, _, _ := e.ActorState(c.ID())
	if !c.Current().Equal(server) {
		t.Errorf("Expected %+v, got %+v", server, c.Current())
	}
}

func TestClientReconcilesServerKnockback(t *testing.T) {
	e, c, link := newLoopback(t)
	e.SetMotionSource(knockback{at: 5, force: Vec3{X: 20}})
	c.SetInput(Vec2{Y: 1}, QuatIdentity)

	const latency = 3
	corrections := 0
	for tick := Tick(1); tick <= 20; tick++ {
		_, res := c.Tick(tick)
		if res.Diverged {
			corrections++
			if res.AuthTick != 5 || res.Replayed != latency {
				t.Errorf("Expected correction at tick 5 replaying %d, got %+v", latency, res)
			}
		}
		e.Step(tick)
		if tick > latency {
			link.deliver(tick - latency)
		}
	}

	if corrections != 1 {
		t.Errorf("Expected exactly one correction, got %d", corrections)
	}
	server, _, _ := e.ActorState(c.ID())
	if !c.Current().Equal(server) {
		t.Errorf("Expected client to converge on %+v, got %+v", server, c.Current())
	}
}

func TestClientPredictedDodge(t *testing.T) {
	e, c, link := newLoopback(t)
	c.SetInput(Vec2{X: 1}, QuatIdentity)

	for tick := Tick(1); tick <= 30; tick++ {
		if tick == 4 {
			v, err := c.RequestAction("dodge")
			if err != nil || !v.CanPlay {
				t.Fatalf("Expected dodge to be predicted, got %+v, %v", v, err)
			}
		}
		if _, res := c.Tick(tick); res.Diverged {
			t.Fatalf("Tick %d diverged after a predicted dodge: %+v", tick, res)
		}
		e.Step(tick)
		link.deliver(tick)
	}

	if len(link.actions) != 1 || !link.actions[0].WasPredictedOnOwner {
		t.Errorf("Expected one predicted dodge broadcast, got %+v", link.actions)
	}
	if _, err := c.RequestAction("teleport"); err == nil {
		t.Error("Expected an error for an unknown action")
	}
}

func TestClientInterpolatesRemotes(t *testing.T) {
	e, c, link := newLoopback(t)
	other := mustSpawn(t, e, SpawnOptions{Position: Vec3{X: 2}, Input: constantInput{movement: Vec2{Y: 1}}})

	if _, ok := c.Remote(other); ok {
		t.Fatal("Expected no remote before any state arrived")
	}

	for tick := Tick(1); tick <= 10; tick++ {
		c.Tick(tick)
		e.Step(tick)
		link.deliver(tick)
	}

	got, ok := c.Remote(other)
	if !ok {
		t.Fatal("Expected remote actor to be tracked")
	}
	server, _, _ := e.ActorState(other)
	if got.Position.X != 2 || got.Position.Z <= 0 || got.Position.Z > server.Position.Z {
		t.Errorf("Expected rendered pose trailing %+v, got %+v", server.Position, got.Position)
	}

	c.Forget(other)
	if _, ok := c.Remote(other); ok {
		t.Error("Expected forgotten remote to be gone")
	}
}
