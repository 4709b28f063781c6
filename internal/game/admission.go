package game

import "log"

// Side selects which set of timing thresholds the state machine uses.
type Side uint8

const (
	SideServer Side = iota
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// AdmissionThresholds are the normalized-time gates of the transition rules.
type AdmissionThresholds struct {
	DodgeCancel float32 // Attacks may cancel a dodge from here on
	ReDodge     float32 // A dodge may cancel a dodge from here on
	Counter     float32 // Attacks may cancel a blocking reaction from here on
}

// ServerThresholds and ClientThresholds are the stock values. The owning
// client waits slightly longer to absorb position correction.
var (
	ServerThresholds = AdmissionThresholds{DodgeCancel: 0.55, ReDodge: 0.52, Counter: 0.15}
	ClientThresholds = AdmissionThresholds{DodgeCancel: 0.57, ReDodge: 0.57, Counter: 0.15}
)

// StateMachineConfig configures an ActionStateMachine.
type StateMachineConfig struct {
	Side         Side
	Thresholds   AdmissionThresholds
	Lunge        LungeWindow
	Grab         LungeWindow // Reach of an open grab window
	StaminaRegen float32 // Per second
	RageDecay    float32 // Per second while idle
	RageOnHit    float32 // Granted when a hit reaction is admitted
}

// DefaultStateMachineConfig returns the stock configuration for side.
func DefaultStateMachineConfig(side Side) StateMachineConfig {
	th := ServerThresholds
	if side == SideClient {
		th = ClientThresholds
	}
	return StateMachineConfig{
		Side:         side,
		Thresholds:   th,
		Lunge:        DefaultLungeWindow(),
		Grab:         DefaultGrabReach(),
		StaminaRegen: 20,
		RageDecay:    2,
		RageOnHit:    15,
	}
}

// Verdict is the outcome of an admission check.
type Verdict struct {
	CanPlay                bool
	UseAlternateTransition bool // Blend faster; set when cancelling out of a dodge

	// Lunged is set when the request was replaced by a lunge toward Target.
	// CanPlay is false for the original request in that case.
	Lunged bool
	Lunge  *ActionDescriptor
	Target ActorID
}

// RequestOptions carries per-request context.
type RequestOptions struct {
	IsFollowUp bool // Re-issued after a lunge; never lunges again

	// Used for lunge target resolution.
	Self   ActorID
	Origin Vec3
	Facing Quat
}

// AdvanceResult reports what happened during one Advance.
type AdvanceResult struct {
	Completed *ActionDescriptor // Action whose play-through ended this step
	Released  *ActionDescriptor // Charged action whose charge completed this step
	FollowUp  *ActionDescriptor // Deferred attack re-issued after a lunge
	Verdict   Verdict           // Verdict of the re-issued follow-up
}

// ActionStateMachine is the admission engine. It holds no per-actor state;
// one instance serves every actor of an authority.
type ActionStateMachine struct {
	cfg     StateMachineConfig
	catalog *ActionCatalog
	spatial SpatialQuery
}

// NewActionStateMachine creates a state machine. spatial may be nil, in
// which case attacks never lunge.
func NewActionStateMachine(cfg StateMachineConfig, catalog *ActionCatalog, spatial SpatialQuery) *ActionStateMachine {
	return &ActionStateMachine{cfg: cfg, catalog: catalog, spatial: spatial}
}

// Side returns the configured side.
func (m *ActionStateMachine) Side() Side {
	return m.cfg.Side
}

// Evaluate decides admission without mutating anything.
func (m *ActionStateMachine) Evaluate(a *ActorActionState, r *ActionDescriptor, opts RequestOptions) Verdict {
	if r == nil {
		return Verdict{}
	}

	ok, alt := m.admit(a, r)
	if !ok {
		return Verdict{}
	}

	if lunge, target, found := m.resolveLunge(a, r, opts); found {
		return Verdict{Lunged: true, Lunge: lunge, Target: target}
	}

	return Verdict{CanPlay: true, UseAlternateTransition: alt}
}

// Request evaluates r and, when admitted, installs it. A lunge verdict installs
// the lunge clip and defers r until the lunge completes.
func (m *ActionStateMachine) Request(a *ActorActionState, r *ActionDescriptor, opts RequestOptions) Verdict {
	v := m.Evaluate(a, r, opts)

	switch {
	case v.Lunged:
		_, alt := m.admit(a, v.Lunge)
		m.apply(a, v.Lunge, alt)
		a.Status.Lunging = true
		a.PendingFollowUp = r
	case v.CanPlay:
		m.apply(a, r, v.UseAlternateTransition)
	}
	return v
}

// admit applies the ordered rule set. First rejection wins.
func (m *ActionStateMachine) admit(a *ActorActionState, r *ActionDescriptor) (ok, alternate bool) {
	st := a.Status
	reaction := r.IsReaction()

	// Suppressed movement still allows reactions and attacks.
	if st.CannotMove && !reaction && !r.IsAttack {
		return false, false
	}
	if st.Rooted && !reaction && !r.IsAttack {
		return false, false
	}

	if r.MustBeAiming && !st.Aiming {
		return false, false
	}

	if st.Silenced && r.Clip == ClipAbility {
		return false, false
	}

	// Costs come from the descriptor.
	if !canAfford(a, r) {
		return false, false
	}

	if st.Grabbed && !reaction && r.Ailment != AilmentGrab {
		return false, false
	}

	if reaction && !m.reactionAllowed(a, r) {
		return false, false
	}

	// Per-clip transition rules against what is playing.
	if a.Playing() {
		ok, alternate = m.transition(a, r)
		if !ok {
			return false, false
		}
	}

	// Redundant re-trigger of the state already blending in.
	if a.InTransition && a.NextState == r.state() {
		return false, false
	}

	return true, alternate
}

// transition applies the per-clip-type rules against the playing action.
func (m *ActionStateMachine) transition(a *ActorActionState, r *ActionDescriptor) (ok, alternate bool) {
	c := a.Current
	p := a.NormalizedTime
	th := m.cfg.Thresholds
	inRecovery := p >= c.RecoveryNormalizedTime

	if c.Ailment == AilmentDeath {
		return false, false
	}

	switch r.Clip {
	case ClipDodge:
		switch {
		case c.CanDodge:
			return true, false
		case c.DodgeLock == DodgeLockEntireAnimation:
			return false, false
		case c.DodgeLock == DodgeLockRecovery && inRecovery:
			return false, false
		case c.Clip == ClipDodge:
			return p >= th.ReDodge, false
		case c.IsAttack:
			return true, false
		case c.IsReaction():
			return false, false
		}
		return true, false

	case ClipLightAttack, ClipHeavyAttack, ClipAbility, ClipFlashAttack, ClipReload, ClipGrabAttack:
		switch {
		case c.Clip == ClipDodge:
			if p >= th.DodgeCancel {
				return true, true
			}
			return false, false
		case c.Clip == ClipHitReaction && c.IsBlocking:
			return p >= th.Counter, false
		case c.IsReaction():
			return false, false
		case (r.Clip == ClipHeavyAttack || r.Clip == ClipAbility) && guardsCancel(c.Clip):
			// No recovery exception: the playing attack must grant the cancel.
			return c.canBeCancelledBy(r.category()), false
		case inRecovery:
			return true, false
		case r.Clip == ClipReload:
			return false, false
		}
		return cancelAllowed(c, r), false

	case ClipHitReaction, ClipFlinch:
		// No restacking a knockdown that is still blending in.
		if c.Ailment == AilmentKnockdown && r.Ailment == AilmentKnockdown && a.InTransition {
			return false, false
		}
		return true, false
	}

	// Lunge and anything unclassified only start from rest or recovery.
	return inRecovery, false
}

// reactionAllowed applies the invincibility and super-armor flags to hits.
func (m *ActionStateMachine) reactionAllowed(a *ActorActionState, r *ActionDescriptor) bool {
	if a.IsInvincible() && r.Ailment != AilmentDeath {
		return false
	}
	if a.Status.Uninterruptable {
		if r.Clip == ClipFlinch {
			return false
		}
		return r.Ailment == AilmentDeath || r.Ailment == AilmentGrab
	}
	return true
}

// cancelAllowed is the asymmetric cancel matrix. Heavy and ability requests
// need the playing action's explicit permission. Light and flash requests may
// also carry their own permission to cancel the playing category.
func cancelAllowed(c, r *ActionDescriptor) bool {
	target := c.category()
	if target == cancelNone {
		// A lunge always plays through; reloads and other utility clips yield.
		return c.Clip != ClipLunge && !c.IsAttack
	}

	req := r.category()
	if c.canBeCancelledBy(req) {
		return true
	}

	switch r.Clip {
	case ClipLightAttack, ClipFlashAttack:
		return r.canCancel(target)
	}
	return false
}

// guardsCancel reports whether a playing clip of type c keeps heavy and
// ability requests out unless it explicitly allows them.
func guardsCancel(c ClipType) bool {
	switch c {
	case ClipLightAttack, ClipHeavyAttack, ClipAbility:
		return true
	}
	return false
}

func canAfford(a *ActorActionState, r *ActionDescriptor) bool {
	return r.StaminaCost <= a.Resources.Stamina && r.RageCost <= a.Resources.Rage
}

// resolveLunge reports whether r should be replaced by a lunge.
func (m *ActionStateMachine) resolveLunge(a *ActorActionState, r *ActionDescriptor, opts RequestOptions) (*ActionDescriptor, ActorID, bool) {
	if !r.IsAttack || !r.CanLunge || opts.IsFollowUp {
		return nil, 0, false
	}
	if a.Status.Lunging || a.PendingFollowUp != nil || m.spatial == nil || m.catalog == nil {
		return nil, 0, false
	}

	name := r.LungeAction
	if name == "" {
		name = DefaultLungeAction
	}
	lunge, err := m.catalog.Lookup(name)
	if err != nil {
		return nil, 0, false
	}

	target, found := m.cfg.Lunge.Target(m.spatial, opts.Self, opts.Origin, opts.Facing)
	if !found {
		return nil, 0, false
	}

	// Both clips must be affordable on their own; the lunge must also pass
	// the regular rules against whatever is playing now.
	if !canAfford(a, lunge) {
		return nil, 0, false
	}
	if ok, _ := m.admit(a, lunge); !ok {
		return nil, 0, false
	}
	return lunge, target.Actor, true
}

// apply installs r as the current action.
func (m *ActionStateMachine) apply(a *ActorActionState, r *ActionDescriptor, alternate bool) {
	a.tearDown()

	a.Resources.Stamina -= r.StaminaCost
	a.Resources.Rage -= r.RageCost

	a.Current = r
	a.NormalizedTime = 0
	a.InTransition = true
	a.NextState = r.state()
	a.UseAlternateTransition = alternate
	if alternate {
		a.TransitionLeft = r.AlternateTransitionTime
	} else {
		a.TransitionLeft = r.TransitionTime
	}

	switch {
	case r.Clip == ClipDodge:
		a.InvincibleFor = float32(r.InvincibilityFraction * r.Duration)
	case r.IsReaction():
		a.Resources.Rage = min(a.Resources.Rage+m.cfg.RageOnHit, a.Resources.MaxRage)
		if r.Ailment == AilmentGrab {
			a.Status.Grabbed = true
		}
	}

	if r.ChargeTime > 0 {
		a.Timers.Charging = true
	}
	if r.GrabWindow > 0 {
		a.Timers.GrabArmed = true
	}
}

// Advance moves the actor's action state forward by dt seconds: resource
// regeneration, transition blend, i-frames, playback and the explicit
// charge/grab timers. A lunge that completes re-issues its deferred attack.
func (m *ActionStateMachine) Advance(a *ActorActionState, dt float32) AdvanceResult {
	var res AdvanceResult

	res.Completed, res.Released = m.advancePlayback(a, dt)
	m.regenerate(a, dt)

	if a.InvincibleFor > 0 {
		a.InvincibleFor = max(a.InvincibleFor-dt, 0)
	}
	if a.InTransition {
		a.TransitionLeft -= dt
		if a.TransitionLeft <= 0 {
			a.InTransition = false
			a.NextState = ""
			a.TransitionLeft = 0
		}
	}

	if res.Completed != nil && res.Completed.Clip == ClipLunge {
		fu := a.PendingFollowUp
		a.PendingFollowUp = nil
		a.Status.Lunging = false
		if fu != nil {
			res.FollowUp = fu
			res.Verdict = m.Request(a, fu, RequestOptions{IsFollowUp: true})
			if !res.Verdict.CanPlay {
				log.Printf("⚠️ Follow-up %q rejected after lunge", fu.Name)
			}
		}
	}
	return res
}

func (m *ActionStateMachine) advancePlayback(a *ActorActionState, dt float32) (completed, released *ActionDescriptor) {
	c := a.Current
	if c == nil {
		return nil, nil
	}

	if c.Duration > 0 {
		a.NormalizedTime += dt / c.Duration
	} else {
		a.NormalizedTime = 1
	}

	t := &a.Timers
	if t.Charging {
		t.ChargeElapsed += dt
		if a.NormalizedTime > c.AttackingNormalizedTime {
			a.NormalizedTime = c.AttackingNormalizedTime
		}
		if t.ChargeElapsed >= c.ChargeTime {
			t.Charging = false
			t.Charged = true
			released = c
		}
	}
	if t.GrabArmed && c.Phase(a.NormalizedTime) >= PhaseActive {
		t.GrabElapsed += dt
		if t.GrabElapsed >= c.GrabWindow {
			t.GrabArmed = false
		}
	}

	if c.Looping || a.NormalizedTime < 1 {
		return nil, released
	}

	a.finish()
	a.Current = nil
	a.NormalizedTime = 0
	return c, released
}

// Grab resolves grabber's open grab window against victim: the victim is
// offered the grabbed reaction and the window closes whether or not it lands.
// It returns nil when no grab window is open or the catalog has no grabbed
// reaction.
func (m *ActionStateMachine) Grab(grabber, victim *ActorActionState) (*ActionDescriptor, Verdict) {
	if !grabber.GrabOpen() {
		return nil, Verdict{}
	}
	grabber.Timers.GrabArmed = false

	if m.catalog == nil {
		return nil, Verdict{}
	}
	reaction, err := m.catalog.Lookup(DefaultGrabbedAction)
	if err != nil {
		return nil, Verdict{}
	}
	v := m.Request(victim, reaction, RequestOptions{})
	grabber.Timers.GrabLanded = v.CanPlay
	return reaction, v
}

func (m *ActionStateMachine) regenerate(a *ActorActionState, dt float32) {
	r := &a.Resources
	if r.Stamina < r.MaxStamina {
		r.Stamina = min(r.Stamina+float32(m.cfg.StaminaRegen*dt), r.MaxStamina)
	}
	if !a.Playing() && r.Rage > 0 {
		r.Rage = max(r.Rage-float32(m.cfg.RageDecay*dt), 0)
	}
}
