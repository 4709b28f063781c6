package game

// Resources are the spendable pools gated by admission.
type Resources struct {
	Stamina    float32 `json:"stamina"`
	MaxStamina float32 `json:"maxStamina"`
	Rage       float32 `json:"rage"`
	MaxRage    float32 `json:"maxRage"`
}

// Default pools for a freshly spawned actor.
const (
	DefaultMaxStamina float32 = 100
	DefaultMaxRage    float32 = 100
	DefaultStartRage  float32 = 50
)

// StatusFlags are externally applied conditions that restrict admission.
type StatusFlags struct {
	CannotMove      bool `json:"cannotMove"`
	Rooted          bool `json:"rooted"`
	Silenced        bool `json:"silenced"`
	Invincible      bool `json:"invincible"`
	Uninterruptable bool `json:"uninterruptable"`
	Grabbed         bool `json:"grabbed"`
	Aiming          bool `json:"aiming"`
	Lunging         bool `json:"lunging"`
}

// ActionTimers replace suspended sequencing (charge holds, grab checks) with
// elapsed-time counters advanced by the tick. They belong to the current
// action and are cleared whenever it is replaced.
type ActionTimers struct {
	Charging      bool    // Holding the wind-up pose until ChargeTime elapses
	Charged       bool    // Charge completed this play-through
	ChargeElapsed float32 // Seconds spent charging
	GrabArmed     bool    // Grab window open while the action is active
	GrabElapsed   float32 // Seconds the grab window has been open
	GrabLanded    bool    // The window caught a target this play-through
}

// ActorActionState is the per-actor action state owned by one authority.
// Only the ActionStateMachine mutates it.
type ActorActionState struct {
	Current        *ActionDescriptor
	NormalizedTime float32

	InTransition           bool
	NextState              string
	TransitionLeft         float32 // Seconds of blend remaining
	UseAlternateTransition bool

	Resources Resources
	Status    StatusFlags

	InvincibleFor   float32           // Seconds of dodge invincibility remaining
	PendingFollowUp *ActionDescriptor // Attack deferred behind a lunge

	Timers ActionTimers
}

// NewActorActionState creates the state for a freshly spawned actor.
func NewActorActionState() *ActorActionState {
	return &ActorActionState{
		Resources: Resources{
			Stamina:    DefaultMaxStamina,
			MaxStamina: DefaultMaxStamina,
			Rage:       DefaultStartRage,
			MaxRage:    DefaultMaxRage,
		},
	}
}

// Playing reports whether an action is currently in progress.
func (a *ActorActionState) Playing() bool {
	return a.Current != nil
}

// IsInvincible reports whether hits other than Death are ignored.
func (a *ActorActionState) IsInvincible() bool {
	return a.Status.Invincible || a.InvincibleFor > 0
}

// Phase returns the phase of the current action.
func (a *ActorActionState) Phase() ActionPhase {
	if a.Current == nil {
		return PhaseIdle
	}
	return a.Current.Phase(a.NormalizedTime)
}

// GrabOpen reports whether the current grab is looking for a target.
func (a *ActorActionState) GrabOpen() bool {
	return a.Timers.GrabArmed && a.Phase() == PhaseActive
}

// tearDown stops everything tied to the current action before it is replaced.
func (a *ActorActionState) tearDown() {
	a.Timers = ActionTimers{}
	if a.Current != nil && a.Current.Clip == ClipLunge {
		a.Status.Lunging = false
		a.PendingFollowUp = nil
	}
	if a.Current != nil && a.Current.Ailment == AilmentGrab {
		a.Status.Grabbed = false
	}
}

// finish clears per-action state when a play-through ends. Lunge bookkeeping
// is left to the caller, which still has to re-issue the follow-up.
func (a *ActorActionState) finish() {
	a.Timers = ActionTimers{}
	if a.Current != nil && a.Current.Ailment == AilmentGrab {
		a.Status.Grabbed = false
	}
}

// ActionSnapshot is a read-only copy of the action state for observers.
type ActionSnapshot struct {
	Action         string      `json:"action,omitempty"`
	Clip           ClipType    `json:"clip"`
	NormalizedTime float32     `json:"normalizedTime"`
	InTransition   bool        `json:"inTransition"`
	Charging       bool        `json:"charging,omitempty"`
	Charged        bool        `json:"charged,omitempty"`
	GrabLanded     bool        `json:"grabLanded,omitempty"`
	Resources      Resources   `json:"resources"`
	Status         StatusFlags `json:"status"`
}

// Snapshot copies the observable parts of the state.
func (a *ActorActionState) Snapshot() ActionSnapshot {
	s := ActionSnapshot{
		NormalizedTime: a.NormalizedTime,
		InTransition:   a.InTransition,
		Charging:       a.Timers.Charging,
		Charged:        a.Timers.Charged,
		GrabLanded:     a.Timers.GrabLanded,
		Resources:      a.Resources,
		Status:         a.Status,
	}
	s.Status.Invincible = a.IsInvincible()
	if a.Current != nil {
		s.Action = a.Current.Name
		s.Clip = a.Current.Clip
	}
	return s
}
