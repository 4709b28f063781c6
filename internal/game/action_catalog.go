package game

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownAction is returned when an action name is not in the catalog.
// It indicates a content bug: callers skip the request rather than fail.
var ErrUnknownAction = errors.New("unknown action")

// ClipType classifies an action for admission purposes.
type ClipType uint8

const (
	ClipNone ClipType = iota
	ClipLightAttack
	ClipHeavyAttack
	ClipAbility
	ClipDodge
	ClipHitReaction
	ClipFlinch
	ClipGrabAttack
	ClipLunge
	ClipReload
	ClipFlashAttack
)

var clipTypeNames = [...]string{
	ClipNone:        "None",
	ClipLightAttack: "LightAttack",
	ClipHeavyAttack: "HeavyAttack",
	ClipAbility:     "Ability",
	ClipDodge:       "Dodge",
	ClipHitReaction: "HitReaction",
	ClipFlinch:      "Flinch",
	ClipGrabAttack:  "GrabAttack",
	ClipLunge:       "Lunge",
	ClipReload:      "Reload",
	ClipFlashAttack: "FlashAttack",
}

func (c ClipType) String() string {
	if int(c) < len(clipTypeNames) {
		return clipTypeNames[c]
	}
	return fmt.Sprintf("ClipType(%d)", c)
}

// MarshalText makes clip types readable in JSON.
func (c ClipType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// DodgeLock controls whether a dodge may interrupt an action.
type DodgeLock uint8

const (
	DodgeLockNone            DodgeLock = iota // Dodge allowed at any point
	DodgeLockRecovery                         // No dodge once recovery has started
	DodgeLockEntireAnimation                  // No dodge until the action ends
)

func (d DodgeLock) String() string {
	switch d {
	case DodgeLockRecovery:
		return "Recovery"
	case DodgeLockEntireAnimation:
		return "EntireAnimation"
	default:
		return "None"
	}
}

// MarshalText makes dodge locks readable in JSON.
func (d DodgeLock) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Ailment is the lasting condition a hit reaction inflicts.
type Ailment uint8

const (
	AilmentNone Ailment = iota
	AilmentKnockup
	AilmentKnockdown
	AilmentGrab
	AilmentDeath
	AilmentStun
)

func (a Ailment) String() string {
	switch a {
	case AilmentKnockup:
		return "Knockup"
	case AilmentKnockdown:
		return "Knockdown"
	case AilmentGrab:
		return "Grab"
	case AilmentDeath:
		return "Death"
	case AilmentStun:
		return "Stun"
	default:
		return "None"
	}
}

// MarshalText makes ailments readable in JSON.
func (a Ailment) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ActionPhase is the stage of an action derived from its normalized time.
type ActionPhase int

const (
	PhaseIdle     ActionPhase = iota // Nothing playing
	PhaseWindUp                      // Before AttackingNormalizedTime
	PhaseActive                      // Hitbox active
	PhaseRecovery                    // Past RecoveryNormalizedTime
)

// ActionDescriptor is read-only content describing one playable action.
// Server and client must load identical descriptors for a given name.
type ActionDescriptor struct {
	Name      string   `json:"name"`
	Clip      ClipType `json:"clip"`
	StateName string   `json:"stateName"` // Animation state entered on admission (defaults to Name)

	// Cancel matrix. CanCancel* is declared by the requested action,
	// CanBeCancelledBy* by the action currently playing.
	CanCancelLightAttacks        bool `json:"canCancelLightAttacks"`
	CanCancelHeavyAttacks        bool `json:"canCancelHeavyAttacks"`
	CanCancelAbilities           bool `json:"canCancelAbilities"`
	CanBeCancelledByLightAttacks bool `json:"canBeCancelledByLightAttacks"`
	CanBeCancelledByHeavyAttacks bool `json:"canBeCancelledByHeavyAttacks"`
	CanBeCancelledByAbilities    bool `json:"canBeCancelledByAbilities"`

	DodgeLock DodgeLock `json:"dodgeLock"`
	CanDodge  bool      `json:"canDodge"` // Dodge may interrupt at any time

	AttackingNormalizedTime float32 `json:"attackingNormalizedTime"`
	RecoveryNormalizedTime  float32 `json:"recoveryNormalizedTime"`

	StaminaCost float32 `json:"staminaCost"`
	RageCost    float32 `json:"rageCost"`

	IsAttack     bool    `json:"isAttack"`
	IsBlocking   bool    `json:"isBlocking"` // Block reaction that opens a counter window
	MustBeAiming bool    `json:"mustBeAiming"`
	Ailment      Ailment `json:"ailment"`

	CanLunge    bool   `json:"canLunge"`
	LungeAction string `json:"lungeAction,omitempty"` // Lunge clip to use (defaults to "lunge")

	Duration                float32 `json:"duration"` // Seconds for one play-through
	Looping                 bool    `json:"looping"`
	TransitionTime          float32 `json:"transitionTime"`
	AlternateTransitionTime float32 `json:"alternateTransitionTime"` // Faster blend when cancelling a dodge
	RootMotion              Vec3    `json:"rootMotion"`              // Local-space velocity while playing
	RootMotionID            int32   `json:"rootMotionId"`
	InvincibilityFraction   float32 `json:"invincibilityFraction"` // Dodge i-frames as a fraction of Duration

	ChargeTime float32 `json:"chargeTime,omitempty"` // Seconds of charge before the release phase
	GrabWindow float32 `json:"grabWindow,omitempty"` // Seconds the grab checks for a target
}

// IsReaction reports whether the action is a HitReaction or Flinch.
func (d *ActionDescriptor) IsReaction() bool {
	return d.Clip == ClipHitReaction || d.Clip == ClipFlinch
}

// Phase returns the phase at normalized time p.
func (d *ActionDescriptor) Phase(p float32) ActionPhase {
	switch {
	case d == nil:
		return PhaseIdle
	case p >= d.RecoveryNormalizedTime:
		return PhaseRecovery
	case p >= d.AttackingNormalizedTime:
		return PhaseActive
	default:
		return PhaseWindUp
	}
}

// cancelCategory maps clip types onto the three cancel-matrix columns.
type cancelCategory uint8

const (
	cancelNone cancelCategory = iota
	cancelLight
	cancelHeavy
	cancelAbility
)

func (d *ActionDescriptor) category() cancelCategory {
	switch d.Clip {
	case ClipLightAttack:
		return cancelLight
	case ClipHeavyAttack, ClipFlashAttack, ClipGrabAttack:
		return cancelHeavy
	case ClipAbility:
		return cancelAbility
	default:
		return cancelNone
	}
}

// canBeCancelledBy reports the playing action's permission for category c.
func (d *ActionDescriptor) canBeCancelledBy(c cancelCategory) bool {
	switch c {
	case cancelLight:
		return d.CanBeCancelledByLightAttacks
	case cancelHeavy:
		return d.CanBeCancelledByHeavyAttacks
	case cancelAbility:
		return d.CanBeCancelledByAbilities
	}
	return false
}

// canCancel reports the requested action's permission to cancel category c.
func (d *ActionDescriptor) canCancel(c cancelCategory) bool {
	switch c {
	case cancelLight:
		return d.CanCancelLightAttacks
	case cancelHeavy:
		return d.CanCancelHeavyAttacks
	case cancelAbility:
		return d.CanCancelAbilities
	}
	return false
}

func (d *ActionDescriptor) state() string {
	if d.StateName != "" {
		return d.StateName
	}
	return d.Name
}

// ActionCatalog is the name → descriptor registry built once when content
// loads. It is immutable afterwards and safe for concurrent reads.
type ActionCatalog struct {
	actions map[string]*ActionDescriptor
	names   []string
}

// NewActionCatalog builds a catalog. Names must be unique and non-empty.
func NewActionCatalog(descs ...ActionDescriptor) (*ActionCatalog, error) {
	c := &ActionCatalog{actions: make(map[string]*ActionDescriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("action %d: empty name", i)
		}
		if _, dup := c.actions[d.Name]; dup {
			return nil, fmt.Errorf("action %q: duplicate name", d.Name)
		}
		c.actions[d.Name] = &d
		c.names = append(c.names, d.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Lookup resolves an action by name.
func (c *ActionCatalog) Lookup(name string) (*ActionDescriptor, error) {
	if d, ok := c.actions[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Names returns all action names in sorted order.
func (c *ActionCatalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// All returns every descriptor sorted by name.
func (c *ActionCatalog) All() []ActionDescriptor {
	out := make([]ActionDescriptor, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, *c.actions[n])
	}
	return out
}

// Len returns the number of actions.
func (c *ActionCatalog) Len() int {
	return len(c.names)
}

// DefaultLungeAction is used when an attack does not name its own lunge clip.
const DefaultLungeAction = "lunge"

// DefaultGrabbedAction is the reaction a landed grab puts on its victim.
const DefaultGrabbedAction = "grabbed"

// DefaultActions returns the built-in sword-and-shield move set.
func DefaultActions() []ActionDescriptor {
	return []ActionDescriptor{
		// ==========================================================================
		// Attacks
		// ==========================================================================
		{
			Name:                    "light_attack",
			Clip:                    ClipLightAttack,
			IsAttack:                true,
			AttackingNormalizedTime: 0.3,
			RecoveryNormalizedTime:  0.7,
			StaminaCost:             10,
			CanLunge:                true,
			DodgeLock:               DodgeLockNone,
			Duration:                0.6,
			TransitionTime:          0.1,
			AlternateTransitionTime: 0.05,
			RootMotion:              Vec3{Z: 1.5},
			RootMotionID:            1,
		},
		{
			Name:                         "light_attack_2",
			Clip:                         ClipLightAttack,
			IsAttack:                     true,
			AttackingNormalizedTime:      0.25,
			RecoveryNormalizedTime:       0.65,
			StaminaCost:                  10,
			CanBeCancelledByHeavyAttacks: true,
			Duration:                     0.55,
			TransitionTime:               0.08,
			AlternateTransitionTime:      0.04,
			RootMotion:                   Vec3{Z: 2},
			RootMotionID:                 2,
		},
		{
			Name:                    "heavy_attack",
			Clip:                    ClipHeavyAttack,
			IsAttack:                true,
			AttackingNormalizedTime: 0.45,
			RecoveryNormalizedTime:  0.75,
			StaminaCost:             25,
			CanLunge:                true,
			DodgeLock:               DodgeLockRecovery,
			Duration:                1.1,
			TransitionTime:          0.15,
			AlternateTransitionTime: 0.08,
			RootMotion:              Vec3{Z: 1},
			RootMotionID:            3,
			ChargeTime:              0.4,
		},
		{
			Name:                    "flash_strike",
			Clip:                    ClipFlashAttack,
			IsAttack:                true,
			CanCancelLightAttacks:   true,
			AttackingNormalizedTime: 0.2,
			RecoveryNormalizedTime:  0.6,
			StaminaCost:             15,
			RageCost:                10,
			Duration:                0.5,
			TransitionTime:          0.05,
			AlternateTransitionTime: 0.03,
			RootMotion:              Vec3{Z: 6},
			RootMotionID:            4,
		},
		{
			Name:                    "grab",
			Clip:                    ClipGrabAttack,
			IsAttack:                true,
			AttackingNormalizedTime: 0.3,
			RecoveryNormalizedTime:  0.8,
			StaminaCost:             15,
			DodgeLock:               DodgeLockEntireAnimation,
			Duration:                1.4,
			TransitionTime:          0.1,
			GrabWindow:              0.3,
		},

		// ==========================================================================
		// Abilities
		// ==========================================================================
		{
			Name:                    "ground_slam",
			Clip:                    ClipAbility,
			IsAttack:                true,
			CanCancelLightAttacks:   true,
			AttackingNormalizedTime: 0.5,
			RecoveryNormalizedTime:  0.8,
			StaminaCost:             20,
			RageCost:                30,
			DodgeLock:               DodgeLockEntireAnimation,
			Duration:                1.3,
			TransitionTime:          0.12,
		},
		{
			Name:                   "aimed_throw",
			Clip:                   ClipAbility,
			IsAttack:               true,
			MustBeAiming:           true,
			RecoveryNormalizedTime: 0.6,
			StaminaCost:            10,
			RageCost:               20,
			Duration:               0.7,
			TransitionTime:         0.1,
		},

		// ==========================================================================
		// Movement
		// ==========================================================================
		{
			Name:                   "dodge",
			Clip:                   ClipDodge,
			StateName:              "Dodge",
			RecoveryNormalizedTime: 0.8,
			StaminaCost:            20,
			Duration:               0.5,
			TransitionTime:         0.05,
			RootMotion:             Vec3{Z: 8},
			RootMotionID:           10,
			InvincibilityFraction:  0.4,
		},
		{
			Name:                   DefaultLungeAction,
			Clip:                   ClipLunge,
			RecoveryNormalizedTime: 1,
			StaminaCost:            5,
			Duration:               0.25,
			TransitionTime:         0.05,
			RootMotion:             Vec3{Z: 12},
			RootMotionID:           11,
		},
		{
			Name:                   "reload",
			Clip:                   ClipReload,
			RecoveryNormalizedTime: 0.9,
			Duration:               1.0,
			TransitionTime:         0.1,
		},

		// ==========================================================================
		// Reactions
		// ==========================================================================
		{
			Name:                   "flinch",
			Clip:                   ClipFlinch,
			RecoveryNormalizedTime: 0.6,
			Duration:               0.3,
			CanDodge:               true,
			TransitionTime:         0.03,
		},
		{
			Name:                   "block_hit",
			Clip:                   ClipHitReaction,
			IsBlocking:             true,
			RecoveryNormalizedTime: 0.5,
			Duration:               0.4,
			TransitionTime:         0.03,
		},
		{
			Name:                   "stagger",
			Clip:                   ClipHitReaction,
			RecoveryNormalizedTime: 0.8,
			Duration:               0.8,
			TransitionTime:         0.03,
		},
		{
			Name:                   "knockdown",
			Clip:                   ClipHitReaction,
			StateName:              "Knockdown",
			Ailment:                AilmentKnockdown,
			RecoveryNormalizedTime: 0.85,
			Duration:               2.0,
			TransitionTime:         0.05,
		},
		{
			Name:                   "grabbed",
			Clip:                   ClipHitReaction,
			Ailment:                AilmentGrab,
			RecoveryNormalizedTime: 0.9,
			Duration:               1.4,
			TransitionTime:         0.05,
		},
		{
			Name:     "death",
			Clip:     ClipHitReaction,
			Ailment:  AilmentDeath,
			Duration: 2.5,
			Looping:  true,
		},
	}
}

// DefaultCatalog returns a catalog of DefaultActions.
func DefaultCatalog() *ActionCatalog {
	c, err := NewActionCatalog(DefaultActions()...)
	if err != nil {
		panic(err) // built-in content is static
	}
	return c
}
