package config

import (
	"math"

	"melee-core/internal/game"
)

// StateMachine builds the admission configuration for one side.
func (c AppConfig) StateMachine(side game.Side) game.StateMachineConfig {
	sm := game.DefaultStateMachineConfig(side)

	sm.Thresholds = game.AdmissionThresholds{
		DodgeCancel: c.Admission.ServerDodgeCancel,
		ReDodge:     c.Admission.ServerReDodge,
		Counter:     c.Admission.Counter,
	}
	if side == game.SideClient {
		sm.Thresholds.DodgeCancel = c.Admission.ClientDodgeCancel
		sm.Thresholds.ReDodge = c.Admission.ClientReDodge
	}

	sm.Lunge = game.LungeWindow{
		MinDistance: c.Lunge.MinDistance,
		MaxDistance: c.Lunge.MaxDistance,
		HalfAngle:   float64(c.Lunge.HalfAngleDeg) * math.Pi / 180,
	}
	sm.StaminaRegen = c.Admission.StaminaRegen
	sm.RageDecay = c.Admission.RageDecay
	sm.RageOnHit = c.Admission.RageOnHit
	return sm
}

// Engine builds the server engine configuration.
func (c AppConfig) Engine() game.EngineConfig {
	ec := game.DefaultEngineConfig()
	ec.TickRate = c.Sim.TickRate
	ec.BufferSize = c.Sim.BufferSize
	ec.MoveSpeed = c.Sim.MoveSpeed
	ec.MaxActors = c.Server.MaxActors
	ec.ActionQueueSize = c.Limits.ActionQueueSize
	ec.InputQueueSize = c.Limits.InputQueueSize
	ec.MaxSnapshotActors = c.Limits.MaxSnapshotActor
	ec.StateMachine = c.StateMachine(game.SideServer)
	return ec
}

// Client builds the owning-client configuration. Simulation values match
// Engine so prediction and authority integrate identically.
func (c AppConfig) Client() game.ClientConfig {
	return game.ClientConfig{
		TickRate:     c.Sim.TickRate,
		BufferSize:   c.Sim.BufferSize,
		MoveSpeed:    c.Sim.MoveSpeed,
		Epsilon:      c.Sim.Epsilon,
		StateMachine: c.StateMachine(game.SideClient),
	}
}
