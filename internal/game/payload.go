package game

import "math"

// ActorID is the opaque handle of a simulated body. It is what goes on the
// wire, so it stays a small integer.
type ActorID uint32

// PayloadVersion is bumped whenever InputPayload or StatePayload change shape.
const PayloadVersion uint16 = 1

// MotionFrame records what the MotionSource supplied for one tick.
// It lives next to the input in the prediction buffer so a replay feeds the
// integrator exactly what the original step saw. Never serialized.
type MotionFrame struct {
	RootMotion   bool // Displacement replaces free movement this tick
	Displacement Vec3 // World-space root-motion velocity (units per second)
	External     Vec3 // External forces, e.g. knockback (units per second)
}

// InputPayload is one tick of control input for one actor.
type InputPayload struct {
	Tick           Tick
	IsControllable bool
	Movement       Vec2 // Omitted on the wire when IsControllable is false
	Facing         Quat

	Motion MotionFrame `json:"-"`
}

// StatePayload is the result of integrating exactly one InputPayload.
type StatePayload struct {
	Tick     Tick
	Position Vec3
	Rotation Quat
}

// Finite reports whether every movement and facing component is a finite
// number.
func (in InputPayload) Finite() bool {
	return finite(in.Movement.X, in.Movement.Y, in.Facing.X, in.Facing.Y, in.Facing.Z, in.Facing.W)
}

// Equal reports bit-for-bit equality: +0 and -0 differ, and a NaN equals the
// same NaN.
func (s StatePayload) Equal(o StatePayload) bool {
	return s.Tick == o.Tick &&
		sameBits(s.Position.X, o.Position.X) &&
		sameBits(s.Position.Y, o.Position.Y) &&
		sameBits(s.Position.Z, o.Position.Z) &&
		sameBits(s.Rotation.X, o.Rotation.X) &&
		sameBits(s.Rotation.Y, o.Rotation.Y) &&
		sameBits(s.Rotation.Z, o.Rotation.Z) &&
		sameBits(s.Rotation.W, o.Rotation.W)
}

func sameBits(a, b float32) bool {
	return math.Float32bits(a) == math.Float32bits(b)
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
