package game

// MotionSource supplies, per tick, either free movement or a root-motion
// displacement. Whatever it returns is treated as authoritative input for the
// integrator that tick and is stored with the input for replay.
type MotionSource interface {
	Motion(in InputPayload, cur StatePayload, action *ActorActionState) MotionFrame
}

// MotionIntegrator advances a StatePayload by one InputPayload.
// It is a value type with no hidden state, so server and client instances
// built from the same config produce identical results.
type MotionIntegrator struct {
	dt        float32
	moveSpeed float32
}

// NewMotionIntegrator creates an integrator for the given fixed rate.
func NewMotionIntegrator(tickRate int, moveSpeed float32) MotionIntegrator {
	if tickRate <= 0 {
		tickRate = 30
	}
	return MotionIntegrator{
		dt:        1 / float32(tickRate),
		moveSpeed: moveSpeed,
	}
}

// Integrate computes the state after applying in to cur with the given
// external forces.
func (m MotionIntegrator) Integrate(in InputPayload, cur StatePayload, forces Vec3) StatePayload {
	rotation := cur.Rotation
	if in.IsControllable && in.Facing != (Quat{}) {
		rotation = in.Facing.Normalize()
	}

	var velocity Vec3
	switch {
	case in.Motion.RootMotion:
		velocity = in.Motion.Displacement
	case in.IsControllable:
		mv := in.Movement.ClampLength()
		velocity = Vec3{X: float32(mv.X * m.moveSpeed), Z: float32(mv.Y * m.moveSpeed)}
	}
	velocity = velocity.Add(forces)

	return StatePayload{
		Tick:     in.Tick,
		Position: cur.Position.Add(velocity.Scale(m.dt)),
		Rotation: rotation,
	}
}

// Step integrates using the forces recorded in the input's MotionFrame.
// This is the form used for replay.
func (m MotionIntegrator) Step(in InputPayload, cur StatePayload) StatePayload {
	return m.Integrate(in, cur, in.Motion.External)
}

// ActionMotionSource derives root motion from the actor's current action.
// Actions without root motion leave free movement in control.
type ActionMotionSource struct{}

// Motion implements MotionSource.
func (ActionMotionSource) Motion(in InputPayload, cur StatePayload, action *ActorActionState) MotionFrame {
	if action == nil || action.Current == nil || action.Current.RootMotion == (Vec3{}) {
		return MotionFrame{}
	}

	rotation := cur.Rotation
	if in.IsControllable && in.Facing != (Quat{}) {
		rotation = in.Facing.Normalize()
	}
	return MotionFrame{
		RootMotion:   true,
		Displacement: rotation.Rotate(action.Current.RootMotion),
	}
}
