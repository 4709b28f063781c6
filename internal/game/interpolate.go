package game

// RemoteInterpolator smooths observed (non-owned) actors. Observers never
// predict or reconcile; they chase the newest StatePayload they have seen.
type RemoteInterpolator struct {
	target    StatePayload
	rendered  StatePayload
	hasTarget bool

	Rate         float32 // Fraction of the remaining gap closed per Step (0..1]
	SnapDistance float32 // Gaps larger than this teleport instead of sliding
}

// NewRemoteInterpolator creates an interpolator with default smoothing.
func NewRemoteInterpolator() *RemoteInterpolator {
	return &RemoteInterpolator{
		rendered:     StatePayload{Rotation: QuatIdentity},
		Rate:         0.35,
		SnapDistance: 5,
	}
}

// Receive updates the target. Older payloads are ignored.
func (ri *RemoteInterpolator) Receive(p StatePayload) {
	if ri.hasTarget && int32(uint32(p.Tick)-uint32(ri.target.Tick)) < 0 {
		return
	}
	if !ri.hasTarget {
		ri.rendered = p
	}
	ri.target = p
	ri.hasTarget = true
}

// Step moves the rendered pose toward the target and returns it.
func (ri *RemoteInterpolator) Step() StatePayload {
	if !ri.hasTarget {
		return ri.rendered
	}

	if ri.rendered.Position.Distance(ri.target.Position) > ri.SnapDistance {
		ri.rendered = ri.target
		return ri.rendered
	}

	ri.rendered.Position = ri.rendered.Position.Lerp(ri.target.Position, ri.Rate)
	ri.rendered.Rotation = ri.rendered.Rotation.Nlerp(ri.target.Rotation, ri.Rate)
	ri.rendered.Tick = ri.target.Tick
	return ri.rendered
}

// Target returns the newest received payload.
func (ri *RemoteInterpolator) Target() StatePayload {
	return ri.target
}
