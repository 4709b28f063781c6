package game

import "math"

// LungeCandidate is one opaque actor handle returned by a SpatialQuery.
type LungeCandidate struct {
	Actor    ActorID
	Position Vec3
	Distance float32
}

// SpatialQuery is the cross-actor read-only lookup used to resolve lunge
// targets. Results must be ordered by ascending distance.
type SpatialQuery interface {
	Nearby(self ActorID, origin Vec3, radius float32) []LungeCandidate
}

// LungeWindow is the forward cone searched for a lunge target.
// All checks are O(1) angle/distance math on the XZ plane.
type LungeWindow struct {
	MinDistance float32 // Closer than this the attack fires without lunging
	MaxDistance float32
	HalfAngle   float64 // Radians either side of facing
}

// DefaultLungeWindow returns a 1.5–6 unit, 70° cone.
func DefaultLungeWindow() LungeWindow {
	return LungeWindow{
		MinDistance: 1.5,
		MaxDistance: 6,
		HalfAngle:   35 * math.Pi / 180,
	}
}

// DefaultGrabReach returns the 1.5 unit, 90° cone an open grab reaches.
func DefaultGrabReach() LungeWindow {
	return LungeWindow{
		MaxDistance: 1.5,
		HalfAngle:   45 * math.Pi / 180,
	}
}

// Contains tests whether target lies in the window of an actor at origin
// facing yaw (radians about +Y, 0 = +Z).
func (w LungeWindow) Contains(origin Vec3, yaw float64, target Vec3) bool {
	dx := float64(target.X - origin.X)
	dz := float64(target.Z - origin.Z)
	distance := math.Sqrt(dx*dx + dz*dz)

	if distance < float64(w.MinDistance) || distance > float64(w.MaxDistance) {
		return false
	}

	angleDiff := normalizeAngle(math.Atan2(dx, dz) - yaw)
	return angleDiff >= -w.HalfAngle && angleDiff <= w.HalfAngle
}

// Target returns the nearest candidate inside the window.
func (w LungeWindow) Target(q SpatialQuery, self ActorID, origin Vec3, facing Quat) (LungeCandidate, bool) {
	if q == nil {
		return LungeCandidate{}, false
	}
	yaw := facing.Yaw()
	for _, c := range q.Nearby(self, origin, w.MaxDistance) {
		if c.Actor == self {
			continue
		}
		if w.Contains(origin, yaw, c.Position) {
			return c, true
		}
	}
	return LungeCandidate{}, false
}

// normalizeAngle normalizes an angle to the range [-π, π].
func normalizeAngle(angle float64) float64 {
	const twoPi = 2 * math.Pi
	angle = math.Mod(angle, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	if angle > math.Pi {
		angle -= twoPi
	}
	return angle
}
