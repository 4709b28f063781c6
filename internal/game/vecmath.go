package game

import "math"

// Vector math for the simulation. Everything is float32 because that is what
// goes on the wire, and every product is wrapped in an explicit float32()
// conversion: Go may otherwise fuse x*y+z into an FMA on some architectures,
// which breaks bit-for-bit replay between server and client.

// Vec2 is a 2D vector (movement input: X = strafe, Y = forward).
type Vec2 struct {
	X, Y float32
}

// Vec3 is a 3D vector in world space (Y up).
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a unit quaternion rotation.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity is the no-rotation quaternion.
var QuatIdentity = Quat{W: 1}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{float32(v.X * s), float32(v.Y * s), float32(v.Z * s)}
}

// Dot returns the dot product.
func (v Vec3) Dot(o Vec3) float32 {
	return float32(v.X*o.X) + float32(v.Y*o.Y) + float32(v.Z*o.Z)
}

// Cross returns the cross product.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		float32(v.Y*o.Z) - float32(v.Z*o.Y),
		float32(v.Z*o.X) - float32(v.X*o.Z),
		float32(v.X*o.Y) - float32(v.Y*o.X),
	}
}

// Length returns the Euclidean length.
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// Distance returns |v - o|.
func (v Vec3) Distance(o Vec3) float32 {
	return v.Sub(o).Length()
}

// Lerp interpolates between v and o by t.
func (v Vec3) Lerp(o Vec3, t float32) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// Length returns the Euclidean length.
func (v Vec2) Length() float32 {
	return float32(math.Sqrt(float64(float32(v.X*v.X) + float32(v.Y*v.Y))))
}

// ClampLength limits v to length 1 (analog stick magnitude).
func (v Vec2) ClampLength() Vec2 {
	l := v.Length()
	if l <= 1 {
		return v
	}
	return Vec2{v.X / l, v.Y / l}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Forward returns the rotated +Z axis.
func (q Quat) Forward() Vec3 {
	return q.Rotate(Vec3{Z: 1})
}

// Dot returns the 4D dot product.
func (q Quat) Dot(o Quat) float32 {
	return float32(q.X*o.X) + float32(q.Y*o.Y) + float32(q.Z*o.Z) + float32(q.W*o.W)
}

// Normalize returns q scaled to unit length. A zero quaternion becomes identity.
func (q Quat) Normalize() Quat {
	l := float32(math.Sqrt(float64(q.Dot(q))))
	if l == 0 {
		return QuatIdentity
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Nlerp interpolates along the shortest arc and renormalizes.
func (q Quat) Nlerp(o Quat, t float32) Quat {
	if q.Dot(o) < 0 {
		o = Quat{-o.X, -o.Y, -o.Z, -o.W}
	}
	return Quat{
		q.X + float32((o.X-q.X)*t),
		q.Y + float32((o.Y-q.Y)*t),
		q.Z + float32((o.Z-q.Z)*t),
		q.W + float32((o.W-q.W)*t),
	}.Normalize()
}

// QuatFromYaw builds a rotation about +Y. Used by tools and server-authored
// actors; the integrator itself never calls trig functions.
func QuatFromYaw(yaw float64) Quat {
	s, c := math.Sincos(yaw / 2)
	return Quat{Y: float32(s), W: float32(c)}
}

// Yaw extracts the rotation about +Y in radians.
func (q Quat) Yaw() float64 {
	f := q.Forward()
	return math.Atan2(float64(f.X), float64(f.Z))
}
