package game

import (
	"math"
	"testing"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

// scriptedInputs returns a deterministic, varied input sequence.
func scriptedInputs(n int) []InputPayload {
	out := make([]InputPayload, n)
	for i := range out {
		out[i] = InputPayload{
			Tick:           Tick(i + 1),
			IsControllable: i%11 != 0,
			Movement:       Vec2{X: float32(i%7)/7 - 0.5, Y: float32(i%5)/5 - 0.3},
			Facing:         QuatFromYaw(float64(i) * 0.13),
		}
		if i%17 == 0 {
			out[i].Motion = MotionFrame{RootMotion: true, Displacement: Vec3{Z: 8}}
		}
		if i%13 == 0 {
			out[i].Motion.External = Vec3{X: -2, Y: 0.5}
		}
	}
	return out
}

func TestMotionIntegratorDeterminism(t *testing.T) {
	a := NewMotionIntegrator(30, 5)
	b := NewMotionIntegrator(30, 5)

	start := StatePayload{Position: Vec3{X: 1, Z: -3}, Rotation: QuatIdentity}
	sa, sb := start, start

	for _, in := range scriptedInputs(600) {
		sa = a.Step(in, sa)
		sb = b.Step(in, sb)
		if !sa.Equal(sb) {
			t.Fatalf("Tick %d diverged: %+v vs %+v", in.Tick, sa, sb)
		}
	}
}

func TestMotionIntegratorFreeMovement(t *testing.T) {
	m := NewMotionIntegrator(30, 6)
	in := InputPayload{Tick: 1, IsControllable: true, Movement: Vec2{X: 1}, Facing: QuatIdentity}

	got := m.Step(in, StatePayload{Rotation: QuatIdentity})
	if !approx(got.Position.X, 0.2) {
		t.Errorf("Expected X 0.2 after one tick, got %f", got.Position.X)
	}
	if got.Tick != 1 {
		t.Errorf("Expected result tick 1, got %d", got.Tick)
	}
}

func TestMotionIntegratorClampsDiagonal(t *testing.T) {
	m := NewMotionIntegrator(1, 1)
	in := InputPayload{IsControllable: true, Movement: Vec2{X: 1, Y: 1}}

	got := m.Step(in, StatePayload{})
	if l := got.Position.Length(); !approx(l, 1) {
		t.Errorf("Expected unit displacement, got %f", l)
	}
}

func TestMotionIntegratorRootMotionOverridesInput(t *testing.T) {
	m := NewMotionIntegrator(30, 5)
	in := InputPayload{
		Tick:           1,
		IsControllable: true,
		Movement:       Vec2{X: 1},
		Motion:         MotionFrame{RootMotion: true, Displacement: Vec3{Z: 3}},
	}

	got := m.Step(in, StatePayload{Rotation: QuatIdentity})
	if got.Position.X != 0 {
		t.Errorf("Free movement should be ignored under root motion, got X %f", got.Position.X)
	}
	if !approx(got.Position.Z, 0.1) {
		t.Errorf("Expected Z 0.1, got %f", got.Position.Z)
	}
}

func TestMotionIntegratorUncontrollableKeepsRotation(t *testing.T) {
	m := NewMotionIntegrator(30, 5)
	cur := StatePayload{Rotation: QuatFromYaw(1)}
	in := InputPayload{Tick: 1, Movement: Vec2{X: 1}, Facing: QuatFromYaw(2)}

	got := m.Step(in, cur)
	if got.Rotation != cur.Rotation {
		t.Errorf("Expected rotation to be kept, got %+v", got.Rotation)
	}
	if got.Position != (Vec3{}) {
		t.Errorf("Expected no movement, got %+v", got.Position)
	}
}

func TestMotionIntegratorExternalForces(t *testing.T) {
	m := NewMotionIntegrator(10, 5)
	got := m.Integrate(InputPayload{}, StatePayload{}, Vec3{Y: 10})
	if !approx(got.Position.Y, 1) {
		t.Errorf("Expected Y 1, got %f", got.Position.Y)
	}
}

func TestActionMotionSource(t *testing.T) {
	src := ActionMotionSource{}
	cat := DefaultCatalog()
	dodge, _ := cat.Lookup("dodge")
	reload, _ := cat.Lookup("reload")

	a := NewActorActionState()
	if f := src.Motion(InputPayload{}, StatePayload{Rotation: QuatIdentity}, a); f.RootMotion {
		t.Error("Idle actor should not produce root motion")
	}

	a.Current = reload
	if f := src.Motion(InputPayload{}, StatePayload{Rotation: QuatIdentity}, a); f.RootMotion {
		t.Error("Action without root motion should leave free movement in control")
	}

	a.Current = dodge
	facing := QuatFromYaw(math.Pi / 2) // +X
	f := src.Motion(InputPayload{IsControllable: true, Facing: facing}, StatePayload{Rotation: QuatIdentity}, a)
	if !f.RootMotion {
		t.Fatal("Expected root motion for dodge")
	}
	if !approx(f.Displacement.X, 8) || !approx(f.Displacement.Z, 0) {
		t.Errorf("Expected displacement rotated onto +X, got %+v", f.Displacement)
	}
}
