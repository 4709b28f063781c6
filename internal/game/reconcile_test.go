package game

import "testing"

func walkInput(tick Tick) InputPayload {
	return InputPayload{
		Tick:           tick,
		IsControllable: true,
		Movement:       Vec2{X: 1, Y: 0.25},
		Facing:         QuatIdentity,
	}
}

func newTestReconciler(size int) (*Reconciler, *PredictionBuffer, MotionIntegrator) {
	integ := NewMotionIntegrator(30, 5)
	buf := NewPredictionBuffer(size)
	r := NewReconciler(buf, integ, DefaultEpsilon)
	r.Reset(StatePayload{Rotation: QuatIdentity})
	return r, buf, integ
}

func TestReconcileNoDivergence(t *testing.T) {
	r, _, integ := newTestReconciler(64)

	server := StatePayload{Rotation: QuatIdentity}
	var serverStates [11]StatePayload
	for tick := Tick(1); tick <= 10; tick++ {
		r.Predict(walkInput(tick))
		server = integ.Step(walkInput(tick), server)
		serverStates[tick] = server
	}

	r.Receive(serverStates[5])
	res := r.Reconcile(11)

	if !res.Checked {
		t.Fatal("Expected the payload to be checked")
	}
	if res.Diverged || res.Replayed != 0 {
		t.Errorf("Expected no correction, got %+v", res)
	}
	if r.State() != StateSynced {
		t.Errorf("Expected synced, got %s", r.State())
	}
}

func TestReconcileConvergence(t *testing.T) {
	r, buf, integ := newTestReconciler(64)

	// The server applies a knockback at tick 3 that the client never saw.
	server := StatePayload{Rotation: QuatIdentity}
	var serverStates [11]StatePayload
	for tick := Tick(1); tick <= 10; tick++ {
		r.Predict(walkInput(tick))

		in := walkInput(tick)
		if tick == 3 {
			in.Motion.External = Vec3{Z: 10}
		}
		server = integ.Step(in, server)
		serverStates[tick] = server
	}

	before := r.Current()
	r.Receive(serverStates[5])
	res := r.Reconcile(11)

	if !res.Diverged {
		t.Fatalf("Expected divergence, got %+v", res)
	}
	if res.Replayed != 5 {
		t.Errorf("Expected 5 replayed inputs (ticks 6-10), got %d", res.Replayed)
	}
	if res.Error <= DefaultEpsilon {
		t.Errorf("Expected error above epsilon, got %f", res.Error)
	}

	// The present state is what the server computes from tick 5 onward.
	if !r.Current().Equal(serverStates[10]) {
		t.Errorf("Expected %+v, got %+v", serverStates[10], r.Current())
	}
	if res.Correction == 0 || r.Current().Equal(before) {
		t.Error("Expected the present state to move")
	}

	// Every replayed slot was overwritten.
	for tick := Tick(5); tick <= 10; tick++ {
		_, st := buf.Get(tick)
		if !st.Equal(serverStates[tick]) {
			t.Errorf("Buffered state at tick %d = %+v, want %+v", tick, st, serverStates[tick])
		}
	}

	if r.State() != StateSynced {
		t.Errorf("Expected synced after replay, got %s", r.State())
	}
}

func TestReconcileWithinEpsilonIsIgnored(t *testing.T) {
	r, _, _ := newTestReconciler(64)
	for tick := Tick(1); tick <= 4; tick++ {
		r.Predict(walkInput(tick))
	}

	_, predicted := r.buffer.Get(2)
	auth := predicted
	auth.Position.X += DefaultEpsilon / 2
	r.Receive(auth)

	if res := r.Reconcile(5); res.Diverged {
		t.Errorf("Sub-epsilon error should not trigger reconciliation: %+v", res)
	}
}

func TestReconcileStaleSnapsWithoutReplay(t *testing.T) {
	r, buf, _ := newTestReconciler(8)
	for tick := Tick(1); tick <= 20; tick++ {
		r.Predict(walkInput(tick))
	}
	_, slotBefore := buf.Get(5) // Holds tick 13 now

	auth := StatePayload{Tick: 5, Position: Vec3{X: 42}, Rotation: QuatIdentity}
	r.Receive(auth)
	res := r.Reconcile(21)

	if !res.Stale {
		t.Fatalf("Expected stale result, got %+v", res)
	}
	if res.Replayed != 0 {
		t.Errorf("Expected no replay, got %d", res.Replayed)
	}
	if !r.Current().Equal(auth) {
		t.Errorf("Expected snap to %+v, got %+v", auth, r.Current())
	}
	if _, slot := buf.Get(5); !slot.Equal(slotBefore) {
		t.Error("A stale snap must not overwrite a newer tick's slot")
	}
}

func TestReconcileAheadSnaps(t *testing.T) {
	r, _, _ := newTestReconciler(64)
	for tick := Tick(1); tick <= 3; tick++ {
		r.Predict(walkInput(tick))
	}

	auth := StatePayload{Tick: 9, Position: Vec3{Z: 3}, Rotation: QuatIdentity}
	r.Receive(auth)
	res := r.Reconcile(4)

	if !res.Ahead {
		t.Fatalf("Expected ahead result, got %+v", res)
	}
	if !r.Current().Equal(auth) {
		t.Errorf("Expected snap to %+v, got %+v", auth, r.Current())
	}
}

func TestReconcileIgnoresOlderPayloads(t *testing.T) {
	r, _, _ := newTestReconciler(64)
	for tick := Tick(1); tick <= 10; tick++ {
		r.Predict(walkInput(tick))
	}

	_, at8 := r.buffer.Get(8)
	r.Receive(at8)
	r.Receive(StatePayload{Tick: 6, Position: Vec3{X: 100}})

	res := r.Reconcile(11)
	if res.AuthTick != 8 {
		t.Errorf("Expected newest payload (tick 8) to win, got %d", res.AuthTick)
	}
	if res.Diverged {
		t.Errorf("Expected no divergence, got %+v", res)
	}

	if again := r.Reconcile(11); again.Checked {
		t.Error("A processed payload should not be checked twice")
	}
}
