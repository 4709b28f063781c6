package game

import "log"

// DefaultEpsilon is the position divergence that triggers reconciliation.
const DefaultEpsilon float32 = 0.001

// ReconcileState is the reconciler's mode.
type ReconcileState uint8

const (
	StateSynced      ReconcileState = iota // Prediction agrees with the last authoritative payload
	StateReconciling                       // Replaying buffered inputs after a correction
)

func (s ReconcileState) String() string {
	if s == StateReconciling {
		return "reconciling"
	}
	return "synced"
}

// ReconcileResult describes what one Reconcile call did.
type ReconcileResult struct {
	Checked    bool    // An unprocessed authoritative payload was examined
	Diverged   bool    // Prediction disagreed and was corrected
	Stale      bool    // Target fell outside the buffer window; snapped without replay
	Ahead      bool    // Authoritative tick was at or past the local tick; snapped
	AuthTick   Tick    // Tick of the authoritative payload
	Replayed   int     // Inputs re-integrated
	Error      float32 // Distance between prediction and authority at AuthTick
	Correction float32 // Distance the present state moved
}

// Reconciler is the client-side prediction/reconciliation engine for the one
// actor the client controls. It owns the predicted current state; the
// prediction buffer is shared only with the owning ClientActor.
type Reconciler struct {
	buffer     *PredictionBuffer
	integrator MotionIntegrator
	epsilon    float32

	state   ReconcileState
	current StatePayload

	latest        StatePayload
	hasLatest     bool
	lastProcessed Tick
	processedAny  bool
}

// NewReconciler creates a reconciler bound to buffer.
func NewReconciler(buffer *PredictionBuffer, integrator MotionIntegrator, epsilon float32) *Reconciler {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Reconciler{
		buffer:     buffer,
		integrator: integrator,
		epsilon:    epsilon,
		current:    StatePayload{Rotation: QuatIdentity},
	}
}

// Reset places the actor at an authoritative spawn state.
func (r *Reconciler) Reset(state StatePayload) {
	r.current = state
	r.buffer.RecordState(state.Tick, state)
	r.latest = state
	r.hasLatest = true
	r.lastProcessed = state.Tick
	r.processedAny = true
	r.state = StateSynced
}

// Current returns the predicted present state.
func (r *Reconciler) Current() StatePayload {
	return r.current
}

// State returns the current mode.
func (r *Reconciler) State() ReconcileState {
	return r.state
}

// Predict integrates one locally produced input, records it and makes the
// result the present state.
func (r *Reconciler) Predict(in InputPayload) StatePayload {
	next := r.integrator.Step(in, r.current)
	r.buffer.Record(in.Tick, in, next)
	r.current = next
	return next
}

// Receive stores a freshly received authoritative payload. Payloads older
// than the newest one already received are dropped; out-of-order delivery
// never rewinds the target.
func (r *Reconciler) Receive(p StatePayload) {
	if r.hasLatest && int32(uint32(p.Tick)-uint32(r.latest.Tick)) < 0 {
		return
	}
	r.latest = p
	r.hasLatest = true
}

// Reconcile compares the newest unprocessed authoritative payload with the
// buffered prediction at its tick and, on divergence, snaps and replays every
// buffered input in (T, now). now is the next tick the client will predict.
func (r *Reconciler) Reconcile(now Tick) ReconcileResult {
	if !r.hasLatest || (r.processedAny && r.latest.Tick == r.lastProcessed) {
		return ReconcileResult{}
	}

	auth := r.latest
	r.lastProcessed = auth.Tick
	r.processedAny = true

	res := ReconcileResult{Checked: true, AuthTick: auth.Tick}
	before := r.current

	// Authority at or past our own clock: there is nothing to replay.
	if int32(uint32(auth.Tick)-uint32(now)) >= 0 {
		res.Ahead = true
		res.Diverged = true
		r.snap(auth)
		res.Correction = before.Position.Distance(r.current.Position)
		return res
	}

	if !r.buffer.Within(now, auth.Tick) {
		log.Printf("⚠️ Reconcile target tick %d outside %d-tick window (now %d), snapping without replay",
			auth.Tick, r.buffer.Size(), now)
		res.Stale = true
		res.Diverged = true
		// The slot for auth.Tick now belongs to a newer tick; leave it alone.
		r.current = auth
		res.Correction = before.Position.Distance(r.current.Position)
		return res
	}

	_, predicted := r.buffer.Get(auth.Tick)
	res.Error = predicted.Position.Distance(auth.Position)
	if predicted.Tick == auth.Tick && res.Error <= r.epsilon {
		return res
	}

	res.Diverged = true
	r.state = StateReconciling
	r.snap(auth)

	state := auth
	for t := auth.Tick + 1; t != now; t++ {
		in, _ := r.buffer.Get(t)
		if in.Tick == t {
			state = r.integrator.Step(in, state)
			res.Replayed++
		} else {
			state.Tick = t
		}
		r.buffer.RecordState(t, state)
	}
	r.current = state
	r.state = StateSynced

	res.Correction = before.Position.Distance(r.current.Position)
	return res
}

func (r *Reconciler) snap(auth StatePayload) {
	r.buffer.RecordState(auth.Tick, auth)
	r.current = auth
}
