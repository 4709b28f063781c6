package game

import "time"

// DefaultBufferSize is the prediction history length in ticks.
const DefaultBufferSize = 1024

// PredictionBuffer is a fixed-size ring of input/state pairs indexed by
// tick mod size. Each authority owns its own instance; nothing is shared.
//
// A slot always holds the most recent tick written to it. The buffer cannot
// tell whether a slot is stale, so callers check Within before trusting Get.
type PredictionBuffer struct {
	inputs []InputPayload
	states []StatePayload
	mask   uint32
}

// NewPredictionBuffer creates a buffer. size is rounded up to a power of two.
func NewPredictionBuffer(size int) *PredictionBuffer {
	n := 1
	for n < size {
		n <<= 1
	}
	return &PredictionBuffer{
		inputs: make([]InputPayload, n),
		states: make([]StatePayload, n),
		mask:   uint32(n - 1),
	}
}

// Size returns the number of slots.
func (b *PredictionBuffer) Size() int {
	return len(b.inputs)
}

// Record overwrites the slot for tick unconditionally.
func (b *PredictionBuffer) Record(tick Tick, input InputPayload, state StatePayload) {
	idx := uint32(tick) & b.mask
	b.inputs[idx] = input
	b.states[idx] = state
}

// RecordState overwrites only the state half of the slot (used when an
// authoritative payload replaces a prediction).
func (b *PredictionBuffer) RecordState(tick Tick, state StatePayload) {
	b.states[uint32(tick)&b.mask] = state
}

// Get returns whatever occupies the slot for tick.
func (b *PredictionBuffer) Get(tick Tick) (InputPayload, StatePayload) {
	idx := uint32(tick) & b.mask
	return b.inputs[idx], b.states[idx]
}

// Within reports whether tick is still inside the history window as seen from
// current, i.e. current - tick < Size.
func (b *PredictionBuffer) Within(current, tick Tick) bool {
	return current.Since(tick) < uint32(len(b.inputs))
}

// Window is the hard reconciliation limit: inputs older than this are gone.
func (b *PredictionBuffer) Window(tickRate int) time.Duration {
	if tickRate <= 0 {
		return 0
	}
	return time.Duration(len(b.inputs)) * time.Second / time.Duration(tickRate)
}
