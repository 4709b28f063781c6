package game

import (
	"sync/atomic"
	"time"
)

// ActorSnapshot is an immutable copy of one actor for API and debug readers.
// Uses value types (not pointers) to ensure immutability.
type ActorSnapshot struct {
	ID         ActorID        `json:"id"`
	Name       string         `json:"name"`
	Controlled bool           `json:"controlled"` // Input comes from a client
	Context    string         `json:"context,omitempty"`
	Position   Vec3           `json:"position"`
	Rotation   Quat           `json:"rotation"`
	Yaw        float64        `json:"yaw"`
	Action     ActionSnapshot `json:"action"`
}

// WorldSnapshot is a complete immutable view of the simulation at one tick.
// The actor slice is pre-allocated and capped.
type WorldSnapshot struct {
	Sequence   uint64          `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	Tick       Tick            `json:"tick"`
	Actors     []ActorSnapshot `json:"actors"`
	ActorCount int             `json:"actorCount"` // May exceed len(Actors) when capped
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Uses triple buffering for lock-free producer/consumer: the tick writes
// one buffer while readers see the last published one.
type SnapshotPool struct {
	snapshots [3]WorldSnapshot
	maxActors int
	writeIdx  atomic.Uint32
	readIdx   atomic.Uint32
	sequence  atomic.Uint64
	published atomic.Bool
}

// NewSnapshotPool creates a pool holding at most maxActors per snapshot.
func NewSnapshotPool(maxActors int) *SnapshotPool {
	pool := &SnapshotPool{maxActors: maxActors}
	for i := range pool.snapshots {
		pool.snapshots[i].Actors = make([]ActorSnapshot, 0, maxActors)
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the tick).
func (p *SnapshotPool) AcquireWrite() *WorldSnapshot {
	idx := p.writeIdx.Add(1) % 3
	snap := &p.snapshots[idx]

	snap.Actors = snap.Actors[:0]
	snap.ActorCount = 0
	snap.Sequence = p.sequence.Add(1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite makes the last acquired snapshot visible to readers.
func (p *SnapshotPool) PublishWrite() {
	p.readIdx.Store(p.writeIdx.Load())
	p.published.Store(true)
}

// AcquireRead returns the latest published snapshot, or nil before the first.
func (p *SnapshotPool) AcquireRead() *WorldSnapshot {
	if !p.published.Load() {
		return nil
	}
	return &p.snapshots[p.readIdx.Load()%3]
}

// MaxActors returns the per-snapshot cap.
func (p *SnapshotPool) MaxActors() int {
	return p.maxActors
}
