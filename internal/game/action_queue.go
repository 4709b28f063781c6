package game

import (
	"errors"
	"sync/atomic"

	"melee-core/internal/game/spatial"
)

// ErrQueueFull is returned when a per-actor queue cannot take more entries.
// The request is dropped; this degrades the same way as input spam.
var ErrQueueFull = errors.New("queue full")

// ActionRequest is one client (or tool) request to start an action.
type ActionRequest struct {
	ActionName         string `json:"actionName" msgpack:"actionName"`
	IsFollowUp         bool   `json:"isFollowUpClip" msgpack:"isFollowUpClip"`
	WasMotionPredicted bool   `json:"wasMotionPredicted" msgpack:"wasMotionPredicted"`
}

// ActionQueue is a per-actor FIFO of pending action requests. Network
// goroutines push; the tick drains.
type ActionQueue struct {
	q       *spatial.LockFreeQueue[ActionRequest]
	dropped atomic.Uint64
}

// NewActionQueue creates a queue holding up to size requests.
func NewActionQueue(size int) *ActionQueue {
	return &ActionQueue{q: spatial.NewLockFreeQueue[ActionRequest](size)}
}

// Push enqueues a request or returns ErrQueueFull.
func (aq *ActionQueue) Push(r ActionRequest) error {
	if !aq.q.TryPush(r) {
		aq.dropped.Add(1)
		return ErrQueueFull
	}
	return nil
}

// Drain hands every queued request to fn in arrival order.
func (aq *ActionQueue) Drain(fn func(ActionRequest)) int {
	return aq.q.Drain(aq.q.Cap(), fn)
}

// Len returns the approximate queue length.
func (aq *ActionQueue) Len() int { return aq.q.Len() }

// Dropped returns how many requests were refused because the queue was full.
func (aq *ActionQueue) Dropped() uint64 { return aq.dropped.Load() }

// InputQueue is a per-actor FIFO of network InputPayloads.
type InputQueue struct {
	q       *spatial.LockFreeQueue[InputPayload]
	dropped atomic.Uint64
}

// NewInputQueue creates a queue holding up to size inputs.
func NewInputQueue(size int) *InputQueue {
	return &InputQueue{q: spatial.NewLockFreeQueue[InputPayload](size)}
}

// Push enqueues an input or returns ErrQueueFull.
func (iq *InputQueue) Push(in InputPayload) error {
	if !iq.q.TryPush(in) {
		iq.dropped.Add(1)
		return ErrQueueFull
	}
	return nil
}

// Drain hands every queued input to fn in arrival order.
func (iq *InputQueue) Drain(fn func(InputPayload)) int {
	return iq.q.Drain(iq.q.Cap(), fn)
}

// Len returns the approximate queue length.
func (iq *InputQueue) Len() int { return iq.q.Len() }

// Dropped returns how many inputs were refused because the queue was full.
func (iq *InputQueue) Dropped() uint64 { return iq.dropped.Load() }
