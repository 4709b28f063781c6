package game

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"melee-core/internal/game/spatial"
)

const (
	EventBufferSize     = 1024                   // Pending events before drops
	MaxEventsPerSec     = 10000                  // Global rate limit
	MaxEventsPerActor   = 100                    // Per-actor rate limit per second
	BatchFlushSize      = 64                     // Events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // How often to flush
	ActorLimiterCleanup = 5 * time.Minute        // Cleanup interval for actor limiters
)

// EventLog provides bounded, rate-limited JSONL event logging. Emit never
// blocks the tick: when the buffer is full or a limiter trips, the event is
// dropped and counted.
type EventLog struct {
	buffer *spatial.LockFreeQueue[Event]
	seq    atomic.Uint64

	globalLimiter *rate.Limiter
	actorLimiters sync.Map // map[ActorID]*actorLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	out    io.Writer
	closer io.Closer
	outMu  sync.Mutex

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
	writtenCount atomic.Uint64
}

type actorLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // Unix nano
}

// NewEventLog creates a new bounded event log
func NewEventLog() *EventLog {
	return &EventLog{
		buffer:        spatial.NewLockFreeQueue[Event](EventBufferSize),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer. An empty
// path keeps counting events without writing them anywhere.
func (el *EventLog) Start(filePath string) error {
	if filePath == "" {
		return el.StartWriter(nil)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	el.closer = file
	return el.StartWriter(file)
}

// StartWriter begins the async writer targeting w (nil discards).
func (el *EventLog) StartWriter(w io.Writer) error {
	if !el.running.CompareAndSwap(false, true) {
		return nil
	}
	el.out = w

	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop flushes pending events and shuts down the event log
func (el *EventLog) Stop() {
	if !el.running.Load() {
		return
	}
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.outMu.Lock()
		if el.closer != nil {
			el.closer.Close()
		}
		el.outMu.Unlock()
	})
}

// Emit adds an event with rate limiting.
// Returns false if rate limited or buffer full.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	if event.Actor != 0 && !el.actorLimiter(event.Actor).Allow() {
		el.droppedCount.Add(1)
		return false
	}

	event.Sequence = el.seq.Add(1)
	if !el.buffer.TryPush(event) {
		el.droppedCount.Add(1)
		return false
	}

	el.totalCount.Add(1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *EventLog) EmitSimple(eventType EventType, tick Tick, actor ActorID, payload any) bool {
	if !el.running.Load() {
		return false
	}
	return el.Emit(NewEvent(eventType, tick, actor, payload))
}

func (el *EventLog) actorLimiter(id ActorID) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.actorLimiters.Load(id); ok {
		e := v.(*actorLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}

	entry := &actorLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerActor, MaxEventsPerActor/10)}
	entry.lastUsed.Store(now)
	actual, _ := el.actorLimiters.LoadOrStore(id, entry)
	return actual.(*actorLimiterEntry).limiter
}

// Forget drops the limiter of a despawned actor.
func (el *EventLog) Forget(id ActorID) {
	el.actorLimiters.Delete(id)
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(ActorLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-ActorLimiterCleanup).UnixNano()
			el.actorLimiters.Range(func(key, value any) bool {
				if value.(*actorLimiterEntry).lastUsed.Load() < cutoff {
					el.actorLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

func (el *EventLog) collectBatch(batch []Event) []Event {
	el.buffer.Drain(BatchFlushSize, func(e Event) {
		batch = append(batch, e)
	})
	return batch
}

// flushBatch writes events as newline-delimited JSON
func (el *EventLog) flushBatch(batch []Event) {
	el.outMu.Lock()
	defer el.outMu.Unlock()

	if el.out == nil {
		return
	}

	w := bufio.NewWriter(el.out)
	enc := json.NewEncoder(w)
	for _, event := range batch {
		if err := enc.Encode(event); err != nil {
			continue
		}
		el.writtenCount.Add(1)
	}
	w.Flush()
}

// EventLogStats is a point-in-time view of the log counters.
type EventLogStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Written uint64 `json:"written"`
	Pending int    `json:"pending"`
	Running bool   `json:"running"`
}

// Stats returns metrics for monitoring
func (el *EventLog) Stats() EventLogStats {
	return EventLogStats{
		Total:   el.totalCount.Load(),
		Dropped: el.droppedCount.Load(),
		Written: el.writtenCount.Load(),
		Pending: el.buffer.Len(),
		Running: el.running.Load(),
	}
}
