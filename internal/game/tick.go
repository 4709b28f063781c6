package game

import (
	"log"
	"sync"
	"time"
)

// Tick is the fixed-step counter shared by server and clients.
type Tick uint32

// Since returns t - earlier using wrapping arithmetic.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// TickSource is anything that announces simulation steps.
// The prediction and engine code subscribe to it instead of a global clock.
type TickSource interface {
	Current() Tick
	Subscribe(fn func(Tick))
}

// TickClock is a manually advanced TickSource.
// Tests and the TickDriver both push it forward with Advance.
type TickClock struct {
	mu          sync.Mutex
	current     Tick
	subscribers []func(Tick)
}

// NewTickClock creates a clock starting at tick 0.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// Current returns the last announced tick.
func (c *TickClock) Current() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers fn to be called after every Advance.
func (c *TickClock) Subscribe(fn func(Tick)) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

// Advance increments the tick and runs subscribers synchronously, in
// registration order.
func (c *TickClock) Advance() Tick {
	c.mu.Lock()
	c.current++
	now := c.current
	subs := c.subscribers
	c.mu.Unlock()

	for _, fn := range subs {
		fn(now)
	}
	return now
}

// TickDriver advances a TickClock at a fixed rate from a time.Ticker.
type TickDriver struct {
	clock    *TickClock
	rate     int
	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool
	mu       sync.Mutex
}

// NewTickDriver creates a driver for clock at rate ticks per second.
func NewTickDriver(clock *TickClock, rate int) *TickDriver {
	if rate <= 0 {
		rate = 30
	}
	return &TickDriver{
		clock:    clock,
		rate:     rate,
		stopChan: make(chan struct{}),
	}
}

// Start begins advancing the clock. Calling Start twice is a no-op.
func (d *TickDriver) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ticker = time.NewTicker(time.Second / time.Duration(d.rate))
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-d.ticker.C:
				d.clock.Advance()
			case <-d.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Tick driver started at %d TPS", d.rate)
}

// Stop halts the driver. Safe to call more than once.
func (d *TickDriver) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		if d.ticker != nil {
			d.ticker.Stop()
		}
		d.running = false
		d.mu.Unlock()
		close(d.stopChan)
		log.Println("🛑 Tick driver stopped")
	})
}

// Interval returns the duration of one tick.
func (d *TickDriver) Interval() time.Duration {
	return time.Second / time.Duration(d.rate)
}
