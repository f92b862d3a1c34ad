package cartclient

import (
	"sync"
	"time"
)

const DefaultCoalesceDelay = 300 * time.Millisecond

// QuantitySetter is the part of the Reconciler the Coalescer drives.
type QuantitySetter interface {
	Quantity(key string) int
	SetQuantity(key string, quantity int) *Mutation
}

// Coalescer collapses bursts of +/- clicks on a line into one quantity
// update. Each click moves the line's pending target and restarts the line's
// timer; when the timer fires the target is sent once. Lines have
// independent timers.
type Coalescer struct {
	target QuantitySetter
	delay  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingQuantity
	closed  bool
	gen     uint64
}

type pendingQuantity struct {
	quantity int
	gen      uint64
	timer    *time.Timer
}

func NewCoalescer(target QuantitySetter, delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = DefaultCoalesceDelay
	}
	return &Coalescer{
		target:  target,
		delay:   delay,
		pending: make(map[string]*pendingQuantity),
	}
}

func (c *Coalescer) Increment(key string) int {
	return c.adjust(key, 1)
}

// Decrement lowers the pending target; it never goes below zero, and zero
// removes the line when flushed.
func (c *Coalescer) Decrement(key string) int {
	return c.adjust(key, -1)
}

// Pending returns the target quantity waiting to be sent for key.
func (c *Coalescer) Pending(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return 0, false
	}
	return p.quantity, true
}

// Close cancels every pending timer. A flush already past its timer may
// still send once.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
}

func (c *Coalescer) adjust(key string, delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.target.Quantity(key)
	}

	p, ok := c.pending[key]
	if !ok {
		p = &pendingQuantity{quantity: c.target.Quantity(key)}
		c.pending[key] = p
	} else {
		p.timer.Stop()
	}
	p.quantity = max(p.quantity+delta, 0)

	c.gen++
	gen := c.gen
	p.gen = gen
	p.timer = time.AfterFunc(c.delay, func() { c.flush(key, gen) })
	return p.quantity
}

// flush sends the target outside c.mu so OnChange callbacks may read the
// Coalescer.
func (c *Coalescer) flush(key string, gen uint64) {
	c.mu.Lock()
	p, ok := c.pending[key]
	// A stopped timer may still fire; only the latest one flushes.
	if c.closed || !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	quantity := p.quantity
	delete(c.pending, key)
	c.mu.Unlock()

	c.target.SetQuantity(key, quantity)
}
