package tracer

import "sync/atomic"

// Channel is the bounded export queue between the engine and its
// consumer. Offer never blocks; events that do not fit are dropped
// and counted.
type Channel struct {
	events  chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewChannel creates an export queue holding at most size events.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}

	return &Channel{events: make(chan Event, size)}
}

// Offer enqueues an event without blocking. It reports whether the
// event was accepted.
func (c *Channel) Offer(e Event) bool {
	select {
	case c.events <- e:
		c.sent.Add(1)

		return true
	default:
		c.dropped.Add(1)

		return false
	}
}

// Events returns the receive side of the queue.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Len returns the number of queued events.
func (c *Channel) Len() int { return len(c.events) }

// Cap returns the queue capacity.
func (c *Channel) Cap() int { return cap(c.events) }

// Sent returns how many events were accepted.
func (c *Channel) Sent() uint64 { return c.sent.Load() }

// Dropped returns how many events were rejected because the queue
// was full.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }
