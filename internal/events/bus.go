package events

// Bus is a single mpsc-style channel: many senders, one receiver. Event
// delivery is FIFO per sender, and there is exactly one receiver for the
// process's lifetime (spec.md §5).
type Bus struct {
	ch chan Event
}

// NewBus creates a Bus with the given channel buffer size.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Event, buffer)}
}

// Send enqueues an event. Safe for concurrent use by multiple senders.
func (b *Bus) Send(e Event) {
	b.ch <- e
}

// TrySend enqueues an event without blocking, dropping it if the buffer is
// full. Used by hot paths that would rather skip a notification than
// stall (e.g. a tracer reader goroutine racing a shutdown).
func (b *Bus) TrySend(e Event) bool {
	select {
	case b.ch <- e:
		return true
	default:
		return false
	}
}

// Events exposes the receive side of the bus, for the single consumer
// (the UI event loop).
func (b *Bus) Events() <-chan Event {
	return b.ch
}
