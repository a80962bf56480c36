package oracle

import (
	"sync"
	"sync/atomic"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// Emitter fans published events out to in-process subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the
// event and is expected to catch up from the durable event log.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[uint64]chan models.Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewEmitter creates an emitter with no subscribers
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[uint64]chan models.Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel func closes the channel and is safe to call twice.
func (e *Emitter) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan models.Event, buffer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer
func (e *Emitter) Publish(ev models.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close closes every subscriber channel; later subscriptions get a closed channel
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
