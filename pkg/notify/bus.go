// Package notify fans ledger lifecycle events out to subscribers (the SSE
// stream, the CLI watcher, tests). Delivery is best-effort: a subscriber
// that stops draining loses events instead of stalling the ledger.
package notify

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
)

const defaultBuffer = 64

// Bus is a broadcast channel for models.Event values.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan models.Event
	nextID uint64
	buffer int
	closed bool

	dropped uint64 // atomic
}

// NewBus returns a bus whose subscribers each get a buffer of the given
// size. Non-positive sizes fall back to the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[uint64]chan models.Event), buffer: buffer}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. Cancel must be called when the subscriber goes away;
// it closes the channel. Subscribing to a closed bus yields an already
// closed channel.
func (b *Bus) Subscribe() (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan models.Event)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan models.Event, b.buffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Events that
// do not fit a subscriber's buffer are counted and dropped.
func (b *Bus) Publish(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Close shuts the bus down and closes every subscriber channel. Publish
// and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	if n := atomic.LoadUint64(&b.dropped); n > 0 {
		logger.Log.Warn("event_bus_closed_with_drops", zap.Uint64("dropped", n))
	}
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were discarded because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
