// Package bus implements the in-process fan-out bus for live event envelopes.
//
// Multiple producers publish tagged envelopes; every subscriber receives its
// own buffered channel. Slow subscribers drop envelopes rather than block
// producers.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

const defaultSubscriberBuffer = 64

// Envelope is one published event, tagged with its event name.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Bus is a multi-producer, multi-consumer publish/subscribe channel.
// The zero value is not usable; create one with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Envelope
	nextID int
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Envelope)}
}

// Publish delivers env to every current subscriber. Subscribers whose buffer
// is full miss this envelope; publication to the others is unaffected.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			metrics.BusSubscriberDropsTotal.Inc()
			slog.Debug("Dropping envelope for slow subscriber",
				"subscriber", id,
				"event", env.Event,
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. The channel is closed on unsubscribe and when the
// bus itself is closed. buffer <= 0 selects the default buffer size.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close shuts down the bus and closes all subscriber channels.
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
}
