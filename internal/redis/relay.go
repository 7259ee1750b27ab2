// Package redis relays live event envelopes to out-of-process consumers via
// Redis Pub/Sub. It publishes only; nothing is stored.
package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
)

// DefaultChannel is the Pub/Sub channel live event envelopes are mirrored to.
const DefaultChannel = "live:events"

const publishTimeout = 2 * time.Second

// Relay subscribes to the in-process fan-out bus and mirrors every envelope
// onto a Redis Pub/Sub channel. Publish failures are logged and absorbed.
type Relay struct {
	client      *Client
	channel     string
	unsubscribe func()
	done        chan struct{}
}

// NewRelay starts relaying envelopes from b to the given channel. channel ""
// selects DefaultChannel.
func NewRelay(client *Client, channel string, b *bus.Bus) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}

	sub, unsubscribe := b.Subscribe(256)
	r := &Relay{
		client:      client,
		channel:     channel,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	go r.run(sub)
	return r
}

func (r *Relay) run(sub <-chan bus.Envelope) {
	defer close(r.done)

	for env := range sub {
		data, err := json.Marshal(env)
		if err != nil {
			slog.Error("Failed to marshal envelope for relay", "event", env.Event, "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = r.client.rdb.Publish(ctx, r.channel, data).Err()
		cancel()
		if err != nil {
			slog.Warn("Failed to relay envelope to redis", "channel", r.channel, "error", err)
		}
	}
}

// Close detaches the relay from the bus and waits for in-flight publishes.
func (r *Relay) Close() {
	r.unsubscribe()
	<-r.done
}
