package live

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/yzbtdiy/VtuberAgent/internal/bus"
	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

// EventBusName tags live event envelopes on the fan-out bus.
const EventBusName = "live.event"

// Dispatcher turns decoded packet bodies into Events and fans them out:
// every event goes to the bus and, best effort, to the consumer queue.
type Dispatcher struct {
	bus   *bus.Bus
	queue chan<- Event
}

// NewDispatcher creates a Dispatcher. bus may not be nil; queue may be nil
// when no application-level consumer is attached.
func NewDispatcher(b *bus.Bus, queue chan<- Event) *Dispatcher {
	return &Dispatcher{bus: b, queue: queue}
}

// HandlePayload decodes one inbound socket payload and dispatches its
// packets. A malformed payload is dropped with a warning; it never ends the
// caller's read loop.
func (d *Dispatcher) HandlePayload(payload []byte) {
	packets, err := DecodePackets(payload)
	if err != nil {
		metrics.FrameDecodeErrorsTotal.Inc()
		slog.Warn("Dropping malformed payload", "error", err, "bytes", len(payload))
		return
	}

	for _, packet := range packets {
		d.dispatchPacket(packet)
	}
}

func (d *Dispatcher) dispatchPacket(packet Packet) {
	switch packet.Operation {
	case OpAuthReply:
		metrics.FramesDecodedTotal.WithLabelValues("auth_reply").Inc()
		slog.Info("Authenticated, receiving live events", "sequence", packet.Sequence)
	case OpHeartbeatReply:
		metrics.FramesDecodedTotal.WithLabelValues("heartbeat_reply").Inc()
		slog.Debug("Heartbeat acknowledged", "sequence", packet.Sequence)
	case OpSendEvent:
		metrics.FramesDecodedTotal.WithLabelValues("send_event").Inc()
		for _, event := range parseEvents(packet.Body) {
			d.dispatchEvent(event)
		}
	default:
		metrics.FramesDecodedTotal.WithLabelValues("unknown").Inc()
		slog.Debug("Ignoring unknown operation",
			"operation", packet.Operation,
			"version", packet.Version,
			"body_bytes", len(packet.Body),
		)
	}
}

func (d *Dispatcher) dispatchEvent(event Event) {
	metrics.EventsDispatchedTotal.WithLabelValues(event.Cmd).Inc()

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal live event", "cmd", event.Cmd, "error", err)
		return
	}
	d.bus.Publish(bus.Envelope{Event: EventBusName, Payload: payload})

	if d.queue == nil {
		return
	}
	select {
	case d.queue <- event:
	default:
		metrics.EventQueueDropsTotal.Inc()
		slog.Warn("Consumer queue full, dropping event", "cmd", event.Cmd)
	}
}

// parseEvents splits a SEND_EVENT body on zero bytes and parses each chunk
// independently. Malformed chunks are logged and skipped without affecting
// their siblings.
func parseEvents(body []byte) []Event {
	var events []Event
	for _, chunk := range bytes.Split(body, []byte{0}) {
		if len(chunk) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(chunk, &event); err != nil {
			metrics.EventsMalformedTotal.Inc()
			slog.Warn("Skipping malformed event document",
				"error", err,
				"bytes", len(chunk),
			)
			continue
		}
		events = append(events, event)
	}
	return events
}
