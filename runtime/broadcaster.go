// Package runtime holds the in-memory relay machinery: room membership and
// message fan-out. It contains no transport code and no provider logic.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
)

var _ contract.IBroadcaster = (*Broadcaster)(nil)

// Broadcaster fans a message out to every connection of a room.
//
// Delivery is best-effort and isolated per recipient: a failing or vanished
// recipient is logged and skipped, never reported to the sender. Events are
// offered without waiting, so a recipient whose queue is full misses the
// message instead of holding up the rest of the room.
// Recipients of one broadcast are served in turn and each queue is FIFO, so
// two broadcasts issued one after the other by the same sender reach each
// recipient in that order.
type Broadcaster struct {
	log      *slog.Logger
	registry contract.IRegistry
	bus      contract.MessageBus
	seen     *seenSet
	metrics  *observability.Metrics
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry, seenSize int,
	metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		log:      log,
		registry: registry,
		seen:     newSeenSet(seenSize),
		metrics:  metrics,
	}
}

// WithBus makes every Broadcast also reach the other relay nodes.
func (b *Broadcaster) WithBus(bus contract.MessageBus) *Broadcaster {
	b.bus = bus
	return b
}

// Broadcast delivers msg to the local members of its room and forwards it to
// the other nodes when a bus is configured.
func (b *Broadcaster) Broadcast(ctx context.Context, msg domain.Message) error {
	delivered, err := b.deliver(msg)
	if err != nil || !delivered || b.bus == nil {
		return err
	}
	// Remote members must not depend on the lifetime of the sender either.
	if err = b.bus.Publish(context.WithoutCancel(ctx), msg); err != nil {
		b.log.Warn("Failed to publish message on bus", "room", msg.Room, "message_id", msg.ID, "error", err)
	}
	return nil
}

// Deliver only serves the members connected to this node.
func (b *Broadcaster) Deliver(_ context.Context, msg domain.Message) error {
	_, err := b.deliver(msg)
	return err
}

func (b *Broadcaster) deliver(msg domain.Message) (bool, error) {
	payload, err := msg.Payload()
	if err != nil {
		return false, errors.InternalFailure("broadcast", err)
	}
	if msg.ID != "" && !b.seen.Add(msg.ID) {
		b.log.Debug("Duplicate message dropped", "room", msg.Room, "message_id", msg.ID)
		return false, nil
	}

	evt := event.NewMessageReceived(payload)
	sinks := b.registry.Members(msg.Room)
	for _, sink := range sinks {
		b.deliverOne(sink, evt, msg.Room)
	}
	b.metrics.Broadcast(msg.Local)
	b.log.Debug("Message broadcast", "room", msg.Room, "recipients", len(sinks), "local", msg.Local)
	return true, nil
}

// deliverOne pushes one event to one recipient. Whatever happens here stays here.
func (b *Broadcaster) deliverOne(sink contract.EventSink, evt event.Event, room domain.RoomID) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.Delivery("panic")
			b.log.Error("Recipient delivery panicked", "room", room, "panic", r)
		}
	}()

	err := sink.Offer(evt)
	switch {
	case err == nil:
		b.metrics.Delivery("ok")
	case errors.Is(err, errors.ErrSinkClosed):
		b.metrics.Delivery("closed")
		b.log.Debug("Recipient already gone", "room", room)
	case errors.Is(err, errors.ErrSinkFull):
		b.metrics.Delivery("dropped")
		b.log.Warn("Recipient queue full, message dropped", "room", room)
	default:
		b.metrics.Delivery("failed")
		b.log.Warn("Failed to deliver message", "room", room, "error", err)
	}
}
