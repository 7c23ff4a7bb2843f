package bus

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
)

// SubscriberWorker hands messages of the other nodes to the local members.
// It runs under the supervisor, which restarts it when the subscription breaks.
type SubscriberWorker struct {
	log         *slog.Logger
	bus         *RedisBus
	broadcaster contract.IBroadcaster
}

func NewSubscriberWorker(log *slog.Logger, bus *RedisBus, broadcaster contract.IBroadcaster) *SubscriberWorker {
	return &SubscriberWorker{log: log, bus: bus, broadcaster: broadcaster}
}

func (w *SubscriberWorker) Run(ctx context.Context) error {
	w.log.Info("Listening for remote broadcasts")
	return w.bus.Subscribe(ctx, func(ctx context.Context, msg domain.Message) {
		if err := w.broadcaster.Deliver(ctx, msg); err != nil {
			w.log.Warn("Failed to deliver remote message", "room", msg.Room, "message_id", msg.ID, "error", err)
		}
	})
}
