package workers

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

type roomLister interface {
	Rooms() []domain.RoomID
}

// RoomStatsWorker periodically publishes how many rooms have local members.
type RoomStatsWorker struct {
	log      *slog.Logger
	rooms    roomLister
	metrics  *observability.Metrics
	interval time.Duration
}

func NewRoomStatsWorker(log *slog.Logger, rooms roomLister, metrics *observability.Metrics,
	interval time.Duration) *RoomStatsWorker {
	return &RoomStatsWorker{log: log, rooms: rooms, metrics: metrics, interval: interval}
}

func (w *RoomStatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count := len(w.rooms.Rooms())
			w.metrics.Rooms(count)
			w.log.Debug("Room stats", "active_rooms", count)
		}
	}
}
