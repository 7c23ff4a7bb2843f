// Package bus carries room broadcasts between relay nodes over Redis pub/sub.
package bus

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "relay:room:"

var _ contract.MessageBus = (*RedisBus)(nil)

// envelope is the pub/sub payload. Node identifies the publisher so it can
// ignore its own messages.
type envelope struct {
	Node    string      `json:"node"`
	Message wireMessage `json:"message"`
}

type wireMessage struct {
	ID         string          `json:"id"`
	Room       string          `json:"room"`
	SenderID   string          `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	Text       string          `json:"text,omitempty"`
	Local      bool            `json:"local,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

type RedisBus struct {
	rdb    *redis.Client
	nodeID string
	log    *slog.Logger
}

// NewRedisClient connects to url and verifies connectivity.
func NewRedisClient(ctx context.Context, url string, pingTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err = rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedisBus(log *slog.Logger, rdb *redis.Client, nodeID string) *RedisBus {
	return &RedisBus{rdb: rdb, nodeID: nodeID, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, msg domain.Message) error {
	raw, err := json.Marshal(envelope{Node: b.nodeID, Message: toWire(msg)})
	if err != nil {
		return fmt.Errorf("bus encode: %w", err)
	}
	return b.rdb.Publish(ctx, channel(msg.Room), raw).Err()
}

// Subscribe listens to every room channel and calls fn for each message
// published by another node. It returns when ctx ends or the subscription
// breaks.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(context.Context, domain.Message)) error {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("bus subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.log.Warn("Dropping malformed bus message", "channel", m.Channel, "error", err)
				continue
			}
			if env.Node == b.nodeID {
				continue
			}
			msg, err := env.Message.toDomain()
			if err != nil {
				b.log.Warn("Dropping bus message", "channel", m.Channel, "error", err)
				continue
			}
			fn(ctx, msg)
		}
	}
}

func (b *RedisBus) Close() error { return b.rdb.Close() }

func channel(room domain.RoomID) string { return channelPrefix + room.Name() }

func toWire(msg domain.Message) wireMessage {
	return wireMessage{
		ID:         msg.ID,
		Room:       msg.Room.Name(),
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Local:      msg.Local,
		CreatedAt:  msg.CreatedAt,
		Raw:        msg.Raw,
	}
}

func (w wireMessage) toDomain() (domain.Message, error) {
	room, err := domain.NewRoomID(w.Room)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:         w.ID,
		Room:       room,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Text:       w.Text,
		Local:      w.Local,
		CreatedAt:  w.CreatedAt,
		Raw:        w.Raw,
	}, nil
}
