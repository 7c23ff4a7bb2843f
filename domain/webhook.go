package domain

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strings"
)

// EventMessageNew is the only provider event the relay acts on.
const EventMessageNew = "message.new"

// WebhookEvent is a parsed provider callback. Message stays raw because it
// is forwarded to subscribers verbatim.
type WebhookEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// WebhookMessage holds the few message fields the relay needs for routing.
type WebhookMessage struct {
	ID  string `json:"id"`
	CID string `json:"cid"`
}

func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("webhook body: %w", err)
	}
	return evt, nil
}

// Routing extracts the message id and channel id of a message.new event.
func (e WebhookEvent) Routing() (WebhookMessage, error) {
	if len(e.Message) == 0 || string(e.Message) == "null" {
		return WebhookMessage{}, fmt.Errorf("webhook %s: missing message", e.Type)
	}
	var msg WebhookMessage
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return WebhookMessage{}, fmt.Errorf("webhook %s message: %w", e.Type, err)
	}
	return msg, nil
}

// RoomFromCID extracts the room from a channel-qualified id "<namespace>:<room>".
func RoomFromCID(cid string) (RoomID, error) {
	parts := strings.Split(cid, ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidChannelID, cid)
	}
	return NewRoomID(parts[1])
}

// ChannelCID is the inverse of RoomFromCID for a given channel type.
func ChannelCID(channelType string, room RoomID) string {
	return channelType + ":" + room.Name()
}
