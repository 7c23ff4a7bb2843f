// Package domain contains core concepts of the relay.
// This file defines Message values and their client wire shape.
// Messages are immutable once built.
package domain

import (
	"encoding/json"
	"time"
)

// User is an identity as known by the delivery provider.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Message represents an immutable chat message travelling through the relay.
// Local is true when the message was sent by a client connected to this node.
// Raw, when set, is the verbatim provider payload and takes precedence over
// the other fields on the wire.
type Message struct {
	ID         string
	Room       RoomID
	SenderID   string
	SenderName string
	Text       string
	Local      bool
	CreatedAt  time.Time
	Raw        json.RawMessage
}

type wireMessage struct {
	ID        string     `json:"id,omitempty"`
	Text      string     `json:"text"`
	User      User       `json:"user"`
	IsLocal   bool       `json:"is_local,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Payload returns the JSON document delivered to subscribers.
func (m Message) Payload() (json.RawMessage, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	wire := wireMessage{
		ID:      m.ID,
		Text:    m.Text,
		User:    User{ID: m.SenderID, Name: m.SenderName},
		IsLocal: m.Local,
	}
	if !m.CreatedAt.IsZero() {
		at := m.CreatedAt.UTC()
		wire.CreatedAt = &at
	}
	return json.Marshal(wire)
}
