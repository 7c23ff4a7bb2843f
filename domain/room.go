package domain

import (
	"chat-relay/errors"
	"strings"
)

// roomPrefix namespaces relay rooms inside the registry so they cannot
// collide with other logical groupings sharing the same key space.
const roomPrefix = "chat_"

// RoomID is the registry key of a room.
type RoomID string

// NewRoomID builds the registry key for the externally supplied room name.
// The name is used verbatim, so " lobby" and "lobby" are different rooms.
func NewRoomID(name string) (RoomID, error) {
	if name == "" {
		return "", errors.ErrEmptyRoom
	}
	return RoomID(roomPrefix + name), nil
}

// Name returns the external room name, as clients and the provider know it.
func (r RoomID) Name() string {
	return strings.TrimPrefix(string(r), roomPrefix)
}

func (r RoomID) String() string { return string(r) }
