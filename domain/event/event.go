// Package event defines the frames the relay pushes to a connected client.
package event

import "encoding/json"

const (
	TypeConnectionEstablished = "connection_established"
	TypeUsernameSet           = "username_set"
	TypeChannelCreated        = "channel_created"
	TypeMessageReceived       = "message_received"
	TypeError                 = "error"
)

// Event is one outbound frame. Its JSON form carries its own "type" field.
type Event interface {
	Type() string
}

type ConnectionEstablished struct {
	Kind     string `json:"type"`
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func NewConnectionEstablished(token, userID, username string) ConnectionEstablished {
	return ConnectionEstablished{Kind: TypeConnectionEstablished, Token: token, UserID: userID, Username: username}
}

func (e ConnectionEstablished) Type() string { return TypeConnectionEstablished }

type UsernameSet struct {
	Kind     string `json:"type"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func NewUsernameSet(username, token string) UsernameSet {
	return UsernameSet{Kind: TypeUsernameSet, Username: username, Token: token}
}

func (e UsernameSet) Type() string { return TypeUsernameSet }

type ChannelCreated struct {
	Kind      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

func NewChannelCreated(channelID string) ChannelCreated {
	return ChannelCreated{Kind: TypeChannelCreated, ChannelID: channelID}
}

func (e ChannelCreated) Type() string { return TypeChannelCreated }

// MessageReceived carries an already encoded message so a broadcast marshals
// its payload once for every recipient.
type MessageReceived struct {
	Kind    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

func NewMessageReceived(message json.RawMessage) MessageReceived {
	return MessageReceived{Kind: TypeMessageReceived, Message: message}
}

func (e MessageReceived) Type() string { return TypeMessageReceived }

type Error struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Kind: TypeError, Message: message}
}

func (e Error) Type() string { return TypeError }

// Encode returns the wire form of an event.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
