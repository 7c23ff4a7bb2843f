//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"encoding/json"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the delivery end of one connection.
// Consume waits for room in the queue until ctx ends. Offer never waits and
// reports a full queue instead.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
	Offer(e event.Event) error
}

type IRegistry interface {
	Join(roomID domain.RoomID, connID string, sink EventSink)
	Leave(roomID domain.RoomID, connID string)
	Members(roomID domain.RoomID) []EventSink
}

type IBroadcaster interface {
	Broadcast(ctx context.Context, msg domain.Message) error
	Deliver(ctx context.Context, msg domain.Message) error
}

// MessageBus carries broadcasts between relay nodes.
type MessageBus interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// IdentityProvider is the identity side of the delivery provider.
type IdentityProvider interface {
	UpsertUser(ctx context.Context, user domain.User) error
	CreateToken(ctx context.Context, userID string) (string, error)
}

// ChannelProvider is the channel side of the delivery provider.
type ChannelProvider interface {
	CreateChannel(ctx context.Context, channelType, channelID, createdBy string) error
	AddMembers(ctx context.Context, channelType, channelID string, userIDs []string) error
	QueryMessages(ctx context.Context, channelType, channelID string, limit int) ([]json.RawMessage, error)
	SendMessage(ctx context.Context, channelType, channelID string, msg domain.Message) error
}

type Provider interface {
	IdentityProvider
	ChannelProvider
}

type IIdentityService interface {
	EnsureIdentity(ctx context.Context, userID, displayName string) error
	IssueToken(ctx context.Context, userID string) (string, error)
}

type Censor interface {
	Censor(original string) string
}
