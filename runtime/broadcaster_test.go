package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestBroadcaster(registry *Registry) *Broadcaster {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewBroadcaster(log, registry, 128, nil)
}

func localMessage(room domain.RoomID, text string) domain.Message {
	return domain.Message{
		ID:         uuid.NewString(),
		Room:       room,
		SenderID:   "alice",
		SenderName: "Alice",
		Text:       text,
		Local:      true,
		CreatedAt:  time.Now().UTC(),
	}
}

func messageText(t *testing.T, e event.Event) string {
	t.Helper()
	received, ok := e.(event.MessageReceived)
	require.True(t, ok, "unexpected event %T", e)
	var payload struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(received.Message, &payload))
	return payload.Text
}

func TestBroadcaster_Delivers_To_Every_Member(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	sinks := []*recordingSink{{}, {}, {}}
	for i, s := range sinks {
		registry.Join(room, fmt.Sprintf("c%d", i), s)
	}
	outsider := &recordingSink{}
	registry.Join(mustRoom(t, "general"), "c9", outsider)

	// When a message is broadcast to the room
	err := newTestBroadcaster(registry).Broadcast(context.Background(), localMessage(room, "hello"))

	// Then every member got it once
	// And members of other rooms got nothing
	req.NoError(err)
	for _, s := range sinks {
		events := s.received()
		req.Len(events, 1)
		req.Equal("hello", messageText(t, events[0]))
	}
	req.Empty(outsider.received())
}

func TestBroadcaster_Failing_Member_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")

	// Given c2 fails on delivery
	c1, c3 := &recordingSink{}, &recordingSink{}
	c2 := mocks.NewMockEventSink(ctrl)
	c2.EXPECT().Offer(gomock.Any()).Return(fmt.Errorf("connection reset")).Times(1)
	registry.Join(room, "c1", c1)
	registry.Join(room, "c2", c2)
	registry.Join(room, "c3", c3)

	// When a message is broadcast
	err := newTestBroadcaster(registry).Broadcast(context.Background(), localMessage(room, "hello"))

	// Then the sender sees no error
	// And c1 and c3 still got it
	req.NoError(err)
	req.Len(c1.received(), 1)
	req.Len(c3.received(), 1)
}

func TestBroadcaster_Panicking_Member_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")

	c1, c3 := &recordingSink{}, &recordingSink{}
	c2 := mocks.NewMockEventSink(ctrl)
	c2.EXPECT().Offer(gomock.Any()).DoAndReturn(func(event.Event) error {
		panic("boom")
	})
	registry.Join(room, "c1", c1)
	registry.Join(room, "c2", c2)
	registry.Join(room, "c3", c3)

	req.NotPanics(func() {
		req.NoError(newTestBroadcaster(registry).Broadcast(context.Background(), localMessage(room, "hello")))
	})
	req.Len(c1.received(), 1)
	req.Len(c3.received(), 1)
}

func TestBroadcaster_Closed_Member_Is_Skipped(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	gone := &recordingSink{err: errors.ErrSinkClosed}
	alive := &recordingSink{}
	registry.Join(room, "gone", gone)
	registry.Join(room, "alive", alive)

	req.NoError(newTestBroadcaster(registry).Broadcast(context.Background(), localMessage(room, "hello")))
	req.Len(alive.received(), 1)
}

func TestBroadcaster_Stalled_Members_Do_Not_Delay_Others(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")

	// Given five members whose queue is full because they stopped reading
	stalled := make([]*sink.ConnectionSink, 5)
	for i := range stalled {
		stalled[i] = sink.NewConnectionSink(1)
		req.NoError(stalled[i].Offer(event.NewError("unread")))
		registry.Join(room, fmt.Sprintf("stalled-%d", i), stalled[i])
	}
	// And one healthy member
	healthy := sink.NewConnectionSink(4)
	registry.Join(room, "healthy", healthy)

	// When a message is broadcast
	start := time.Now()
	err := newTestBroadcaster(registry).Broadcast(context.Background(), localMessage(room, "hello"))
	elapsed := time.Since(start)

	// Then the sender is not held up by the stalled members
	req.NoError(err)
	req.Less(elapsed, 100*time.Millisecond)

	// And the healthy member got the message
	// And the stalled members only kept what they already had
	req.Len(healthy.Events(), 1)
	req.Equal("hello", messageText(t, <-healthy.Events()))
	for _, s := range stalled {
		req.Len(s.Events(), 1)
		req.Equal(event.NewError("unread"), <-s.Events())
	}
}

func TestBroadcaster_Members_Leaving_During_Broadcasts(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	broadcaster := newTestBroadcaster(registry)
	const messages = 50

	// Given a member staying for the whole test
	stayer := sink.NewConnectionSink(messages)
	registry.Join(room, "stayer", stayer)

	// And members that disconnect while broadcasts are running
	leavers := make([]*sink.ConnectionSink, 20)
	for i := range leavers {
		leavers[i] = sink.NewConnectionSink(2)
		registry.Join(room, fmt.Sprintf("leaver-%d", i), leavers[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, messages)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < messages; i++ {
			errs <- broadcaster.Broadcast(context.Background(), localMessage(room, fmt.Sprintf("m%d", i)))
		}
	}()
	for i, s := range leavers {
		wg.Add(1)
		go func(connID string, s *sink.ConnectionSink) {
			defer wg.Done()
			registry.Leave(room, connID)
			s.Close()
		}(fmt.Sprintf("leaver-%d", i), s)
	}
	wg.Wait()
	close(errs)

	// Then no broadcast failed
	for err := range errs {
		req.NoError(err)
	}
	// And only the stayer is left, with every message in order
	req.Equal(1, registry.Count(room))
	req.Len(stayer.Events(), messages)
	for i := 0; i < messages; i++ {
		req.Equal(fmt.Sprintf("m%d", i), messageText(t, <-stayer.Events()))
	}

	// When the stayer leaves too
	registry.Leave(room, "stayer")
	stayer.Close()

	// Then the room is gone
	req.Zero(registry.Count(room))
	req.Empty(registry.Rooms())
}

func TestBroadcaster_Cancelled_Sender_Still_Delivers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	sink := &recordingSink{}
	registry.Join(room, "c1", sink)

	// Given the sender already went away
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req.NoError(newTestBroadcaster(registry).Broadcast(ctx, localMessage(room, "hello")))
	req.Len(sink.received(), 1)
}

func TestBroadcaster_Empty_Room(t *testing.T) {
	req := require.New(t)
	err := newTestBroadcaster(NewRegistry()).Broadcast(context.Background(), localMessage(mustRoom(t, "nobody"), "hello"))
	req.NoError(err)
}

func TestBroadcaster_Duplicate_Message_Is_Dropped(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	sink := &recordingSink{}
	registry.Join(room, "c1", sink)
	broadcaster := newTestBroadcaster(registry)

	// Given a local message already broadcast
	msg := localMessage(room, "hello")
	req.NoError(broadcaster.Broadcast(context.Background(), msg))

	// When the provider echoes it back with the same id
	echo := domain.Message{ID: msg.ID, Room: room, Raw: json.RawMessage(`{"id":"` + msg.ID + `","text":"hello"}`)}
	req.NoError(broadcaster.Broadcast(context.Background(), echo))

	// Then members see it once
	req.Len(sink.received(), 1)
}

func TestBroadcaster_Preserves_Sender_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	sink := &recordingSink{}
	registry.Join(room, "c1", sink)
	broadcaster := newTestBroadcaster(registry)

	for i := 0; i < 20; i++ {
		req.NoError(broadcaster.Broadcast(context.Background(), localMessage(room, fmt.Sprintf("m%d", i))))
	}

	events := sink.received()
	req.Len(events, 20)
	for i, e := range events {
		req.Equal(fmt.Sprintf("m%d", i), messageText(t, e))
	}
}

func TestBroadcaster_Raw_Payload_Is_Forwarded_Verbatim(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	sink := &recordingSink{}
	registry.Join(room, "c1", sink)

	raw := json.RawMessage(`{"id":"m1","text":"from upstream","custom":{"k":1}}`)
	req.NoError(newTestBroadcaster(registry).Broadcast(context.Background(), domain.Message{ID: "m1", Room: room, Raw: raw}))

	events := sink.received()
	req.Len(events, 1)
	req.JSONEq(string(raw), string(events[0].(event.MessageReceived).Message))
}

func TestBroadcaster_Publishes_On_Bus(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	room := mustRoom(t, "lobby")
	bus := mocks.NewMockMessageBus(ctrl)
	broadcaster := newTestBroadcaster(registry).WithBus(bus)
	msg := localMessage(room, "hello")

	// Then a broadcast is published once, even when publishing fails
	bus.EXPECT().Publish(gomock.Any(), msg).Return(fmt.Errorf("redis down")).Times(1)
	req.NoError(broadcaster.Broadcast(context.Background(), msg))

	// Then a remote delivery is never published again
	req.NoError(broadcaster.Deliver(context.Background(), localMessage(room, "from another node")))
}
