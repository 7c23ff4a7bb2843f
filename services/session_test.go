package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Consume(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Offer(e event.Event) error {
	return s.Consume(context.Background(), e)
}

func (s *recordingSink) received() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func (s *recordingSink) last() event.Event {
	events := s.received()
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

type sessionFixture struct {
	registry    *mocks.MockIRegistry
	broadcaster *mocks.MockIBroadcaster
	identity    *mocks.MockIIdentityService
	channels    *mocks.MockChannelProvider
	sink        *recordingSink
	room        domain.RoomID
	session     *Session
}

func newSessionFixture(t *testing.T, censor contract.Censor) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	room, err := domain.NewRoomID("lobby")
	require.NoError(t, err)

	f := &sessionFixture{
		registry:    mocks.NewMockIRegistry(ctrl),
		broadcaster: mocks.NewMockIBroadcaster(ctrl),
		identity:    mocks.NewMockIIdentityService(ctrl),
		channels:    mocks.NewMockChannelProvider(ctrl),
		sink:        &recordingSink{},
		room:        room,
	}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	chat := NewChatService(log, f.registry, f.broadcaster, f.identity, f.channels, censor,
		ChatConfig{HistoryLimit: 50, ProviderTimeout: time.Second, SinkTimeout: time.Second}, nil)
	f.session = chat.NewSession(room, f.sink)
	return f
}

// open runs a successful Open and returns the anonymous user id.
func (f *sessionFixture) open(t *testing.T) string {
	t.Helper()
	var userID string
	f.identity.EXPECT().EnsureIdentity(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id, _ string) error {
			userID = id
			return nil
		})
	f.identity.EXPECT().IssueToken(gomock.Any(), gomock.Any()).Return("anon-token", nil)
	f.registry.EXPECT().Join(f.room, f.session.ID(), f.sink)
	require.NoError(t, f.session.Open(context.Background()))
	return userID
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSession_Open_Greets_Anonymous_User(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)

	// Given a fresh connection
	req.Equal(StateConnecting, f.session.State())

	// When the session opens
	var gotID, gotName string
	f.identity.EXPECT().EnsureIdentity(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id, name string) error {
			gotID, gotName = id, name
			return nil
		})
	f.identity.EXPECT().IssueToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (string, error) {
			req.Equal(gotID, id)
			return "anon-token", nil
		})
	f.registry.EXPECT().Join(f.room, f.session.ID(), f.sink).Times(1)
	req.NoError(f.session.Open(context.Background()))

	// Then it is active with an anonymous identity
	// And the client got its token
	req.Equal(StateActive, f.session.State())
	req.True(strings.HasPrefix(gotID, "anon_"))
	req.Equal("Anonymous_"+gotID, gotName)
	req.Equal([]event.Event{event.NewConnectionEstablished("anon-token", gotID, gotName)}, f.sink.received())
}

func TestSession_Open_Identity_Failure_Closes_Without_Joining(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)

	// Given the provider is down
	f.identity.EXPECT().EnsureIdentity(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.UpstreamFailure("ensure_identity", "Failed to register user", fmt.Errorf("timeout")))

	// When the session opens
	err := f.session.Open(context.Background())

	// Then it fails and ends closed, never joined nor left
	req.Error(err)
	req.Equal(StateClosed, f.session.State())
	f.session.Close()
	req.ErrorIs(f.session.Handle(context.Background(), []byte(`{"type":"create_channel"}`)), errors.ErrSessionNotActive)
}

func TestSession_Open_Token_Failure_Closes(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)

	f.identity.EXPECT().EnsureIdentity(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.identity.EXPECT().IssueToken(gomock.Any(), gomock.Any()).Return("", fmt.Errorf("no secret"))

	req.Error(f.session.Open(context.Background()))
	req.Equal(StateClosed, f.session.State())
	req.Empty(f.sink.received())
}

func TestSession_Open_Twice_Is_Refused(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	req.ErrorIs(f.session.Open(context.Background()), errors.ErrSessionNotActive)
}

func TestSession_SetUsername_Issues_New_Token(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	// When the client picks a username
	f.identity.EXPECT().EnsureIdentity(gomock.Any(), "bob", "bob").Return(nil)
	f.identity.EXPECT().IssueToken(gomock.Any(), "bob").Return("bob-token", nil)
	req.NoError(f.session.Handle(context.Background(), frame(t, map[string]string{
		"type": "set_username", "username": "bob",
	})))

	// Then the identity switched and the client got the new token
	userID, username := f.session.Identity()
	req.Equal("bob", userID)
	req.Equal("bob", username)
	req.Equal(event.NewUsernameSet("bob", "bob-token"), f.sink.last())
	req.Equal(StateActive, f.session.State())
}

func TestSession_SetUsername_Failure_Keeps_Session_Active(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	anonID := f.open(t)

	f.identity.EXPECT().EnsureIdentity(gomock.Any(), "bob", "bob").Return(fmt.Errorf("provider down"))
	req.NoError(f.session.Handle(context.Background(), frame(t, map[string]string{
		"type": "set_username", "username": "bob",
	})))

	req.Equal(event.NewError("Failed to set username"), f.sink.last())
	req.Equal(StateActive, f.session.State())
	userID, _ := f.session.Identity()
	req.Equal(anonID, userID)
}

func TestSession_SetUsername_Requires_Username(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"set_username"}`)))
	req.Equal(event.NewError("username is required"), f.sink.last())
}

func TestSession_CreateChannel_Backfills_History_Then_Confirms(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	userID := f.open(t)

	history := []json.RawMessage{
		json.RawMessage(`{"id":"m1","text":"first"}`),
		json.RawMessage(`{"id":"m2","text":"second"}`),
	}
	gomock.InOrder(
		f.channels.EXPECT().CreateChannel(gomock.Any(), ChannelType, "lobby", userID).Return(nil),
		f.channels.EXPECT().AddMembers(gomock.Any(), ChannelType, "lobby", []string{userID}).Return(nil),
		f.channels.EXPECT().QueryMessages(gomock.Any(), ChannelType, "lobby", 50).Return(history, nil),
	)

	// When the client asks for the channel
	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"create_channel"}`)))

	// Then history comes first, in provider order, then the confirmation
	events := f.sink.received()[1:]
	req.Equal([]event.Event{
		event.NewMessageReceived(history[0]),
		event.NewMessageReceived(history[1]),
		event.NewChannelCreated("lobby"),
	}, events)
}

func TestSession_CreateChannel_Failure(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.channels.EXPECT().CreateChannel(gomock.Any(), ChannelType, "lobby", gomock.Any()).Return(fmt.Errorf("403"))
	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"create_channel"}`)))

	req.Equal(event.NewError("Failed to create channel"), f.sink.last())
	req.Equal(StateActive, f.session.State())
}

func TestSession_SendMessage_Broadcasts_Then_Forwards(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	userID := f.open(t)

	var broadcast domain.Message
	gomock.InOrder(
		f.broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msg domain.Message) error {
				broadcast = msg
				return nil
			}),
		f.channels.EXPECT().CreateChannel(gomock.Any(), ChannelType, "lobby", userID).Return(nil),
		f.channels.EXPECT().SendMessage(gomock.Any(), ChannelType, "lobby", gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, msg domain.Message) error {
				req.Equal(broadcast, msg)
				return nil
			}),
	)

	// When the client sends a message
	req.NoError(f.session.Handle(context.Background(), frame(t, map[string]string{
		"type": "send_message", "message": "hello",
	})))

	// Then it was relayed as a local message of the room
	req.NotEmpty(broadcast.ID)
	req.Equal(f.room, broadcast.Room)
	req.Equal("hello", broadcast.Text)
	req.Equal(userID, broadcast.SenderID)
	req.True(broadcast.Local)
	// And the sender got nothing but its greeting from the session itself
	req.Len(f.sink.received(), 1)
}

func TestSession_SendMessage_Reuses_Created_Channel(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.channels.EXPECT().CreateChannel(gomock.Any(), ChannelType, "lobby", gomock.Any()).Return(nil).Times(1)
	f.channels.EXPECT().AddMembers(gomock.Any(), ChannelType, "lobby", gomock.Any()).Return(nil)
	f.channels.EXPECT().QueryMessages(gomock.Any(), ChannelType, "lobby", 50).Return(nil, nil)
	f.broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	f.channels.EXPECT().SendMessage(gomock.Any(), ChannelType, "lobby", gomock.Any()).Return(nil).Times(2)

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"create_channel"}`)))
	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":"one"}`)))
	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":"two"}`)))
}

func TestSession_SendMessage_Is_Censored(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	censor := mocks.NewMockCensor(ctrl)
	f := newSessionFixture(t, censor)
	f.open(t)

	censor.EXPECT().Censor("a badger here").Return("a ****** here")
	f.broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg domain.Message) error {
			req.Equal("a ****** here", msg.Text)
			return nil
		})
	f.channels.EXPECT().CreateChannel(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.channels.EXPECT().SendMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":"a badger here"}`)))
}

func TestSession_SendMessage_Upstream_Failure(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(nil)
	f.channels.EXPECT().CreateChannel(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.channels.EXPECT().SendMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("rate limited"))

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":"hello"}`)))

	req.Equal(event.NewError("Failed to send message"), f.sink.last())
	req.Equal(StateActive, f.session.State())
}

func TestSession_SendMessage_Requires_Message(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":""}`)))
	req.Equal(event.NewError("message is required"), f.sink.last())
}

func TestSession_Malformed_Frame(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	// When the client sends garbage
	req.NoError(f.session.Handle(context.Background(), []byte(`{not json`)))

	// Then it is told so and stays connected
	req.Equal(event.NewError("Invalid message format"), f.sink.last())
	req.Equal(StateActive, f.session.State())
}

func TestSession_Unknown_Kind_Is_Ignored(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	req.NoError(f.session.Handle(context.Background(), []byte(`{"type":"typing_start"}`)))

	// Then nothing but the greeting was sent
	req.Len(f.sink.received(), 1)
	req.Equal(StateActive, f.session.State())
}

func TestSession_Panic_Is_Reported_As_Internal_Error(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.broadcaster.EXPECT().Broadcast(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.Message) error { panic("nil map") })

	req.NotPanics(func() {
		_ = f.session.Handle(context.Background(), []byte(`{"type":"send_message","message":"hello"}`))
	})
	req.Equal(event.NewError("Internal error"), f.sink.last())
	req.Equal(StateActive, f.session.State())
}

func TestSession_Close_Leaves_Room_Once(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.registry.EXPECT().Leave(f.room, f.session.ID()).Times(1)

	// When the transport reports the disconnect several times
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.session.Close()
		}()
	}
	wg.Wait()

	// Then it is closed for good
	req.Equal(StateClosed, f.session.State())
	req.ErrorIs(f.session.Handle(context.Background(), []byte(`{"type":"create_channel"}`)), errors.ErrSessionNotActive)
}

func TestSession_Close_Swallows_Leave_Panic(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, nil)
	f.open(t)

	f.registry.EXPECT().Leave(gomock.Any(), gomock.Any()).Do(func(domain.RoomID, string) { panic("registry gone") })

	req.NotPanics(f.session.Close)
	req.Equal(StateClosed, f.session.State())
}
