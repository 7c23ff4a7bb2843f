package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Session is the server-side state of one client connection.
//
// Frames of a connection are handled one at a time by its reader, so Handle
// is not meant to be called concurrently. Close may be called from anywhere.
type Session struct {
	id      string
	room    domain.RoomID
	sink    contract.EventSink
	service *ChatService
	log     *slog.Logger

	state     atomic.Int32
	closeOnce sync.Once

	mu           sync.Mutex
	userID       string
	username     string
	channelReady bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) Room() domain.RoomID { return s.room }

func (s *Session) State() State { return State(s.state.Load()) }

// Identity returns the current user id and display name.
func (s *Session) Identity() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.username
}

// Open gives the connection an anonymous identity, subscribes it to its room
// and greets it. On failure the session ends up Closed without any membership.
func (s *Session) Open(ctx context.Context) error {
	if s.State() != StateConnecting {
		return errors.ErrSessionNotActive
	}

	userID := "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	username := "Anonymous_" + userID

	token, err := s.register(ctx, userID, username)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return err
	}
	s.setIdentity(userID, username)

	s.service.registry.Join(s.room, s.id, s.sink)
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		// Closed while registering.
		s.service.registry.Leave(s.room, s.id)
		return errors.ErrSessionNotActive
	}
	s.service.metrics.ConnectionOpened()

	s.send(ctx, event.NewConnectionEstablished(token, userID, username))
	s.log.Info("Connection established", "user_id", userID)
	return nil
}

func (s *Session) register(ctx context.Context, userID, username string) (string, error) {
	if err := s.service.identity.EnsureIdentity(ctx, userID, username); err != nil {
		return "", err
	}
	return s.service.identity.IssueToken(ctx, userID)
}

// Handle processes one inbound frame. Every failure is reported to the
// client as an error event; the returned error only tells the caller the
// session no longer accepts frames.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.State() != StateActive {
		return errors.ErrSessionNotActive
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.InternalFailure("handle_frame", fmt.Errorf("panic: %v", r))
			s.log.Error("Frame handling panicked", "panic", r)
			s.fail(ctx, err)
		}
	}()

	cmd, err := domain.DecodeFrame(raw)
	if err != nil {
		s.log.Warn("Rejected client frame", "error", err)
		s.fail(ctx, err)
		return nil
	}

	switch c := cmd.(type) {
	case domain.SetUsername:
		err = s.setUsername(ctx, c.Username)
	case domain.CreateChannel:
		err = s.createChannel(ctx)
	case domain.SendMessage:
		err = s.sendMessage(ctx, c.Message)
	default:
		s.log.Warn("Unknown message type received", "type", cmd.Kind())
		return nil
	}
	if err != nil {
		s.log.Error("Failed to handle frame", "type", cmd.Kind(), "error", err)
		s.fail(ctx, err)
	}
	return nil
}

// setUsername switches the connection to a new identity named after the
// chosen username. The previous identity is left as is upstream.
func (s *Session) setUsername(ctx context.Context, username string) error {
	token, err := s.register(ctx, username, username)
	if err != nil {
		return errors.UpstreamFailure("set_username", "Failed to set username", err)
	}
	previous, _ := s.Identity()
	s.setIdentity(username, username)

	s.send(ctx, event.NewUsernameSet(username, token))
	s.log.Info("Username set", "previous_user_id", previous, "user_id", username)
	return nil
}

// createChannel makes sure the room's channel exists upstream with the user
// as member, replays its recent history then confirms.
func (s *Session) createChannel(ctx context.Context) error {
	userID, _ := s.Identity()
	channelID := s.room.Name()

	pctx, cancel := bounded(ctx, s.service.config.ProviderTimeout)
	defer cancel()

	if err := s.ensureChannel(pctx, userID); err != nil {
		s.service.metrics.UpstreamError("create_channel")
		return errors.UpstreamFailure("create_channel", "Failed to create channel", err)
	}
	if err := s.service.channels.AddMembers(pctx, ChannelType, channelID, []string{userID}); err != nil {
		s.service.metrics.UpstreamError("add_members")
		return errors.UpstreamFailure("create_channel", "Failed to create channel", err)
	}
	history, err := s.service.channels.QueryMessages(pctx, ChannelType, channelID, s.service.config.HistoryLimit)
	if err != nil {
		s.service.metrics.UpstreamError("query_messages")
		return errors.UpstreamFailure("create_channel", "Failed to create channel", err)
	}

	for _, raw := range history {
		s.send(ctx, event.NewMessageReceived(raw))
	}
	s.send(ctx, event.NewChannelCreated(channelID))
	s.log.Info("Channel ready", "channel_id", channelID, "history", len(history))
	return nil
}

func (s *Session) ensureChannel(ctx context.Context, createdBy string) error {
	if err := s.service.channels.CreateChannel(ctx, ChannelType, s.room.Name(), createdBy); err != nil {
		return err
	}
	s.mu.Lock()
	s.channelReady = true
	s.mu.Unlock()
	return nil
}

func (s *Session) isChannelReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelReady
}

// sendMessage relays a local message to the room then forwards it upstream
// under the same id, so the provider's echo is recognised and dropped.
func (s *Session) sendMessage(ctx context.Context, text string) error {
	if s.service.censor != nil {
		text = s.service.censor.Censor(text)
	}
	userID, username := s.Identity()
	msg := domain.Message{
		ID:         uuid.NewString(),
		Room:       s.room,
		SenderID:   userID,
		SenderName: username,
		Text:       text,
		Local:      true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.service.broadcaster.Broadcast(ctx, msg); err != nil {
		return err
	}

	pctx, cancel := bounded(ctx, s.service.config.ProviderTimeout)
	defer cancel()
	if !s.isChannelReady() {
		if err := s.ensureChannel(pctx, userID); err != nil {
			s.service.metrics.UpstreamError("create_channel")
			return errors.UpstreamFailure("send_message", "Failed to send message", err)
		}
	}
	if err := s.service.channels.SendMessage(pctx, ChannelType, s.room.Name(), msg); err != nil {
		s.service.metrics.UpstreamError("send_message")
		return errors.UpstreamFailure("send_message", "Failed to send message", err)
	}
	return nil
}

// Close deregisters the connection. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		previous := State(s.state.Swap(int32(StateClosing)))
		if previous == StateActive {
			s.leave()
			s.service.metrics.ConnectionClosed()
		}
		s.state.Store(int32(StateClosed))
		s.log.Info("Connection closed", "previous_state", previous.String())
	})
}

func (s *Session) leave() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Failed to leave room", "panic", r)
		}
	}()
	s.service.registry.Leave(s.room, s.id)
}

func (s *Session) setIdentity(userID, username string) {
	s.mu.Lock()
	s.userID, s.username = userID, username
	s.mu.Unlock()
}

func (s *Session) fail(ctx context.Context, err error) {
	s.send(ctx, event.NewError(errors.PublicMessage(err)))
}

// send queues an event for this connection only. A closed connection is not
// an error worth reporting.
func (s *Session) send(ctx context.Context, e event.Event) {
	sctx, cancel := bounded(ctx, s.service.config.SinkTimeout)
	defer cancel()
	if err := s.sink.Consume(sctx, e); err != nil {
		s.log.Debug("Event not delivered to client", "type", e.Type(), "error", err)
	}
}
