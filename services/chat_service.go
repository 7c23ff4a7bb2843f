package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ChannelType is the provider channel type used for every room.
const ChannelType = "messaging"

type ChatConfig struct {
	HistoryLimit    int
	ProviderTimeout time.Duration
	// SinkTimeout bounds how long a direct reply waits for room in the
	// connection queue. Zero waits as long as the request context.
	SinkTimeout time.Duration
}

// ChatService holds what every session of this node shares.
type ChatService struct {
	log         *slog.Logger
	registry    contract.IRegistry
	broadcaster contract.IBroadcaster
	identity    contract.IIdentityService
	channels    contract.ChannelProvider
	censor      contract.Censor
	config      ChatConfig
	metrics     *observability.Metrics
}

// NewChatService wires the session dependencies. censor may be nil.
func NewChatService(log *slog.Logger, registry contract.IRegistry, broadcaster contract.IBroadcaster,
	identity contract.IIdentityService, channels contract.ChannelProvider, censor contract.Censor,
	config ChatConfig, metrics *observability.Metrics) *ChatService {
	return &ChatService{
		log:         log,
		registry:    registry,
		broadcaster: broadcaster,
		identity:    identity,
		channels:    channels,
		censor:      censor,
		config:      config,
		metrics:     metrics,
	}
}

// NewSession creates the session of a freshly accepted connection to room.
// The session stays in Connecting until Open succeeds.
func (s *ChatService) NewSession(room domain.RoomID, sink contract.EventSink) *Session {
	connID := uuid.NewString()
	return &Session{
		id:      connID,
		room:    room,
		sink:    sink,
		service: s,
		log:     s.log.With("conn_id", connID, "room", room.Name()),
	}
}
