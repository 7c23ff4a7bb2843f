// Package local is an embedded delivery provider backed by BadgerDB.
// It lets the relay run standalone: identities, channels and channel
// history live next to the relay instead of in the hosted service.
package local

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.Provider = (*Provider)(nil)

type Provider struct {
	log      *slog.Logger
	users    repositories.IUserRepository
	channels repositories.IChannelRepository
	messages repositories.IMessageRepository
	tokens   *auth.TokenIssuer
}

func NewProvider(log *slog.Logger, users repositories.IUserRepository, channels repositories.IChannelRepository,
	messages repositories.IMessageRepository, tokens *auth.TokenIssuer) *Provider {
	return &Provider{log: log, users: users, channels: channels, messages: messages, tokens: tokens}
}

func (p *Provider) UpsertUser(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.users.UpsertUser(repositories.User{ID: user.ID, Name: user.Name, Role: user.Role})
}

func (p *Provider) CreateToken(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.tokens.UserToken(userID)
}

func (p *Provider) CreateChannel(ctx context.Context, channelType, channelID, createdBy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.channels.CreateChannel(cid(channelType, channelID), createdBy)
	return err
}

func (p *Provider) AddMembers(ctx context.Context, channelType, channelID string, userIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.channels.AddMembers(cid(channelType, channelID), userIDs)
}

func (p *Provider) QueryMessages(ctx context.Context, channelType, channelID string, limit int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	messages, err := p.messages.GetMessages(cid(channelType, channelID), limit)
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(item repositories.DiskMessage, _ int) json.RawMessage {
		return item.Payload
	}), nil
}

// SendMessage records a message in the channel history, creating the channel
// for the sender when it does not exist yet.
func (p *Provider) SendMessage(ctx context.Context, channelType, channelID string, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channelCID := cid(channelType, channelID)
	if _, err := p.channels.CreateChannel(channelCID, msg.SenderID); err != nil {
		return fmt.Errorf("ensure channel %s: %w", channelCID, err)
	}
	payload, err := msg.Payload()
	if err != nil {
		return err
	}
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.log.Debug("Storing channel message", "cid", channelCID, "message_id", id)
	return p.messages.StoreMessage(repositories.DiskMessage{
		ID:         id,
		ChannelCID: channelCID,
		Payload:    payload,
		At:         at,
	})
}

func cid(channelType, channelID string) string {
	return channelType + ":" + channelID
}
