package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	HeaderSignature = "X-Signature"
	HeaderAPIKey    = "X-Api-Key"
	HeaderWebhookID = "X-Webhook-Id"
)

// WebhookService turns provider callbacks into room broadcasts.
type WebhookService struct {
	log         *slog.Logger
	secret      string
	apiKey      string
	broadcaster contract.IBroadcaster
}

// NewWebhookService checks callbacks against secret. When apiKey is not
// empty the X-Api-Key header must also match it.
func NewWebhookService(log *slog.Logger, secret, apiKey string, broadcaster contract.IBroadcaster) *WebhookService {
	return &WebhookService{log: log, secret: secret, apiKey: apiKey, broadcaster: broadcaster}
}

// Handle authenticates one callback and relays it. The body is only parsed
// once its signature is known to be valid.
func (s *WebhookService) Handle(ctx context.Context, body []byte, headers http.Header) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Webhook handling panicked", "panic", r)
			err = errors.InternalFailure("webhook", fmt.Errorf("panic: %v", r))
		}
	}()

	signature := headers.Get(HeaderSignature)
	apiKey := headers.Get(HeaderAPIKey)
	webhookID := headers.Get(HeaderWebhookID)
	if signature == "" || apiKey == "" || webhookID == "" {
		return errors.AuthFailure("webhook", errors.ErrMissingHeaders)
	}
	if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		return errors.AuthFailure("webhook", errors.ErrInvalidAPIKey)
	}
	if !auth.VerifySignature(s.secret, body, signature) {
		return errors.AuthFailure("webhook", errors.ErrInvalidSignature)
	}

	evt, err := domain.ParseWebhookEvent(body)
	if err != nil {
		return errors.MalformedInput("webhook", "Malformed event", err)
	}

	log := s.log.With("webhook_id", webhookID, "event_type", evt.Type)
	if evt.Type != domain.EventMessageNew {
		log.Debug("Webhook event ignored")
		return nil
	}
	return s.relay(ctx, log, evt)
}

func (s *WebhookService) relay(ctx context.Context, log *slog.Logger, evt domain.WebhookEvent) error {
	routing, err := evt.Routing()
	if err != nil {
		return errors.MalformedInput("webhook", "Malformed event", err)
	}
	room, err := domain.RoomFromCID(routing.CID)
	if err != nil {
		return errors.MalformedInput("webhook", "Malformed event", err)
	}

	msg := domain.Message{ID: routing.ID, Room: room, Raw: evt.Message}
	if err = s.broadcaster.Broadcast(ctx, msg); err != nil {
		return err
	}
	log.Info("Webhook message relayed", "room", room.Name(), "message_id", routing.ID)
	return nil
}
