package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

const userRole = "user"

var _ contract.IIdentityService = (*IdentityService)(nil)

// IdentityService is the bridge between connecting users and the provider
// identities and tokens. Each call is bounded by timeout.
type IdentityService struct {
	log      *slog.Logger
	provider contract.IdentityProvider
	timeout  time.Duration
	metrics  *observability.Metrics
}

func NewIdentityService(log *slog.Logger, provider contract.IdentityProvider, timeout time.Duration,
	metrics *observability.Metrics) *IdentityService {
	return &IdentityService{log: log, provider: provider, timeout: timeout, metrics: metrics}
}

// EnsureIdentity upserts the user upstream.
func (s *IdentityService) EnsureIdentity(ctx context.Context, userID, displayName string) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	user := domain.User{ID: userID, Role: userRole, Name: displayName}
	if err := s.provider.UpsertUser(ctx, user); err != nil {
		s.metrics.UpstreamError("upsert_user")
		return errors.UpstreamFailure("ensure_identity", "Failed to register user", err)
	}
	s.log.Debug("Identity ensured", "user_id", userID)
	return nil
}

// IssueToken creates an access token for the user.
func (s *IdentityService) IssueToken(ctx context.Context, userID string) (string, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	token, err := s.provider.CreateToken(ctx, userID)
	if err != nil {
		s.metrics.UpstreamError("create_token")
		return "", errors.UpstreamFailure("issue_token", "Failed to issue token", err)
	}
	return token, nil
}

// bounded applies timeout to ctx when one is configured.
func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
