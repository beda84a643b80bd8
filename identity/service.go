package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSender signals that a platform user is not linked to any account.
var ErrUnknownSender = errors.New("identity: unknown sender")

// Service maps Telegram users to internal party ids and back. In a private
// chat with the bot the chat id equals the Telegram user id.
type Service struct {
	repo   Repository
	tokens *LinkTokens
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// WithLinkTokens enables LinkWithToken.
func (s *Service) WithLinkTokens(tokens *LinkTokens) *Service {
	s.tokens = tokens
	return s
}

// ResolvePlatformUser returns the party id linked to telegramUserID.
func (s *Service) ResolvePlatformUser(ctx context.Context, telegramUserID int64) (string, error) {
	if telegramUserID <= 0 {
		return "", ErrUnknownSender
	}
	user, err := s.repo.GetUserByTelegramID(ctx, telegramUserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUnknownSender
		}
		return "", err
	}
	return user.ID, nil
}

// ChatIDForParty returns the private chat id the bot uses to reach partyID.
func (s *Service) ChatIDForParty(ctx context.Context, partyID string) (int64, error) {
	user, err := s.repo.GetUserByID(ctx, partyID)
	if err != nil {
		return 0, err
	}
	if user.TelegramUserID == nil {
		return 0, fmt.Errorf("identity: user %s has no linked telegram account", partyID)
	}
	return *user.TelegramUserID, nil
}

// Link attaches a Telegram account to an existing user.
func (s *Service) Link(ctx context.Context, userID string, telegramUserID int64) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("identity: user id is required")
	}
	if telegramUserID <= 0 {
		return nil, fmt.Errorf("identity: invalid telegram user id %d", telegramUserID)
	}
	user, err := s.repo.LinkTelegram(ctx, userID, telegramUserID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkWithToken links telegramUserID to the user a link token was issued
// for. It fails with ErrInvalidLinkToken when tokens are not configured.
func (s *Service) LinkWithToken(ctx context.Context, token string, telegramUserID int64) (*User, error) {
	if s.tokens == nil {
		return nil, fmt.Errorf("%w: link tokens are not configured", ErrInvalidLinkToken)
	}
	userID, err := s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	return s.Link(ctx, userID, telegramUserID)
}
