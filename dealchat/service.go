// Package dealchat relays messages between the two parties of a deal through
// per-party platform threads. It routes inbound messages, keeps each party's
// thread alive and recovers broken threads without losing messages. Bridge
// state changes go through the bridge package.
package dealchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

var (
	// ErrNotParticipant signals that the requester is not a party of the deal
	// or is not linked to any account.
	ErrNotParticipant = errors.New("dealchat: not a participant")
	// ErrNoRoute signals that no bridge binds the inbound thread for the sender.
	ErrNoRoute = errors.New("dealchat: no chat bound to thread")
	// ErrChatClosed signals an operation on a closed chat.
	ErrChatClosed = errors.New("dealchat: chat closed")
	// ErrEnsureExhausted is returned when a usable thread could not be
	// established within the attempt budget.
	ErrEnsureExhausted = errors.New("dealchat: thread could not be established")
)

const (
	maxEnsureAttempts   = 2
	routeCandidateLimit = 2
	defaultGraceWindow  = 2 * time.Minute
)

// Bridges is the bridge state API; *bridge.Service implements it.
type Bridges interface {
	LoadDeal(ctx context.Context, dealID string) (deal.Deal, error)
	Refresh(ctx context.Context, dealID string) (bridge.RefreshResult, error)
	Close(ctx context.Context, dealID, closedBy string) (bridge.RefreshResult, error)
	BindThread(ctx context.Context, dealID string, side deal.Side, candidate int64, expected *int64) (bridge.BindResult, error)
	Candidates(ctx context.Context, threadID int64, partyID string, limit int) ([]bridge.Candidate, error)
}

// Identity maps platform users to parties; *identity.Service implements it.
type Identity interface {
	ResolvePlatformUser(ctx context.Context, platformUserID int64) (string, error)
	ChatIDForParty(ctx context.Context, partyID string) (int64, error)
}

type Config struct {
	// GraceWindow suppresses recreation of a thread bound less than this long
	// ago.
	GraceWindow time.Duration
	// DeleteOnClose deletes threads when a chat closes instead of renaming
	// them.
	DeleteOnClose bool
	RoleLabelA    string
	RoleLabelB    string
}

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = defaultGraceWindow
	}
	if c.RoleLabelA == "" {
		c.RoleLabelA = "Advertiser"
	}
	if c.RoleLabelB == "" {
		c.RoleLabelB = "Publisher"
	}
	return c
}

type Service struct {
	bridges  Bridges
	identity Identity
	platform platform.Adapter
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(bridges Bridges, identity Identity, adapter platform.Adapter, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		bridges:  bridges,
		identity: identity,
		platform: adapter,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// participant resolves the requester and checks that they are a party of d.
func (s *Service) participant(ctx context.Context, platformUserID int64, d deal.Deal) (string, deal.Side, error) {
	partyID, err := s.resolveSender(ctx, platformUserID)
	if err != nil {
		return "", "", err
	}
	side, ok := d.SideOf(partyID)
	if !ok {
		return "", "", ErrNotParticipant
	}
	return partyID, side, nil
}

func (s *Service) resolveSender(ctx context.Context, platformUserID int64) (string, error) {
	partyID, err := s.identity.ResolvePlatformUser(ctx, platformUserID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownSender) || errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Debug("deal_chat_sender_unresolved", "platform_user_id", platformUserID)
			return "", ErrNotParticipant
		}
		return "", fmt.Errorf("dealchat: resolve sender: %w", err)
	}
	if partyID == "" {
		return "", ErrNotParticipant
	}
	return partyID, nil
}

// notify posts text into a thread (0 for the chat root). Failures are logged;
// the caller has nothing better to do with them.
func (s *Service) notify(ctx context.Context, chatID, threadID int64, text string) bool {
	if _, err := s.platform.SendToThread(ctx, chatID, threadID, platform.Payload{Text: text}); err != nil {
		s.logger.Warn("deal_chat_notice_failed",
			"chat_id", chatID,
			"thread_id", threadID,
			"error", err,
		)
		return false
	}
	return true
}
