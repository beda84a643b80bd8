package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestLinkTokens_IssueAndVerify(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	tokens := NewLinkTokens("link-secret", 10*time.Minute).WithClock(func() time.Time { return now })

	token, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}
	userID, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("verify: unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("verify: expected user-1 got %q", userID)
	}

	if _, err := tokens.Issue("  "); err == nil {
		t.Fatal("issue: expected error for empty user id")
	}
}

func TestLinkTokens_RejectsBadTokens(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	tokens := NewLinkTokens("link-secret", 10*time.Minute).WithClock(func() time.Time { return now })
	valid, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}

	expired := NewLinkTokens("link-secret", 10*time.Minute).WithClock(func() time.Time { return now.Add(11 * time.Minute) })
	if _, err := expired.Verify(valid); !errors.Is(err, ErrInvalidLinkToken) {
		t.Fatalf("expired: expected ErrInvalidLinkToken got %v", err)
	}

	other := NewLinkTokens("another-secret", 10*time.Minute).WithClock(func() time.Time { return now })
	if _, err := other.Verify(valid); !errors.Is(err, ErrInvalidLinkToken) {
		t.Fatalf("wrong key: expected ErrInvalidLinkToken got %v", err)
	}

	// A session token for another audience must not link accounts.
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("link-secret"))
	if err != nil {
		t.Fatalf("sign: unexpected error: %v", err)
	}
	if _, err := tokens.Verify(foreign); !errors.Is(err, ErrInvalidLinkToken) {
		t.Fatalf("no audience: expected ErrInvalidLinkToken got %v", err)
	}

	if _, err := tokens.Verify("not-a-token"); !errors.Is(err, ErrInvalidLinkToken) {
		t.Fatalf("garbage: expected ErrInvalidLinkToken got %v", err)
	}
}

func TestService_LinkWithToken(t *testing.T) {
	repo := newFakeRepository()
	repo.add(User{ID: "user-1"}, 0)
	tokens := NewLinkTokens("link-secret", time.Minute)
	ctx := context.Background()

	if _, err := NewService(repo).LinkWithToken(ctx, "anything", 42); !errors.Is(err, ErrInvalidLinkToken) {
		t.Fatalf("unconfigured: expected ErrInvalidLinkToken got %v", err)
	}

	svc := NewService(repo).WithLinkTokens(tokens)
	token, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}
	user, err := svc.LinkWithToken(ctx, token, 42)
	if err != nil {
		t.Fatalf("link: unexpected error: %v", err)
	}
	if user.ID != "user-1" || user.TelegramUserID == nil || *user.TelegramUserID != 42 {
		t.Fatalf("link: unexpected user %+v", user)
	}

	partyID, err := svc.ResolvePlatformUser(ctx, 42)
	if err != nil || partyID != "user-1" {
		t.Fatalf("resolve after link: got %q, %v", partyID, err)
	}
}
