package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidLinkToken signals a link token that is malformed, expired or
// signed with another key.
var ErrInvalidLinkToken = errors.New("identity: invalid link token")

const linkAudience = "dealchat-link"

// LinkTokens issues and verifies the short-lived HS256 tokens the
// marketplace hands to a user so the bot can link their Telegram account.
// The subject is the marketplace user id.
type LinkTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLinkTokens(secret string, ttl time.Duration) *LinkTokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LinkTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *LinkTokens) WithClock(now func() time.Time) *LinkTokens {
	t.now = now
	return t
}

// Issue signs a token for userID.
func (t *LinkTokens) Issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("identity: user id is required")
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{linkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign link token: %w", err)
	}
	return token, nil
}

// Verify returns the user id a valid token was issued for.
func (t *LinkTokens) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(linkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLinkToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidLinkToken
	}
	return claims.Subject, nil
}
