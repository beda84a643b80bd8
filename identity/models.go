package identity

import "time"

// User is an internal account that can be party to deals. It mirrors the
// users table; TelegramUserID is set once the account is linked to a
// Telegram user.
type User struct {
	ID             string
	DisplayName    string
	TelegramUserID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
