package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrTelegramAlreadyLinked signals that the Telegram account belongs to
	// another user.
	ErrTelegramAlreadyLinked = errors.New("identity: telegram account already linked")
)

// Repository handles data access for platform identities.
type Repository interface {
	GetUserByTelegramID(ctx context.Context, telegramUserID int64) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	LinkTelegram(ctx context.Context, userID string, telegramUserID int64) (User, error)
}

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	db DB
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(db DB) *PGRepository {
	return &PGRepository{db: db}
}

const userColumns = `id::text, display_name, telegram_user_id, created_at, updated_at`

// GetUserByTelegramID retrieves the user linked to a Telegram account.
func (r *PGRepository) GetUserByTelegramID(ctx context.Context, telegramUserID int64) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE telegram_user_id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, selectSQL, telegramUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: get user by telegram id: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: get user by id: %w", err)
	}
	return user, nil
}

// LinkTelegram attaches a Telegram account to the user.
func (r *PGRepository) LinkTelegram(ctx context.Context, userID string, telegramUserID int64) (User, error) {
	updateSQL := `
		UPDATE users
		SET telegram_user_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, updateSQL, userID, telegramUserID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrTelegramAlreadyLinked
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: link telegram: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		tgID *int64
	)
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&tgID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.TelegramUserID = tgID
	return user, nil
}
