package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken means another Google subject already owns the email.
	ErrEmailTaken = errors.New("email belongs to another account")
)

type User struct {
	ID                  string  `json:"id"`
	Email               string  `json:"email"`
	Name                string  `json:"name,omitempty"`
	GoogleSub           string  `json:"googleSub"`
	Tier                Tier    `json:"tier"`
	CallCount           int     `json:"callCount"`
	EncryptedCredential *string `json:"-"`
	CreatedAt           string  `json:"createdAt"`
	UpdatedAt           string  `json:"updatedAt"`
}

// HasCredential reports whether the user stored a personal provider key.
func (u User) HasCredential() bool {
	return u.EncryptedCredential != nil && strings.TrimSpace(*u.EncryptedCredential) != ""
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

const userColumns = `id, google_sub, email, COALESCE(display_name, ''), tier, call_count, encrypted_credential, created_at, updated_at`

// UpsertUser creates the user on first sight and refreshes profile fields
// afterwards. A TierPro argument promotes an existing user; TierFree never
// demotes one.
func (s Store) UpsertUser(ctx context.Context, googleSub, email, name string, tier Tier) (User, error) {
	query := `
INSERT INTO users (id, google_sub, email, display_name, tier)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(google_sub) DO UPDATE SET
  email = excluded.email,
  display_name = excluded.display_name,
  tier = CASE WHEN excluded.tier = 'pro' THEN 'pro' ELSE users.tier END,
  updated_at = CURRENT_TIMESTAMP
RETURNING ` + userColumns + `;
`

	email = strings.ToLower(email)
	out, err := scanUser(s.db.QueryRowContext(ctx, query, uuid.NewString(), googleSub, email, strings.TrimSpace(name), tier.String()))
	if err != nil {
		if taken, lookupErr := s.emailOwnedByOther(ctx, email, googleSub); lookupErr == nil && taken {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

func (s Store) emailOwnedByOther(ctx context.Context, email, googleSub string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email = ? AND google_sub <> ? LIMIT 1;`, email, googleSub).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s Store) GetUser(ctx context.Context, id string) (User, error) {
	out, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return out, nil
}

// SetCredential stores an already encrypted provider key.
func (s Store) SetCredential(ctx context.Context, id, ciphertext string) error {
	return s.updateOne(ctx, "set credential", `UPDATE users SET encrypted_credential = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`, ciphertext, id)
}

func (s Store) ClearCredential(ctx context.Context, id string) error {
	return s.updateOne(ctx, "clear credential", `UPDATE users SET encrypted_credential = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`, id)
}

func (s Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		out        User
		tier       string
		credential sql.NullString
	)
	if err := row.Scan(
		&out.ID,
		&out.GoogleSub,
		&out.Email,
		&out.Name,
		&tier,
		&out.CallCount,
		&credential,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return User{}, err
	}

	out.Tier, _ = ParseTier(tier)
	if credential.Valid {
		value := credential.String
		out.EncryptedCredential = &value
	}
	return out, nil
}
