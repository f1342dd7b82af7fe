// Package usage enforces the per-user call quota on the shared credential.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrQuotaExceeded = errors.New("free tier call limit reached")
	ErrUserNotFound  = errors.New("usage ledger: user not found")
)

// Reservation records one reserved call against a user's quota.
type Reservation struct {
	UserID    string
	CallCount int
	Limit     int
}

// Remaining is the number of calls left after this reservation.
func (r Reservation) Remaining() int {
	return max(r.Limit-r.CallCount, 0)
}

type Ledger interface {
	// CheckAndReserve atomically consumes one call or returns ErrQuotaExceeded
	// without mutating anything.
	CheckAndReserve(ctx context.Context, userID string) (Reservation, error)
	Remaining(ctx context.Context, userID string) (int, error)
	Limit() int
}

type SQLLedger struct {
	db    *sql.DB
	limit int
}

func NewSQLLedger(db *sql.DB, limit int) SQLLedger {
	return SQLLedger{db: db, limit: max(limit, 0)}
}

func (l SQLLedger) Limit() int {
	return l.limit
}

// CheckAndReserve increments call_count only while it is below the limit.
// The bound is part of the UPDATE itself, so concurrent callers cannot both
// observe the same count and overshoot.
func (l SQLLedger) CheckAndReserve(ctx context.Context, userID string) (Reservation, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
UPDATE users
SET call_count = call_count + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND call_count < ?
RETURNING call_count;
`, userID, l.limit).Scan(&count)
	if err == nil {
		return Reservation{UserID: userID, CallCount: count, Limit: l.limit}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, fmt.Errorf("reserve call: %w", err)
	}

	if _, err := l.callCount(ctx, userID); err != nil {
		return Reservation{}, err
	}
	return Reservation{}, ErrQuotaExceeded
}

func (l SQLLedger) Remaining(ctx context.Context, userID string) (int, error) {
	count, err := l.callCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return max(l.limit-count, 0), nil
}

func (l SQLLedger) callCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT call_count FROM users WHERE id = ?;`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read call count: %w", err)
	}
	return count, nil
}
