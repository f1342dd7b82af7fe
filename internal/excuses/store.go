// Package excuses persists finished generations and the "effective" marks
// that feed style exemplars back into prompt composition.
package excuses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alibi/backend/internal/prompt"
)

var ErrNotFound = errors.New("excuse not found")

// effectiveAtLayout is fixed width so text ordering matches time ordering.
const effectiveAtLayout = "2006-01-02T15:04:05.000000000Z"

type Excuse struct {
	ID          string `json:"id"`
	UserID      string `json:"-"`
	Kind        string `json:"kind"`
	Scenario    string `json:"scenario"`
	Context     string `json:"context"`
	Urgency     string `json:"urgency"`
	Language    string `json:"language"`
	Content     string `json:"content"`
	Effective   bool   `json:"effective"`
	EffectiveAt string `json:"effectiveAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type NewExcuse struct {
	Kind     prompt.Kind
	Scenario string
	Context  string
	Urgency  prompt.Urgency
	Language string
	Content  string
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) Store {
	return Store{db: db, now: time.Now}
}

func (s Store) Save(ctx context.Context, userID string, in NewExcuse) (Excuse, error) {
	normalized := prompt.Request{
		Kind:      in.Kind,
		Situation: in.Scenario,
		Context:   in.Context,
		Language:  in.Language,
	}.Normalized()

	query := `
INSERT INTO excuses (id, user_id, kind, scenario, context_tag, urgency, language, content)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, user_id, kind, scenario, context_tag, urgency, language, content, effective, COALESCE(effective_at, ''), created_at;
`
	out, err := scanExcuse(s.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		userID,
		in.Kind.String(),
		normalized.Situation,
		normalized.Context,
		in.Urgency.String(),
		normalized.Language,
		strings.TrimSpace(in.Content),
	))
	if err != nil {
		return Excuse{}, fmt.Errorf("save excuse: %w", err)
	}
	return out, nil
}

// MarkEffective sets or clears the effective flag on one of the user's
// excuses. Marking again refreshes the timestamp so it becomes the most
// recent exemplar.
func (s Store) MarkEffective(ctx context.Context, userID, excuseID string, effective bool) (Excuse, error) {
	var effectiveAt any
	if effective {
		effectiveAt = s.now().UTC().Format(effectiveAtLayout)
	}

	query := `
UPDATE excuses
SET effective = ?, effective_at = ?
WHERE id = ? AND user_id = ?
RETURNING id, user_id, kind, scenario, context_tag, urgency, language, content, effective, COALESCE(effective_at, ''), created_at;
`
	out, err := scanExcuse(s.db.QueryRowContext(ctx, query, effective, effectiveAt, excuseID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Excuse{}, ErrNotFound
	}
	if err != nil {
		return Excuse{}, fmt.Errorf("mark excuse effective: %w", err)
	}
	return out, nil
}

// RecentEffective returns the content of the user's most recently marked
// effective outputs of the given kind, most recent first.
func (s Store) RecentEffective(ctx context.Context, userID string, kind prompt.Kind, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT content
FROM excuses
WHERE user_id = ? AND kind = ? AND effective = 1
ORDER BY effective_at DESC, rowid DESC
LIMIT ?;
`, userID, kind.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query effective excuses: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan effective excuse: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effective excuses: %w", err)
	}
	return out, nil
}

func scanExcuse(row *sql.Row) (Excuse, error) {
	var out Excuse
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.Kind,
		&out.Scenario,
		&out.Context,
		&out.Urgency,
		&out.Language,
		&out.Content,
		&out.Effective,
		&out.EffectiveAt,
		&out.CreatedAt,
	)
	return out, err
}
