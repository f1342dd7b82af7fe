// Package generation runs one generation request end to end: validation,
// credential resolution, exemplar lookup, prompt composition and relay.
package generation

import (
	"context"
	"errors"
	"fmt"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/credentials"
	"alibi/backend/internal/logging"
	"alibi/backend/internal/prompt"
	"alibi/backend/internal/relay"
)

var (
	ErrInvalidRequest   = errors.New("invalid generation request")
	ErrGenerationFailed = errors.New("generation failed")
)

type Resolver interface {
	Resolve(ctx context.Context, user accounts.User) (credentials.Resolution, error)
}

// Exemplars looks up a user's earlier outputs marked effective.
// *excuses.Store satisfies it.
type Exemplars interface {
	RecentEffective(ctx context.Context, userID string, kind prompt.Kind, limit int) ([]string, error)
}

type Relay interface {
	Stream(ctx context.Context, cred credentials.Credential, prompts prompt.Prompts, sess *relay.Session) error
	Complete(ctx context.Context, cred credentials.Credential, prompts prompt.Prompts) (string, error)
}

type Proof struct {
	Platform prompt.Platform `json:"platform"`
	Lines    []prompt.Line   `json:"lines"`
	Content  string          `json:"content"`
}

type Service struct {
	resolver  Resolver
	exemplars Exemplars
	relay     Relay
	logger    logging.Logger
}

func NewService(resolver Resolver, exemplars Exemplars, relay Relay, logger logging.Logger) Service {
	return Service{resolver: resolver, exemplars: exemplars, relay: relay, logger: logger}
}

// StreamExcuse streams an excuse into sess. Errors returned while sess is
// still idle (invalid request, setup failure, quota) have not been written
// anywhere and are the caller's to report. Once the stream is open, failures
// are reported in-band and the error is informational.
func (s Service) StreamExcuse(ctx context.Context, user accounts.User, req prompt.Request, sess *relay.Session) error {
	req.Kind = prompt.KindExcuse
	prompts, resolution, err := s.prepare(ctx, user, req)
	if err != nil {
		return err
	}
	return s.relay.Stream(ctx, resolution.Credential, prompts, sess)
}

func (s Service) Apology(ctx context.Context, user accounts.User, req prompt.Request) (string, error) {
	req.Kind = prompt.KindApology
	prompts, resolution, err := s.prepare(ctx, user, req)
	if err != nil {
		return "", err
	}

	text, err := s.relay.Complete(ctx, resolution.Credential, prompts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return text, nil
}

// Proof generates a chat transcript and keeps only well-formed lines from
// known participants.
func (s Service) Proof(ctx context.Context, user accounts.User, req prompt.Request) (Proof, error) {
	req.Kind = prompt.KindProof
	prompts, resolution, err := s.prepare(ctx, user, req)
	if err != nil {
		return Proof{}, err
	}

	text, err := s.relay.Complete(ctx, resolution.Credential, prompts)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	normalized := req.Normalized()
	lines, err := prompt.ParseTranscript(text, normalized.Participants)
	if err != nil {
		s.logger.Warn(ctx, "proof transcript rejected", "user_id", user.ID, "error", err.Error())
		return Proof{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return Proof{
		Platform: normalized.Platform,
		Lines:    lines,
		Content:  prompt.FormatTranscript(lines),
	}, nil
}

func (s Service) prepare(ctx context.Context, user accounts.User, req prompt.Request) (prompt.Prompts, credentials.Resolution, error) {
	if err := req.Validate(); err != nil {
		return prompt.Prompts{}, credentials.Resolution{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	resolution, err := s.resolver.Resolve(ctx, user)
	if err != nil {
		if errors.Is(err, credentials.ErrSetupFailed) {
			s.logger.Warn(ctx, "credential setup failed", "user_id", user.ID, "tier", user.Tier.String())
		}
		return prompt.Prompts{}, credentials.Resolution{}, err
	}

	logArgs := []any{"user_id", user.ID, "kind", req.Kind.String(), "user_owned", resolution.UserOwned}
	if resolution.Reservation != nil {
		logArgs = append(logArgs, "remaining", resolution.Reservation.Remaining())
	}
	s.logger.Info(ctx, "generation authorised", logArgs...)

	var exemplars []string
	if s.exemplars != nil {
		exemplars, err = s.exemplars.RecentEffective(ctx, user.ID, req.Kind, prompt.MaxExemplars)
		if err != nil {
			s.logger.Warn(ctx, "exemplar lookup failed", "user_id", user.ID, "error", err.Error())
			exemplars = nil
		}
	}

	return prompt.Compose(req, exemplars), resolution, nil
}
