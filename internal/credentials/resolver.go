// Package credentials decides which upstream key serves a generation request
// and whether the request may proceed at all.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/usage"
)

// ErrSetupFailed means the user's stored key could not be used. Callers must
// surface it generically and must not fall back to the shared key.
var ErrSetupFailed = errors.New("ai client setup failed")

// Opener decrypts a stored credential. *secrets.Box satisfies it.
type Opener interface {
	Decrypt(ciphertext string) (string, error)
}

type Resolution struct {
	Credential Credential
	UserOwned  bool
	// Reservation is set on the shared-credential path only.
	Reservation *usage.Reservation
}

type Resolver struct {
	opener Opener
	ledger usage.Ledger
	shared Credential
}

func NewResolver(opener Opener, ledger usage.Ledger, shared Credential) Resolver {
	return Resolver{opener: opener, ledger: ledger, shared: shared}
}

// Resolve returns the credential for user. Errors are ErrSetupFailed,
// usage.ErrQuotaExceeded, or a wrapped internal error.
func (r Resolver) Resolve(ctx context.Context, user accounts.User) (Resolution, error) {
	switch user.Tier {
	case accounts.TierPro:
		if user.HasCredential() {
			return r.resolveOwned(*user.EncryptedCredential)
		}
		return r.resolveShared(ctx, user.ID)
	case accounts.TierFree:
		return r.resolveShared(ctx, user.ID)
	default:
		return r.resolveShared(ctx, user.ID)
	}
}

func (r Resolver) resolveOwned(ciphertext string) (Resolution, error) {
	plaintext, err := r.opener.Decrypt(ciphertext)
	if err != nil || plaintext == "" {
		return Resolution{}, ErrSetupFailed
	}
	return Resolution{Credential: New(plaintext), UserOwned: true}, nil
}

func (r Resolver) resolveShared(ctx context.Context, userID string) (Resolution, error) {
	if r.shared.IsZero() {
		return Resolution{}, ErrSetupFailed
	}

	reservation, err := r.ledger.CheckAndReserve(ctx, userID)
	if errors.Is(err, usage.ErrQuotaExceeded) {
		return Resolution{}, err
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("reserve shared call: %w", err)
	}
	return Resolution{Credential: r.shared, Reservation: &reservation}, nil
}
