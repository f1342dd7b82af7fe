package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/auth"
	"alibi/backend/internal/config"
	"alibi/backend/internal/excuses"
	"alibi/backend/internal/generation"
	"alibi/backend/internal/logging"
	"alibi/backend/internal/openrouter"
	"alibi/backend/internal/prompt"
	"alibi/backend/internal/relay"
	"alibi/backend/internal/secrets"
	"alibi/backend/internal/usage"
)

type authenticator interface {
	Authenticate(r *http.Request) (auth.GoogleIdentity, error)
}

type generator interface {
	StreamExcuse(ctx context.Context, user accounts.User, req prompt.Request, sess *relay.Session) error
	Apology(ctx context.Context, user accounts.User, req prompt.Request) (string, error)
	Proof(ctx context.Context, user accounts.User, req prompt.Request) (generation.Proof, error)
}

type modelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]openrouter.Model, error)
}

// Deps are the collaborators a Handler needs; main wires the real ones.
type Deps struct {
	Accounts      accounts.Store
	Excuses       excuses.Store
	Ledger        usage.Ledger
	Box           *secrets.Box
	Generator     generator
	Authenticator authenticator
	Models        modelLister
	Logger        logging.Logger
}

type Handler struct {
	cfg           config.Config
	accounts      accounts.Store
	excuses       excuses.Store
	ledger        usage.Ledger
	box           *secrets.Box
	generator     generator
	authenticator authenticator
	models        modelLister
	logger        logging.Logger
}

func NewHandler(cfg config.Config, deps Deps) Handler {
	return Handler{
		cfg:           cfg,
		accounts:      deps.Accounts,
		excuses:       deps.Excuses,
		ledger:        deps.Ledger,
		box:           deps.Box,
		generator:     deps.Generator,
		authenticator: deps.Authenticator,
		models:        deps.Models,
		logger:        deps.Logger,
	}
}

type contextKey string

const userContextKey contextKey = "user"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequireUser authenticates the caller and loads (or provisions) their
// account row, which carries tier, quota and stored credential.
func (h Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := anonymousIdentity()
		if h.cfg.AuthRequired {
			var err error
			identity, err = h.authenticator.Authenticate(r)
			if err != nil {
				h.logger.Info(r.Context(), "authentication rejected", "error", err.Error())
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
				return
			}
		}

		tier := accounts.TierFree
		if _, ok := h.cfg.ProTierEmails[strings.ToLower(identity.Email)]; ok {
			tier = accounts.TierPro
		}

		user, err := h.accounts.UpsertUser(r.Context(), identity.GoogleSubject, identity.Email, identity.Name, tier)
		if errors.Is(err, accounts.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_conflict", "this email is linked to another account")
			return
		}
		if err != nil {
			h.logger.Error(r.Context(), "upsert user", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "db_error", "failed to load user")
			return
		}

		next.ServeHTTP(w, requestWithUser(r, user))
	})
}

type quotaResponse struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type meResponse struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	Tier          accounts.Tier  `json:"tier"`
	CallCount     int            `json:"callCount"`
	HasCredential bool           `json:"hasCredential"`
	Quota         *quotaResponse `json:"quota"`
}

func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": h.describeUser(user)})
}

func (h Handler) describeUser(user accounts.User) meResponse {
	out := meResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Tier:          user.Tier,
		CallCount:     user.CallCount,
		HasCredential: user.HasCredential(),
	}
	// Pro users with their own key are not metered.
	if user.Tier == accounts.TierPro && user.HasCredential() {
		return out
	}
	limit := h.ledger.Limit()
	out.Quota = &quotaResponse{Limit: limit, Remaining: max(limit-user.CallCount, 0)}
	return out
}

func userFromContext(ctx context.Context) (accounts.User, bool) {
	value := ctx.Value(userContextKey)
	if value == nil {
		return accounts.User{}, false
	}
	user, ok := value.(accounts.User)
	return user, ok
}

func requestWithUser(r *http.Request, user accounts.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}

func anonymousIdentity() auth.GoogleIdentity {
	return auth.GoogleIdentity{
		GoogleSubject: "anonymous",
		Email:         "anonymous@alibi.local",
		Name:          "Anonymous",
	}
}

func isClientGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
