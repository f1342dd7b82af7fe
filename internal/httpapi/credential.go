package httpapi

import (
	"errors"
	"net/http"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/openrouter"
)

type putCredentialRequest struct {
	Credential string `json:"credential"`
}

// PutCredential stores a pro user's own provider key, encrypted. The key
// is checked against the provider first when VERIFY_USER_CREDENTIALS is on.
func (h Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	if user.Tier != accounts.TierPro {
		writeError(w, http.StatusForbidden, "pro_required", "storing your own key requires the pro tier")
		return
	}

	var body putCredentialRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be {\"credential\": string}")
		return
	}
	if !h.box.ValidFormat(body.Credential) {
		writeError(w, http.StatusBadRequest, "invalid_credential", "credential format is not recognised")
		return
	}

	if h.cfg.VerifyUserCredentials {
		if _, err := h.models.ListModels(r.Context(), body.Credential); err != nil {
			var statusErr openrouter.StatusError
			if errors.As(err, &statusErr) && statusErr.Unauthorized() {
				writeError(w, http.StatusBadRequest, "credential_rejected", "the provider rejected this key")
				return
			}
			h.logger.Warn(r.Context(), "credential verification failed", "user_id", user.ID, "status", statusCode(err))
			writeError(w, http.StatusBadGateway, "credential_verification_failed", "could not verify the key with the provider")
			return
		}
	}

	ciphertext, err := h.box.Encrypt(body.Credential)
	if err != nil {
		h.logger.Error(r.Context(), "encrypt credential", "user_id", user.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to store credential")
		return
	}
	if err := h.accounts.SetCredential(r.Context(), user.ID, ciphertext); err != nil {
		h.logger.Error(r.Context(), "store credential", "user_id", user.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to store credential")
		return
	}

	h.logger.Info(r.Context(), "user credential stored", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"hasCredential": true})
}

func (h Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	if err := h.accounts.ClearCredential(r.Context(), user.ID); err != nil {
		h.logger.Error(r.Context(), "clear credential", "user_id", user.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to remove credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasCredential": false})
}

// statusCode extracts the upstream status for logs; provider bodies are not
// logged since they may echo the submitted key.
func statusCode(err error) int {
	var statusErr openrouter.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
