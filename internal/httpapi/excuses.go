package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"alibi/backend/internal/excuses"
	"alibi/backend/internal/prompt"
)

const maxSavedContentRunes = 8000

type saveExcuseRequest struct {
	Kind     string `json:"kind"`
	Scenario string `json:"scenario"`
	Context  string `json:"context"`
	Urgency  string `json:"urgency"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

func (s saveExcuseRequest) toNew() (excuses.NewExcuse, error) {
	kind := prompt.KindExcuse
	if strings.TrimSpace(s.Kind) != "" {
		parsed, ok := prompt.ParseKind(s.Kind)
		if !ok {
			return excuses.NewExcuse{}, fmt.Errorf("unknown kind %q", s.Kind)
		}
		kind = parsed
	}
	urgency, ok := prompt.ParseUrgency(s.Urgency)
	if !ok {
		return excuses.NewExcuse{}, fmt.Errorf("unknown urgency %q", s.Urgency)
	}

	req := prompt.Request{Kind: kind, Situation: s.Scenario, Context: s.Context, Language: s.Language}
	if err := req.Validate(); err != nil {
		return excuses.NewExcuse{}, err
	}
	content := strings.TrimSpace(s.Content)
	if content == "" {
		return excuses.NewExcuse{}, errors.New("content is required")
	}
	if utf8.RuneCountInString(content) > maxSavedContentRunes {
		return excuses.NewExcuse{}, fmt.Errorf("content must be at most %d characters", maxSavedContentRunes)
	}

	return excuses.NewExcuse{
		Kind:     kind,
		Scenario: s.Scenario,
		Context:  s.Context,
		Urgency:  urgency,
		Language: s.Language,
		Content:  content,
	}, nil
}

// SaveExcuse persists text the caller already received. A failure here
// never affects the generation that produced it.
func (h Handler) SaveExcuse(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	var body saveExcuseRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in, err := body.toNew()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	saved, err := h.excuses.Save(r.Context(), user.ID, in)
	if err != nil {
		h.logger.Error(r.Context(), "save excuse", "user_id", user.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to save excuse")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"excuse": saved})
}

type markEffectiveRequest struct {
	Effective *bool `json:"effective"`
}

func (h Handler) MarkExcuseEffective(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	excuseID := strings.TrimSpace(chi.URLParam(r, "excuseID"))
	if excuseID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "excuse id is required")
		return
	}

	var body markEffectiveRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Effective == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "effective is required")
		return
	}

	updated, err := h.excuses.MarkEffective(r.Context(), user.ID, excuseID, *body.Effective)
	if errors.Is(err, excuses.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "excuse not found")
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "mark excuse effective", "user_id", user.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to update excuse")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"excuse": updated})
}
