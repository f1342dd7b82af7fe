package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"alibi/backend/internal/credentials"
	"alibi/backend/internal/generation"
	"alibi/backend/internal/prompt"
	"alibi/backend/internal/relay"
	"alibi/backend/internal/usage"
)

type generationRequest struct {
	Scenario     string   `json:"scenario"`
	Context      string   `json:"context"`
	Urgency      string   `json:"urgency"`
	Language     string   `json:"language"`
	Platform     string   `json:"platform"`
	Participants []string `json:"participants"`
	Excuse       string   `json:"excuse"`
}

func (g generationRequest) toPrompt(kind prompt.Kind) (prompt.Request, error) {
	urgency, ok := prompt.ParseUrgency(g.Urgency)
	if !ok {
		return prompt.Request{}, fmt.Errorf("unknown urgency %q", g.Urgency)
	}
	// Unknown platforms fall back to the generic style.
	platform, _ := prompt.ParsePlatform(g.Platform)

	return prompt.Request{
		Kind:         kind,
		Situation:    g.Scenario,
		Context:      g.Context,
		Urgency:      urgency,
		Language:     g.Language,
		Platform:     platform,
		Participants: g.Participants,
		Excuse:       g.Excuse,
	}, nil
}

func (h Handler) decodeGeneration(w http.ResponseWriter, r *http.Request, kind prompt.Kind) (prompt.Request, bool) {
	var body generationRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return prompt.Request{}, false
	}
	req, err := body.toPrompt(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return prompt.Request{}, false
	}
	return req, true
}

// StreamExcuse answers with a server-sent event stream of content
// fragments terminated by [DONE]. Failures before the stream opens are
// ordinary JSON errors.
func (h Handler) StreamExcuse(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	req, ok := h.decodeGeneration(w, r, prompt.KindExcuse)
	if !ok {
		return
	}

	sess, err := relay.NewSession(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	err = h.generator.StreamExcuse(r.Context(), user, req, sess)
	if err == nil {
		return
	}
	if sess.State() != relay.StateIdle {
		// Already reported in-band.
		return
	}
	h.writeGenerationError(w, r, err)
}

func (h Handler) CreateApology(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	req, ok := h.decodeGeneration(w, r, prompt.KindApology)
	if !ok {
		return
	}

	text, err := h.generator.Apology(r.Context(), user, req)
	if err != nil {
		h.writeGenerationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": text})
}

func (h Handler) CreateProof(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	req, ok := h.decodeGeneration(w, r, prompt.KindProof)
	if !ok {
		return
	}

	proof, err := h.generator.Proof(r.Context(), user, req)
	if err != nil {
		h.writeGenerationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

// writeGenerationError maps generation failures to their public category.
// Only fixed messages leave the process; the cause is logged.
func (h Handler) writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, credentials.ErrSetupFailed):
		writeError(w, http.StatusInternalServerError, "ai_setup_failed", "AI client setup failed")
	case errors.Is(err, usage.ErrQuotaExceeded):
		writeQuotaError(w, h.ledger.Limit())
	case isClientGone(r.Context(), err):
		h.logger.Info(r.Context(), "caller went away before generation finished")
	case errors.Is(err, generation.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "generation_failed", "generation failed, please try again")
	default:
		h.logger.Error(r.Context(), "generation request failed", "error", relay.Describe(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
