package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/openrouter"
	"alibi/backend/internal/relay"
)

func TestStreamExcuseWritesServerSentEvents(t *testing.T) {
	env := newTestHandler(t, stubStreamer{tokens: []string{"My cat ", "locked me out."}})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", `{"scenario":"late to work","urgency":"high"}`), user)
	resp := httptest.NewRecorder()
	env.handler.StreamExcuse(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}
	want := "data: {\"content\":\"My cat \"}\n\ndata: {\"content\":\"locked me out.\"}\n\ndata: [DONE]\n\n"
	if resp.Body.String() != want {
		t.Fatalf("unexpected stream body:\n%q\nwant\n%q", resp.Body.String(), want)
	}
}

func TestStreamExcuseValidationHappensBeforeQuota(t *testing.T) {
	calls := 0
	env := newTestHandler(t, stubStreamer{tokens: []string{"x"}, calls: &calls})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	for _, body := range []string{`{"scenario":""}`, `{"scenario":"x","urgency":"whenever"}`, `{"scenario":"x","unknown":1}`, `not json`} {
		req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", body), user)
		resp := httptest.NewRecorder()
		env.handler.StreamExcuse(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected status %d, got %d", body, http.StatusBadRequest, resp.Code)
		}
		if code := errorCode(t, resp); code != "invalid_request" {
			t.Fatalf("body %s: unexpected error code %q", body, code)
		}
	}

	stored, err := env.accounts.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.CallCount != 0 || calls != 0 {
		t.Fatalf("invalid requests must not cost quota: count=%d calls=%d", stored.CallCount, calls)
	}
}

func TestStreamExcuseQuotaExceededReturns429WithLimit(t *testing.T) {
	env := newTestHandler(t, stubStreamer{tokens: []string{"ok"}})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	for i := 1; i <= 6; i++ {
		req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", `{"scenario":"late"}`), user)
		resp := httptest.NewRecorder()
		env.handler.StreamExcuse(resp, req)

		if i <= 5 {
			if resp.Code != http.StatusOK {
				t.Fatalf("call %d: expected 200, got %d (%s)", i, resp.Code, resp.Body.String())
			}
			continue
		}

		if resp.Code != http.StatusTooManyRequests {
			t.Fatalf("call %d: expected 429, got %d (%s)", i, resp.Code, resp.Body.String())
		}
		var body errorResponse
		decodeJSONBody(t, resp, &body)
		if body.Error.Code != "quota_exceeded" || body.Limit == nil || *body.Limit != 5 {
			t.Fatalf("unexpected quota body: %s", resp.Body.String())
		}
	}
}

func TestStreamExcuseCorruptedProKeyReturnsSetupFailure(t *testing.T) {
	calls := 0
	env := newTestHandler(t, stubStreamer{tokens: []string{"x"}, calls: &calls})
	user := seedUser(t, env, "pro-1", accounts.TierPro)
	if err := env.accounts.SetCredential(context.Background(), user.ID, "v1.not-really-ciphertext"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	user, _ = env.accounts.GetUser(context.Background(), user.ID)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", `{"scenario":"late"}`), user)
	resp := httptest.NewRecorder()
	env.handler.StreamExcuse(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d (%s)", resp.Code, resp.Body.String())
	}
	var body errorResponse
	decodeJSONBody(t, resp, &body)
	if body.Error.Code != "ai_setup_failed" || body.Error.Message != "AI client setup failed" {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
	if calls != 0 {
		t.Fatalf("expected no upstream call, got %d", calls)
	}
}

func TestStreamExcuseUpstreamFailureIsReportedInBand(t *testing.T) {
	env := newTestHandler(t, stubStreamer{
		tokens: []string{"first ", "second "},
		err:    openrouter.StreamError{Message: "upstream said: invalid key sk-or-shared-0123456789abcdef"},
	})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", `{"scenario":"late"}`), user)
	resp := httptest.NewRecorder()
	env.handler.StreamExcuse(resp, req)

	body := resp.Body.String()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected the stream to have started, got %d", resp.Code)
	}
	if strings.Count(body, "data: {") != 3 || strings.Count(body, "data: [DONE]") != 1 {
		t.Fatalf("expected 2 content events, 1 error event and one terminal marker, got %q", body)
	}
	if !strings.Contains(body, relay.StreamFailureMessage) {
		t.Fatalf("expected generic failure message in %q", body)
	}
	if strings.Contains(body, testSharedKey) || strings.Contains(body, "upstream said") {
		t.Fatalf("upstream error text leaked: %q", body)
	}
}

func TestStreamExcuseUsesOwnedKeyForProUser(t *testing.T) {
	var gotKey string
	env := newTestHandler(t, stubStreamer{
		tokens:    []string{"ok"},
		onRequest: func(apiKey string, _ openrouter.StreamRequest) { gotKey = apiKey },
	})
	user := seedProWithKey(t, env, "pro-1", testOwnedKey)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses/stream", `{"scenario":"late"}`), user)
	resp := httptest.NewRecorder()
	env.handler.StreamExcuse(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if gotKey != testOwnedKey {
		t.Fatal("expected the stored pro key to be used upstream")
	}
}

func TestCreateApologyReturnsContent(t *testing.T) {
	env := newTestHandler(t, stubStreamer{tokens: []string{"I'm sorry ", "for being late."}})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/apologies", `{"scenario":"late","excuse":"traffic"}`), user)
	resp := httptest.NewRecorder()
	env.handler.CreateApology(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var body struct {
		Content string `json:"content"`
	}
	decodeJSONBody(t, resp, &body)
	if body.Content != "I'm sorry for being late." {
		t.Fatalf("unexpected apology: %q", body.Content)
	}
}

func TestCreateApologyUpstreamFailureReturns502(t *testing.T) {
	env := newTestHandler(t, stubStreamer{err: errors.New("dial tcp: connection refused")})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/apologies", `{"scenario":"late"}`), user)
	resp := httptest.NewRecorder()
	env.handler.CreateApology(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d (%s)", resp.Code, resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "connection refused") {
		t.Fatalf("upstream error leaked: %s", resp.Body.String())
	}
}

func TestCreateProofReturnsTranscriptLines(t *testing.T) {
	transcript := "Mom: are you coming?\nMe: the train is stuck\nMom: oh no\nMe: sorry, 30 min late"
	env := newTestHandler(t, stubStreamer{tokens: []string{transcript}})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/proofs", `{"scenario":"late to dinner","platform":"whatsapp","participants":["Me","Mom"]}`), user)
	resp := httptest.NewRecorder()
	env.handler.CreateProof(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var body struct {
		Platform string `json:"platform"`
		Lines    []struct {
			Speaker string `json:"speaker"`
			Message string `json:"message"`
		} `json:"lines"`
		Content string `json:"content"`
	}
	decodeJSONBody(t, resp, &body)
	if body.Platform != "whatsapp" {
		t.Fatalf("unexpected platform: %q", body.Platform)
	}
	if len(body.Lines) != 4 || body.Lines[0].Speaker != "Mom" || body.Lines[1].Message != "the train is stuck" {
		t.Fatalf("unexpected lines: %+v", body.Lines)
	}
	if body.Content != transcript {
		t.Fatalf("unexpected content: %q", body.Content)
	}
}

func TestCreateProofRejectsBadParticipants(t *testing.T) {
	env := newTestHandler(t, stubStreamer{tokens: []string{"x"}})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithUser(jsonRequest(http.MethodPost, "/v1/proofs", `{"scenario":"late","participants":["Me: hacked"]}`), user)
	resp := httptest.NewRecorder()
	env.handler.CreateProof(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", resp.Code, resp.Body.String())
	}
}
