package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/excuses"
	"alibi/backend/internal/prompt"
)

func requestWithExcuseID(req *http.Request, excuseID string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("excuseID", excuseID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestSaveExcuseAndMarkEffective(t *testing.T) {
	env := newTestHandler(t, stubStreamer{})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	saveReq := requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses", `{"scenario":"late","urgency":"low","content":"The bus never came."}`), user)
	saveResp := httptest.NewRecorder()
	env.handler.SaveExcuse(saveResp, saveReq)

	if saveResp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusCreated, saveResp.Code, saveResp.Body.String())
	}
	var saved struct {
		Excuse excuses.Excuse `json:"excuse"`
	}
	decodeJSONBody(t, saveResp, &saved)
	if saved.Excuse.ID == "" || saved.Excuse.Kind != "excuse" || saved.Excuse.Urgency != "low" {
		t.Fatalf("unexpected saved excuse: %+v", saved.Excuse)
	}

	markReq := requestWithUser(jsonRequest(http.MethodPut, "/v1/excuses/"+saved.Excuse.ID+"/effective", `{"effective":true}`), user)
	markReq = requestWithExcuseID(markReq, saved.Excuse.ID)
	markResp := httptest.NewRecorder()
	env.handler.MarkExcuseEffective(markResp, markReq)

	if markResp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, markResp.Code, markResp.Body.String())
	}

	exemplars, err := env.excuses.RecentEffective(context.Background(), user.ID, prompt.KindExcuse, prompt.MaxExemplars)
	if err != nil {
		t.Fatalf("recent effective: %v", err)
	}
	if len(exemplars) != 1 || exemplars[0] != "The bus never came." {
		t.Fatalf("unexpected exemplars: %v", exemplars)
	}
}

func TestSaveExcuseValidatesInput(t *testing.T) {
	env := newTestHandler(t, stubStreamer{})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	for _, body := range []string{
		`{"scenario":"late","content":""}`,
		`{"scenario":"","content":"x"}`,
		`{"kind":"poem","scenario":"late","content":"x"}`,
	} {
		resp := httptest.NewRecorder()
		env.handler.SaveExcuse(resp, requestWithUser(jsonRequest(http.MethodPost, "/v1/excuses", body), user))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestMarkEffectiveOnOtherUsersExcuseReturnsNotFound(t *testing.T) {
	env := newTestHandler(t, stubStreamer{})
	owner := seedUser(t, env, "owner", accounts.TierFree)
	intruder := seedUser(t, env, "intruder", accounts.TierFree)

	saved, err := env.excuses.Save(context.Background(), owner.ID, excuses.NewExcuse{Scenario: "late", Content: "mine"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	req := requestWithUser(jsonRequest(http.MethodPut, "/v1/excuses/"+saved.ID+"/effective", `{"effective":true}`), intruder)
	req = requestWithExcuseID(req, saved.ID)
	resp := httptest.NewRecorder()
	env.handler.MarkExcuseEffective(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestMarkEffectiveRequiresFlag(t *testing.T) {
	env := newTestHandler(t, stubStreamer{})
	user := seedUser(t, env, "free-1", accounts.TierFree)

	req := requestWithExcuseID(requestWithUser(jsonRequest(http.MethodPut, "/v1/excuses/x/effective", `{}`), user), "x")
	resp := httptest.NewRecorder()
	env.handler.MarkExcuseEffective(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
