package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/auth"
	"alibi/backend/internal/config"
	"alibi/backend/internal/credentials"
	"alibi/backend/internal/db/dbtest"
	"alibi/backend/internal/excuses"
	"alibi/backend/internal/generation"
	"alibi/backend/internal/logging"
	"alibi/backend/internal/openrouter"
	"alibi/backend/internal/relay"
	"alibi/backend/internal/secrets"
	"alibi/backend/internal/usage"
)

const (
	testSharedKey = "sk-or-shared-0123456789abcdef"
	testOwnedKey  = "sk-or-owned-0123456789abcdef"
)

type stubStreamer struct {
	tokens    []string
	err       error
	calls     *int
	onRequest func(apiKey string, req openrouter.StreamRequest)
}

func (s stubStreamer) StreamChatCompletion(
	_ context.Context,
	apiKey string,
	req openrouter.StreamRequest,
	onStart func() error,
	onDelta func(string) error,
	_ func(openrouter.Usage) error,
) error {
	if s.calls != nil {
		*s.calls++
	}
	if s.onRequest != nil {
		s.onRequest(apiKey, req)
	}
	if onStart != nil {
		if err := onStart(); err != nil {
			return err
		}
	}
	for _, token := range s.tokens {
		if err := onDelta(token); err != nil {
			return err
		}
	}
	return s.err
}

type stubModels struct {
	err  error
	keys []string
}

func (s *stubModels) ListModels(_ context.Context, apiKey string) ([]openrouter.Model, error) {
	s.keys = append(s.keys, apiKey)
	if s.err != nil {
		return nil, s.err
	}
	return []openrouter.Model{{ID: "openai/gpt-4o-mini"}}, nil
}

type stubAuthenticator struct {
	identity auth.GoogleIdentity
	err      error
}

func (s stubAuthenticator) Authenticate(*http.Request) (auth.GoogleIdentity, error) {
	return s.identity, s.err
}

type testEnv struct {
	handler  Handler
	accounts accounts.Store
	excuses  excuses.Store
	box      *secrets.Box
	models   *stubModels
}

func testConfig() config.Config {
	return config.Config{
		AuthRequired:          true,
		CredentialPrefix:      "sk-",
		VerifyUserCredentials: true,
		FreeTierCallLimit:     5,
		ProTierEmails:         map[string]struct{}{"boss@example.com": {}},
	}
}

func newTestHandler(t *testing.T, streamer stubStreamer) testEnv {
	t.Helper()
	return newTestHandlerWithConfig(t, testConfig(), streamer)
}

func newTestHandlerWithConfig(t *testing.T, cfg config.Config, streamer stubStreamer) testEnv {
	t.Helper()

	database := dbtest.Open(t)
	box, err := secrets.NewBox("server-secret-0123456789", cfg.CredentialPrefix)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	logger := logging.Discard()
	ledger := usage.NewSQLLedger(database, cfg.FreeTierCallLimit)
	accountStore := accounts.NewStore(database)
	excuseStore := excuses.NewStore(database)
	resolver := credentials.NewResolver(box, ledger, credentials.New(testSharedKey))
	service := generation.NewService(resolver, excuseStore, relay.New(streamer, "test/model", logger), logger)
	models := &stubModels{}

	h := NewHandler(cfg, Deps{
		Accounts:      accountStore,
		Excuses:       excuseStore,
		Ledger:        ledger,
		Box:           box,
		Generator:     service,
		Authenticator: stubAuthenticator{err: errors.New("no identity")},
		Models:        models,
		Logger:        logger,
	})
	return testEnv{handler: h, accounts: accountStore, excuses: excuseStore, box: box, models: models}
}

func seedUser(t *testing.T, env testEnv, sub string, tier accounts.Tier) accounts.User {
	t.Helper()
	user, err := env.accounts.UpsertUser(context.Background(), sub, sub+"@example.com", "Test", tier)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedProWithKey(t *testing.T, env testEnv, sub, key string) accounts.User {
	t.Helper()
	user := seedUser(t, env, sub, accounts.TierPro)
	ciphertext, err := env.box.Encrypt(key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := env.accounts.SetCredential(context.Background(), user.ID, ciphertext); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	reloaded, err := env.accounts.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return reloaded
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, resp.Body.String())
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeJSONBody(t, resp, &body)
	return body.Error.Code
}
