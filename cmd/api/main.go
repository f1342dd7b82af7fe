package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"alibi/backend/internal/accounts"
	"alibi/backend/internal/auth"
	"alibi/backend/internal/config"
	"alibi/backend/internal/credentials"
	"alibi/backend/internal/db"
	"alibi/backend/internal/excuses"
	"alibi/backend/internal/generation"
	"alibi/backend/internal/httpapi"
	"alibi/backend/internal/logging"
	"alibi/backend/internal/openrouter"
	"alibi/backend/internal/relay"
	"alibi/backend/internal/secrets"
	"alibi/backend/internal/usage"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("env", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	box, err := secrets.NewBox(cfg.CredentialEncryptionSecret, cfg.CredentialPrefix)
	if err != nil {
		log.Fatalf("init secret store: %v", err)
	}

	openRouterClient := openrouter.NewClient(cfg, &http.Client{})
	ledger := usage.NewSQLLedger(database, cfg.FreeTierCallLimit)
	accountStore := accounts.NewStore(database)
	excuseStore := excuses.NewStore(database)
	resolver := credentials.NewResolver(box, ledger, credentials.New(cfg.OpenRouterAPIKey))
	rel := relay.New(relay.Paced(openRouterClient, cfg.UpstreamMinInterval), cfg.OpenRouterModel, logger.With("component", "relay"))
	service := generation.NewService(resolver, excuseStore, rel, logger.With("component", "generation"))

	handler := httpapi.NewRouter(cfg, httpapi.Deps{
		Accounts:      accountStore,
		Excuses:       excuseStore,
		Ledger:        ledger,
		Box:           box,
		Generator:     service,
		Authenticator: auth.NewVerifier(cfg),
		Models:        openRouterClient,
		Logger:        logger.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams stay open as long as the upstream keeps producing.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "api listening", "addr", cfg.ListenAddress(), "model", cfg.OpenRouterModel, "free_tier_limit", cfg.FreeTierCallLimit)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown error", "error", err.Error())
	}
}
