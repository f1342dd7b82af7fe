package httpapi

import (
	"net/http"

	"alibi/backend/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg config.Config, deps Deps) http.Handler {
	h := NewHandler(cfg, deps)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Test-Email", "X-Test-Google-Sub", "X-Test-Name"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(h.RequireUser)

		v1.Get("/me", h.Me)
		v1.Put("/me/credential", h.PutCredential)
		v1.Delete("/me/credential", h.DeleteCredential)

		v1.Post("/excuses/stream", h.StreamExcuse)
		v1.Post("/excuses", h.SaveExcuse)
		v1.Put("/excuses/{excuseID}/effective", h.MarkExcuseEffective)
		v1.Post("/apologies", h.CreateApology)
		v1.Post("/proofs", h.CreateProof)
	})

	return r
}
