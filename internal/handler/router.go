package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// HealthChecker reports per-dependency health for the health endpoint.
type HealthChecker interface {
	Health() map[string]string
}

// NewRouter wires the HTTP surface: the auth endpoints under /api/v1/auth
// and a health endpoint for the load balancer.
func NewRouter(auth *AuthHandler, health HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/otp/initiate", auth.Initiate)
		r.Post("/otp/verify", auth.Verify)
		r.Post("/webauthn/start", auth.WebAuthnStart)
		r.Post("/webauthn/complete", auth.WebAuthnComplete)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		statuses := health.Health()
		healthy := true
		for _, s := range statuses {
			if s != "ok" {
				healthy = false
				break
			}
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, statuses)
	})

	return r
}
