package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles everything the public router mounts.
type RouterDeps struct {
	Numbers      *NumberHandler
	Webhooks     *WebhookHandler
	Admin        *AdminHandler
	APIKeys      APIKeyValidator
	AdminToken   string
	WebhookToken string
	Logger       *slog.Logger
}

// NewRouter assembles the service's HTTP surface: the authenticated user
// API, the vendor webhook, the operator endpoints, and the usual probes.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(chi_middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(user chi.Router) {
			user.Use(AuthMiddleware(deps.APIKeys, deps.Logger))
			deps.Numbers.RegisterRoutes(user)
		})
		api.Group(func(hooks chi.Router) {
			hooks.Use(WebhookTokenMiddleware(deps.WebhookToken, deps.Logger))
			deps.Webhooks.RegisterRoutes(hooks)
		})
		api.Group(func(admin chi.Router) {
			admin.Use(AdminTokenMiddleware(deps.AdminToken, deps.Logger))
			deps.Admin.RegisterRoutes(admin)
		})
	})
	return r
}
