package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/FlashTheFire/NexNum-sub011/internal/health"
)

// AdminHandler exposes the operator endpoints: fleet health and manual
// circuit control. Routes behind it are guarded by AdminTokenMiddleware.
type AdminHandler struct {
	monitor *health.Monitor
	logger  *slog.Logger
}

func NewAdminHandler(monitor *health.Monitor, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{monitor: monitor, logger: logger.With("handler", "admin")}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/providers/health", h.handleFleetHealth)
	r.Get("/admin/providers/{provider}/health", h.handleProviderHealth)
	r.Post("/admin/providers/{provider}/circuit/open", h.handleOpenCircuit)
	r.Post("/admin/providers/{provider}/circuit/close", h.handleCloseCircuit)
}

func (h *AdminHandler) handleFleetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.monitor.GetAllHealth(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "fleet health lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *AdminHandler) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	snapshot, err := h.monitor.GetHealth(ctx, provider)
	if err != nil {
		h.logger.ErrorContext(ctx, "health lookup failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *AdminHandler) handleOpenCircuit(w http.ResponseWriter, r *http.Request) {
	h.forceCircuit(w, r, h.monitor.OpenCircuit, "circuit forced open")
}

func (h *AdminHandler) handleCloseCircuit(w http.ResponseWriter, r *http.Request) {
	h.forceCircuit(w, r, h.monitor.CloseCircuit, "circuit forced closed")
}

func (h *AdminHandler) forceCircuit(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, name string) error, msg string) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "provider", provider)

	if err := op(ctx, provider); err != nil {
		logger.ErrorContext(ctx, "circuit override failed", "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	logger.InfoContext(ctx, msg)
	snapshot, err := h.monitor.GetHealth(ctx, provider)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
