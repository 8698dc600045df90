package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
	"github.com/FlashTheFire/NexNum-sub011/internal/sequencer"
)

// SmsIngest is the sequencer surface the webhook consumes. Satisfied by
// *sequencer.Service.
type SmsIngest interface {
	HandleInbound(ctx context.Context, providerName, activationID string, msgs []sequencer.InboundMessage) (*sequencer.Result, error)
}

// WebhookHandler receives vendor SMS callbacks. Routes behind it are guarded
// by WebhookTokenMiddleware.
type WebhookHandler struct {
	sequencer SmsIngest
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewWebhookHandler(seq SmsIngest, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		sequencer: seq,
		validate:  validator.New(),
		logger:    logger.With("handler", "webhook"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/sms/{provider}", h.handleInboundSms)
}

func (h *WebhookHandler) handleInboundSms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "provider", provider)

	var req InboundWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	result, err := h.sequencer.HandleInbound(ctx, provider, req.ActivationID, toInboundMessages(req.Messages))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNumberNotFound):
			writeError(w, http.StatusNotFound, "unknown activation")
		case errors.Is(err, domain.ErrNumberTerminal):
			// Vendors retry on non-2xx; a finished number has nothing left
			// to deliver, so acknowledge and drop.
			writeJSON(w, http.StatusOK, InboundWebhookResponse{})
		default:
			logger.ErrorContext(ctx, "webhook processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	logger.InfoContext(ctx, "webhook processed",
		"activation_id", req.ActivationID, "stored", result.Stored, "duplicates", result.Duplicates)
	writeJSON(w, http.StatusOK, InboundWebhookResponse{
		Stored:        result.Stored,
		Duplicates:    result.Duplicates,
		RequestedNext: result.RequestedNext,
	})
}
