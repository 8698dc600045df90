package http

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/opaqueid"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/app"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

// PurchaseAPI is the engine surface the handler consumes. Satisfied by
// *app.PurchaseService.
type PurchaseAPI interface {
	Purchase(ctx context.Context, req app.PurchaseRequest) (*app.PurchaseResult, error)
	GetNumberState(ctx context.Context, userID, numberID uuid.UUID) (*app.NumberState, error)
	CancelNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error)
	CompleteNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error)
	ListNumbers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Number, error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type NumberHandler struct {
	purchases PurchaseAPI
	refs      *opaqueid.Codec
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewNumberHandler(purchases PurchaseAPI, refs *opaqueid.Codec, logger *slog.Logger) *NumberHandler {
	return &NumberHandler{
		purchases: purchases,
		refs:      refs,
		validate:  validator.New(),
		logger:    logger.With("handler", "number"),
	}
}

func (h *NumberHandler) RegisterRoutes(r chi.Router) {
	r.Post("/numbers/purchase", h.handlePurchase)
	r.Get("/numbers", h.handleList)
	r.Get("/numbers/{numberID}", h.handleGet)
	r.Post("/numbers/{numberID}/cancel", h.handleCancel)
	r.Post("/numbers/{numberID}/complete", h.handleComplete)
	r.Get("/wallet/balance", h.handleBalance)
}

func (h *NumberHandler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := userIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req PurchaseNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	result, err := h.purchases.Purchase(ctx, app.PurchaseRequest{
		UserID:            userID,
		CountryCode:       req.CountryCode,
		ServiceCode:       req.ServiceCode,
		PreferredProvider: req.Provider,
		IdempotencyKey:    req.IdempotencyKey,
		IPAddress:         r.RemoteAddr,
	})
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, PurchaseNumberResponse{
		Number:   h.toNumberResponse(result.Number, nil),
		Replayed: result.Replayed,
	})
}

func (h *NumberHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, numberID, ok := h.userAndNumber(w, r)
	if !ok {
		return
	}
	state, err := h.purchases.GetNumberState(ctx, userID, numberID)
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toNumberResponse(state.Number, state.Messages))
}

func (h *NumberHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := userIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	numbers, err := h.purchases.ListNumbers(ctx, userID, intQuery(r, "limit", 20), intQuery(r, "offset", 0))
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}
	out := make([]NumberResponse, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, h.toNumberResponse(n, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NumberHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, numberID, ok := h.userAndNumber(w, r)
	if !ok {
		return
	}
	n, err := h.purchases.CancelNumber(ctx, userID, numberID)
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toNumberResponse(n, nil))
}

func (h *NumberHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, numberID, ok := h.userAndNumber(w, r)
	if !ok {
		return
	}
	n, err := h.purchases.CompleteNumber(ctx, userID, numberID)
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toNumberResponse(n, nil))
}

func (h *NumberHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	userID, ok := userIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	balance, err := h.purchases.Balance(ctx, userID)
	if err != nil {
		h.writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance.StringFixed(2)})
}

func (h *NumberHandler) userAndNumber(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	numberID, err := uuid.Parse(chi.URLParam(r, "numberID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, numberID, true
}

func (h *NumberHandler) toNumberResponse(n *domain.Number, msgs []*domain.SmsMessage) NumberResponse {
	return NumberResponse{
		ID:          n.ID.String(),
		Ref:         h.refs.Encode(binary.BigEndian.Uint64(n.ID[:8])),
		PhoneNumber: n.PhoneNumber,
		CountryCode: n.CountryCode,
		ServiceCode: n.ServiceCode,
		Provider:    n.ProviderName,
		Price:       n.Price.StringFixed(2),
		Status:      n.Status,
		Refunded:    n.Refunded,
		PurchasedAt: n.PurchasedAt,
		ExpiresAt:   n.ExpiresAt,
		Messages:    toMessageResponses(msgs),
	}
}

// writeDomainError maps engine errors onto the public status codes. Vendor
// failures surface as 502 without leaking the raw vendor response.
func (h *NumberHandler) writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ib *domain.InsufficientBalanceError
	var apiErr *providerdomain.ProviderAPIError

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, domain.ErrNumberNotFound), errors.Is(err, domain.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ib):
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     "insufficient balance",
			Code:      "INSUFFICIENT_BALANCE",
			Required:  ib.Required.StringFixed(2),
			Available: ib.Available.StringFixed(2),
		})
	case errors.Is(err, domain.ErrPurchaseInProgress), errors.Is(err, domain.ErrNumberTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOutOfStock):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &apiErr), errors.Is(err, providerdomain.ErrMissingField):
		logger.Error("provider failure", "error", err)
		writeError(w, http.StatusBadGateway, "provider request failed")
	default:
		logger.Error("unhandled purchase error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int(n)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
