package http

import (
	"time"

	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
	"github.com/FlashTheFire/NexNum-sub011/internal/sequencer"
)

// PurchaseNumberRequest is the body of POST /numbers/purchase.
type PurchaseNumberRequest struct {
	CountryCode    string `json:"country_code" validate:"required,min=2,max=8"`
	ServiceCode    string `json:"service_code" validate:"required,min=2,max=32"`
	Provider       string `json:"provider,omitempty" validate:"omitempty,max=64"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=8,max=128"`
}

// SmsMessageResponse is one stored inbound message.
type SmsMessageResponse struct {
	Ordinal    int       `json:"ordinal"`
	Code       string    `json:"code,omitempty"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

// NumberResponse is the public shape of a purchased number. Ref is the short
// opaque token users quote to support.
type NumberResponse struct {
	ID          string               `json:"id"`
	Ref         string               `json:"ref"`
	PhoneNumber string               `json:"phone_number"`
	CountryCode string               `json:"country_code"`
	ServiceCode string               `json:"service_code"`
	Provider    string               `json:"provider"`
	Price       string               `json:"price"`
	Status      domain.NumberStatus  `json:"status"`
	Refunded    bool                 `json:"refunded,omitempty"`
	PurchasedAt time.Time            `json:"purchased_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Messages    []SmsMessageResponse `json:"messages,omitempty"`
}

// PurchaseNumberResponse wraps the purchase outcome.
type PurchaseNumberResponse struct {
	Number   NumberResponse `json:"number"`
	Replayed bool           `json:"replayed,omitempty"`
}

// BalanceResponse is the wallet view.
type BalanceResponse struct {
	Balance string `json:"balance"`
}

// InboundWebhookRequest is the body vendors POST when SMS arrive.
type InboundWebhookRequest struct {
	ActivationID string                  `json:"activation_id" validate:"required"`
	Messages     []InboundWebhookMessage `json:"messages" validate:"required,min=1,dive"`
}

type InboundWebhookMessage struct {
	Content    string    `json:"content" validate:"required"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// InboundWebhookResponse acknowledges a delivery.
type InboundWebhookResponse struct {
	Stored        int  `json:"stored"`
	Duplicates    int  `json:"duplicates"`
	RequestedNext bool `json:"requested_next"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

func toMessageResponses(msgs []*domain.SmsMessage) []SmsMessageResponse {
	out := make([]SmsMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, SmsMessageResponse{
			Ordinal:    m.Ordinal,
			Code:       m.Code,
			Content:    m.Content,
			ReceivedAt: m.ReceivedAt,
		})
	}
	return out
}

func toInboundMessages(msgs []InboundWebhookMessage) []sequencer.InboundMessage {
	out := make([]sequencer.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, sequencer.InboundMessage{Content: m.Content, ReceivedAt: m.ReceivedAt})
	}
	return out
}
