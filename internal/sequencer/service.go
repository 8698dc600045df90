package sequencer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/platform/messagebroker"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/app"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
)

const smsReceivedSubject = "events.number.sms_received"

// Webhook deliveries for one activation are serialized under a distributed
// lock; a handler that cannot get it within lockWait fails the delivery so
// the vendor retries.
const (
	lockTTL       = 15 * time.Second
	lockWait      = 5 * time.Second
	lockRetryWait = 25 * time.Millisecond
)

// Config are the sequencing limits.
type Config struct {
	// MaxSmsPerNumber caps stored messages per activation.
	MaxSmsPerNumber int
	// ResendDelay is how long to wait before asking the provider for the
	// next message.
	ResendDelay time.Duration
}

// InboundMessage is one message as delivered by a provider webhook.
type InboundMessage struct {
	Content    string
	ReceivedAt time.Time
}

// Result reports what a webhook delivery changed.
type Result struct {
	NumberID      uuid.UUID
	Stored        int
	Duplicates    int
	RequestedNext bool
}

// State is the full message view of one number.
type State struct {
	Number   *domain.Number
	Messages []*domain.SmsMessage
	// Complete is true when no further messages are expected.
	Complete bool
}

// SmsReceivedEvent is the payload published for each stored message.
type SmsReceivedEvent struct {
	NumberID string `json:"numberId"`
	Ordinal  int    `json:"ordinal"`
	Code     string `json:"code,omitempty"`
}

// Service ingests provider SMS webhooks: it deduplicates, numbers and stores
// messages, publishes events, and asks the provider for the next message
// while the activation still has room for one.
type Service struct {
	numbers   domain.NumberRepository
	sms       domain.SmsMessageRepository
	vendors   app.VendorFactory
	publisher messagebroker.Publisher
	locker    app.PurchaseLocker
	cfg       Config
	logger    *slog.Logger
}

func NewService(numbers domain.NumberRepository, sms domain.SmsMessageRepository, vendors app.VendorFactory, publisher messagebroker.Publisher, locker app.PurchaseLocker, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxSmsPerNumber <= 0 {
		cfg.MaxSmsPerNumber = 5
	}
	return &Service{
		numbers:   numbers,
		sms:       sms,
		vendors:   vendors,
		publisher: publisher,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleInbound processes one webhook delivery for an activation. The whole
// read-check-insert runs under a per-activation lock so concurrent deliveries
// of the same message cannot both pass the dedup check; the unique index on
// (number_id, dedup_key) backstops the store even if the lock is lost.
func (s *Service) HandleInbound(ctx context.Context, providerName, activationID string, msgs []InboundMessage) (*Result, error) {
	lockKey := "sms:lock:" + providerName + ":" + activationID
	token, err := s.acquireLock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.WarnContext(ctx, "failed to release sms lock", "key", lockKey, "error", err)
		}
	}()

	n, err := s.numbers.GetByActivationID(ctx, providerName, activationID)
	if err != nil {
		return nil, err
	}
	if n.Status.Terminal() {
		return nil, domain.ErrNumberTerminal
	}

	existing, err := s.sms.ListByNumber(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[dedupKey(m.Code, m.Content)] = true
	}

	result := &Result{NumberID: n.ID}
	stored := len(existing)
	for _, msg := range msgs {
		if stored >= s.cfg.MaxSmsPerNumber {
			break
		}
		code := ExtractCode(msg.Content)
		key := dedupKey(code, msg.Content)
		if seen[key] {
			result.Duplicates++
			continue
		}

		receivedAt := msg.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		m := &domain.SmsMessage{
			ID:         uuid.New(),
			NumberID:   n.ID,
			Code:       code,
			Content:    msg.Content,
			DedupKey:   key,
			Ordinal:    stored + 1,
			ReceivedAt: receivedAt,
		}
		err := s.sms.Create(ctx, m)
		if errors.Is(err, domain.ErrDuplicateSms) {
			seen[key] = true
			result.Duplicates++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing message: %w", err)
		}
		seen[key] = true
		stored++
		result.Stored++
		s.publishReceived(ctx, n.ID, m.Ordinal, code)
		smsStored.WithLabelValues(providerName).Inc()
	}

	if result.Stored > 0 && stored < s.cfg.MaxSmsPerNumber {
		result.RequestedNext = true
		go s.requestNext(context.WithoutCancel(ctx), n)
	}
	return result, nil
}

// acquireLock blocks briefly for the per-activation lock instead of failing
// on first contention the way the purchase engine does: webhook deliveries
// for one activation arrive close together and all carry data to keep.
func (s *Service) acquireLock(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(lockWait)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring sms lock: %w", err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("sms lock busy: %s", key)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
}

func dedupKey(code, content string) string {
	if code != "" {
		return "c:" + code
	}
	sum := sha256.Sum256([]byte(content))
	return "t:" + hex.EncodeToString(sum[:8])
}

func (s *Service) publishReceived(ctx context.Context, numberID uuid.UUID, ordinal int, code string) {
	payload, err := json.Marshal(SmsReceivedEvent{
		NumberID: numberID.String(),
		Ordinal:  ordinal,
		Code:     code,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, smsReceivedSubject, payload); err != nil {
		s.logger.WarnContext(ctx, "failed to publish sms event",
			"number_id", numberID, "error", err)
	}
}

// requestNext asks the provider for another message. Best effort: a failure
// here only means the user waits for the vendor's own retry.
func (s *Service) requestNext(ctx context.Context, n *domain.Number) {
	if s.cfg.ResendDelay > 0 {
		timer := time.NewTimer(s.cfg.ResendDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	vendor, err := s.vendors.ForProvider(ctx, n.ProviderName)
	if err != nil {
		s.logger.WarnContext(ctx, "cannot build vendor for resend",
			"provider", n.ProviderName, "error", err)
		return
	}
	if !vendor.Capabilities()[providerdomain.OpSetResendCode] {
		return
	}
	if err := vendor.SetResendCode(ctx, n.ActivationID); err != nil {
		s.logger.WarnContext(ctx, "resend request failed",
			"number_id", n.ID, "provider", n.ProviderName, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "requested next sms", "number_id", n.ID)
}

// GetState returns the stored messages for a number.
func (s *Service) GetState(ctx context.Context, numberID uuid.UUID) (*State, error) {
	n, err := s.numbers.GetByID(ctx, numberID)
	if err != nil {
		return nil, err
	}
	messages, err := s.sms.ListByNumber(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return &State{
		Number:   n,
		Messages: messages,
		Complete: n.Status.Terminal() || len(messages) >= s.cfg.MaxSmsPerNumber,
	}, nil
}
