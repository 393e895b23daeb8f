package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

// DefaultSendLease 是 sending 状态的租约；超过后视为进程中断，允许重新认领。
const DefaultSendLease = 2 * time.Minute

// IdempotentSender 在 Transport 之上提供按幂等键去重的投递与有界重试。
type IdempotentSender struct {
	transport Transport
	outbox    Outbox
	policy    retry.Policy
	lease     time.Duration
	now       func() time.Time
}

// NewIdempotentSender 组合通道、outbox 与重试策略。
func NewIdempotentSender(transport Transport, outbox Outbox, policy retry.Policy) *IdempotentSender {
	return &IdempotentSender{
		transport: transport,
		outbox:    outbox,
		policy:    policy,
		lease:     DefaultSendLease,
		now:       time.Now,
	}
}

// Send 投递消息。同一幂等键已送达或正由其他调用投递时返回 Duplicate 回执。
func (s *IdempotentSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.IdempotencyKey == "" {
		return Receipt{}, fmt.Errorf("idempotency key is required")
	}

	now := s.now()
	entry, err := s.outbox.Enqueue(ctx, msg, now)
	if err != nil {
		return Receipt{}, fmt.Errorf("enqueue outbox: %w", err)
	}
	if entry.Status == OutboxSent {
		return Receipt{ProviderMessageID: entry.ProviderMessageID, Duplicate: true, SentAt: entry.UpdatedAt}, nil
	}

	claimed, err := s.outbox.Claim(ctx, msg.IdempotencyKey, now, now.Add(-s.lease))
	if err != nil {
		return Receipt{}, fmt.Errorf("claim outbox entry: %w", err)
	}
	if !claimed {
		return Receipt{Duplicate: true}, nil
	}

	// 同一键始终发送首次登记的内容。
	to, text := entry.Recipient, entry.Body

	var (
		providerID string
		attempts   int
	)
	err = s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		id, err := s.transport.Deliver(ctx, to, text)
		if err != nil {
			log.Printf("[messaging] deliver %s attempt %d failed: %v", msg.IdempotencyKey, attempts, err)
			return err
		}
		providerID = id
		return nil
	})
	if err != nil {
		// 失败记录不受请求取消影响。
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if markErr := s.outbox.MarkFailed(markCtx, msg.IdempotencyKey, err.Error(), s.now()); markErr != nil {
			log.Printf("[messaging] mark %s failed: %v", msg.IdempotencyKey, markErr)
		}
		return Receipt{}, &DeliveryError{Key: msg.IdempotencyKey, Attempts: attempts, Err: err}
	}

	sentAt := s.now()
	if err := s.outbox.MarkSent(context.WithoutCancel(ctx), msg.IdempotencyKey, providerID, sentAt); err != nil {
		log.Printf("[messaging] mark %s sent: %v", msg.IdempotencyKey, err)
	}
	return Receipt{ProviderMessageID: providerID, SentAt: sentAt}, nil
}

// IsDeliveryError 判断错误是否为投递失败。
func IsDeliveryError(err error) bool {
	return errors.Is(err, ErrDelivery)
}
