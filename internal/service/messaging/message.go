package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDelivery 表示出站消息在重试后仍未送达。
var ErrDelivery = errors.New("message delivery failed")

// Message 是一条出站文本消息。IdempotencyKey 相同的消息最多被投递一次。
type Message struct {
	To             string `json:"to"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Receipt 是一次 Send 的结果。Duplicate 为 true 表示该幂等键此前已送达
// （或正在由其他调用送达），本次未实际发送。
type Receipt struct {
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	Duplicate         bool      `json:"duplicate"`
	SentAt            time.Time `json:"sentAt"`
}

// Sender 是编排器依赖的出站端口。
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Transport 是真实的消息通道（WhatsApp Cloud API、日志等），不负责幂等。
type Transport interface {
	Deliver(ctx context.Context, to, text string) (providerMessageID string, err error)
}

// TransportFunc 将普通函数适配为 Transport。
type TransportFunc func(ctx context.Context, to, text string) (string, error)

func (f TransportFunc) Deliver(ctx context.Context, to, text string) (string, error) {
	return f(ctx, to, text)
}

// DeliveryError 携带失败的幂等键与尝试次数。
type DeliveryError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}
