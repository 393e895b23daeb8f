package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/briefing/backend/pkg/phone"
	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultGraphVersion = "v18.0"
)

// WhatsAppClient 通过 WhatsApp Business Cloud API 发送文本消息。
type WhatsAppClient struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	HTTP          *http.Client
}

type whatsappText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsappRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

type whatsappResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Deliver 发送一条文本消息并返回平台消息 id。4xx（429 除外）标记为不可重试。
func (c *WhatsAppClient) Deliver(ctx context.Context, to, text string) (string, error) {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Token == "" {
		return "", retry.Permanent(fmt.Errorf("missing whatsapp token"))
	}
	if c.PhoneNumberID == "" {
		return "", retry.Permanent(fmt.Errorf("missing whatsapp phone number id"))
	}
	recipient := phone.WireFormat(to)
	if recipient == "" {
		return "", retry.Permanent(fmt.Errorf("missing recipient"))
	}

	body, err := json.Marshal(whatsappRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             whatsappText{Body: text},
	})
	if err != nil {
		return "", retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var resp whatsappResponse
	_ = json.Unmarshal(raw, &resp)

	if res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		apiErr := fmt.Errorf("whatsapp api status %d: %s", res.StatusCode, msg)
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(apiErr)
		}
		return "", apiErr
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("missing whatsapp message id")
	}
	return resp.Messages[0].ID, nil
}

func (c *WhatsAppClient) endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultGraphBaseURL
	}
	version := c.APIVersion
	if version == "" {
		version = DefaultGraphVersion
	}
	return fmt.Sprintf("%s/%s/%s/messages", base, version, c.PhoneNumberID)
}

// LogTransport 只打印消息，用于本地开发。
type LogTransport struct{}

func (LogTransport) Deliver(_ context.Context, to, text string) (string, error) {
	log.Printf("[messaging] to=%s text=%q", phone.Display(to), text)
	return "log-" + time.Now().UTC().Format("20060102150405.000000000"), nil
}
