package webhook

import (
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// notification 是 WhatsApp Cloud API 推送的 webhook 结构，只保留用到的字段。
type notification struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string           `json:"messaging_product"`
				Messages         []inboundMessage `json:"messages"`
				Statuses         []statusUpdate   `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type statusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// text 提取消息中可作为答案的文本；不支持的类型返回 false。
func (m inboundMessage) text() (string, bool) {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return m.Text.Body, true
		}
	case "button":
		if m.Button != nil {
			return m.Button.Text, true
		}
	case "interactive":
		if m.Interactive == nil {
			return "", false
		}
		if r := m.Interactive.ButtonReply; r != nil {
			return r.Title, true
		}
		if r := m.Interactive.ListReply; r != nil {
			return r.Title, true
		}
	}
	return "", false
}

func (m inboundMessage) receivedAt(fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(m.Timestamp), 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}

// events 展开通知中的全部入站消息；不支持的消息类型通过 skipped 返回。
func (n notification) events(now time.Time) (events []briefing.InboundEvent, skipped []inboundMessage) {
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				body, ok := msg.text()
				if !ok {
					skipped = append(skipped, msg)
					continue
				}
				events = append(events, briefing.InboundEvent{
					MessageID:   msg.ID,
					SenderPhone: msg.From,
					Text:        body,
					ReceivedAt:  msg.receivedAt(now),
				})
			}
		}
	}
	return events, skipped
}
