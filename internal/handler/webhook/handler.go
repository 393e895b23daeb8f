package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	briefingService "github.com/zhouzirui/briefing/backend/internal/service/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/dedup"
	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

const (
	channel      = "whatsapp"
	maxBodyBytes = 1 << 20
)

// InboundHandler 处理一条入站消息，由编排器实现。
type InboundHandler interface {
	HandleInbound(ctx context.Context, ev briefing.InboundEvent) (briefing.Result, error)
}

// Config 描述 webhook 的校验参数。AppSecret 为空时跳过签名校验。
type Config struct {
	VerifyToken string
	AppSecret   string
}

// Handler WhatsApp Cloud API webhook 处理器
type Handler struct {
	cfg     Config
	inbound InboundHandler
	gate    *dedup.Gate
	now     func() time.Time
}

// New 创建 webhook 处理器
func New(cfg Config, inbound InboundHandler, gate *dedup.Gate) *Handler {
	if gate == nil {
		gate = dedup.NewGate(dedup.DefaultConfig())
	}
	if cfg.AppSecret == "" {
		log.Printf("[webhook] WHATSAPP_APP_SECRET 未配置，跳过签名校验")
	}
	return &Handler{
		cfg:     cfg,
		inbound: inbound,
		gate:    gate,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 注册 webhook 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/whatsapp", h.handleVerify)
	r.Post("/webhooks/whatsapp", h.handleNotify)
}

// handleVerify 响应 Meta 的订阅握手
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.cfg.VerifyToken == "" || q.Get("hub.verify_token") != h.cfg.VerifyToken {
		utils.RespondError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleNotify 处理入站消息。返回非 2xx 时 Meta 会重投整个通知。
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	if h.cfg.AppSecret != "" {
		if err := VerifySignature(h.cfg.AppSecret, r.Header.Get(signatureHeader), body); err != nil {
			log.Printf("[webhook] rejected notification: %v", err)
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid notification payload")
		return
	}

	events, skipped := n.events(h.now())
	for _, msg := range skipped {
		log.Printf("[webhook] message=%s type=%s unsupported, ignored", msg.ID, msg.Type)
	}
	logStatuses(n)

	failed := 0
	for _, ev := range events {
		if err := h.dispatch(r.Context(), ev); err != nil {
			failed++
		}
	}

	if failed > 0 {
		utils.RespondError(w, http.StatusInternalServerError, "some messages were not processed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"received": len(events)})
}

// dispatch 投递单条消息。只有需要 Meta 重投的失败才返回错误。
func (h *Handler) dispatch(ctx context.Context, ev briefing.InboundEvent) error {
	if h.gate.Admit(channel, ev.MessageID) == dedup.Duplicate {
		log.Printf("[webhook] message=%s duplicate delivery dropped", ev.MessageID)
		return nil
	}

	result, err := h.inbound.HandleInbound(ctx, ev)
	var deliveryErr *briefingService.MessagingDeliveryError
	switch {
	case err == nil:
		log.Printf("[webhook] message=%s session=%s action=%s", ev.MessageID, result.SessionID, result.Action)
		return nil
	case errors.Is(err, briefingService.ErrSessionNotFound):
		log.Printf("[webhook] message=%s from=%s has no briefing session, ignored", ev.MessageID, ev.SenderPhone)
		return nil
	case errors.As(err, &deliveryErr):
		// 状态已提交，回复由补发任务处理。
		log.Printf("[webhook] message=%s committed, reply pending: %v", ev.MessageID, err)
		return nil
	default:
		// 放开去重记录，让重投的通知重新进入编排器。
		h.gate.Forget(channel, ev.MessageID)
		log.Printf("[webhook] message=%s failed: %v", ev.MessageID, err)
		return err
	}
}

func logStatuses(n notification) {
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if st.Status == "failed" {
					log.Printf("[webhook] outbound %s to %s failed at provider", st.ID, st.RecipientID)
				}
			}
		}
	}
}
