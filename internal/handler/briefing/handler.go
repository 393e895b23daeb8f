package briefing

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	briefingModel "github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
	briefingService "github.com/zhouzirui/briefing/backend/internal/service/briefing"
	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

// Handler 简报会话的HTTP处理器
type Handler struct {
	orch *briefingService.Orchestrator
}

// New 创建简报处理器
func New(orch *briefingService.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes 注册简报相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/briefings", h.handleStart)
	r.Get("/briefings/{sessionID}", h.handleGet)
	r.Get("/briefings/{sessionID}/progress", h.handleProgress)
	r.Post("/briefings/{sessionID}/abandon", h.handleAbandon)
	r.Post("/briefings/{sessionID}/messages", h.handleMessage)
	r.Post("/inbound", h.handleInbound)
}

// handleStart 为客户开启一次简报并发送第一个问题
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EndClientID       string `json:"endClientId"`
		TemplateVersionID string `json:"templateVersionId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.EndClientID == "" || payload.TemplateVersionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "endClientId and templateVersionId are required")
		return
	}

	session, err := h.orch.Start(r.Context(), payload.EndClientID, payload.TemplateVersionID)
	if err != nil {
		var dup *briefingService.DuplicateSessionError
		if errors.As(err, &dup) {
			utils.RespondJSON(w, http.StatusConflict, map[string]string{
				"error":     err.Error(),
				"sessionId": dup.SessionID,
			})
			return
		}
		if isDeliveryError(err) {
			utils.RespondJSON(w, http.StatusAccepted, map[string]any{"session": session, "warning": err.Error()})
			return
		}
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{"session": session})
}

// handleGet 返回会话快照
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.orch.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleProgress 返回答题进度
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.orch.Progress(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, progress)
}

// handleAbandon 由运营人员终止会话
func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	session, err := h.orch.Abandon(r.Context(), chi.URLParam(r, "sessionID"), strings.TrimSpace(payload.Reason))
	if err != nil {
		if isDeliveryError(err) {
			utils.RespondJSON(w, http.StatusAccepted, map[string]any{"session": session, "warning": err.Error()})
			return
		}
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"session": session})
}

type messagePayload struct {
	MessageID   string    `json:"messageId"`
	SenderPhone string    `json:"senderPhone"`
	Text        string    `json:"text"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

func (p messagePayload) event() briefingModel.InboundEvent {
	received := p.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	return briefingModel.InboundEvent{
		MessageID:   p.MessageID,
		SenderPhone: p.SenderPhone,
		Text:        p.Text,
		ReceivedAt:  received,
	}
}

// handleMessage 将一条入站消息投递给指定会话
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.orch.Handle(r.Context(), chi.URLParam(r, "sessionID"), payload.event())
	respondResult(w, result, err)
}

// handleInbound 按发送方手机号定位会话，用于联调或其他渠道接入
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.SenderPhone == "" {
		utils.RespondError(w, http.StatusBadRequest, "senderPhone is required")
		return
	}

	result, err := h.orch.HandleInbound(r.Context(), payload.event())
	respondResult(w, result, err)
}

func respondResult(w http.ResponseWriter, result briefingModel.Result, err error) {
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, result)
	case isDeliveryError(err):
		// 状态已提交，回复待补发。
		utils.RespondJSON(w, http.StatusAccepted, map[string]any{"result": result, "warning": err.Error()})
	default:
		respondServiceError(w, err)
	}
}

func isDeliveryError(err error) bool {
	var deliveryErr *briefingService.MessagingDeliveryError
	return errors.As(err, &deliveryErr)
}

// respondServiceError 将领域错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, briefingService.ErrSessionNotFound),
		errors.Is(err, client.ErrClientNotFound),
		errors.Is(err, template.ErrVersionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, briefingService.ErrDuplicateSession),
		errors.Is(err, briefingService.ErrAlreadyTerminal),
		errors.Is(err, briefingService.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, briefingService.ErrEmptyTemplate):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Printf("[briefing] request failed: %v", err)
	}
	utils.RespondError(w, status, err.Error())
}
