package client

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/pkg/phone"
	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

// Handler 终端客户的HTTP处理器
type Handler struct {
	clients client.Directory
}

// New 创建客户处理器
func New(clients client.Directory) *Handler {
	return &Handler{clients: clients}
}

// RegisterRoutes 注册客户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/clients", h.handleSave)
	r.Get("/clients", h.handleFindByPhone)
	r.Get("/clients/{clientID}", h.handleGet)
}

// handleSave 登记或更新客户，手机号须为有效的巴西手机号码
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if ok, _ := phone.Validate(payload.Phone, false); !ok {
		utils.RespondError(w, http.StatusBadRequest, "phone must be a valid mobile number")
		return
	}

	saved, err := h.clients.Save(r.Context(), client.Client{ID: payload.ID, Name: payload.Name, Phone: payload.Phone})
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, saved)
}

// handleGet 按 id 查询客户
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.FindByID(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

// handleFindByPhone 按 ?phone= 查询客户
func (h *Handler) handleFindByPhone(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("phone")
	if raw == "" {
		utils.RespondError(w, http.StatusBadRequest, "phone query parameter is required")
		return
	}
	c, err := h.clients.FindByPhone(r.Context(), raw)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrClientNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, client.ErrPhoneTaken):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, client.ErrPhoneRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
