package template

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/briefing/backend/internal/model/template"
	"github.com/zhouzirui/briefing/backend/pkg/utils"
)

// Handler 问卷模板的只读HTTP处理器
type Handler struct {
	templates template.Provider
}

// New 创建模板处理器
func New(templates template.Provider) *Handler {
	return &Handler{templates: templates}
}

// RegisterRoutes 注册模板相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/templates", h.handleList)
	r.Get("/templates/{versionID}", h.handleGet)
}

type summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Questions int    `json:"questions"`
}

// handleList 列出已发布的模板版本，可按 category 过滤
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	versions, err := h.templates.List(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	category := r.URL.Query().Get("category")
	out := make([]summary, 0, len(versions))
	for _, v := range versions {
		if category != "" && v.Category != category {
			continue
		}
		out = append(out, summary{ID: v.ID, Name: v.Name, Category: v.Category, Questions: len(v.Questions)})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

// handleGet 返回完整的模板版本
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.templates.Version(r.Context(), chi.URLParam(r, "versionID"))
	if errors.Is(err, template.ErrVersionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, v)
}
