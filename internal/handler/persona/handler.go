package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/select", h.handleSelect)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

// handleListPersonas 列出两套人设
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondList(w, http.StatusOK, h.personas.List())
}

// handleGetPersona 按 ID 查询人设
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "personaID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

// handleSelect 返回某个来源会拿到的人设，origin 取 phone 或 web
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	origin := persona.Origin(r.URL.Query().Get("origin"))
	if origin != persona.OriginPhone && origin != persona.OriginWeb {
		utils.RespondError(w, http.StatusBadRequest, "origin must be phone or web")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.personas.Select(origin))
}
