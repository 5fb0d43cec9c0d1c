package settings

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/parley/backend/internal/handler/httperr"
	"github.com/zhouzirui/parley/backend/internal/middleware"
	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	settingsService "github.com/zhouzirui/parley/backend/internal/service/settings"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

const maxSettingsBytes = 64 << 10

// Handler 用户设置的HTTP处理器
type Handler struct {
	svc     *settingsService.Service
	catalog *catalog.Catalog
}

// New 创建设置处理器
func New(svc *settingsService.Service, cat *catalog.Catalog) *Handler {
	return &Handler{svc: svc, catalog: cat}
}

// RegisterRoutes 注册设置路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleGet)
	r.Post("/settings", h.handleUpdate)
}

// handleGet 返回当前设置，API Key 仅以掩码形式返回
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleUpdate 部分更新设置；回传的掩码值视为未修改
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch, err := settingsService.PatchFromJSON(data, h.catalog)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	view, err := h.svc.Update(r.Context(), middleware.UserID(r.Context()), patch)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}
