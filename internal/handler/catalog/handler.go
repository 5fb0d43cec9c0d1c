package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

// Handler 模型目录的HTTP处理器
type Handler struct {
	catalog *catalog.Catalog
}

// New 创建模型目录处理器
func New(cat *catalog.Catalog) *Handler {
	return &Handler{catalog: cat}
}

// RegisterRoutes 注册模型目录路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
}

// handleListModels 返回 {models, providers}，供前端渲染模型选择
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"models":    h.catalog.Models(),
		"providers": h.catalog.Names(),
		"default":   h.catalog.Default().Key,
	})
}
