package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/user/marquee/internal/config"
	"github.com/user/marquee/internal/llm"
	"github.com/user/marquee/internal/repository"
	"github.com/user/marquee/internal/service"
)

// Handler HTTP 处理器
type Handler struct {
	Repos            *repository.Repositories
	Config           *config.Config
	RecommendService *service.RecommendService
	ShowtimeService  *service.ShowtimeService
	SyncService      *service.EmbeddingSyncService
}

// NewHandler 创建处理器
func NewHandler(repos *repository.Repositories, cfg *config.Config) *Handler {
	// 提供方适配器：LLM 调用写审计日志，向量调用不写
	llmClient := llm.NewClient(cfg, repos.RecLog)
	embedder := llm.NewEmbedder(cfg)

	return &Handler{
		Repos:            repos,
		Config:           cfg,
		RecommendService: service.NewRecommendService(repos.Movie, repos.Showtime, embedder, llmClient),
		ShowtimeService:  service.NewShowtimeService(repos.Showtime),
		SyncService:      service.NewEmbeddingSyncService(repos.Movie, embedder, cfg.EmbedModel),
	}
}

// RenderData 统一封装公共渲染数据
func (h *Handler) RenderData(c *gin.Context, data gin.H) gin.H {
	res := gin.H{
		"SiteName": h.Config.SiteName,
		"SiteUrl":  h.Config.SiteUrl,
		"Path":     c.Request.URL.Path,
	}
	for k, v := range data {
		res[k] = v
	}
	return res
}
