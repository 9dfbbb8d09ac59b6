package router

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/user/marquee/internal/handler"
	"github.com/user/marquee/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ==================== 公开页面 ====================
	r.GET("/", h.Index)

	// ==================== JSON API ====================
	api := r.Group("/api")
	{
		api.GET("/showtimes", h.APIShowtimes)
		api.POST("/recommend/movies", h.APIRecommendMovies)

		// 旧版放映级推荐接口，保留路由但返回 410
		api.POST("/recommend", h.APIRecommendLegacy)
	}

	// ==================== 管理后台 ====================
	r.POST("/admin/login", h.AdminLogin)

	admin := r.Group("/admin")
	admin.Use(middleware.RequireAuth(h.Config.AppSecret))
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/sync-embeddings", h.AdminSyncEmbeddings)
		admin.GET("/logs", h.AdminLogs)
	}
}

// LoadTemplates 加载模板（使用 multitemplate 解决继承问题）
func LoadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(templatesDir + "/layouts/*.html")
	if err != nil {
		panic(err)
	}

	views, err := filepath.Glob(templatesDir + "/*.html")
	if err != nil {
		panic(err)
	}

	for _, view := range views {
		files := make([]string, 0, len(layouts)+1)
		files = append(files, layouts...)
		files = append(files, view)
		r.AddFromFiles(filepath.Base(view), files...)
	}

	return r
}
