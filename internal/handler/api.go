package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/user/marquee/internal/errs"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/service"
	"github.com/user/marquee/internal/utils"
)

// Index 首页：未来两周的排片（去重后）
func (h *Handler) Index(c *gin.Context) {
	const cacheKey = "index:showtimes"

	var showtimes []model.Showtime
	if cached, found := utils.CacheGet(cacheKey); found {
		if rows, ok := cached.([]model.Showtime); ok {
			showtimes = rows
		}
	}

	if showtimes == nil {
		rows, err := h.ShowtimeService.Candidates(14, 0)
		if err != nil {
			log.Printf("[Handler] 查询排片失败: %v", err)
			rows = []model.Showtime{}
		} else {
			utils.CacheSet(cacheKey, rows, 10*time.Minute)
		}
		showtimes = rows
	}

	c.HTML(http.StatusOK, "index.html", h.RenderData(c, gin.H{
		"Title":     h.Config.SiteName + " - 排片與心情推薦",
		"Showtimes": showtimes,
	}))
}

// APIShowtimes 排片 JSON 接口，?days=N 控制时间窗口（默认 14 天）
func (h *Handler) APIShowtimes(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "14"))
	if err != nil || days <= 0 || days > 90 {
		utils.BadRequest(c, "days 参数必须是 1-90 的整数")
		return
	}

	rows, err := h.ShowtimeService.Upcoming(days)
	if err != nil {
		h.renderError(c, err)
		return
	}
	utils.Success(c, rows)
}

// recommendRequest 推荐请求体
type recommendRequest struct {
	Mood              string `json:"mood" binding:"required,min=1,max=500"`
	PoolSize          int    `json:"pool_size" binding:"omitempty,min=1,max=100"`
	TopK              int    `json:"top_k" binding:"omitempty,min=1,max=20"`
	ShowtimesPerMovie int    `json:"showtimes_per_movie" binding:"omitempty,min=1,max=20"`
}

// APIRecommendMovies 心情推荐接口
func (h *Handler) APIRecommendMovies(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			utils.BadRequest(c, "参数校验失败: "+verrs[0].Field())
			return
		}
		utils.BadRequest(c, "请求体不是合法 JSON")
		return
	}

	cards, err := h.RecommendService.Recommend(req.Mood, service.RecommendOptions{
		PoolSize:          req.PoolSize,
		TopK:              req.TopK,
		ShowtimesPerMovie: req.ShowtimesPerMovie,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	utils.Success(c, cards)
}

// APIRecommendLegacy 旧版放映级推荐接口，已下线
func (h *Handler) APIRecommendLegacy(c *gin.Context) {
	utils.Gone(c, "该接口已下线，请使用 /api/recommend/movies")
}

// renderError 错误分类映射：
// 校验错误 400；五种上游依赖错误统一 502（调用方可稍后重试）；其余 500
func (h *Handler) renderError(c *gin.Context, err error) {
	log.Printf("[Handler] %s 失败: %v", c.Request.URL.Path, err)

	switch {
	case errors.Is(err, errs.ErrValidation):
		utils.BadRequest(c, err.Error())
	case errs.IsUpstream(err):
		utils.UpstreamError(c, err.Error())
	default:
		utils.InternalServerError(c, "")
	}
}
