package handler

import (
	"log"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/user/marquee/internal/middleware"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/service"
	"github.com/user/marquee/internal/utils"
)

// loginRequest 管理员登录请求体
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin 管理员登录，签发 JWT（同时写 Cookie 和 Session）
func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "邮箱和密码不能为空")
		return
	}

	user, err := h.Repos.User.Authenticate(req.Email, req.Password)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}
	if user == nil {
		utils.Error(c, 401, "邮箱或密码错误")
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Email, user.Role, h.Config.AppSecret, h.Config.JWTExpiry)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}

	session := sessions.Default(c)
	session.Set("userinfo", model.SessionUser{ID: user.ID, Email: user.Email, Role: user.Role})
	if err := session.Save(); err != nil {
		log.Printf("[Handler] 保存 session 失败: %v", err)
	}

	c.SetCookie("token", token, int(h.Config.JWTExpiry.Seconds()), "/", "", false, true)
	utils.Success(c, gin.H{"token": token})
}

// AdminSyncEmbeddings 触发一次向量同步。
// ?dry_run=1 只打印计划；?refresh_all=1 全量重算
func (h *Handler) AdminSyncEmbeddings(c *gin.Context) {
	opts := service.SyncOptions{
		DryRun:     c.Query("dry_run") == "1",
		RefreshAll: c.Query("refresh_all") == "1",
		BatchSize:  h.Config.EmbedBatchSize,
	}

	start := time.Now()
	if err := h.SyncService.Run(opts); err != nil {
		log.Printf("[Handler] 向量同步失败: %v", err)
		utils.UpstreamError(c, err.Error())
		return
	}

	utils.Success(c, gin.H{
		"dry_run": opts.DryRun,
		"took_ms": time.Since(start).Milliseconds(),
	})
}

// AdminLogs 分页查看 LLM 调用审计日志
func (h *Handler) AdminLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, err := h.Repos.RecLog.ListRecent(limit, offset)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}
	utils.Success(c, rows)
}
