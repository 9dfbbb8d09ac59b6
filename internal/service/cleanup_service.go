package service

import (
	"log"
	"time"

	"github.com/user/marquee/internal/repository"
)

// CleanupService 过期数据清理服务。
// 历史放映靠时间窗口查询自然不可见，这里做物理删除控制表体积。
type CleanupService struct {
	repos *repository.Repositories
}

// NewCleanupService 创建清理服务
func NewCleanupService(repos *repository.Repositories) *CleanupService {
	return &CleanupService{repos: repos}
}

// Start 启动定时清理任务
func (s *CleanupService) Start() {
	ticker := time.NewTicker(24 * time.Hour)

	// 启动时先运行一次
	go s.runCleanup()

	go func() {
		for range ticker.C {
			s.runCleanup()
		}
	}()
}

func (s *CleanupService) runCleanup() {
	log.Println("[CleanupService] 开始清理过期数据...")

	// 1. 清理放映时间已过去 30 天以上的场次
	affected, err := s.repos.Showtime.DeleteOlderThan(30)
	if err != nil {
		log.Printf("[CleanupService] 清理历史放映失败: %v", err)
	} else if affected > 0 {
		log.Printf("[CleanupService] 清理历史放映 %d 条", affected)
	}

	// 2. 清理 90 天前的 LLM 调用审计日志
	affected, err = s.repos.RecLog.DeleteOlderThan(90)
	if err != nil {
		log.Printf("[CleanupService] 清理审计日志失败: %v", err)
	} else if affected > 0 {
		log.Printf("[CleanupService] 清理审计日志 %d 条", affected)
	}

	log.Println("[CleanupService] 清理完成")
}
