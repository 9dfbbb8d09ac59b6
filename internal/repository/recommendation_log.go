package repository

import (
	"time"

	"github.com/user/marquee/internal/model"
	"gorm.io/gorm"
)

type RecommendationLogRepository struct {
	db *gorm.DB
}

func NewRecommendationLogRepository(db *gorm.DB) *RecommendationLogRepository {
	return &RecommendationLogRepository{db: db}
}

// Insert 追加一条 LLM 调用审计记录
func (r *RecommendationLogRepository) Insert(entry *model.RecommendationLog) error {
	if entry.QueriedAt.IsZero() {
		entry.QueriedAt = time.Now()
	}
	return r.db.Create(entry).Error
}

// ListRecent 倒序分页查询审计记录（管理后台用）
func (r *RecommendationLogRepository) ListRecent(limit, offset int) ([]model.RecommendationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []model.RecommendationLog
	err := r.db.
		Order("queried_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteOlderThan 删除 days 天前的审计记录，返回删除行数
func (r *RecommendationLogRepository) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.Where("queried_at < ?", cutoff).Delete(&model.RecommendationLog{})
	return res.RowsAffected, res.Error
}
