package repository

import (
	"fmt"

	"github.com/user/marquee/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
func InitDB(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return db, nil
}

// AutoMigrate 同步表结构（vector 扩展需提前在库里启用）
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	return db.AutoMigrate(
		&model.Movie{},
		&model.Showtime{},
		&model.RecommendationLog{},
		&model.User{},
	)
}

// Repositories 仓库集合
type Repositories struct {
	DB       *gorm.DB
	Movie    *MovieRepository
	Showtime *ShowtimeRepository
	RecLog   *RecommendationLogRepository
	User     *UserRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:       db,
		Movie:    NewMovieRepository(db),
		Showtime: NewShowtimeRepository(db),
		RecLog:   NewRecommendationLogRepository(db),
		User:     NewUserRepository(db),
	}
}
