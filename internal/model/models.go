package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Movie 去重后的电影实体（按 标题+年份 唯一）
// 向量三元组（embedding / embedding_model / embedding_source_hash）要么同时存在要么同时缺失，
// 由向量同步任务独占维护。
type Movie struct {
	ID    int    `json:"id" db:"id"`
	Title string `json:"title" db:"title" gorm:"size:255;not null;uniqueIndex:uq_movie_title_year"`
	Year  *int   `json:"year" db:"year" gorm:"uniqueIndex:uq_movie_title_year"`

	ScrapedSynopsis  string `json:"synopsis" db:"scraped_synopsis" gorm:"type:text"`
	ScrapedDirector1 string `json:"director" db:"scraped_director1" gorm:"size:255"`
	ScrapedCinema    string `json:"cinema" db:"scraped_cinema"`
	ScrapedImageURL  string `json:"image_url" db:"scraped_image_url" gorm:"type:text"`

	Embedding           *pgvector.Vector `json:"-" db:"embedding" gorm:"type:vector(1536)"`
	EmbeddingModel      *string          `json:"-" db:"embedding_model" gorm:"size:255"`
	EmbeddingSourceHash *string          `json:"-" db:"embedding_source_hash" gorm:"size:64"` // 向量源文本的 SHA256
	EmbeddedAt          *time.Time       `json:"-" db:"embedded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" gorm:"index"`
}

// Showtime 一次具体放映。电影级字段是爬取时的快照，用于展示，
// 即使 Movie 记录之后发生变化也不回填。
// TicketLink 为 NULL 表示已售罄；Format 为 NULL 表示放映制式未标注。
type Showtime struct {
	ID        int       `json:"id" db:"id"`
	CrawledAt time.Time `json:"-" db:"crawled_at" gorm:"not null"`

	ShowTime   time.Time `json:"show_time" db:"show_time" gorm:"not null;index;uniqueIndex:uq_showing"`
	ShowDay    string    `json:"show_day" db:"show_day" gorm:"size:20"`
	Cinema     string    `json:"cinema" db:"cinema" gorm:"not null;uniqueIndex:uq_showing"`
	TicketLink *string   `json:"ticket_link" db:"ticket_link" gorm:"type:text"`
	ImageURL   string    `json:"image_url" db:"image_url" gorm:"type:text"`

	Title     string  `json:"title" db:"title" gorm:"size:255;not null"`
	Director1 string  `json:"director" db:"director1" gorm:"size:255"`
	Director2 *string `json:"-" db:"director2" gorm:"size:255"`
	Year      *int    `json:"year" db:"year"`
	Runtime   *int    `json:"runtime" db:"runtime"`
	Format    *string `json:"format" db:"format" gorm:"size:50"`
	Synopsis  string  `json:"synopsis" db:"synopsis" gorm:"type:text"`

	MovieID int `json:"movie_id" db:"movie_id" gorm:"not null;index;uniqueIndex:uq_showing"`
}

// SoldOut 是否已售罄（售罄的放映没有购票链接）
func (s *Showtime) SoldOut() bool {
	return s.TicketLink == nil
}

// RecommendationLog LLM 调用审计日志，只追加不读取，每次尝试一条
type RecommendationLog struct {
	ID             int       `json:"id" db:"id"`
	QueriedAt      time.Time `json:"queried_at" db:"queried_at" gorm:"not null;index"`
	APIName        string    `json:"api_name" db:"api_name" gorm:"size:50"`
	ModelName      string    `json:"model_name" db:"model_name" gorm:"size:255"`
	PromptNumToken int       `json:"prompt_num_token" db:"prompt_num_token"`
	Prompt         string    `json:"prompt" db:"prompt" gorm:"type:text"`
	Response       string    `json:"response" db:"response" gorm:"type:text"`
	ErrorCode      int       `json:"error_code" db:"error_code"` // 0 成功 1 失败
}

// User 管理员账号
type User struct {
	ID           int       `json:"id" db:"id"`
	Email        string    `json:"email" db:"email" gorm:"size:255;uniqueIndex"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role" gorm:"size:20"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SessionUser 专门用于 Session 存储的用户信息结构
type SessionUser struct {
	ID    int
	Email string
	Role  string
}
