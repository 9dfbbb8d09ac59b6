package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/user/marquee/internal/model"
	"gorm.io/gorm"
)

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// Upsert 按 标题+年份 创建或更新电影的爬取快照字段。
// 向量相关列不在此处触碰，避免覆盖同步任务写入的数据。
func (r *MovieRepository) Upsert(movie *model.Movie) error {
	now := time.Now()
	return r.db.Exec(`
		INSERT INTO movies (title, year, scraped_synopsis, scraped_director1,
		                    scraped_cinema, scraped_image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (title, year) DO UPDATE SET
			scraped_synopsis = EXCLUDED.scraped_synopsis,
			scraped_director1 = EXCLUDED.scraped_director1,
			scraped_cinema = EXCLUDED.scraped_cinema,
			scraped_image_url = EXCLUDED.scraped_image_url,
			updated_at = EXCLUDED.updated_at
	`, movie.Title, movie.Year, movie.ScrapedSynopsis, movie.ScrapedDirector1,
		movie.ScrapedCinema, movie.ScrapedImageURL, now).Error
}

// FindByTitleYear 按 标题+年份 查找电影，未找到返回 nil
func (r *MovieRepository) FindByTitleYear(title string, year *int) (*model.Movie, error) {
	var movie model.Movie
	q := r.db.Where("title = ?", title)
	if year == nil {
		q = q.Where("year IS NULL")
	} else {
		q = q.Where("year = ?", *year)
	}
	if err := q.First(&movie).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &movie, nil
}

// CandidatesWithFutureShowtimes 返回至少还有一场未来放映且已有向量的电影。
// 按 id 升序返回，保证相同相似度时的排序可复现。
func (r *MovieRepository) CandidatesWithFutureShowtimes() ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.
		Where("embedding IS NOT NULL").
		Where("EXISTS (SELECT 1 FROM showtimes s WHERE s.movie_id = movies.id AND s.show_time > NOW())").
		Order("id ASC").
		Find(&movies).Error
	if err != nil {
		return nil, err
	}
	return movies, nil
}

// FindNeedingEmbedding 查找待生成向量的电影。
// refreshAll 为 true 时不做过滤（全量重算），limit<=0 表示不限制数量。
// 源文本哈希的过滤在服务层做，这里只按 缺向量/模型版本不一致 粗筛。
func (r *MovieRepository) FindNeedingEmbedding(embedModel string, refreshAll bool, limit int) ([]model.Movie, error) {
	q := r.db.Order("id ASC")
	if !refreshAll {
		q = q.Where("embedding IS NULL OR embedding_model IS DISTINCT FROM ?", embedModel)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var movies []model.Movie
	if err := q.Find(&movies).Error; err != nil {
		return nil, err
	}
	return movies, nil
}

// EmbeddingUpdate 单部电影的向量写入载荷
type EmbeddingUpdate struct {
	MovieID    int
	Vector     pgvector.Vector
	Model      string
	SourceHash string
}

// UpdateEmbeddingsBatch 在一个事务内写入一批向量；任一条失败则整批回滚
func (r *MovieRepository) UpdateEmbeddingsBatch(updates []EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			res := tx.Model(&model.Movie{}).Where("id = ?", u.MovieID).Updates(map[string]interface{}{
				"embedding":             u.Vector,
				"embedding_model":       u.Model,
				"embedding_source_hash": u.SourceHash,
				"embedded_at":           now,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("电影不存在: id=%d", u.MovieID)
			}
		}
		return nil
	})
}

// FindByIDs 按 id 集合查找电影，返回 id -> Movie 映射
func (r *MovieRepository) FindByIDs(ids []int) (map[int]model.Movie, error) {
	result := make(map[int]model.Movie, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var movies []model.Movie
	if err := r.db.Where("id = ANY(?)", pq.Array(ids)).Find(&movies).Error; err != nil {
		return nil, err
	}
	for _, m := range movies {
		result[m.ID] = m
	}
	return result, nil
}
