package repository

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/user/marquee/internal/model"
	"gorm.io/gorm"
)

type ShowtimeRepository struct {
	db *gorm.DB
}

func NewShowtimeRepository(db *gorm.DB) *ShowtimeRepository {
	return &ShowtimeRepository{db: db}
}

// Insert 写入一条放映记录，同一电影同影院同时刻的重复行直接忽略
func (r *ShowtimeRepository) Insert(st *model.Showtime) error {
	return r.db.Exec(`
		INSERT INTO showtimes (crawled_at, show_time, show_day, cinema, ticket_link, image_url,
		                       title, director1, director2, year, runtime, format, synopsis, movie_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (show_time, cinema, movie_id) DO NOTHING
	`, st.CrawledAt, st.ShowTime, st.ShowDay, st.Cinema, st.TicketLink, st.ImageURL,
		st.Title, st.Director1, st.Director2, st.Year, st.Runtime, st.Format, st.Synopsis, st.MovieID).Error
}

// Upcoming 查询未来 days 天内的放映，按放映时间升序。
// 所有“未来”判断都以数据库时钟为准的即时快照。
func (r *ShowtimeRepository) Upcoming(days int) ([]model.Showtime, error) {
	if days <= 0 {
		days = 14
	}
	var rows []model.Showtime
	err := r.db.
		Where("show_time >= NOW() AND show_time < NOW() + ?::interval", pqInterval(days)).
		Order("show_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ByIDs 按 id 集合查询放映，按放映时间升序
func (r *ShowtimeRepository) ByIDs(ids []int) ([]model.Showtime, error) {
	if len(ids) == 0 {
		return []model.Showtime{}, nil
	}
	var rows []model.Showtime
	err := r.db.
		Where("id = ANY(?)", pq.Array(ids)).
		Order("show_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FutureByMovieIDs 批量查询一组电影的未来放映，每部最多 limitPerMovie 条，时间升序。
// 一次窗口函数查询取回所有电影的数据，不按电影逐个查。
func (r *ShowtimeRepository) FutureByMovieIDs(movieIDs []int, limitPerMovie int) (map[int][]model.Showtime, error) {
	result := make(map[int][]model.Showtime, len(movieIDs))
	if len(movieIDs) == 0 {
		return result, nil
	}
	if limitPerMovie <= 0 {
		limitPerMovie = 5
	}

	var rows []model.Showtime
	err := r.db.Raw(`
		SELECT id, crawled_at, show_time, show_day, cinema, ticket_link, image_url,
		       title, director1, director2, year, runtime, format, synopsis, movie_id
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY movie_id ORDER BY show_time ASC) AS rn
			FROM showtimes
			WHERE movie_id = ANY($1) AND show_time > NOW()
		) ranked
		WHERE rn <= $2
		ORDER BY movie_id, show_time ASC
	`, pq.Array(movieIDs), limitPerMovie).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.MovieID] = append(result[row.MovieID], row)
	}
	return result, nil
}

// DeleteOlderThan 删除放映时间早于 days 天前的历史记录，返回删除行数
func (r *ShowtimeRepository) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.Where("show_time < ?", cutoff).Delete(&model.Showtime{})
	return res.RowsAffected, res.Error
}

// pqInterval 生成 Postgres interval 字面量参数
func pqInterval(days int) string {
	return fmt.Sprintf("%d days", days)
}
