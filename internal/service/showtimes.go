package service

import (
	"fmt"
	"sort"

	"github.com/user/marquee/internal/errs"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/utils"
)

// UpcomingStore 放映列表读取口
type UpcomingStore interface {
	Upcoming(days int) ([]model.Showtime, error)
}

// ShowtimeService 放映列表服务：时间窗口查询 + 噪声数据去重
type ShowtimeService struct {
	store UpcomingStore
}

// NewShowtimeService 创建放映列表服务
func NewShowtimeService(store UpcomingStore) *ShowtimeService {
	return &ShowtimeService{store: store}
}

// Upcoming 查询未来 days 天内的全部放映（未去重，时间升序）
func (s *ShowtimeService) Upcoming(days int) ([]model.Showtime, error) {
	rows, err := s.store.Upcoming(days)
	if err != nil {
		return nil, fmt.Errorf("%w: 查询放映列表失败: %v", errs.ErrDatabase, err)
	}
	return rows, nil
}

// Candidates 查询未来 days 天内的放映并去重，最多返回 limit 条。
// 用于首页展示：每部片只留最早的一场，售罄的不展示。
func (s *ShowtimeService) Candidates(days, limit int) ([]model.Showtime, error) {
	rows, err := s.Upcoming(days)
	if err != nil {
		return nil, err
	}
	deduped := DedupeShowtimes(rows)
	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

// DedupeShowtimes 去重爬取来的放映数据：
// 跳过售罄场次；同一片名（清理后比较）保留放映时间最早的一场；
// 结果按放映时间升序。
func DedupeShowtimes(rows []model.Showtime) []model.Showtime {
	best := make(map[string]model.Showtime)
	order := make([]string, 0, len(rows))

	for _, row := range rows {
		if row.SoldOut() {
			continue
		}

		key := utils.CleanMovieTitle(row.Title)
		if key == "" {
			key = row.Title
		}

		existing, seen := best[key]
		if !seen {
			best[key] = row
			order = append(order, key)
			continue
		}
		if row.ShowTime.Before(existing.ShowTime) {
			best[key] = row
		}
	}

	result := make([]model.Showtime, 0, len(order))
	for _, key := range order {
		result = append(result, best[key])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ShowTime.Before(result[j].ShowTime)
	})
	return result
}
