package service

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/repository"
	"github.com/user/marquee/internal/utils"
)

// CinemaMetrograph 放映数据来源影院标识
const CinemaMetrograph = "METROGRAPH"

// DefaultScrapeURL Metrograph 排片页
const DefaultScrapeURL = "https://metrograph.com/film/"

// ScrapedShowing 从排片页解析出的一场放映
type ScrapedShowing struct {
	Time       time.Time
	Day        string
	TicketLink *string // nil 表示售罄
}

// ScrapedFilm 从排片页解析出的一部电影及其所有场次
type ScrapedFilm struct {
	Title     string
	Director1 string
	Director2 *string
	Year      *int
	Runtime   *int
	Format    *string // nil 表示未标注放映制式
	Synopsis  string
	ImageURL  string
	Showings  []ScrapedShowing
}

// Scraper Metrograph 排片爬虫
type Scraper struct {
	movieRepo    *repository.MovieRepository
	showtimeRepo *repository.ShowtimeRepository
	client       *utils.HTTPClient
	url          string
	now          func() time.Time
}

// NewScraper 创建爬虫服务
func NewScraper(movieRepo *repository.MovieRepository, showtimeRepo *repository.ShowtimeRepository) *Scraper {
	return &Scraper{
		movieRepo:    movieRepo,
		showtimeRepo: showtimeRepo,
		client:       utils.NewHTTPClient(),
		url:          DefaultScrapeURL,
		now:          time.Now,
	}
}

// Crawl 抓取排片页并入库：先更新电影快照，再逐场写入放映记录
func (s *Scraper) Crawl() error {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("请求返回状态码: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("解析 HTML 失败: %w", err)
	}

	films := ParseFilmPage(doc, s.now())
	crawledAt := s.now()

	var savedFilms, savedShowings int
	for _, film := range films {
		movie := &model.Movie{
			Title:            film.Title,
			Year:             film.Year,
			ScrapedSynopsis:  film.Synopsis,
			ScrapedDirector1: film.Director1,
			ScrapedCinema:    CinemaMetrograph,
			ScrapedImageURL:  film.ImageURL,
		}
		if err := s.movieRepo.Upsert(movie); err != nil {
			return fmt.Errorf("保存电影失败 (%s): %w", film.Title, err)
		}
		saved, err := s.movieRepo.FindByTitleYear(film.Title, film.Year)
		if err != nil {
			return err
		}
		if saved == nil {
			return fmt.Errorf("电影保存后查询不到: %s", film.Title)
		}

		for _, showing := range film.Showings {
			st := &model.Showtime{
				CrawledAt:  crawledAt,
				ShowTime:   showing.Time,
				ShowDay:    showing.Day,
				Cinema:     CinemaMetrograph,
				TicketLink: showing.TicketLink,
				ImageURL:   film.ImageURL,
				Title:      film.Title,
				Director1:  film.Director1,
				Director2:  film.Director2,
				Year:       film.Year,
				Runtime:    film.Runtime,
				Format:     film.Format,
				Synopsis:   film.Synopsis,
				MovieID:    saved.ID,
			}
			if err := s.showtimeRepo.Insert(st); err != nil {
				return fmt.Errorf("保存放映失败 (%s %s): %w", film.Title, showing.Time, err)
			}
			savedShowings++
		}
		savedFilms++
	}

	log.Printf("[Scraper] 抓取完成: %d 部电影, %d 场放映", savedFilms, savedShowings)
	return nil
}

// ParseFilmPage 解析排片页。
// 每个电影块的 h5 序列中，倒数第二个固定是导演行，最后一个是 年份/片长/制式
// （制式偶尔缺失）。
func ParseFilmPage(doc *goquery.Document, now time.Time) []ScrapedFilm {
	var films []ScrapedFilm

	doc.Find("div.col-sm-12.homepage-in-theater-movie").Each(func(i int, block *goquery.Selection) {
		title := strings.TrimSpace(block.Find("h3.movie_title a").Text())
		if title == "" {
			return
		}

		// sr-only 的 h5 是放映日期行，不算电影元数据
		var headings []string
		block.Find("h5").Not(".sr-only").Each(func(_ int, h *goquery.Selection) {
			headings = append(headings, h.Text())
		})
		if len(headings) < 2 {
			log.Printf("[Scraper] 跳过信息不完整的电影块: %s", title)
			return
		}

		film := ScrapedFilm{
			Title:    title,
			Synopsis: strings.TrimSpace(block.Find("p.synopsis").Text()),
		}

		film.Director1, film.Director2 = parseDirectors(headings[len(headings)-2])
		film.Year, film.Runtime, film.Format = parseFilmMeta(headings[len(headings)-1])

		if src, exists := block.Find("img").First().Attr("src"); exists {
			film.ImageURL = strings.TrimSpace(src)
		}

		block.Find("div.film_day").Each(func(_ int, day *goquery.Selection) {
			showing, ok := parseShowing(day, now)
			if !ok {
				return
			}
			film.Showings = append(film.Showings, showing)
		})

		films = append(films, film)
	})

	return films
}

// parseDirectors 解析导演行，最多保留前两位
func parseDirectors(line string) (string, *string) {
	line = strings.TrimSpace(strings.ReplaceAll(line, "Director:", ""))
	parts := strings.Split(line, ",")
	first := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		second := strings.TrimSpace(parts[1])
		return first, &second
	}
	return first, nil
}

// parseFilmMeta 解析 "年份 / 片长 / 制式" 行，制式可能缺失
func parseFilmMeta(line string) (*int, *int, *string) {
	parts := strings.Split(line, "/")
	if len(parts) < 2 {
		return nil, nil, nil
	}

	var year, runtime *int
	var format *string

	if y, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
		year = &y
	}
	runtimeText := strings.TrimSpace(strings.ReplaceAll(parts[1], "min", ""))
	if r, err := strconv.Atoi(runtimeText); err == nil {
		runtime = &r
	}
	if len(parts) >= 3 {
		if f := strings.TrimSpace(parts[2]); f != "" {
			format = &f
		}
	}

	return year, runtime, format
}

// parseShowing 解析单个放映块。
// 日期形如 "Monday January 20"，时间形如 "4:00pm"；页面不带年份，
// 当月份小于当前月份时判定为跨年场次。
func parseShowing(day *goquery.Selection, now time.Time) (ScrapedShowing, bool) {
	dateText := strings.TrimSpace(day.Find("h5.sr-only").Text())
	anchor := day.Find("a").First()
	timeText := strings.TrimSpace(anchor.Text())

	dateParts := strings.Fields(dateText)
	if len(dateParts) < 3 || timeText == "" {
		return ScrapedShowing{}, false
	}

	parsed, err := time.ParseInLocation("January 2 3:04pm",
		dateParts[1]+" "+dateParts[2]+" "+strings.ToLower(timeText), now.Location())
	if err != nil {
		log.Printf("[Scraper] 放映时间解析失败: %q %q: %v", dateText, timeText, err)
		return ScrapedShowing{}, false
	}

	year := now.Year()
	if parsed.Month() < now.Month() {
		year++
	}
	showTime := time.Date(year, parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())

	showing := ScrapedShowing{
		Time: showTime,
		Day:  dateParts[0],
	}

	// 只有 "Buy Tickets" 链接的场次才可购票，否则视为售罄
	if anchor.AttrOr("title", "") == "Buy Tickets" {
		if href, exists := anchor.Attr("href"); exists {
			showing.TicketLink = &href
		}
	}

	return showing, true
}
