package service

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/marquee/internal/errs"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/utils"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCandidatePool 送入 LLM 的候选池上限
	DefaultCandidatePool = 30
	// DefaultTopK 最终返回的推荐数量上限
	DefaultTopK = 5
	// DefaultShowtimesPerMovie 每部电影附带的未来放映条数上限
	DefaultShowtimesPerMovie = 5

	// synopsisLimit 提示词里简介的截断长度
	synopsisLimit = 300

	llmMaxTokens   = 512
	llmTemperature = 0.7
)

// CandidateStore 候选电影读取口
type CandidateStore interface {
	CandidatesWithFutureShowtimes() ([]model.Movie, error)
}

// ShowtimeStore 放映批量读取口
type ShowtimeStore interface {
	FutureByMovieIDs(movieIDs []int, limitPerMovie int) (map[int][]model.Showtime, error)
}

// Embedder 查询文本向量化接口
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Completer 语言模型文本生成接口
type Completer interface {
	Complete(prompt string, maxTokens int, temperature float64) (string, error)
}

// Candidate 参与打分的候选电影（单次请求内的临时结构）
type Candidate struct {
	Movie      model.Movie
	Similarity float64
}

// CinemaGroup 按影院分组的放映（组内保持时间升序）
type CinemaGroup struct {
	Cinema    string           `json:"cinema"`
	Showtimes []model.Showtime `json:"showtimes"`
}

// RecommendationCard 单条推荐结果
type RecommendationCard struct {
	MovieID    int              `json:"movie_id"`
	Title      string           `json:"title"`
	Year       *int             `json:"year"`
	Director   string           `json:"director"`
	Synopsis   string           `json:"synopsis"`
	Similarity float64          `json:"similarity"`
	Reason     string           `json:"reason"`
	Showtimes  []model.Showtime `json:"showtimes"`
	Cinemas    []CinemaGroup    `json:"cinemas"`
	PosterURL  string           `json:"image_url"`
}

// RecommendOptions 推荐请求参数，零值字段取默认值
type RecommendOptions struct {
	PoolSize          int
	TopK              int
	ShowtimesPerMovie int
}

func (o *RecommendOptions) normalize() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultCandidatePool
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.ShowtimesPerMovie <= 0 {
		o.ShowtimesPerMovie = DefaultShowtimesPerMovie
	}
}

// RecommendService 推荐服务：向量相似度初筛 + LLM 精选
type RecommendService struct {
	movies    CandidateStore
	showtimes ShowtimeStore
	embedder  Embedder
	llm       Completer

	cache *utils.SearchCache[[]RecommendationCard]
	sf    singleflight.Group
}

// NewRecommendService 创建推荐服务
func NewRecommendService(movies CandidateStore, showtimes ShowtimeStore, embedder Embedder, llm Completer) *RecommendService {
	return &RecommendService{
		movies:    movies,
		showtimes: showtimes,
		embedder:  embedder,
		llm:       llm,
		cache:     utils.NewSearchCache[[]RecommendationCard](256, 10*time.Minute),
	}
}

// Recommend 根据心情文本返回带理由的推荐列表。
// 相同心情的并发请求通过 singleflight 合并，命中缓存直接返回。
//
// 流程：
// 1. 取所有还有未来放映且已有向量的电影，空池直接返回空列表（不调 LLM）
// 2. 对心情文本算一次查询向量，按余弦相似度取 top-N 候选
// 3. 让 LLM 从候选里挑选并给出理由（只接受 id->理由 的 JSON 对象）
// 4. 批量取选中电影的未来放映并组装结果
func (s *RecommendService) Recommend(mood string, opts RecommendOptions) ([]RecommendationCard, error) {
	opts.normalize()

	key := fmt.Sprintf("%s|%d|%d|%d", strings.ToLower(strings.TrimSpace(mood)),
		opts.PoolSize, opts.TopK, opts.ShowtimesPerMovie)

	if cached, found := s.cache.Get(key); found {
		return cached, nil
	}

	val, err, _ := s.sf.Do(key, func() (interface{}, error) {
		cards, err := s.recommend(mood, opts)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, cards)
		return cards, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]RecommendationCard), nil
}

func (s *RecommendService) recommend(mood string, opts RecommendOptions) ([]RecommendationCard, error) {
	// 1. 候选池
	movies, err := s.movies.CandidatesWithFutureShowtimes()
	if err != nil {
		return nil, fmt.Errorf("%w: 查询候选电影失败: %v", errs.ErrDatabase, err)
	}
	if len(movies) == 0 {
		return []RecommendationCard{}, nil
	}

	// 2. 查询向量 + 相似度初筛
	queryVec, err := s.embedder.Embed(mood)
	if err != nil {
		return nil, err
	}

	scored := scoreCandidates(queryVec, movies, opts.PoolSize)
	if len(scored) == 0 {
		return []RecommendationCard{}, nil
	}

	// 3. LLM 精选
	prompt := buildMoviePrompt(mood, scored)
	text, err := s.llm.Complete(prompt, llmMaxTokens, llmTemperature)
	if err != nil {
		return nil, err
	}

	pairs, err := parseMovieReasonMap(text)
	if err != nil {
		return nil, err
	}
	if len(pairs) > opts.TopK {
		pairs = pairs[:opts.TopK]
	}

	lookup := make(map[int]Candidate, len(scored))
	for _, c := range scored {
		lookup[c.Movie.ID] = c
	}

	selectedIDs := make([]int, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := lookup[p.MovieID]; ok {
			selectedIDs = append(selectedIDs, p.MovieID)
		}
	}
	if len(selectedIDs) == 0 {
		return []RecommendationCard{}, nil
	}

	// 4. 批量取放映并组装（一次查询取回所有选中电影的数据）
	showtimeMap, err := s.showtimes.FutureByMovieIDs(selectedIDs, opts.ShowtimesPerMovie)
	if err != nil {
		return nil, fmt.Errorf("%w: 查询放映失败: %v", errs.ErrDatabase, err)
	}

	cards := make([]RecommendationCard, 0, len(pairs))
	for _, p := range pairs {
		meta, ok := lookup[p.MovieID]
		stList := showtimeMap[p.MovieID]
		// 选中后失效的候选（如全部售罄下架）直接剔除，不算错误
		if !ok || len(stList) == 0 {
			continue
		}

		poster := meta.Movie.ScrapedImageURL
		if poster == "" {
			for _, st := range stList {
				if st.ImageURL != "" {
					poster = st.ImageURL
					break
				}
			}
		}

		cards = append(cards, RecommendationCard{
			MovieID:    p.MovieID,
			Title:      meta.Movie.Title,
			Year:       meta.Movie.Year,
			Director:   meta.Movie.ScrapedDirector1,
			Synopsis:   meta.Movie.ScrapedSynopsis,
			Similarity: meta.Similarity,
			Reason:     p.Reason,
			Showtimes:  stList,
			Cinemas:    groupByCinema(stList),
			PosterURL:  poster,
		})
	}

	log.Printf("[RecommendService] 候选 %d 部，LLM 选中 %d 部，最终返回 %d 条", len(scored), len(pairs), len(cards))
	return cards, nil
}

// cosineSimilarity 余弦相似度。
// 向量长度不一致或任一向量为零向量时返回 0.0 而不是报错，
// 用于兜底库里可能存在的坏向量。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// scoreCandidates 打分并取 top-N。相似度相同的按电影 id 升序，保证结果可复现。
func scoreCandidates(queryVec []float32, movies []model.Movie, topN int) []Candidate {
	scored := make([]Candidate, 0, len(movies))
	for _, m := range movies {
		if m.Embedding == nil {
			continue
		}
		sim := cosineSimilarity(queryVec, m.Embedding.Slice())
		scored = append(scored, Candidate{Movie: m, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Movie.ID < scored[j].Movie.ID
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

// truncateSynopsis 截断简介到 limit 个字符，在最后一个空格处断开并补省略号，
// 不在单词中间截断。
func truncateSynopsis(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// buildMoviePrompt 构造候选列表提示词，简介截断以控制提示词长度
func buildMoviePrompt(mood string, candidates []Candidate) string {
	var lines []string
	for _, c := range candidates {
		lines = append(lines, fmt.Sprintf(
			"MovieID: %d  Title: %s\n   Director: %s\n   Synopsis: %s\n",
			c.Movie.ID, c.Movie.Title, c.Movie.ScrapedDirector1,
			truncateSynopsis(c.Movie.ScrapedSynopsis, synopsisLimit)))
	}

	return fmt.Sprintf(
		"You are a movie recommender. The user mood is: \"%s\".\n\n"+
			"Below is a list of candidate movies that have upcoming showtimes. Each item includes MovieID, Title, Director, and Synopsis.\n\n"+
			"%s\n\n"+
			"Task: From the above list, choose at least 5 movies that best match the user's mood. For each recommended movie, return a one-sentence reason. "+
			"IMPORTANT: Use the MovieID as the JSON key. Address the user directly in each reason. Return ONLY a valid JSON object (no extra text) mapping MovieID -> reason. "+
			"Example: {\"123\": \"1-2 sentences of reason.\", \"456\": \"Another 1-2 sentences.\"}. If no movies match, return {}.",
		mood, strings.Join(lines, "\n\n"))
}

// reasonPair 模型输出中的一条 电影id->理由
type reasonPair struct {
	MovieID int
	Reason  string
}

var jsonObjectPattern = regexp.MustCompile(`(?s)(\{.*\})`)

// extractJSONObject 从模型输出中提取 JSON 对象文本：
// 先尝试整体解析，失败则匹配第一个 {...} 片段
func extractJSONObject(text string) (string, bool) {
	if json.Valid([]byte(text)) && strings.HasPrefix(strings.TrimSpace(text), "{") {
		return text, true
	}
	if m := jsonObjectPattern.FindStringSubmatch(text); m != nil {
		if json.Valid([]byte(m[1])) {
			return m[1], true
		}
	}
	return "", false
}

// parseMovieReasonMap 解析模型输出为有序的 id->理由 列表。
// 无法强转成整数的键静默丢弃；重复键保留首次出现的位置、覆盖为后写的值
// （与标准 JSON 对象语义一致）；一个数字键都不剩时返回 ErrParse。
func parseMovieReasonMap(text string) ([]reasonPair, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: 模型输出中找不到合法的 JSON 对象", errs.ErrParse)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrParse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: 模型输出不是 JSON 对象", errs.ErrParse)
	}

	var pairs []reasonPair
	index := make(map[int]int)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrParse, err)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrParse, err)
		}

		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			// 模型偶尔会输出多余的非数字键，直接忽略
			continue
		}

		reason := stringifyReason(value)
		if pos, exists := index[id]; exists {
			pairs[pos].Reason = reason
			continue
		}
		index[id] = len(pairs)
		pairs = append(pairs, reasonPair{MovieID: id, Reason: reason})
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: 模型没有返回任何数字电影 id", errs.ErrParse)
	}
	return pairs, nil
}

// stringifyReason 把理由值转成字符串，非字符串值用紧凑 JSON 文本兜底
func stringifyReason(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// groupByCinema 按影院分组，分组顺序与每组内顺序都保持输入顺序
func groupByCinema(showtimes []model.Showtime) []CinemaGroup {
	var groups []CinemaGroup
	index := make(map[string]int)
	for _, st := range showtimes {
		cinema := st.Cinema
		if cinema == "" {
			cinema = "Unknown"
		}
		pos, ok := index[cinema]
		if !ok {
			pos = len(groups)
			index[cinema] = pos
			groups = append(groups, CinemaGroup{Cinema: cinema})
		}
		groups[pos].Showtimes = append(groups[pos].Showtimes, st)
	}
	return groups
}
