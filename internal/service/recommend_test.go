package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marquee/internal/errs"
	"github.com/user/marquee/internal/model"
)

// ---- 测试替身 ----

type stubCandidateStore struct {
	movies []model.Movie
	err    error
}

func (s *stubCandidateStore) CandidatesWithFutureShowtimes() ([]model.Movie, error) {
	return s.movies, s.err
}

type stubShowtimeStore struct {
	byMovie map[int][]model.Showtime
}

func (s *stubShowtimeStore) FutureByMovieIDs(movieIDs []int, limitPerMovie int) (map[int][]model.Showtime, error) {
	out := make(map[int][]model.Showtime)
	for _, id := range movieIDs {
		rows := s.byMovie[id]
		if limitPerMovie > 0 && len(rows) > limitPerMovie {
			rows = rows[:limitPerMovie]
		}
		if len(rows) > 0 {
			out[id] = rows
		}
	}
	return out, nil
}

type stubEmbedder struct {
	vector []float32
	calls  int
}

func (s *stubEmbedder) Embed(text string) ([]float32, error) {
	s.calls++
	return s.vector, nil
}

type stubCompleter struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (s *stubCompleter) Complete(prompt string, maxTokens int, temperature float64) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func vec(vals ...float32) *pgvector.Vector {
	v := pgvector.NewVector(vals)
	return &v
}

func makeMovie(id int, title string, embedding *pgvector.Vector) model.Movie {
	year := 1990 + id
	return model.Movie{
		ID:               id,
		Title:            title,
		Year:             &year,
		ScrapedDirector1: "Some Director",
		ScrapedSynopsis:  "A story about " + title,
		ScrapedImageURL:  fmt.Sprintf("https://example.com/%d.jpg", id),
		Embedding:        embedding,
	}
}

func link(s string) *string { return &s }

// ---- 余弦相似度 ----

func TestCosineSimilaritySelf(t *testing.T) {
	v := []float32{0.3, -0.5, 0.8, 0.1}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	// 长度不一致或零向量都返回 0.0 而不是报错
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}

func TestScoreCandidatesOrderAndTieBreak(t *testing.T) {
	query := []float32{1, 0}
	movies := []model.Movie{
		makeMovie(3, "Tie B", vec(0, 1)),     // 相似度 0
		makeMovie(1, "Best", vec(1, 0)),      // 相似度 1
		makeMovie(2, "Tie A", vec(0, 1)),     // 相似度 0
		makeMovie(4, "Middle", vec(1, 1)),    // 相似度 ~0.707
		makeMovie(5, "NoVector", nil),        // 没有向量的直接跳过
	}

	scored := scoreCandidates(query, movies, 10)
	require.Len(t, scored, 4)
	assert.Equal(t, 1, scored[0].Movie.ID)
	assert.Equal(t, 4, scored[1].Movie.ID)
	// 相似度相同的按 id 升序
	assert.Equal(t, 2, scored[2].Movie.ID)
	assert.Equal(t, 3, scored[3].Movie.ID)
}

func TestScoreCandidatesTopN(t *testing.T) {
	query := []float32{1, 0}
	var movies []model.Movie
	for i := 1; i <= 8; i++ {
		movies = append(movies, makeMovie(i, fmt.Sprintf("M%d", i), vec(1, float32(i))))
	}
	scored := scoreCandidates(query, movies, 3)
	assert.Len(t, scored, 3)
}

// ---- 简介截断 ----

func TestTruncateSynopsisShortUnchanged(t *testing.T) {
	assert.Equal(t, "short text", truncateSynopsis("short text", 300))
}

func TestTruncateSynopsisBreaksAtSpace(t *testing.T) {
	s := strings.Repeat("word ", 100) // 500 字符
	got := truncateSynopsis(s, 300)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), 303)
	// 不在单词中间截断
	body := strings.TrimSuffix(got, "...")
	assert.False(t, strings.HasSuffix(body, "wor"))
	assert.True(t, strings.HasSuffix(body, "word"))
}

func TestTruncateSynopsisNoSpace(t *testing.T) {
	s := strings.Repeat("x", 400)
	got := truncateSynopsis(s, 300)
	assert.Equal(t, strings.Repeat("x", 300)+"...", got)
}

// ---- 模型输出解析 ----

func TestParseMovieReasonMapPreservesOrder(t *testing.T) {
	pairs, err := parseMovieReasonMap(`{"42": "first", "7": "second", "13": "third"}`)
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, 42, pairs[0].MovieID)
	assert.Equal(t, 7, pairs[1].MovieID)
	assert.Equal(t, 13, pairs[2].MovieID)
}

func TestParseMovieReasonMapDropsNonNumericKeys(t *testing.T) {
	pairs, err := parseMovieReasonMap(`{"note": "ignore me", "5": "keep", "n/a": "skip"}`)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 5, pairs[0].MovieID)
	assert.Equal(t, "keep", pairs[0].Reason)
}

func TestParseMovieReasonMapDuplicateKeys(t *testing.T) {
	// 重复键保留首次出现的位置，值取后写的（标准 JSON 对象语义）
	pairs, err := parseMovieReasonMap(`{"5": "first value", "9": "other", "5": "last value"}`)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, 5, pairs[0].MovieID)
	assert.Equal(t, "last value", pairs[0].Reason)
	assert.Equal(t, 9, pairs[1].MovieID)
}

func TestParseMovieReasonMapEmbeddedJSON(t *testing.T) {
	text := "Sure! Here are my picks:\n{\"3\": \"a moody pick\"}\nEnjoy!"
	pairs, err := parseMovieReasonMap(text)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 3, pairs[0].MovieID)
}

func TestParseMovieReasonMapProse(t *testing.T) {
	_, err := parseMovieReasonMap("I would recommend watching something uplifting today.")
	assert.ErrorIs(t, err, errs.ErrParse)
}

func TestParseMovieReasonMapOnlyNonNumericKeys(t *testing.T) {
	_, err := parseMovieReasonMap(`{"abc": "x", "def": "y"}`)
	assert.ErrorIs(t, err, errs.ErrParse)
}

func TestParseMovieReasonMapWhitespaceKeys(t *testing.T) {
	pairs, err := parseMovieReasonMap(`{" 12 ": "trimmed"}`)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 12, pairs[0].MovieID)
}

// ---- 影院分组 ----

func TestGroupByCinemaKeepsInputOrder(t *testing.T) {
	rows := []model.Showtime{
		{ID: 1, Cinema: "METROGRAPH"},
		{ID: 2, Cinema: ""},
		{ID: 3, Cinema: "METROGRAPH"},
	}
	groups := groupByCinema(rows)
	require.Len(t, groups, 2)
	assert.Equal(t, "METROGRAPH", groups[0].Cinema)
	assert.Len(t, groups[0].Showtimes, 2)
	assert.Equal(t, "Unknown", groups[1].Cinema)
}

// ---- 端到端（替身）----

func TestRecommendEmptyPoolSkipsLLM(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	completer := &stubCompleter{response: `{"1": "x"}`}
	svc := NewRecommendService(&stubCandidateStore{}, &stubShowtimeStore{}, embedder, completer)

	cards, err := svc.Recommend("空池也该正常返回", RecommendOptions{})
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.Zero(t, embedder.calls, "空候选池不该调用向量服务")
	assert.Zero(t, completer.calls, "空候选池不该调用 LLM")
}

func TestRecommendAssemblesCards(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	movies := []model.Movie{
		makeMovie(1, "Close Match", vec(1, 0)),
		makeMovie(2, "Far Match", vec(0, 1)),
	}
	showtimes := &stubShowtimeStore{byMovie: map[int][]model.Showtime{
		1: {
			{ID: 10, MovieID: 1, Cinema: "METROGRAPH", ShowTime: future, TicketLink: link("https://t/1")},
			{ID: 11, MovieID: 1, Cinema: "METROGRAPH", ShowTime: future.Add(time.Hour), TicketLink: link("https://t/2")},
		},
	}}
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	completer := &stubCompleter{response: `{"1": "Matches your calm evening."}`}

	svc := NewRecommendService(&stubCandidateStore{movies: movies}, showtimes, embedder, completer)
	cards, err := svc.Recommend("calm and quiet", RecommendOptions{})
	require.NoError(t, err)
	require.Len(t, cards, 1)

	card := cards[0]
	assert.Equal(t, 1, card.MovieID)
	assert.Equal(t, "Close Match", card.Title)
	assert.Equal(t, "Matches your calm evening.", card.Reason)
	assert.InDelta(t, 1.0, card.Similarity, 1e-9)
	assert.Len(t, card.Showtimes, 2)
	require.Len(t, card.Cinemas, 1)
	assert.Equal(t, "METROGRAPH", card.Cinemas[0].Cinema)
	assert.Equal(t, "https://example.com/1.jpg", card.PosterURL)
}

func TestRecommendDropsSelectionsWithoutShowtimes(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	movies := []model.Movie{
		makeMovie(1, "Has Showtimes", vec(1, 0)),
		makeMovie(2, "Gone", vec(1, 0.1)),
	}
	showtimes := &stubShowtimeStore{byMovie: map[int][]model.Showtime{
		1: {{ID: 10, MovieID: 1, Cinema: "METROGRAPH", ShowTime: future, TicketLink: link("https://t/1")}},
	}}
	completer := &stubCompleter{response: `{"2": "sadly vanished", "1": "still playing", "999": "not a candidate"}`}

	svc := NewRecommendService(&stubCandidateStore{movies: movies}, showtimes,
		&stubEmbedder{vector: []float32{1, 0}}, completer)
	cards, err := svc.Recommend("anything", RecommendOptions{})
	require.NoError(t, err)
	// 选中后查不到放映的（id=2）和不在候选池的（id=999）都剔除
	require.Len(t, cards, 1)
	assert.Equal(t, 1, cards[0].MovieID)
}

func TestRecommendTopKCap(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	var movies []model.Movie
	byMovie := make(map[int][]model.Showtime)
	reasons := make([]string, 0, 8)
	for i := 1; i <= 8; i++ {
		movies = append(movies, makeMovie(i, fmt.Sprintf("M%d", i), vec(1, float32(i)*0.01)))
		byMovie[i] = []model.Showtime{
			{ID: 100 + i, MovieID: i, Cinema: "METROGRAPH", ShowTime: future, TicketLink: link("https://t")},
		}
		reasons = append(reasons, fmt.Sprintf("\"%d\": \"reason %d\"", i, i))
	}
	completer := &stubCompleter{response: "{" + strings.Join(reasons, ", ") + "}"}

	svc := NewRecommendService(&stubCandidateStore{movies: movies}, &stubShowtimeStore{byMovie: byMovie},
		&stubEmbedder{vector: []float32{1, 0}}, completer)
	cards, err := svc.Recommend("many picks", RecommendOptions{TopK: 3})
	require.NoError(t, err)
	assert.Len(t, cards, 3)
}

func TestRecommendPropagatesLLMError(t *testing.T) {
	movies := []model.Movie{makeMovie(1, "Only", vec(1, 0))}
	completer := &stubCompleter{err: fmt.Errorf("%w: 重试后仍失败", errs.ErrLLM)}

	svc := NewRecommendService(&stubCandidateStore{movies: movies}, &stubShowtimeStore{},
		&stubEmbedder{vector: []float32{1, 0}}, completer)
	_, err := svc.Recommend("failing upstream", RecommendOptions{})
	assert.ErrorIs(t, err, errs.ErrLLM)
}

func TestRecommendCachesByMood(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	movies := []model.Movie{makeMovie(1, "Cached", vec(1, 0))}
	showtimes := &stubShowtimeStore{byMovie: map[int][]model.Showtime{
		1: {{ID: 10, MovieID: 1, Cinema: "METROGRAPH", ShowTime: future, TicketLink: link("https://t")}},
	}}
	completer := &stubCompleter{response: `{"1": "pick"}`}

	svc := NewRecommendService(&stubCandidateStore{movies: movies}, showtimes,
		&stubEmbedder{vector: []float32{1, 0}}, completer)

	_, err := svc.Recommend("Rainy Day", RecommendOptions{})
	require.NoError(t, err)
	// 大小写和首尾空白不同视为同一心情
	_, err = svc.Recommend("  rainy day ", RecommendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls, "命中缓存不该再调 LLM")
}

func TestRecommendDatabaseError(t *testing.T) {
	svc := NewRecommendService(&stubCandidateStore{err: errors.New("connection refused")},
		&stubShowtimeStore{}, &stubEmbedder{}, &stubCompleter{})
	_, err := svc.Recommend("db down", RecommendOptions{})
	assert.ErrorIs(t, err, errs.ErrDatabase)
}

func TestBuildMoviePromptContainsCandidates(t *testing.T) {
	candidates := []Candidate{
		{Movie: makeMovie(7, "Prompt Movie", nil), Similarity: 0.9},
	}
	prompt := buildMoviePrompt("nostalgic", candidates)
	assert.Contains(t, prompt, "MovieID: 7")
	assert.Contains(t, prompt, "Prompt Movie")
	assert.Contains(t, prompt, "nostalgic")
	assert.Contains(t, prompt, "JSON")
}
