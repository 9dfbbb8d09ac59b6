package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/repository"
)

const testEmbedModel = "text-embedding-3-small"

// fakeSyncStore 内存版的同步任务存储，模拟哈希过滤和批量写入
type fakeSyncStore struct {
	movies   map[int]*model.Movie
	writes   [][]repository.EmbeddingUpdate
	writeErr error
}

func newFakeSyncStore(movies ...model.Movie) *fakeSyncStore {
	s := &fakeSyncStore{movies: make(map[int]*model.Movie)}
	for i := range movies {
		m := movies[i]
		s.movies[m.ID] = &m
	}
	return s
}

func (s *fakeSyncStore) FindNeedingEmbedding(embedModel string, refreshAll bool, limit int) ([]model.Movie, error) {
	var out []model.Movie
	for _, m := range s.movies {
		out = append(out, *m)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSyncStore) UpdateEmbeddingsBatch(updates []repository.EmbeddingUpdate) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, updates)
	for _, u := range updates {
		m := s.movies[u.MovieID]
		v := u.Vector
		modelName := u.Model
		hash := u.SourceHash
		m.Embedding = &v
		m.EmbeddingModel = &modelName
		m.EmbeddingSourceHash = &hash
	}
	return nil
}

type countingEmbedder struct {
	calls   int
	batches [][]string
	err     error
}

func (e *countingEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	e.calls++
	e.batches = append(e.batches, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func syncMovie(id int, title, synopsis string) model.Movie {
	year := 2000 + id
	return model.Movie{
		ID:              id,
		Title:           title,
		Year:            &year,
		ScrapedSynopsis: synopsis,
	}
}

func TestSyncRunEmbedsMissing(t *testing.T) {
	store := newFakeSyncStore(
		syncMovie(1, "First", "a synopsis"),
		syncMovie(2, "Second", "another synopsis"),
	)
	embedder := &countingEmbedder{}

	svc := NewEmbeddingSyncService(store, embedder, testEmbedModel)
	require.NoError(t, svc.Run(SyncOptions{}))

	assert.Equal(t, 1, embedder.calls)
	for _, m := range store.movies {
		require.NotNil(t, m.Embedding, "电影 %d 应写入向量", m.ID)
		require.NotNil(t, m.EmbeddingSourceHash)
		assert.Equal(t, testEmbedModel, *m.EmbeddingModel)
	}
}

func TestSyncRunSecondPassIsNoop(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Stable", "unchanged synopsis"))
	embedder := &countingEmbedder{}
	svc := NewEmbeddingSyncService(store, embedder, testEmbedModel)

	require.NoError(t, svc.Run(SyncOptions{}))
	require.Equal(t, 1, embedder.calls)

	// 源文本没变，第二次跑不该发起任何向量调用
	require.NoError(t, svc.Run(SyncOptions{}))
	assert.Equal(t, 1, embedder.calls)
}

func TestSyncRunDetectsStaleHash(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Edited", "old synopsis"))
	embedder := &countingEmbedder{}
	svc := NewEmbeddingSyncService(store, embedder, testEmbedModel)
	require.NoError(t, svc.Run(SyncOptions{}))
	require.Equal(t, 1, embedder.calls)

	// 简介变化后哈希过期，需要重算
	store.movies[1].ScrapedSynopsis = "new synopsis"
	require.NoError(t, svc.Run(SyncOptions{}))
	assert.Equal(t, 2, embedder.calls)
}

func TestSyncRunModelChangeTriggersRecompute(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Model Change", "same text"))
	embedder := &countingEmbedder{}
	require.NoError(t, NewEmbeddingSyncService(store, embedder, "model-v1").Run(SyncOptions{}))
	require.Equal(t, 1, embedder.calls)

	require.NoError(t, NewEmbeddingSyncService(store, embedder, "model-v2").Run(SyncOptions{}))
	assert.Equal(t, 2, embedder.calls)
}

func TestSyncRunSkipsEmptySource(t *testing.T) {
	store := newFakeSyncStore(model.Movie{ID: 1, Title: "  "})
	embedder := &countingEmbedder{}
	require.NoError(t, NewEmbeddingSyncService(store, embedder, testEmbedModel).Run(SyncOptions{}))
	assert.Zero(t, embedder.calls)
}

func TestSyncRunDryRun(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Dry", "synopsis"))
	embedder := &countingEmbedder{}
	svc := NewEmbeddingSyncService(store, embedder, testEmbedModel)

	require.NoError(t, svc.Run(SyncOptions{DryRun: true}))
	assert.Zero(t, embedder.calls, "dry-run 不该调用向量服务")
	assert.Empty(t, store.writes, "dry-run 不该写库")
}

func TestSyncRunBatchSize(t *testing.T) {
	var movies []model.Movie
	for i := 1; i <= 5; i++ {
		movies = append(movies, syncMovie(i, fmt.Sprintf("M%d", i), "text"))
	}
	store := newFakeSyncStore(movies...)
	embedder := &countingEmbedder{}

	require.NoError(t, NewEmbeddingSyncService(store, embedder, testEmbedModel).Run(SyncOptions{BatchSize: 2}))
	assert.Equal(t, 3, embedder.calls)
	assert.Len(t, store.writes, 3)
}

func TestSyncRunEmbedFailureAborts(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Fail", "text"))
	embedder := &countingEmbedder{err: errors.New("rate limited")}

	err := NewEmbeddingSyncService(store, embedder, testEmbedModel).Run(SyncOptions{})
	require.Error(t, err)
	assert.Empty(t, store.writes)
}

func TestSyncRunWriteFailureAborts(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Fail", "text"))
	store.writeErr = errors.New("deadlock")

	err := NewEmbeddingSyncService(store, &countingEmbedder{}, testEmbedModel).Run(SyncOptions{})
	require.Error(t, err)
}

func TestSyncRunRefreshAll(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Fresh", "text"))
	embedder := &countingEmbedder{}
	svc := NewEmbeddingSyncService(store, embedder, testEmbedModel)
	require.NoError(t, svc.Run(SyncOptions{}))
	require.Equal(t, 1, embedder.calls)

	// refresh-all 忽略哈希强制重算
	require.NoError(t, svc.Run(SyncOptions{RefreshAll: true}))
	assert.Equal(t, 2, embedder.calls)
}

func TestBuildEmbeddingInput(t *testing.T) {
	year := 1994
	m := model.Movie{
		Title:            "Chungking Express",
		Year:             &year,
		ScrapedDirector1: "Wong Kar-wai",
		ScrapedSynopsis:  "Two lovesick cops.",
	}
	got := BuildEmbeddingInput(&m)
	assert.Equal(t, "Title: Chungking Express | Year: 1994 | Director: Wong Kar-wai | Synopsis: Two lovesick cops.", got)
}

func TestBuildEmbeddingInputOmitsEmpty(t *testing.T) {
	m := model.Movie{Title: "Bare"}
	assert.Equal(t, "Title: Bare", BuildEmbeddingInput(&m))
}

func TestSourceHashDeterministic(t *testing.T) {
	a := SourceHash("same text")
	b := SourceHash("same text")
	c := SourceHash("other text")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestSyncRunHashMatchesStoredVector(t *testing.T) {
	store := newFakeSyncStore(syncMovie(1, "Hash Check", "synopsis"))
	embedder := &countingEmbedder{}
	require.NoError(t, NewEmbeddingSyncService(store, embedder, testEmbedModel).Run(SyncOptions{}))

	m := store.movies[1]
	require.NotNil(t, m.EmbeddingSourceHash)
	assert.Equal(t, SourceHash(BuildEmbeddingInput(m)), *m.EmbeddingSourceHash)
	require.NotNil(t, m.Embedding)
	assert.NotEmpty(t, m.Embedding.Slice())
}
