package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/user/marquee/internal/model"
	"github.com/user/marquee/internal/repository"
)

// DefaultEmbedBatchSize 每次向量请求携带的电影数
const DefaultEmbedBatchSize = 16

// SyncMovieStore 向量同步任务的存储口
type SyncMovieStore interface {
	FindNeedingEmbedding(embedModel string, refreshAll bool, limit int) ([]model.Movie, error)
	UpdateEmbeddingsBatch(updates []repository.EmbeddingUpdate) error
}

// BatchEmbedder 批量向量化接口
type BatchEmbedder interface {
	EmbedBatch(texts []string) ([][]float32, error)
}

// SyncOptions 同步任务参数
type SyncOptions struct {
	RefreshAll bool          // 忽略哈希，全量重算
	Limit      int           // 最多处理的电影数，<=0 不限制
	BatchSize  int           // 每批数量
	Sleep      time.Duration // 批间隔（限流用）
	DryRun     bool          // 只打印计划，不写库不调用向量服务
}

// EmbeddingSyncService 向量同步任务：为源文本发生变化的电影重算向量。
// 批内任一条失败则该批回滚并中止整个任务，不跳过继续。
type EmbeddingSyncService struct {
	store      SyncMovieStore
	embedder   BatchEmbedder
	embedModel string
}

// NewEmbeddingSyncService 创建向量同步任务
func NewEmbeddingSyncService(store SyncMovieStore, embedder BatchEmbedder, embedModel string) *EmbeddingSyncService {
	return &EmbeddingSyncService{
		store:      store,
		embedder:   embedder,
		embedModel: embedModel,
	}
}

// Run 执行一次同步。同一份数据连续跑两次，第二次不会发起任何向量调用
// （源文本哈希与库里一致即跳过）。
func (s *EmbeddingSyncService) Run(opts SyncOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}

	movies, err := s.store.FindNeedingEmbedding(s.embedModel, opts.RefreshAll, opts.Limit)
	if err != nil {
		return fmt.Errorf("查询待处理电影失败: %w", err)
	}

	var pending []model.Movie
	for _, m := range movies {
		if opts.RefreshAll {
			if strings.TrimSpace(BuildEmbeddingInput(&m)) != "" {
				pending = append(pending, m)
			}
			continue
		}
		if s.needsEmbedding(&m) {
			pending = append(pending, m)
		}
	}

	if len(pending) == 0 {
		log.Println("[EmbeddingSync] 没有需要生成向量的电影")
		return nil
	}
	log.Printf("[EmbeddingSync] 共 %d 部电影待生成向量", len(pending))

	if opts.DryRun {
		for _, m := range pending {
			log.Printf("[EmbeddingSync] DRY-RUN 将处理 id=%d title=%s", m.ID, m.Title)
		}
		return nil
	}

	processed := 0
	for start := 0; start < len(pending); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		inputs := make([]string, len(batch))
		hashes := make([]string, len(batch))
		for i, m := range batch {
			inputs[i] = BuildEmbeddingInput(&m)
			hashes[i] = SourceHash(inputs[i])
		}

		vectors, err := s.embedder.EmbedBatch(inputs)
		if err != nil {
			return fmt.Errorf("第 %d 批向量生成失败，任务中止: %w", start/opts.BatchSize+1, err)
		}

		updates := make([]repository.EmbeddingUpdate, len(batch))
		for i, m := range batch {
			updates[i] = repository.EmbeddingUpdate{
				MovieID:    m.ID,
				Vector:     pgvector.NewVector(vectors[i]),
				Model:      s.embedModel,
				SourceHash: hashes[i],
			}
		}
		if err := s.store.UpdateEmbeddingsBatch(updates); err != nil {
			return fmt.Errorf("第 %d 批写入失败（该批已回滚），任务中止: %w", start/opts.BatchSize+1, err)
		}

		processed += len(batch)
		log.Printf("[EmbeddingSync] 已完成 %d/%d", processed, len(pending))

		if opts.Sleep > 0 && end < len(pending) {
			time.Sleep(opts.Sleep)
		}
	}

	return nil
}

// needsEmbedding 判断是否需要（重新）生成向量：
// 源文本为空的跳过；缺向量、模型版本不一致、或源文本哈希已过期的需要重算
func (s *EmbeddingSyncService) needsEmbedding(m *model.Movie) bool {
	text := BuildEmbeddingInput(m)
	if strings.TrimSpace(text) == "" {
		return false
	}
	if m.Embedding == nil || m.EmbeddingModel == nil || m.EmbeddingSourceHash == nil {
		return true
	}
	return *m.EmbeddingModel != s.embedModel || *m.EmbeddingSourceHash != SourceHash(text)
}

// BuildEmbeddingInput 组装确定性的向量源文本，空字段直接省略
func BuildEmbeddingInput(m *model.Movie) string {
	var parts []string
	if t := strings.TrimSpace(m.Title); t != "" {
		parts = append(parts, "Title: "+t)
	}
	if m.Year != nil {
		parts = append(parts, "Year: "+strconv.Itoa(*m.Year))
	}
	if d := strings.TrimSpace(m.ScrapedDirector1); d != "" {
		parts = append(parts, "Director: "+d)
	}
	if syn := strings.TrimSpace(m.ScrapedSynopsis); syn != "" {
		parts = append(parts, "Synopsis: "+syn)
	}
	return strings.Join(parts, " | ")
}

// SourceHash 源文本的 SHA256 摘要（十六进制），用于检测向量是否过期
func SourceHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
