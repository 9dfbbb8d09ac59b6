package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/marquee/internal/config"
	"github.com/user/marquee/internal/errs"
)

// Embedder 向量服务适配器。与聊天后端无关，始终走 OpenAI embeddings 接口。
// 本层不做重试，重试策略属于调用方。
type Embedder struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewEmbedder 创建向量适配器
func NewEmbedder(cfg *config.Config) *Embedder {
	return &Embedder{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
	}
}

// embeddingRequest OpenAI embeddings 请求结构
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse OpenAI embeddings 响应结构
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed 为一段文本生成向量
func (e *Embedder) Embed(text string) ([]float32, error) {
	vectors, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 为一批文本生成向量，结果与输入顺序一一对应。
// 任一向量维度与配置不一致视为硬错误。
func (e *Embedder) EmbedBatch(texts []string) ([][]float32, error) {
	if e.cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY 未设置（生成向量必需）", errs.ErrConfiguration)
	}

	inputs := make([]string, 0, len(texts))
	for _, t := range texts {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: 向量输入文本不能为空", errs.ErrValidation)
		}
		inputs = append(inputs, trimmed)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: 向量输入文本不能为空", errs.ErrValidation)
	}

	reqBody := embeddingRequest{
		Model: e.cfg.EmbedModel,
		Input: inputs,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request failed: %v", errs.ErrEmbedding, err)
	}

	req, err := http.NewRequest("POST", e.cfg.OpenAIBase+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEmbedding, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: post request failed: %v", errs.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed: %v", errs.ErrEmbedding, err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response failed: %v", errs.ErrEmbedding, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: api error: %s", errs.ErrEmbedding, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: returned error status: %d", errs.ErrEmbedding, resp.StatusCode)
	}
	if len(result.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: 响应向量数量 %d 与输入数量 %d 不符", errs.ErrEmbedding, len(result.Data), len(inputs))
	}

	vectors := make([][]float32, len(inputs))
	for _, record := range result.Data {
		if record.Index < 0 || record.Index >= len(inputs) {
			return nil, fmt.Errorf("%w: 响应索引越界: %d", errs.ErrEmbedding, record.Index)
		}
		if len(record.Embedding) != e.cfg.EmbedDimension {
			return nil, fmt.Errorf("%w: 期望维度 %d，实际 %d", errs.ErrEmbedding, e.cfg.EmbedDimension, len(record.Embedding))
		}
		vectors[record.Index] = record.Embedding
	}
	return vectors, nil
}
