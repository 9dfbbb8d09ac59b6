package llm

import (
	"fmt"
	"net/http"
	"time"

	"github.com/user/marquee/internal/config"
	"github.com/user/marquee/internal/errs"
	"github.com/user/marquee/internal/model"
)

// AuditStore LLM 调用审计日志的写入口
type AuditStore interface {
	Insert(entry *model.RecommendationLog) error
}

// Client 语言模型适配器。后端（openai / ollama）在构造时根据配置一次性确定，
// 两种后端统一归一化为纯文本输出。
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	audit      AuditStore
	retryDelay time.Duration
	sleep      func(time.Duration) // 测试时可替换
}

// NewClient 创建语言模型适配器，audit 可为 nil（不记录审计日志）
func NewClient(cfg *config.Config, audit AuditStore) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
		audit:      audit,
		retryDelay: 1 * time.Second,
		sleep:      time.Sleep,
	}
}

// ModelName 当前后端使用的模型名
func (c *Client) ModelName() string {
	if c.cfg.Provider == config.ProviderOpenAI {
		return c.cfg.OpenAIModel
	}
	return c.cfg.OllamaModel
}

// Complete 调用语言模型生成文本。任何一次异常后固定延迟重试一次；
// 两次都失败则返回包裹最后一次错误的 ErrLLM。
// 每次尝试（无论成败）都会写一条审计日志，日志写入失败只打日志、不影响主流程。
func (c *Client) Complete(prompt string, maxTokens int, temperature float64) (string, error) {
	if c.cfg.Provider == config.ProviderOpenAI && c.cfg.OpenAIKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY 未设置", errs.ErrConfiguration)
	}

	promptTokens := EstimateTokens(prompt)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.sleep(c.retryDelay)
		}

		var text string
		var err error
		if c.cfg.Provider == config.ProviderOpenAI {
			text, err = c.openaiGenerate(prompt, maxTokens, temperature)
		} else {
			text, err = c.ollamaGenerate(prompt, maxTokens, temperature)
		}

		c.logAttempt(promptTokens, prompt, text, err)

		if err == nil {
			return text, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: 重试后仍失败: %v", errs.ErrLLM, lastErr)
}

// logAttempt 记录一次调用尝试，失败的尝试记录错误文本
func (c *Client) logAttempt(promptTokens int, prompt, response string, callErr error) {
	if c.audit == nil {
		return
	}

	entry := &model.RecommendationLog{
		QueriedAt:      time.Now(),
		APIName:        string(c.cfg.Provider),
		ModelName:      c.ModelName(),
		PromptNumToken: promptTokens,
		Prompt:         prompt,
		Response:       response,
		ErrorCode:      0,
	}
	if callErr != nil {
		entry.Response = callErr.Error()
		entry.ErrorCode = 1
	}

	// 审计失败不能掩盖主结果
	_ = c.audit.Insert(entry)
}

// EstimateTokens 粗略估算 token 数（约 4 字符一个 token），仅用于审计统计，
// 不参与任何控制流。
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
