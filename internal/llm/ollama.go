package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ollamaRequest Ollama generate API 请求结构
type ollamaRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

// ollamaGenerate 调用本地 Ollama generate API。
// 不同版本的响应字段不统一，按固定优先级探测已知形态，都不匹配时退回原始响应体。
func (c *Client) ollamaGenerate(prompt string, maxTokens int, temperature float64) (string, error) {
	reqBody := ollamaRequest{
		Model:       c.cfg.OllamaModel,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}

	resp, err := c.httpClient.Post(c.cfg.OllamaBase+"/generate", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("post request to ollama failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned error status: %d", resp.StatusCode)
	}

	return normalizeOllamaResponse(body), nil
}

// normalizeOllamaResponse 把 Ollama 的各种响应形态归一化为纯文本。
// 探测顺序：response -> output -> result -> choices[0].text -> choices[0].content，
// 全部不匹配时返回原始响应体。
func normalizeOllamaResponse(body []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}

	for _, key := range []string{"response", "output", "result"} {
		if s, ok := data[key].(string); ok {
			return s
		}
	}

	if choices, ok := data["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if s, ok := choice["text"].(string); ok && s != "" {
				return s
			}
			if s, ok := choice["content"].(string); ok && s != "" {
				return s
			}
		}
	}

	return string(body)
}
