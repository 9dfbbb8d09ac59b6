package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// openaiChatRequest OpenAI Chat Completions 请求结构
type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiChatResponse OpenAI Chat Completions 响应结构
type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// openaiGenerate 调用 OpenAI Chat Completions，返回第一个候选的文本
func (c *Client) openaiGenerate(prompt string, maxTokens int, temperature float64) (string, error) {
	reqBody := openaiChatRequest{
		Model: c.cfg.OpenAIModel,
		Messages: []openaiMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}

	req, err := http.NewRequest("POST", c.cfg.OpenAIBase+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post request to openai failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response failed: %v", err)
	}

	var result openaiChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("openai api error: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned error status: %d", resp.StatusCode)
	}

	if len(result.Choices) > 0 {
		// 聊天接口的文本挂在 message 下，旧式补全接口挂在 text 下
		if result.Choices[0].Message.Content != "" {
			return result.Choices[0].Message.Content, nil
		}
		if result.Choices[0].Text != "" {
			return result.Choices[0].Text, nil
		}
	}

	return "", fmt.Errorf("openai returned no content")
}
