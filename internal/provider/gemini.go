package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// GeminiAdapter Google Gemini适配器
type GeminiAdapter struct {
	client  *http.Client
	baseURL string
	model   string
	logger  *logrus.Logger
}

// NewGeminiAdapter 创建Gemini适配器
func NewGeminiAdapter(cfg types.GeminiConfig, logger *logrus.Logger) *GeminiAdapter {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiAdapter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}
}

// Name 返回提供商名
func (g *GeminiAdapter) Name() types.Provider {
	return types.ProviderGemini
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest 构造Gemini请求体
// Gemini没有原生的system角色，system_prompt作为前置的用户消息注入
func (g *GeminiAdapter) buildRequest(prompt, systemPrompt string) *geminiRequest {
	contents := make([]geminiContent, 0, 2)
	if systemPrompt != "" {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: "System: " + systemPrompt}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: prompt}},
	})

	return &geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
		SafetySettings: []geminiSafetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
	}
}

// Call 调用generateContent并归一化结果
func (g *GeminiAdapter) Call(ctx context.Context, apiKey, prompt, systemPrompt string) *types.ProviderResult {
	body, err := json.Marshal(g.buildRequest(prompt, systemPrompt))
	if err != nil {
		return &types.ProviderResult{Success: false, Error: fmt.Sprintf("failed to encode request: %v", err)}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &types.ProviderResult{Success: false, Error: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	g.logger.Debugf("调用Gemini API: %s", g.model)

	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &types.ProviderResult{Success: false, Error: "request timed out"}
		}
		return &types.ProviderResult{Success: false, Error: fmt.Sprintf("network error: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.ProviderResult{Success: false, Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(respBody))
		var errResp geminiErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		g.logger.Warnf("Gemini API错误: %d - %s", resp.StatusCode, message)
		return &types.ProviderResult{
			Success: false,
			Error:   fmt.Sprintf("gemini API error (%d): %s", resp.StatusCode, message),
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return &types.ProviderResult{Success: false, Error: fmt.Sprintf("failed to parse response: %v", err)}
	}

	// 2xx但没有候选内容同样按失败处理，不算空内容的成功
	if len(parsed.Candidates) == 0 {
		g.logger.Warn("Gemini API未返回候选内容")
		return &types.ProviderResult{Success: false, Error: "no response generated by gemini"}
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == "" {
		return &types.ProviderResult{Success: false, Error: "no content in gemini response"}
	}

	content := parts[0].Text
	tokensUsed := parsed.UsageMetadata.TotalTokenCount
	if tokensUsed == 0 {
		tokensUsed = estimateTokens(prompt, content)
	}

	g.logger.Debugf("Gemini调用成功, tokens=%d", tokensUsed)
	return &types.ProviderResult{
		Success:    true,
		Content:    content,
		TokensUsed: tokensUsed,
	}
}

// CallStream 调用streamGenerateContent(SSE)，把文本块写入返回的通道
// 单个块解析失败直接跳过，不中断整个流
func (g *GeminiAdapter) CallStream(ctx context.Context, apiKey, prompt, systemPrompt string) (<-chan string, error) {
	body, err := json.Marshal(g.buildRequest(prompt, systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, g.model, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				g.logger.Warnf("解析流式块失败，跳过: %v", err)
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case chunks <- part.Text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return chunks, nil
}

// estimateTokens 粗略估算: 1 token ≈ 4字符，成功的非空响应绝不报0
func estimateTokens(prompt, content string) int {
	estimated := len(prompt)/4 + len(content)/4
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}
