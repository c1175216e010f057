package adk

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ErrEmptyResponse 模型未返回任何文本
var ErrEmptyResponse = errors.New("empty model response")

// GenerateOptions 单次生成参数
type GenerateOptions struct {
	System      string   // 系统指令
	JSON        bool     // 要求输出 JSON
	Temperature *float32 // 为空时使用模型默认值
	MaxTokens   int32
}

// GenerateText 调用 LLM 生成文本，跳过 thinking 内容
func GenerateText(ctx context.Context, llm model.LLM, prompt string, opts GenerateOptions) (string, error) {
	req := &model.LLMRequest{
		Contents: []*genai.Content{
			{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(prompt)}},
		},
		Config: &genai.GenerateContentConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	if opts.System != "" {
		req.Config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(opts.System)}}
	}
	if opts.JSON {
		req.Config.ResponseMIMEType = "application/json"
	}

	var result strings.Builder
	for resp, err := range llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part.Thought {
				continue
			}
			result.WriteString(part.Text)
		}
	}
	// 调用结束时 ctx 已超时也视为失败
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(result.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ExtractJSON 从文本中提取 JSON 对象，找不到时返回空串
func ExtractJSON(content string) string {
	// 方法1: 整个内容即为 JSON
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content
	}

	// 方法2: 查找 ```json 代码块
	if idx := strings.Index(content, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(content[start:], "```"); end != -1 {
			return strings.TrimSpace(content[start : start+end])
		}
	}

	// 方法3: 查找 ``` 代码块
	if idx := strings.Index(content, "```"); idx != -1 {
		start := idx + 3
		// 跳过可能的语言标识
		if newline := strings.Index(content[start:], "\n"); newline != -1 {
			start += newline + 1
		}
		if end := strings.Index(content[start:], "```"); end != -1 {
			extracted := strings.TrimSpace(content[start : start+end])
			if strings.HasPrefix(extracted, "{") {
				return extracted
			}
		}
	}

	// 方法4: 括号匹配第一个完整对象
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// 方法5: 回退到首尾匹配
	if end := strings.LastIndex(content, "}"); end > start {
		return content[start : end+1]
	}
	return ""
}

// Truncate 截断字符串用于日志输出
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
