package openai

import (
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// toOpenAIChatCompletionRequest 将 ADK 请求转换为 OpenAI 请求
func toOpenAIChatCompletionRequest(req *model.LLMRequest, modelName string, noSystemRole bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Contents)+1)
	for _, content := range req.Contents {
		if msg, ok := toOpenAIChatCompletionMessage(content); ok {
			messages = append(messages, msg)
		}
	}

	openaiReq := openai.ChatCompletionRequest{Model: modelName}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			openaiReq.Temperature = *req.Config.Temperature
		}
		if req.Config.MaxOutputTokens > 0 {
			openaiReq.MaxTokens = int(req.Config.MaxOutputTokens)
		}
		if req.Config.TopP != nil {
			openaiReq.TopP = *req.Config.TopP
		}
		if len(req.Config.StopSequences) > 0 {
			openaiReq.Stop = req.Config.StopSequences
		}

		// 处理系统指令
		if system := extractTextFromContent(req.Config.SystemInstruction); system != "" {
			messages = withSystemInstruction(messages, system, noSystemRole)
		}

		// 处理 JSON 模式
		if req.Config.ResponseMIMEType == "application/json" {
			openaiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}

	openaiReq.Messages = messages
	return openaiReq
}

// withSystemInstruction 插入系统指令；不支持 system role 时并入首条用户消息
func withSystemInstruction(messages []openai.ChatCompletionMessage, system string, noSystemRole bool) []openai.ChatCompletionMessage {
	if !noSystemRole {
		systemMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system}
		return append([]openai.ChatCompletionMessage{systemMsg}, messages...)
	}
	for i := range messages {
		if messages[i].Role == openai.ChatMessageRoleUser {
			messages[i].Content = system + "\n\n" + messages[i].Content
			return messages
		}
	}
	return append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: system}}, messages...)
}

// toOpenAIChatCompletionMessage 将 genai.Content 转换为 OpenAI 消息
// thinking 内容回填到 reasoning_content
func toOpenAIChatCompletionMessage(content *genai.Content) (openai.ChatCompletionMessage, bool) {
	if content == nil || len(content.Parts) == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	var text, reasoning strings.Builder
	for _, part := range content.Parts {
		if part.Text == "" {
			continue
		}
		if part.Thought {
			reasoning.WriteString(part.Text)
			continue
		}
		text.WriteString(part.Text)
	}
	if text.Len() == 0 && reasoning.Len() == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	return openai.ChatCompletionMessage{
		Role:             convertRoleToOpenAI(content.Role),
		Content:          text.String(),
		ReasoningContent: reasoning.String(),
	}, true
}

// convertRoleToOpenAI 转换角色
func convertRoleToOpenAI(role string) string {
	switch role {
	case "model":
		return openai.ChatMessageRoleAssistant
	case "system":
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// extractTextFromContent 提取文本内容
func extractTextFromContent(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var texts []string
	for _, part := range content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// convertChatCompletionResponse 转换 OpenAI 响应
func convertChatCompletionResponse(resp *openai.ChatCompletionResponse) (*model.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesInResponse
	}

	choice := resp.Choices[0]
	content := &genai.Content{Role: genai.RoleModel}

	if choice.Message.ReasoningContent != "" {
		content.Parts = append(content.Parts, &genai.Part{
			Text:    choice.Message.ReasoningContent,
			Thought: true,
		})
	}
	if choice.Message.Content != "" {
		content.Parts = append(content.Parts, &genai.Part{Text: choice.Message.Content})
	}

	var usageMetadata *genai.GenerateContentResponseUsageMetadata
	if resp.Usage.TotalTokens > 0 {
		usageMetadata = convertUsage(resp.Usage)
	}

	return &model.LLMResponse{
		Content:       content,
		UsageMetadata: usageMetadata,
		FinishReason:  convertFinishReason(string(choice.FinishReason)),
		TurnComplete:  true,
	}, nil
}

// convertUsage 转换 token 用量
func convertUsage(u openai.Usage) *genai.GenerateContentResponseUsageMetadata {
	return &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(u.PromptTokens),
		CandidatesTokenCount: int32(u.CompletionTokens),
		TotalTokenCount:      int32(u.TotalTokens),
	}
}

// convertFinishReason 转换结束原因
func convertFinishReason(reason string) genai.FinishReason {
	switch reason {
	case "stop":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonMaxTokens
	case "content_filter":
		return genai.FinishReasonSafety
	default:
		return genai.FinishReasonUnspecified
	}
}
