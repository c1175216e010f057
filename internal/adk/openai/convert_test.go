package openai

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func newRequest(system string, texts ...string) *model.LLMRequest {
	req := &model.LLMRequest{Config: &genai.GenerateContentConfig{}}
	for _, t := range texts {
		req.Contents = append(req.Contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	if system != "" {
		req.Config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return req
}

// TestSystemInstruction 测试系统指令转换
func TestSystemInstruction(t *testing.T) {
	got := toOpenAIChatCompletionRequest(newRequest("be brief", "hello"), "m", false)
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("应插入 system 消息: %+v", got.Messages)
	}

	got = toOpenAIChatCompletionRequest(newRequest("be brief", "hello"), "m", true)
	if len(got.Messages) != 1 {
		t.Fatalf("降级后不应有 system 消息: %+v", got.Messages)
	}
	if got.Messages[0].Content != "be brief\n\nhello" {
		t.Errorf("系统指令应并入用户消息, got %q", got.Messages[0].Content)
	}
}

// TestConvertResponse 测试响应转换
func TestConvertResponse(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: "answer", ReasoningContent: "thinking"},
			FinishReason: openai.FinishReasonStop,
		}},
	}
	llmResp, err := convertChatCompletionResponse(resp)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	parts := llmResp.Content.Parts
	if len(parts) != 2 || !parts[0].Thought || parts[1].Text != "answer" {
		t.Errorf("parts 不正确: %+v", parts)
	}

	if _, err := convertChatCompletionResponse(&openai.ChatCompletionResponse{}); err != ErrNoChoicesInResponse {
		t.Errorf("空响应应返回 ErrNoChoicesInResponse, got %v", err)
	}
}
