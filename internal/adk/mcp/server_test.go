package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/run-bigpig/bizassist/internal/models"
)

var errNoLead = errors.New("not found")

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(_ context.Context, query string) (models.RetrievalResult, error) {
	if query == "" {
		return models.RetrievalResult{}, errors.New("empty query")
	}
	return models.RetrievalResult{Passages: []models.Passage{{Text: "We build mobile apps.", Citation: "Services", Score: 0.8}}}, nil
}

type fakeConversations struct {
	started int
}

func (f *fakeConversations) Start(_ context.Context, _ string) (models.Message, models.ConversationState, error) {
	f.started++
	return models.Message{}, models.NewConversation("conv-1", time.Now()), nil
}

func (f *fakeConversations) Send(_ context.Context, id, text string) (models.Message, models.ConversationState, error) {
	st := models.NewConversation(id, time.Now())
	st.Phase = models.PhaseCollectingLeadInfo
	return models.NewMessage(models.RoleAssistant, "You said: "+text, time.Now()), st, nil
}

type fakeLeads struct{}

func (fakeLeads) GetByEmail(_ context.Context, email string) (*models.LeadRecord, error) {
	if email != "jane@acme.io" {
		return nil, errNoLead
	}
	at := time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)
	return &models.LeadRecord{Name: "Jane", Email: email, Score: 8, Status: models.LeadStatusQualified, MeetingTime: &at}, nil
}

func connect(t *testing.T, deps Deps) (*mcp.ClientSession, *fakeConversations) {
	t.Helper()
	ctx := context.Background()
	server := NewServer("Apex Digital", deps)
	clientT, serverT := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverT, nil); err != nil {
		t.Fatalf("服务端连接失败: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("客户端连接失败: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	conv, _ := deps.Conversations.(*fakeConversations)
	return session, conv
}

func callText(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("调用 %s 失败: %v", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError
}

// TestTools 测试工具注册和调用
func TestTools(t *testing.T) {
	conv := &fakeConversations{}
	session, _ := connect(t, Deps{
		Retriever:     fakeRetriever{},
		Conversations: conv,
		Leads:         fakeLeads{},
		IsNotFound:    func(err error) bool { return errors.Is(err, errNoLead) },
	})

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 3 {
		t.Errorf("期望 3 个工具, got %d", len(tools.Tools))
	}

	text, isErr := callText(t, session, "search_knowledge", map[string]any{"query": "mobile"})
	if isErr || !strings.Contains(text, "[1] Services") {
		t.Errorf("检索结果: %q", text)
	}

	text, isErr = callText(t, session, "send_message", map[string]any{"message": "hello"})
	if isErr || text != "You said: hello" || conv.started != 1 {
		t.Errorf("消息结果: %q started=%d", text, conv.started)
	}
	_, _ = callText(t, session, "send_message", map[string]any{"conversation_id": "conv-1", "message": "again"})
	if conv.started != 1 {
		t.Error("已有会话不应重新创建")
	}

	text, isErr = callText(t, session, "lookup_lead", map[string]any{"email": "jane@acme.io"})
	if isErr || !strings.Contains(text, `"meeting_time": "2026-10-15T14:00:00Z"`) {
		t.Errorf("线索结果: %q", text)
	}
	text, isErr = callText(t, session, "lookup_lead", map[string]any{"email": "nobody@x.io"})
	if isErr || !strings.Contains(text, "No lead found") {
		t.Errorf("未找到线索: %q", text)
	}

	if _, isErr = callText(t, session, "search_knowledge", map[string]any{"query": ""}); !isErr {
		t.Error("检索失败应返回错误结果")
	}
}

// TestPartialDeps 未提供的依赖不注册工具
func TestPartialDeps(t *testing.T) {
	session, _ := connect(t, Deps{Retriever: fakeRetriever{}})
	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "search_knowledge" {
		t.Errorf("工具列表: %+v", tools.Tools)
	}
}
