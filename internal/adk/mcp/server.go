// Package mcp 将知识检索、对话和线索查询暴露为 MCP 工具
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/run-bigpig/bizassist/internal/logger"
	"github.com/run-bigpig/bizassist/internal/models"
)

var log = logger.New("MCP")

// Version 服务版本
const Version = "1.0.0"

// Retriever 知识检索
type Retriever interface {
	Retrieve(ctx context.Context, query string) (models.RetrievalResult, error)
}

// Conversations 会话管理
type Conversations interface {
	Start(ctx context.Context, id string) (models.Message, models.ConversationState, error)
	Send(ctx context.Context, id, text string) (models.Message, models.ConversationState, error)
}

// Leads 线索查询
type Leads interface {
	GetByEmail(ctx context.Context, email string) (*models.LeadRecord, error)
}

// SearchInput search_knowledge 参数
type SearchInput struct {
	Query string `json:"query" jsonschema:"question or keywords to look up in the company knowledge base"`
}

// SearchOutput search_knowledge 结果
type SearchOutput struct {
	Passages []models.Passage `json:"passages" jsonschema:"relevant passages with citations, best first"`
}

// MessageInput send_message 参数
type MessageInput struct {
	ConversationID string `json:"conversation_id,omitzero" jsonschema:"existing conversation id; leave empty to start a new conversation"`
	Message        string `json:"message" jsonschema:"the user's message"`
}

// MessageOutput send_message 结果
type MessageOutput struct {
	ConversationID string       `json:"conversation_id"`
	Reply          string       `json:"reply"`
	Phase          models.Phase `json:"phase"`
	MeetingID      string       `json:"meeting_id,omitempty"`
}

// LeadInput lookup_lead 参数
type LeadInput struct {
	Email string `json:"email" jsonschema:"lead email address"`
}

// LeadView 线索摘要，时间为 RFC3339 字符串
type LeadView struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Company     string `json:"company,omitempty"`
	Interest    string `json:"interest,omitempty"`
	Score       int    `json:"lead_score"`
	Status      string `json:"status"`
	Notes       string `json:"qualification_notes,omitempty"`
	MeetingID   string `json:"meeting_id,omitempty"`
	MeetingTime string `json:"meeting_time,omitempty"`
	MeetingLink string `json:"meeting_link,omitempty"`
}

// LeadOutput lookup_lead 结果
type LeadOutput struct {
	Found bool      `json:"found"`
	Lead  *LeadView `json:"lead,omitempty"`
}

func newLeadView(l *models.LeadRecord) *LeadView {
	v := &LeadView{
		Name:        l.Name,
		Email:       l.Email,
		Company:     l.Company,
		Interest:    l.Interest,
		Score:       l.Score,
		Status:      string(l.Status),
		Notes:       l.QualificationNotes,
		MeetingID:   l.MeetingID,
		MeetingLink: l.MeetingLink,
	}
	if l.MeetingTime != nil {
		v.MeetingTime = l.MeetingTime.Format(time.RFC3339)
	}
	return v
}

// Deps 工具依赖，未提供的依赖对应工具不注册
type Deps struct {
	Retriever     Retriever
	Conversations Conversations
	Leads         Leads
	// IsNotFound 判断线索不存在的错误
	IsNotFound func(error) bool
}

// NewServer 创建 MCP 服务并注册工具
func NewServer(company string, deps Deps) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "bizassist", Version: Version}, nil)

	if deps.Retriever != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "search_knowledge",
			Description: fmt.Sprintf("Search the %s knowledge base and return cited passages.", company),
		}, searchKnowledge(deps.Retriever))
	}
	if deps.Conversations != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "send_message",
			Description: fmt.Sprintf("Send a message to the %s assistant. It answers questions and books consultations.", company),
		}, sendMessage(deps.Conversations))
	}
	if deps.Leads != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "lookup_lead",
			Description: "Look up a captured sales lead by email.",
		}, lookupLead(deps.Leads, deps.IsNotFound))
	}
	return server
}

// ServeStdio 通过标准输入输出提供服务，直到客户端断开
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	log.Info("serving MCP over stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}

func searchKnowledge(r Retriever) mcp.ToolHandlerFor[SearchInput, SearchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		result, err := r.Retrieve(ctx, in.Query)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}
		out := SearchOutput{Passages: result.Passages}
		if out.Passages == nil {
			out.Passages = []models.Passage{}
		}

		var sb strings.Builder
		if len(out.Passages) == 0 {
			sb.WriteString("No relevant information found.")
		}
		for i, p := range out.Passages {
			fmt.Fprintf(&sb, "[%d] %s (score %.2f)\n%s\n\n", i+1, p.Citation, p.Score, p.Text)
		}
		return textResult(strings.TrimSpace(sb.String())), out, nil
	}
}

func sendMessage(c Conversations) mcp.ToolHandlerFor[MessageInput, MessageOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in MessageInput) (*mcp.CallToolResult, MessageOutput, error) {
		id := strings.TrimSpace(in.ConversationID)
		if id == "" {
			_, st, err := c.Start(ctx, "")
			if err != nil {
				return nil, MessageOutput{}, fmt.Errorf("start conversation: %w", err)
			}
			id = st.ID
		}
		reply, st, err := c.Send(ctx, id, in.Message)
		if err != nil && st.ID == "" {
			return nil, MessageOutput{}, err
		}
		if err != nil {
			log.Warn("conversation %s not persisted: %v", id, err)
		}
		out := MessageOutput{
			ConversationID: st.ID,
			Reply:          reply.Content,
			Phase:          st.Phase,
			MeetingID:      st.Meeting.MeetingID,
		}
		return textResult(reply.Content), out, nil
	}
}

func lookupLead(l Leads, isNotFound func(error) bool) mcp.ToolHandlerFor[LeadInput, LeadOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in LeadInput) (*mcp.CallToolResult, LeadOutput, error) {
		lead, err := l.GetByEmail(ctx, in.Email)
		if err != nil {
			if isNotFound != nil && isNotFound(err) {
				return textResult("No lead found for " + in.Email), LeadOutput{Found: false}, nil
			}
			return nil, LeadOutput{}, fmt.Errorf("lookup lead: %w", err)
		}
		view := newLeadView(lead)
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, LeadOutput{}, err
		}
		return textResult(string(data)), LeadOutput{Found: true, Lead: view}, nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
