package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 对话消息，追加后不再修改
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	LeadRelevant bool      `json:"leadRelevant,omitempty"` // 是否包含线索相关信息
}

// NewMessage 创建消息
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}

// Phase 对话阶段
type Phase string

const (
	PhaseGreeting           Phase = "greeting"
	PhaseAnswering          Phase = "answering"
	PhaseCollectingLeadInfo Phase = "collecting_lead_info"
	PhaseConfirmingSchedule Phase = "confirming_schedule"
	PhaseScheduled          Phase = "scheduled"
	PhaseFailed             Phase = "failed"
)

// Intent 用户意图
type Intent string

const (
	IntentInformational     Intent = "informational"
	IntentSchedulingRequest Intent = "scheduling_request"
	IntentCorrection        Intent = "correction"
	IntentOther             Intent = "other"
)

// ParseIntent 解析意图名称，未知值归为 other
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentInformational, IntentSchedulingRequest, IntentCorrection:
		return Intent(s)
	default:
		return IntentOther
	}
}

// CaptureStatus 线索采集结果
type CaptureStatus string

const (
	CaptureNone     CaptureStatus = ""
	CaptureStored   CaptureStatus = "stored"
	CaptureDegraded CaptureStatus = "degraded" // 评分完成但写入 CRM 失败
)

// LeadContext 对话中收集到的线索信息
type LeadContext struct {
	Name               string     `json:"name,omitempty"`
	Email              string     `json:"email,omitempty"`
	Organization       string     `json:"organization,omitempty"`
	Interest           string     `json:"interest,omitempty"`
	Score              *int       `json:"score,omitempty"`
	Status             LeadStatus `json:"status,omitempty"`
	QualificationNotes string     `json:"qualificationNotes,omitempty"`
	Source             string     `json:"source,omitempty"`
}

// MeetingContext 会议预约上下文
type MeetingContext struct {
	ProposedTimeText string        `json:"proposedTimeText,omitempty"`
	Start            *time.Time    `json:"start,omitempty"`
	Timezone         string        `json:"timezone,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
	Attendees        []string      `json:"attendees,omitempty"`
	MeetingID        string        `json:"meetingId,omitempty"`
	MeetingLink      string        `json:"meetingLink,omitempty"`
	CalendarLink     string        `json:"calendarLink,omitempty"`
	CapturedFor      string        `json:"capturedFor,omitempty"` // 已完成线索采集的 MeetingID
	CaptureStatus    CaptureStatus `json:"captureStatus,omitempty"`
}

// Scheduled 是否已成功创建会议
func (m MeetingContext) Scheduled() bool {
	return m.MeetingID != ""
}

// Captured 当前会议是否已完成线索采集
func (m MeetingContext) Captured() bool {
	return m.MeetingID != "" && m.CapturedFor == m.MeetingID
}

// ClearProposal 清除待定的会议时间
func (m *MeetingContext) ClearProposal() {
	m.ProposedTimeText = ""
	m.Start = nil
}

// ConversationState 单个会话的完整状态
type ConversationState struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	Lead      LeadContext    `json:"lead"`
	Meeting   MeetingContext `json:"meeting"`
	Phase     Phase          `json:"phase"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewConversation 创建新会话
func NewConversation(id string, now time.Time) ConversationState {
	if id == "" {
		id = uuid.NewString()
	}
	return ConversationState{
		ID:        id,
		Phase:     PhaseGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone 深拷贝，返回值与原状态不共享内存
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Messages = slices.Clone(s.Messages)
	if s.Lead.Score != nil {
		score := *s.Lead.Score
		out.Lead.Score = &score
	}
	if s.Meeting.Start != nil {
		start := *s.Meeting.Start
		out.Meeting.Start = &start
	}
	out.Meeting.Attendees = slices.Clone(s.Meeting.Attendees)
	return out
}

// Append 追加消息
func (s *ConversationState) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.Timestamp
}

// InSchedulingWorkflow 是否处于预约流程中
func (s ConversationState) InSchedulingWorkflow() bool {
	return s.Phase == PhaseCollectingLeadInfo || s.Phase == PhaseConfirmingSchedule
}

// LeadExcerpt 返回最近 limit 条与线索相关的用户消息
func (s ConversationState) LeadExcerpt(limit int) []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == RoleUser && m.LeadRelevant {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// History 返回最近 limit 条消息
func (s ConversationState) History(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-limit:]
}
