package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event 日历事件
type Event struct {
	RequestID   string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Calendar 日历提供方
type Calendar interface {
	FreeBusy(ctx context.Context, from, to time.Time) ([]Slot, error)
	CreateEvent(ctx context.Context, ev Event) (*Meeting, error)
	// FindByRequest 返回该 RequestID 已创建的会议，不存在时返回 nil, nil
	FindByRequest(ctx context.Context, requestID string) (*Meeting, error)
}

// 默认链接前缀
const (
	DefaultMeetBaseURL     = "https://meet.bizassist.local/"
	DefaultCalendarBaseURL = "https://calendar.bizassist.local/event/"
)

type storedEvent struct {
	event   Event
	meeting Meeting
}

// MemoryCalendar 进程内日历，同一 RequestID 只创建一次
type MemoryCalendar struct {
	mu           sync.Mutex
	events       []storedEvent
	byRequest    map[string]int
	meetBase     string
	calendarBase string
}

// NewMemoryCalendar 创建内存日历
func NewMemoryCalendar(meetBase string) *MemoryCalendar {
	if meetBase == "" {
		meetBase = DefaultMeetBaseURL
	}
	if !strings.HasSuffix(meetBase, "/") {
		meetBase += "/"
	}
	return &MemoryCalendar{
		byRequest:    make(map[string]int),
		meetBase:     meetBase,
		calendarBase: DefaultCalendarBaseURL,
	}
}

// Block 占用时间段，用于预置已有日程
func (c *MemoryCalendar) Block(start, end time.Time, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, storedEvent{
		event:   Event{Title: title, Start: start, End: end},
		meeting: Meeting{ID: uuid.NewString(), Start: start, End: end},
	})
}

// FreeBusy 返回与区间重叠的已占用时间段
func (c *MemoryCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	window := Slot{Start: from, End: to}
	var out []Slot
	for _, e := range c.events {
		s := Slot{Start: e.event.Start, End: e.event.End}
		if s.Overlaps(window) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// FindByRequest 按 RequestID 查找已创建的会议
func (c *MemoryCalendar) FindByRequest(ctx context.Context, requestID string) (*Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byRequest[requestID]
	if requestID == "" || !ok {
		return nil, nil
	}
	m := c.events[idx].meeting
	return &m, nil
}

// CreateEvent 创建事件并生成会议链接，重复 RequestID 返回已有会议
func (c *MemoryCalendar) CreateEvent(ctx context.Context, ev Event) (*Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.RequestID != "" {
		if idx, ok := c.byRequest[ev.RequestID]; ok {
			m := c.events[idx].meeting
			return &m, nil
		}
	}
	slot := Slot{Start: ev.Start, End: ev.End}
	for _, e := range c.events {
		if slot.Overlaps(Slot{Start: e.event.Start, End: e.event.End}) {
			return nil, &ConflictError{Slot: Slot{Start: e.event.Start, End: e.event.End}}
		}
	}

	id := uuid.NewString()
	m := Meeting{
		ID:           id,
		Link:         c.meetBase + meetCode(id),
		CalendarLink: c.calendarBase + id,
		Start:        ev.Start,
		End:          ev.End,
	}
	c.events = append(c.events, storedEvent{event: ev, meeting: m})
	if ev.RequestID != "" {
		c.byRequest[ev.RequestID] = len(c.events) - 1
	}
	return &m, nil
}

// Events 已创建的事件数量（不含 Block）
func (c *MemoryCalendar) Events() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.meeting.Link != "" {
			n++
		}
	}
	return n
}

// meetCode 生成 xxx-xxxx-xxx 形式的会议码
func meetCode(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	return s[0:3] + "-" + s[3:7] + "-" + s[7:10]
}
