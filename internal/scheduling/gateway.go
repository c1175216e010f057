// Package scheduling 会议预约：营业时间校验、冲突检测、日历创建和重试
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/logger"
)

var log = logger.New("Scheduling")

// DefaultDuration 未指定时长时的默认会议时长
const DefaultDuration = 30 * time.Minute

var (
	ErrOutsideBusinessHours = errors.New("requested time is outside business hours")
	ErrConflict             = errors.New("requested time conflicts with an existing event")
	ErrProviderUnavailable  = errors.New("calendar provider unavailable")
	ErrTimeUnresolved       = errors.New("could not resolve a concrete time")
	ErrTimeInPast           = errors.New("requested time is in the past")
	ErrInvalidRequest       = errors.New("invalid meeting request")
)

// Slot 时间段，左闭右开
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps 是否与另一时间段重叠
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// ConflictError 冲突详情，errors.Is(err, ErrConflict) 为真
type ConflictError struct {
	Slot Slot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s - %s", ErrConflict, e.Slot.Start.Format(time.RFC3339), e.Slot.End.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// MeetingRequest 预约请求，RequestID 用于提供方幂等
type MeetingRequest struct {
	Start       time.Time
	Duration    time.Duration
	Attendees   []string
	Title       string
	Description string
	RequestID   string
}

// Slot 请求占用的时间段
func (r MeetingRequest) Slot() Slot {
	d := r.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	return Slot{Start: r.Start, End: r.Start.Add(d)}
}

// Meeting 已创建的会议
type Meeting struct {
	ID           string    `json:"id"`
	Link         string    `json:"link"`
	CalendarLink string    `json:"calendarLink,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Gateway 会议预约网关
type Gateway interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error)
}

// CalendarGateway 基于日历提供方的网关实现
type CalendarGateway struct {
	calendar Calendar
	hours    BusinessHours
	now      func() time.Time
}

// NewCalendarGateway 创建网关
func NewCalendarGateway(calendar Calendar, hours BusinessHours) *CalendarGateway {
	return &CalendarGateway{calendar: calendar, hours: hours, now: time.Now}
}

// SetClock 替换时钟
func (g *CalendarGateway) SetClock(now func() time.Time) {
	g.now = now
}

// Hours 营业时间
func (g *CalendarGateway) Hours() BusinessHours {
	return g.hours
}

// CreateMeeting 校验时间并在日历上创建带视频链接的会议
func (g *CalendarGateway) CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	if req.Start.IsZero() {
		return nil, ErrTimeUnresolved
	}
	attendees := cleanAttendees(req.Attendees)
	if len(attendees) == 0 {
		return nil, fmt.Errorf("%w: no attendees", ErrInvalidRequest)
	}
	// 同一请求重试时返回已创建的会议，不与自身冲突
	if req.RequestID != "" {
		existing, err := g.calendar.FindByRequest(ctx, req.RequestID)
		if err != nil {
			return nil, providerError("find event", err)
		}
		if existing != nil {
			log.Info("meeting %s already exists for request %s", existing.ID, req.RequestID)
			return existing, nil
		}
	}

	slot := req.Slot()
	if slot.Start.Before(g.now()) {
		return nil, ErrTimeInPast
	}
	if !g.hours.Contains(slot) {
		return nil, ErrOutsideBusinessHours
	}

	busy, err := g.calendar.FreeBusy(ctx, slot.Start, slot.End)
	if err != nil {
		return nil, providerError("free/busy query", err)
	}
	for _, b := range busy {
		if b.Overlaps(slot) {
			log.Info("slot %s conflicts with %s", slot.Start.Format(time.RFC3339), b.Start.Format(time.RFC3339))
			return nil, &ConflictError{Slot: b}
		}
	}

	meeting, err := g.calendar.CreateEvent(ctx, Event{
		RequestID:   req.RequestID,
		Title:       req.Title,
		Description: req.Description,
		Start:       slot.Start,
		End:         slot.End,
		Attendees:   attendees,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, providerError("create event", err)
	}
	log.Info("meeting %s created at %s", meeting.ID, meeting.Start.Format(time.RFC3339))
	return meeting, nil
}

// Suggester 提供替代时间
type Suggester interface {
	SuggestTimes(ctx context.Context, after time.Time, duration time.Duration, n int) []time.Time
}

// SuggestTimes 在营业时间内寻找空闲时间，查询日历失败时只按营业时间推荐
func (g *CalendarGateway) SuggestTimes(ctx context.Context, after time.Time, duration time.Duration, n int) []time.Time {
	if now := g.now(); after.Before(now) {
		after = now
	}
	busy, err := g.calendar.FreeBusy(ctx, after, after.AddDate(0, 0, 14))
	if err != nil {
		log.Warn("free/busy for suggestions failed: %v", err)
		busy = nil
	}
	return g.hours.Suggest(after, duration, n, busy)
}

// providerError 归类为 ErrProviderUnavailable
func providerError(op string, err error) error {
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
}

func cleanAttendees(in []string) []string {
	var out []string
	for _, a := range in {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}
