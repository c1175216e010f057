package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 建议时间的步进
const suggestStep = 30 * time.Minute

// BusinessHours 营业时间，Open/Close 为当天零点起的偏移
type BusinessHours struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
	Workdays []time.Weekday
}

// DefaultBusinessHours 周一至周五 09:00-18:00
func DefaultBusinessHours(loc *time.Location) BusinessHours {
	if loc == nil {
		loc = time.UTC
	}
	return BusinessHours{
		Location: loc,
		Open:     9 * time.Hour,
		Close:    18 * time.Hour,
		Workdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// ParseClock 解析 "09:00" 格式
func ParseClock(s string) (time.Duration, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		m = "0"
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// Validate 检查配置
func (b BusinessHours) Validate() error {
	if b.Location == nil {
		return fmt.Errorf("business hours: missing location")
	}
	if b.Open >= b.Close || b.Close > 24*time.Hour {
		return fmt.Errorf("business hours: open %v must be before close %v", b.Open, b.Close)
	}
	if len(b.Workdays) == 0 {
		return fmt.Errorf("business hours: no workdays")
	}
	return nil
}

func (b BusinessHours) isWorkday(d time.Weekday) bool {
	for _, w := range b.Workdays {
		if w == d {
			return true
		}
	}
	return false
}

func (b BusinessHours) dayStart(t time.Time) time.Time {
	local := t.In(b.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.Location)
}

// clockOn 当天的钟点时间，夏令时切换日不按固定时长偏移
func (b BusinessHours) clockOn(day time.Time, off time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, b.Location)
}

// Contains 时间段是否完整落在同一个工作日的营业时间内
func (b BusinessHours) Contains(s Slot) bool {
	if !s.Start.Before(s.End) {
		return false
	}
	day := b.dayStart(s.Start)
	if !b.isWorkday(day.Weekday()) {
		return false
	}
	open := b.clockOn(day, b.Open)
	closeAt := b.clockOn(day, b.Close)
	return !s.Start.Before(open) && !s.End.After(closeAt)
}

// Suggest 从 after 起寻找最多 n 个可用时间，busy 为空表示不查冲突
// 最多向后搜索 14 天
func (b BusinessHours) Suggest(after time.Time, duration time.Duration, n int, busy []Slot) []time.Time {
	if duration <= 0 {
		duration = DefaultDuration
	}
	var out []time.Time
	day := b.dayStart(after)
	for i := 0; i < 14 && len(out) < n; i++ {
		d := day.AddDate(0, 0, i)
		if !b.isWorkday(d.Weekday()) {
			continue
		}
		closeAt := b.clockOn(d, b.Close)
		for t := b.clockOn(d, b.Open); len(out) < n; t = t.Add(suggestStep) {
			slot := Slot{Start: t, End: t.Add(duration)}
			if slot.End.After(closeAt) {
				break
			}
			if slot.Start.Before(after) || overlapsAny(slot, busy) {
				continue
			}
			out = append(out, t)
			// 同一天的建议至少间隔一小时
			t = t.Add(time.Hour - suggestStep)
		}
	}
	return out
}

func overlapsAny(s Slot, busy []Slot) bool {
	for _, b := range busy {
		if s.Overlaps(b) {
			return true
		}
	}
	return false
}

// String 营业时间描述，如 "Monday to Friday, 09:00-18:00 UTC"
func (b BusinessHours) String() string {
	days := make([]string, len(b.Workdays))
	contiguous := true
	for i, d := range b.Workdays {
		days[i] = d.String()
		if i > 0 && d != b.Workdays[i-1]+1 {
			contiguous = false
		}
	}
	dayText := strings.Join(days, ", ")
	if contiguous && len(days) > 2 {
		dayText = days[0] + " to " + days[len(days)-1]
	}
	loc := "UTC"
	if b.Location != nil {
		loc = b.Location.String()
	}
	return fmt.Sprintf("%s, %s-%s %s", dayText, clockString(b.Open), clockString(b.Close), loc)
}

func clockString(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
