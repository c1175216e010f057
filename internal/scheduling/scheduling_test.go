package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/run-bigpig/bizassist/internal/adk/adktest"
)

// 2026-10-14 为周三
var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func newTestGateway() (*CalendarGateway, *MemoryCalendar) {
	cal := NewMemoryCalendar("")
	g := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
	g.SetClock(func() time.Time { return testNow })
	return g, cal
}

func request(start time.Time) MeetingRequest {
	return MeetingRequest{
		Start:     start,
		Duration:  30 * time.Minute,
		Attendees: []string{"jane@acme.io", "sales@apex.example"},
		Title:     "Consultation",
		RequestID: "conv-1",
	}
}

// TestCreateMeeting 测试正常创建
func TestCreateMeeting(t *testing.T) {
	g, cal := newTestGateway()
	m, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if m.ID == "" || !strings.HasPrefix(m.Link, DefaultMeetBaseURL) {
		t.Errorf("会议信息不完整: %+v", m)
	}
	if !m.End.Equal(at(15, 14, 30)) {
		t.Errorf("结束时间 %v", m.End)
	}

	// 相同 RequestID 不重复创建
	again, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
	if err != nil {
		t.Fatalf("重复请求失败: %v", err)
	}
	if again.ID != m.ID || cal.Events() != 1 {
		t.Errorf("重复请求创建了新会议: %s vs %s, events=%d", again.ID, m.ID, cal.Events())
	}
}

// TestCreateMeetingRejections 测试各类拒绝
func TestCreateMeetingRejections(t *testing.T) {
	cases := []struct {
		name  string
		start time.Time
		want  error
	}{
		{"周六", at(17, 10, 0), ErrOutsideBusinessHours},
		{"下班后", at(15, 19, 0), ErrOutsideBusinessHours},
		{"跨越下班", at(15, 17, 45), ErrOutsideBusinessHours},
		{"过去", at(13, 10, 0), ErrTimeInPast},
		{"未解析", time.Time{}, ErrTimeUnresolved},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g, _ := newTestGateway()
			if _, err := g.CreateMeeting(context.Background(), request(c.start)); !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}

	t.Run("冲突", func(t *testing.T) {
		g, cal := newTestGateway()
		cal.Block(at(15, 13, 45), at(15, 14, 15), "existing")
		_, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
		var conflict *ConflictError
		if !errors.Is(err, ErrConflict) || !errors.As(err, &conflict) {
			t.Fatalf("期望冲突, got %v", err)
		}
		if !conflict.Slot.Start.Equal(at(15, 13, 45)) {
			t.Errorf("冲突时间段 %+v", conflict.Slot)
		}
	})

	t.Run("无参会人", func(t *testing.T) {
		g, _ := newTestGateway()
		req := request(at(15, 14, 0))
		req.Attendees = []string{" "}
		if _, err := g.CreateMeeting(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("got %v", err)
		}
	})
}

// flakyCalendar 前 failures 次创建失败
type flakyCalendar struct {
	*MemoryCalendar
	failures int32
	calls    atomic.Int32
	hang     bool
}

func (f *flakyCalendar) CreateEvent(ctx context.Context, ev Event) (*Meeting, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		if f.hang {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, errors.New("503 backend error")
	}
	return f.MemoryCalendar.CreateEvent(ctx, ev)
}

// lateCalendar 第一次创建成功后挂起到超时，模拟响应丢失
type lateCalendar struct {
	*MemoryCalendar
	calls atomic.Int32
	first string
}

func (l *lateCalendar) CreateEvent(ctx context.Context, ev Event) (*Meeting, error) {
	m, err := l.MemoryCalendar.CreateEvent(ctx, ev)
	if l.calls.Add(1) == 1 && err == nil {
		l.first = m.ID
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m, err
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, AttemptTimeout: 50 * time.Millisecond}
}

// TestRetryingGateway 测试提供方故障重试一次
func TestRetryingGateway(t *testing.T) {
	t.Run("重试成功", func(t *testing.T) {
		cal := &flakyCalendar{MemoryCalendar: NewMemoryCalendar(""), failures: 1}
		inner := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
		inner.SetClock(func() time.Time { return testNow })
		g := NewRetryingGateway(inner, fastPolicy())

		m, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
		if err != nil || m == nil {
			t.Fatalf("重试后应成功: %v", err)
		}
		if cal.calls.Load() != 2 {
			t.Errorf("期望调用 2 次, got %d", cal.calls.Load())
		}
	})

	t.Run("重试仍失败", func(t *testing.T) {
		cal := &flakyCalendar{MemoryCalendar: NewMemoryCalendar(""), failures: 5}
		inner := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
		inner.SetClock(func() time.Time { return testNow })
		g := NewRetryingGateway(inner, fastPolicy())

		_, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("期望 ErrProviderUnavailable, got %v", err)
		}
		if cal.calls.Load() != 2 {
			t.Errorf("只应重试一次, got %d 次调用", cal.calls.Load())
		}
	})

	t.Run("单次超时", func(t *testing.T) {
		cal := &flakyCalendar{MemoryCalendar: NewMemoryCalendar(""), failures: 5, hang: true}
		inner := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
		inner.SetClock(func() time.Time { return testNow })
		g := NewRetryingGateway(inner, fastPolicy())

		if _, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0))); !errors.Is(err, ErrProviderUnavailable) {
			t.Errorf("超时应归类为 ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("超时但已创建", func(t *testing.T) {
		cal := &lateCalendar{MemoryCalendar: NewMemoryCalendar("")}
		inner := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
		inner.SetClock(func() time.Time { return testNow })
		g := NewRetryingGateway(inner, fastPolicy())

		m, err := g.CreateMeeting(context.Background(), request(at(15, 14, 0)))
		if err != nil {
			t.Fatalf("重试应取回已创建的会议, got %v", err)
		}
		if cal.calls.Load() != 1 || cal.Events() != 1 || m.ID != cal.first {
			t.Errorf("calls=%d events=%d id=%s first=%s", cal.calls.Load(), cal.Events(), m.ID, cal.first)
		}
	})

	t.Run("业务错误不重试", func(t *testing.T) {
		cal := &flakyCalendar{MemoryCalendar: NewMemoryCalendar("")}
		inner := NewCalendarGateway(cal, DefaultBusinessHours(time.UTC))
		inner.SetClock(func() time.Time { return testNow })
		g := NewRetryingGateway(inner, fastPolicy())

		if _, err := g.CreateMeeting(context.Background(), request(at(17, 10, 0))); !errors.Is(err, ErrOutsideBusinessHours) {
			t.Errorf("got %v", err)
		}
		if cal.calls.Load() != 0 {
			t.Errorf("不应调用日历, got %d", cal.calls.Load())
		}
	})
}

// TestSuggestTimes 测试替代时间推荐
func TestSuggestTimes(t *testing.T) {
	g, cal := newTestGateway()
	cal.Block(at(14, 10, 0), at(14, 12, 0), "busy")

	got := g.SuggestTimes(context.Background(), at(14, 16, 40), 30*time.Minute, 3)
	want := []time.Time{at(14, 17, 0), at(15, 9, 0), at(15, 10, 0)}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("第 %d 个建议 %v, want %v", i, got[i], want[i])
		}
	}

	// 周五下午之后跳过周末
	fri := g.Hours().Suggest(at(16, 18, 0), 30*time.Minute, 1, nil)
	if len(fri) != 1 || !fri[0].Equal(at(19, 9, 0)) {
		t.Errorf("应推荐下周一 09:00, got %v", fri)
	}

	// 避开占用
	busy := g.Hours().Suggest(at(15, 9, 0), 30*time.Minute, 1, []Slot{{Start: at(15, 9, 0), End: at(15, 9, 45)}})
	if len(busy) != 1 || !busy[0].Equal(at(15, 10, 0)) {
		t.Errorf("应跳过占用时间, got %v", busy)
	}
}

// TestParseClock 测试营业时间解析
func TestParseClock(t *testing.T) {
	if d, err := ParseClock("09:30"); err != nil || d != 9*time.Hour+30*time.Minute {
		t.Errorf("got %v %v", d, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("期望错误")
	}
	bad := DefaultBusinessHours(time.UTC)
	bad.Open = 19 * time.Hour
	if bad.Validate() == nil {
		t.Error("开门晚于关门应校验失败")
	}
}

// TestParseDuration 测试时长解析
func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"a 30 minute call": 30 * time.Minute,
		"1 hour please":    time.Hour,
		"1h 30m":           90 * time.Minute,
		"half an hour":     30 * time.Minute,
		"an hour":          time.Hour,
		"1.5 hours":        90 * time.Minute,
		"tomorrow at 2pm":  0,
		"45 mins":          45 * time.Minute,
	}
	for in, want := range cases {
		if got := ParseDuration(in); got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestDateResolver 测试规则时间解析
func TestDateResolver(t *testing.T) {
	r := DateResolver{}
	got, err := r.Resolve(context.Background(), "2026-10-15 14:30", testNow, time.UTC)
	if err != nil || !got.Equal(at(15, 14, 30)) {
		t.Errorf("绝对时间解析: %v %v", got, err)
	}

	got, err = r.Resolve(context.Background(), "tomorrow at 2pm", testNow, time.UTC)
	if err != nil || !got.Equal(at(15, 14, 0)) {
		t.Errorf("相对时间解析: %v %v", got, err)
	}

	if _, err := r.Resolve(context.Background(), "sometime soon", testNow, time.UTC); !errors.Is(err, ErrTimeUnresolved) {
		t.Errorf("模糊时间应未解析, got %v", err)
	}
}

// TestLLMResolverChain 测试 LLM 回退解析
func TestLLMResolverChain(t *testing.T) {
	llm := adktest.NewFakeLLM("2026-10-16T11:00:00")
	chain := ChainResolver{DateResolver{}, NewLLMResolver(llm)}
	got, err := chain.Resolve(context.Background(), "the day after tomorrow around eleven", testNow, time.UTC)
	if err != nil || !got.Equal(at(16, 11, 0)) {
		t.Errorf("got %v %v", got, err)
	}

	unknown := ChainResolver{NewLLMResolver(adktest.NewFakeLLM("UNKNOWN"))}
	if _, err := unknown.Resolve(context.Background(), "whenever", testNow, time.UTC); !errors.Is(err, ErrTimeUnresolved) {
		t.Errorf("got %v", err)
	}

	failing := ChainResolver{NewLLMResolver(&adktest.FakeLLM{Err: errors.New("down")})}
	if _, err := failing.Resolve(context.Background(), "whenever", testNow, time.UTC); !errors.Is(err, ErrTimeUnresolved) {
		t.Errorf("模型失败也应归类为未解析, got %v", err)
	}
}

// TestBusinessHoursString 测试营业时间描述
func TestBusinessHoursString(t *testing.T) {
	if got := DefaultBusinessHours(time.UTC).String(); got != "Monday to Friday, 09:00-18:00 UTC" {
		t.Errorf("got %q", got)
	}
}

// TestBusinessHoursDST 测试夏令时切换日按当地钟点计算营业时间
func TestBusinessHoursDST(t *testing.T) {
	cairo, err := time.LoadLocation("Africa/Cairo")
	if err != nil {
		t.Fatal(err)
	}
	// 2023-04-28 (周五) 当地 00:00 跳到 01:00
	hours := DefaultBusinessHours(cairo)
	local := func(h, m int) time.Time { return time.Date(2023, 4, 28, h, m, 0, 0, cairo) }

	if !hours.Contains(Slot{Start: local(9, 0), End: local(9, 30)}) {
		t.Error("09:00 应在营业时间内")
	}
	if !hours.Contains(Slot{Start: local(17, 30), End: local(18, 0)}) {
		t.Error("17:30 应在营业时间内")
	}
	if hours.Contains(Slot{Start: local(18, 0), End: local(18, 30)}) {
		t.Error("18:00 不应在营业时间内")
	}

	got := hours.Suggest(time.Date(2023, 4, 28, 0, 0, 0, 0, time.UTC), 30*time.Minute, 1, nil)
	if len(got) != 1 || !got[0].Equal(local(9, 0)) {
		t.Errorf("应推荐当地 09:00, got %v", got)
	}
}
